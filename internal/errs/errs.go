// Package errs holds the error kinds returned by the voting core. Every kind
// carries the status and message shown to callers; anything that is not one of
// these is treated as an unexpected failure by the transport layer.
package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	KindAccountInactive Kind = iota + 1
	KindNoCodeIssued
	KindCodeExpired
	KindCodeMismatch
	KindInvalidCode
	KindElectionNotFound
	KindElectionNotActive
	KindCandidateNotFound
	KindAlreadyVoted
	KindResultsNotYetAvailable
	KindPersistenceFailure
	KindVoterNotFound
	KindInvalidElection
	KindForbidden
	KindDuplicateVoter
	KindInvalidRequest
)

type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on kind so that detailed variants compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

var (
	ErrAccountInactive        = newError(KindAccountInactive, http.StatusForbidden, "account is disabled")
	ErrNoCodeIssued           = newError(KindNoCodeIssued, http.StatusBadRequest, "no one-time code issued, request a new one")
	ErrCodeExpired            = newError(KindCodeExpired, http.StatusBadRequest, "one-time code expired, request a new one")
	ErrCodeMismatch           = newError(KindCodeMismatch, http.StatusBadRequest, "one-time code does not match")
	ErrInvalidCode            = newError(KindInvalidCode, http.StatusBadRequest, "no valid verified one-time code, request a new one")
	ErrElectionNotFound       = newError(KindElectionNotFound, http.StatusNotFound, "election not found")
	ErrElectionNotActive      = newError(KindElectionNotActive, http.StatusBadRequest, "election is not active")
	ErrCandidateNotFound      = newError(KindCandidateNotFound, http.StatusBadRequest, "candidate not found")
	ErrAlreadyVoted           = newError(KindAlreadyVoted, http.StatusConflict, "you have already voted in this election")
	ErrResultsNotYetAvailable = newError(KindResultsNotYetAvailable, http.StatusForbidden, "results not available until the election ends")
	ErrPersistenceFailure     = newError(KindPersistenceFailure, http.StatusServiceUnavailable, "ballot could not be recorded, contact the election operator")
	ErrVoterNotFound          = newError(KindVoterNotFound, http.StatusUnauthorized, "voter not found")
	ErrInvalidElection        = newError(KindInvalidElection, http.StatusBadRequest, "invalid election definition")
	ErrForbidden              = newError(KindForbidden, http.StatusForbidden, "access denied")
	ErrDuplicateVoter         = newError(KindDuplicateVoter, http.StatusConflict, "voter already registered")
	ErrInvalidRequest         = newError(KindInvalidRequest, http.StatusBadRequest, "invalid request")
)

// InvalidElection reports a rejected election definition with the reason.
func InvalidElection(reason string) *Error {
	return newError(KindInvalidElection, http.StatusBadRequest, ErrInvalidElection.Message+": "+reason)
}

// InvalidRequest reports a malformed request with the reason.
func InvalidRequest(reason string) *Error {
	return newError(KindInvalidRequest, http.StatusBadRequest, ErrInvalidRequest.Message+": "+reason)
}

// KindOf returns the kind of a domain error, or 0 when err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
