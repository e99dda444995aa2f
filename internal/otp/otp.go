// Package otp issues and verifies the one-time codes a voter must present
// before casting a ballot.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"ballotd/internal/errs"
	"ballotd/internal/models"
	"ballotd/internal/notify"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DevBypassCode is accepted for every voter in development builds.
	DevBypassCode = "123456"
	CodeTTL       = 10 * time.Minute
	codeDigits    = 6
)

// Generator produces a fresh code.
type Generator func() (string, error)

// RandomCode draws a zero padded six digit code from crypto/rand.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", errors.Wrap(err, "otp: random")
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

type Authenticator struct {
	voters     store.Voters
	dispatcher notify.Dispatcher

	dev      bool
	now      func() time.Time
	generate Generator
	timeout  time.Duration
	delivery time.Duration
}

type Option func(*Authenticator)

// WithDevMode enables DevBypassCode.
func WithDevMode(dev bool) Option {
	return func(a *Authenticator) { a.dev = dev }
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func WithGenerator(g Generator) Option {
	return func(a *Authenticator) { a.generate = g }
}

// WithTimeout bounds store calls and code delivery.
func WithTimeout(storeTimeout, notifyTimeout time.Duration) Option {
	return func(a *Authenticator) {
		a.timeout = storeTimeout
		a.delivery = notifyTimeout
	}
}

func New(voters store.Voters, dispatcher notify.Dispatcher, opts ...Option) *Authenticator {
	a := &Authenticator{
		voters:     voters,
		dispatcher: dispatcher,
		now:        time.Now,
		generate:   RandomCode,
		timeout:    5 * time.Second,
		delivery:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) DevMode() bool {
	return a.dev
}

func (a *Authenticator) loadVoter(ctx context.Context, voterId uuid.UUID) (*models.Voter, error) {
	ctx, cancel := store.WithTimeout(ctx, a.timeout)
	defer cancel()
	voter, err := a.voters.FindVoter(ctx, voterId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrVoterNotFound
	}
	if err != nil {
		return nil, err
	}
	return voter, nil
}

func (a *Authenticator) saveSlot(ctx context.Context, voter *models.Voter) error {
	ctx, cancel := store.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.voters.SaveCodeSlot(ctx, voter)
}

// IssueCode stores a new code on the voter, replacing any earlier one, and
// sends it. A failed delivery is logged; the code stays valid.
func (a *Authenticator) IssueCode(ctx context.Context, voterId uuid.UUID) (time.Time, error) {
	voter, err := a.loadVoter(ctx, voterId)
	if err != nil {
		return time.Time{}, err
	}
	if !voter.Active {
		return time.Time{}, errs.ErrAccountInactive
	}

	code, err := a.generate()
	if err != nil {
		return time.Time{}, err
	}
	expiresAt := a.now().UTC().Add(CodeTTL)
	voter.SetCode(code, expiresAt)
	if err = a.saveSlot(ctx, voter); err != nil {
		return time.Time{}, err
	}

	msg := notify.CodeMessage(voter.Email, code, CodeTTL)
	if err = notify.Deliver(ctx, a.dispatcher, a.delivery, msg); err != nil {
		ev := log.Warn().Err(err).Stringer("voter", voter.Id)
		if a.dev {
			ev = ev.Str("code", code)
		}
		ev.Msg("one-time code delivery failed")
	} else if a.dev {
		log.Debug().Stringer("voter", voter.Id).Str("code", code).Msg("one-time code issued")
	}
	return expiresAt, nil
}

// VerifyCode proves the voter holds the code last issued to them.
func (a *Authenticator) VerifyCode(ctx context.Context, voterId uuid.UUID, code string) error {
	voter, err := a.loadVoter(ctx, voterId)
	if err != nil {
		return err
	}
	if !voter.Active {
		return errs.ErrAccountInactive
	}
	if a.dev && strings.TrimSpace(code) == DevBypassCode {
		return nil
	}
	if !voter.HasCode() {
		return errs.ErrNoCodeIssued
	}
	now := a.now()
	if voter.CodeExpired(now) {
		voter.ClearCode()
		if err = a.saveSlot(ctx, voter); err != nil {
			log.Warn().Err(err).Stringer("voter", voter.Id).Msg("clearing expired code")
		}
		return errs.ErrCodeExpired
	}
	if !voter.CodeMatches(code) {
		return errs.ErrCodeMismatch
	}
	voter.MarkCodeVerified(now.UTC())
	return a.saveSlot(ctx, voter)
}

// CheckCastCode decides whether the code submitted with a ballot may be used.
// It requires a verified, unexpired code equal to the submitted one.
func (a *Authenticator) CheckCastCode(voter *models.Voter, code string) error {
	if a.dev && strings.TrimSpace(code) == DevBypassCode {
		return nil
	}
	if !voter.HasCode() || !voter.CodeVerified || voter.CodeExpired(a.now()) || !voter.CodeMatches(code) {
		return errs.ErrInvalidCode
	}
	return nil
}
