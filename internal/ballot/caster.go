// Package ballot accepts ballots. Cast runs every check in a fixed order and
// commits the ballot, the guard record and the counters as one unit.
package ballot

import (
	"context"
	"strings"
	"time"

	"ballotd/internal/anonymizer"
	"ballotd/internal/errs"
	"ballotd/internal/models"
	"ballotd/internal/notify"
	"ballotd/internal/otp"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type CastRequest struct {
	VoterId     uuid.UUID
	ElectionId  uuid.UUID
	CandidateId uuid.UUID
	Code        string
	ClientAddr  string
}

// Receipt is returned to the voter. The tag is the only handle on the ballot.
type Receipt struct {
	ElectionId      uuid.UUID `json:"electionId"`
	VerificationTag string    `json:"verificationTag"`
	CastAt          time.Time `json:"castAt"`
}

type Caster struct {
	store      store.Store
	auth       *otp.Authenticator
	engine     *anonymizer.Engine
	dispatcher notify.Dispatcher

	now           func() time.Time
	storeTimeout  time.Duration
	notifyTimeout time.Duration
}

type Option func(*Caster)

func WithClock(now func() time.Time) Option {
	return func(c *Caster) { c.now = now }
}

func WithTimeout(storeTimeout, notifyTimeout time.Duration) Option {
	return func(c *Caster) {
		c.storeTimeout = storeTimeout
		c.notifyTimeout = notifyTimeout
	}
}

func NewCaster(s store.Store, auth *otp.Authenticator, engine *anonymizer.Engine, dispatcher notify.Dispatcher, opts ...Option) *Caster {
	c := &Caster{
		store:         s,
		auth:          auth,
		engine:        engine,
		dispatcher:    dispatcher,
		now:           time.Now,
		storeTimeout:  5 * time.Second,
		notifyTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Caster) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return store.WithTimeout(ctx, c.storeTimeout)
}

func (c *Caster) findVoter(ctx context.Context, id uuid.UUID) (*models.Voter, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	voter, err := c.store.FindVoter(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrVoterNotFound
	}
	return voter, err
}

func (c *Caster) findElection(ctx context.Context, id uuid.UUID) (*models.Election, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	election, err := c.store.FindElection(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrElectionNotFound
	}
	return election, err
}

func (c *Caster) hasVoted(ctx context.Context, voterId, electionId uuid.UUID) (bool, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.store.HasVoted(ctx, voterId, electionId)
}

// Cast validates and records one ballot. Checks run in order: code, election
// window, candidate, prior vote. A voter who already voted gets AlreadyVoted
// even when the code they sent is no longer valid, since the successful cast
// consumed it.
func (c *Caster) Cast(ctx context.Context, req CastRequest) (*Receipt, error) {
	voter, err := c.findVoter(ctx, req.VoterId)
	if err != nil {
		return nil, err
	}
	if !voter.Active {
		return nil, errs.ErrAccountInactive
	}

	if err = c.auth.CheckCastCode(voter, req.Code); err != nil {
		voted, lookupErr := c.hasVoted(ctx, voter.Id, req.ElectionId)
		if lookupErr == nil && voted {
			return nil, errs.ErrAlreadyVoted
		}
		return nil, err
	}

	election, err := c.findElection(ctx, req.ElectionId)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	if election.CurrentStatus(now) != models.ElectionStatusActive {
		return nil, errs.ErrElectionNotActive
	}
	candidate, found := election.Candidate(req.CandidateId)
	if !found {
		return nil, errs.ErrCandidateNotFound
	}

	voted, err := c.hasVoted(ctx, voter.Id, election.Id)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, errs.ErrAlreadyVoted
	}

	castAt := now.Truncate(time.Millisecond)
	sealed, err := c.engine.Seal(voter.Id, election.Id, candidate.Id, castAt)
	if err != nil {
		return nil, err
	}
	commit := &store.Commit{
		Ballot: &models.Ballot{
			Id:              uuid.New(),
			ElectionId:      election.Id,
			Pseudonym:       sealed.Pseudonym,
			Choice:          sealed.Choice,
			VerificationTag: sealed.VerificationTag,
			Ip:              strings.TrimSpace(req.ClientAddr),
			CastAt:          castAt,
		},
		Guard: &models.GuardRecord{
			VoterId:    voter.Id,
			ElectionId: election.Id,
			VotedAt:    castAt,
		},
		CandidateId: candidate.Id,
	}
	if err = c.commit(ctx, commit); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ElectionId:      election.Id,
		VerificationTag: sealed.VerificationTag,
		CastAt:          castAt,
	}
	c.confirm(ctx, voter, election, receipt)
	return receipt, nil
}

func (c *Caster) commit(ctx context.Context, commit *store.Commit) error {
	cctx, cancel := c.bounded(ctx)
	err := c.store.CommitBallot(cctx, commit)
	cancel()
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		return errs.ErrAlreadyVoted
	}

	// The outcome is unknown when the acknowledgement was lost. The pseudonym
	// is unique to this attempt, so finding it means the commit went through.
	pctx, cancel := c.bounded(context.WithoutCancel(ctx))
	defer cancel()
	_, probeErr := c.store.FindBallot(pctx, commit.Ballot.ElectionId, commit.Ballot.Pseudonym)
	if probeErr == nil {
		log.Warn().Err(err).Stringer("election", commit.Ballot.ElectionId).Msg("ballot commit reported failure but was applied")
		return nil
	}
	log.Error().Err(err).AnErr("probe", probeErr).
		Stringer("election", commit.Ballot.ElectionId).
		Msg("ballot commit failed")
	return errs.ErrPersistenceFailure
}

func (c *Caster) confirm(ctx context.Context, voter *models.Voter, election *models.Election, receipt *Receipt) {
	msg := notify.ConfirmationMessage(voter.Email, election.Title, receipt.VerificationTag, receipt.CastAt)
	if err := notify.Deliver(context.WithoutCancel(ctx), c.dispatcher, c.notifyTimeout, msg); err != nil {
		log.Warn().Err(err).Stringer("election", election.Id).Msg("vote confirmation not delivered")
	}
}
