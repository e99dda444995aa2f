package ballot

import (
	"context"
	"time"

	"ballotd/internal/errs"
	"ballotd/internal/models"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElectionView is an election as one voter sees it. Counters read zero until
// the voter may see results.
type ElectionView struct {
	*models.Election
	Status   models.ElectionStatus `json:"status"`
	HasVoted bool                  `json:"hasVoted"`
}

func newView(e *models.Election, voter *models.Voter, now time.Time, voted bool) ElectionView {
	status := e.CurrentStatus(now)
	if !models.ResultsVisible(voter.Role, status) {
		e = e.WithoutCounters()
	}
	return ElectionView{Election: e, Status: status, HasVoted: voted}
}

// OpenElections lists the elections accepting ballots now, marking the ones
// the voter already took part in.
func (c *Caster) OpenElections(ctx context.Context, voter *models.Voter) ([]ElectionView, error) {
	now := c.now().UTC()
	lctx, cancel := c.bounded(ctx)
	elections, err := c.store.ListOpenElections(lctx, now)
	cancel()
	if err != nil {
		return nil, err
	}
	out := make([]ElectionView, 0, len(elections))
	for _, e := range elections {
		voted, err := c.hasVoted(ctx, voter.Id, e.Id)
		if err != nil {
			return nil, err
		}
		out = append(out, newView(e, voter, now, voted))
	}
	return out, nil
}

func (c *Caster) Election(ctx context.Context, voter *models.Voter, electionId uuid.UUID) (*ElectionView, error) {
	election, err := c.findElection(ctx, electionId)
	if err != nil {
		return nil, err
	}
	voted, err := c.hasVoted(ctx, voter.Id, electionId)
	if err != nil {
		return nil, err
	}
	view := newView(election, voter, c.now(), voted)
	return &view, nil
}

func (c *Caster) Voter(ctx context.Context, voterId uuid.UUID) (*models.Voter, error) {
	return c.findVoter(ctx, voterId)
}

// RegisterVoter adds a voter. Registration proper lives outside this service;
// this is the administrative entry point.
func (c *Caster) RegisterVoter(ctx context.Context, voter *models.Voter) error {
	if voter.Email == "" {
		return errs.InvalidRequest("email is required")
	}
	voter.ClearCode()
	voter.CreatedAt = c.now().UTC()
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	err := c.store.CreateVoter(ctx, voter)
	if errors.Is(err, store.ErrDuplicate) {
		return errs.ErrDuplicateVoter
	}
	return err
}

// CreateElection validates the definition and stores it with zeroed counters.
func (c *Caster) CreateElection(ctx context.Context, election *models.Election) error {
	if err := election.Validate(); err != nil {
		return err
	}
	election.CreatedAt = c.now().UTC()
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	if err := c.store.CreateElection(ctx, election); err != nil {
		return err
	}
	log.Info().Stringer("election", election.Id).Str("title", election.Title).
		Int("candidates", len(election.Candidates)).
		Time("start", election.StartAt).Time("finish", election.FinishAt).
		Msg("election created")
	return nil
}

// PurgeElection deletes an election with every ballot and guard record in it.
func (c *Caster) PurgeElection(ctx context.Context, electionId uuid.UUID) (*store.PurgeResult, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	res, err := c.store.PurgeElection(ctx, electionId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrElectionNotFound
	}
	if err != nil {
		return nil, err
	}
	log.Warn().Stringer("election", electionId).
		Int64("ballots", res.Ballots).Int64("guards", res.Guards).
		Msg("election purged")
	return res, nil
}

// Now is the clock the caster derives election status with.
func (c *Caster) Now() time.Time {
	return c.now()
}
