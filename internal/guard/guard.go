// Package guard keeps a voter to one ballot per election.
package guard

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

type storage interface {
	store.Guards
	FindElection(ctx context.Context, id uuid.UUID) (*models.Election, error)
}

type Guard struct {
	store   storage
	timeout time.Duration
}

func New(s storage, timeout time.Duration) *Guard {
	return &Guard{store: s, timeout: timeout}
}

func (g *Guard) HasVoted(ctx context.Context, voterId, electionId uuid.UUID) (bool, error) {
	ctx, cancel := store.WithTimeout(ctx, g.timeout)
	defer cancel()
	voted, err := g.store.HasVoted(ctx, voterId, electionId)
	return voted, errors.Wrap(err, "guard: lookup")
}

// RecordVote writes a guard record on its own. Ballot casting records the
// guard inside the ballot commit instead; this is for imports and repairs.
func (g *Guard) RecordVote(ctx context.Context, voterId, electionId uuid.UUID, at time.Time) error {
	ctx, cancel := store.WithTimeout(ctx, g.timeout)
	defer cancel()
	err := g.store.InsertGuard(ctx, &models.GuardRecord{VoterId: voterId, ElectionId: electionId, VotedAt: at.UTC()})
	if errors.Is(err, store.ErrDuplicate) {
		return errs.ErrAlreadyVoted
	}
	return err
}

// Participation is one entry of a voter's history.
type Participation struct {
	ElectionId uuid.UUID             `json:"electionId"`
	Title      string                `json:"title"`
	Status     models.ElectionStatus `json:"status"`
	VotedAt    time.Time             `json:"votedAt"`
}

// History lists the elections the voter took part in, newest first. Only the
// fact of participation is known, never the choice.
func (g *Guard) History(ctx context.Context, voterId uuid.UUID, now time.Time) ([]Participation, error) {
	ctx, cancel := store.WithTimeout(ctx, g.timeout)
	defer cancel()

	guards, err := g.store.ListGuards(ctx, voterId)
	if err != nil {
		return nil, errors.Wrap(err, "guard: history")
	}
	out := make([]Participation, 0, len(guards))
	for _, rec := range guards {
		election, err := g.store.FindElection(ctx, rec.ElectionId)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Stringer("election", rec.ElectionId).Msg("guard record without election")
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "guard: history")
		}
		out = append(out, Participation{
			ElectionId: election.Id,
			Title:      election.Title,
			Status:     election.CurrentStatus(now),
			VotedAt:    rec.VotedAt,
		})
	}
	return out, nil
}
