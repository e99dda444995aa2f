// Package store defines the persistence contract of the voting core. The
// implementations live in the sub packages: postgres for production, sqlite for
// single-node deployments and mem for tests.
package store

import (
	"context"
	"time"

	"ballotd/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a keyed lookup has no match.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Commit is the unit written when a ballot is accepted. Implementations apply
// all of it in one transaction: guard record, ballot, candidate and election
// counters, and clearing the voter's one-time code.
type Commit struct {
	Ballot      *models.Ballot
	Guard       *models.GuardRecord
	CandidateId uuid.UUID
}

// PurgeResult counts what an election purge removed.
type PurgeResult struct {
	Ballots int64 `json:"ballots"`
	Guards  int64 `json:"guards"`
}

type Voters interface {
	CreateVoter(ctx context.Context, voter *models.Voter) error
	FindVoter(ctx context.Context, id uuid.UUID) (*models.Voter, error)
	// SaveCodeSlot persists the one-time code fields of the voter.
	SaveCodeSlot(ctx context.Context, voter *models.Voter) error
	CountActiveVoters(ctx context.Context) (int64, error)
}

type Elections interface {
	CreateElection(ctx context.Context, election *models.Election) error
	// FindElection loads an election with its candidates ordered by position.
	FindElection(ctx context.Context, id uuid.UUID) (*models.Election, error)
	// ListOpenElections returns elections stored as active whose window contains now.
	ListOpenElections(ctx context.Context, now time.Time) ([]*models.Election, error)
	PurgeElection(ctx context.Context, id uuid.UUID) (*PurgeResult, error)
}

type Guards interface {
	HasVoted(ctx context.Context, voterId, electionId uuid.UUID) (bool, error)
	InsertGuard(ctx context.Context, guard *models.GuardRecord) error
	ListGuards(ctx context.Context, voterId uuid.UUID) ([]*models.GuardRecord, error)
	CountGuards(ctx context.Context, electionId uuid.UUID) (int64, error)
}

type Ballots interface {
	CommitBallot(ctx context.Context, commit *Commit) error
	FindBallot(ctx context.Context, electionId uuid.UUID, pseudonym string) (*models.Ballot, error)
	ListBallots(ctx context.Context, electionId uuid.UUID) ([]*models.Ballot, error)
}

type Store interface {
	Voters
	Elections
	Guards
	Ballots
	Close() error
}

// WithTimeout bounds a store call when a timeout is configured.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
