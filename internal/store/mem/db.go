// Package mem implements a minimal in-memory store for unit testing. A single
// mutex stands in for the transaction of the database backed stores.
package mem

import (
	"context"
	"sync"
	"time"

	"ballotd/internal/models"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

var _ store.Store = (*Store)(nil)

type guardKey struct {
	voter    uuid.UUID
	election uuid.UUID
}

type ballotKey struct {
	election  uuid.UUID
	pseudonym string
}

type Store struct {
	mu        sync.RWMutex
	voters    map[uuid.UUID]*models.Voter
	emails    map[string]uuid.UUID
	elections map[uuid.UUID]*models.Election
	guards    map[guardKey]*models.GuardRecord
	ballots   map[ballotKey]*models.Ballot

	// FailCommit, when set, is returned by CommitBallot after all checks and
	// before anything is written.
	FailCommit error
	// LoseCommitAck, when set, is returned by CommitBallot after the commit
	// was applied, like a connection dropped before the acknowledgement.
	LoseCommitAck error
}

func NewMemStore() *Store {
	return &Store{
		voters:    map[uuid.UUID]*models.Voter{},
		emails:    map[string]uuid.UUID{},
		elections: map[uuid.UUID]*models.Election{},
		guards:    map[guardKey]*models.GuardRecord{},
		ballots:   map[ballotKey]*models.Ballot{},
	}
}

func copyVoter(v *models.Voter) *models.Voter {
	c := *v
	if v.CodeExpiresAt != nil {
		t := *v.CodeExpiresAt
		c.CodeExpiresAt = &t
	}
	if v.CodeVerifiedAt != nil {
		t := *v.CodeVerifiedAt
		c.CodeVerifiedAt = &t
	}
	return &c
}

func copyElection(e *models.Election) *models.Election {
	c := *e
	c.Candidates = append([]models.Candidate(nil), e.Candidates...)
	return &c
}

func (m *Store) CreateVoter(_ context.Context, voter *models.Voter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if voter.Id == uuid.Nil {
		voter.Id = uuid.New()
	}
	if _, found := m.voters[voter.Id]; found {
		return store.ErrDuplicate
	}
	if _, found := m.emails[voter.Email]; found {
		return store.ErrDuplicate
	}
	if voter.CreatedAt.IsZero() {
		voter.CreatedAt = time.Now()
	}
	m.voters[voter.Id] = copyVoter(voter)
	m.emails[voter.Email] = voter.Id
	return nil
}

func (m *Store) FindVoter(_ context.Context, id uuid.UUID) (*models.Voter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, found := m.voters[id]
	if !found {
		return nil, store.ErrNotFound
	}
	return copyVoter(v), nil
}

func (m *Store) SaveCodeSlot(_ context.Context, voter *models.Voter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.voters[voter.Id]
	if !found {
		return store.ErrNotFound
	}
	src := copyVoter(voter)
	v.Code = src.Code
	v.CodeExpiresAt = src.CodeExpiresAt
	v.CodeVerified = src.CodeVerified
	v.CodeVerifiedAt = src.CodeVerifiedAt
	return nil
}

func (m *Store) CountActiveVoters(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, v := range m.voters {
		if v.Active && v.Role == models.VoterRoleDefault {
			n++
		}
	}
	return n, nil
}

func (m *Store) CreateElection(_ context.Context, election *models.Election) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.elections[election.Id]; found {
		return store.ErrDuplicate
	}
	if election.CreatedAt.IsZero() {
		election.CreatedAt = time.Now()
	}
	m.elections[election.Id] = copyElection(election)
	return nil
}

func (m *Store) FindElection(_ context.Context, id uuid.UUID) (*models.Election, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, found := m.elections[id]
	if !found {
		return nil, store.ErrNotFound
	}
	return copyElection(e), nil
}

func (m *Store) ListOpenElections(_ context.Context, now time.Time) ([]*models.Election, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Election
	for _, e := range m.elections {
		if e.Status == models.ElectionStatusActive && !now.Before(e.StartAt) && !now.After(e.FinishAt) {
			out = append(out, copyElection(e))
		}
	}
	slices.SortFunc(out, func(a, b *models.Election) int { return a.FinishAt.Compare(b.FinishAt) })
	return out, nil
}

func (m *Store) PurgeElection(_ context.Context, id uuid.UUID) (*store.PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.elections[id]; !found {
		return nil, store.ErrNotFound
	}
	var res store.PurgeResult
	for k := range m.ballots {
		if k.election == id {
			delete(m.ballots, k)
			res.Ballots++
		}
	}
	for k := range m.guards {
		if k.election == id {
			delete(m.guards, k)
			res.Guards++
		}
	}
	delete(m.elections, id)
	return &res, nil
}

func (m *Store) HasVoted(_ context.Context, voterId, electionId uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, found := m.guards[guardKey{voterId, electionId}]
	return found, nil
}

func (m *Store) InsertGuard(_ context.Context, guard *models.GuardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.insertGuard(guard)
}

func (m *Store) insertGuard(guard *models.GuardRecord) error {
	key := guardKey{guard.VoterId, guard.ElectionId}
	if _, found := m.guards[key]; found {
		return store.ErrDuplicate
	}
	g := *guard
	m.guards[key] = &g
	return nil
}

func (m *Store) ListGuards(_ context.Context, voterId uuid.UUID) ([]*models.GuardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.GuardRecord
	for k, g := range m.guards {
		if k.voter == voterId {
			c := *g
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.GuardRecord) int { return b.VotedAt.Compare(a.VotedAt) })
	return out, nil
}

func (m *Store) CountGuards(_ context.Context, electionId uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for k := range m.guards {
		if k.election == electionId {
			n++
		}
	}
	return n, nil
}

func (m *Store) CommitBallot(_ context.Context, commit *store.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	guard, ballot := commit.Guard, commit.Ballot
	if _, found := m.guards[guardKey{guard.VoterId, guard.ElectionId}]; found {
		return store.ErrDuplicate
	}
	bk := ballotKey{ballot.ElectionId, ballot.Pseudonym}
	if _, found := m.ballots[bk]; found {
		return store.ErrDuplicate
	}
	election, found := m.elections[ballot.ElectionId]
	if !found {
		return errors.Wrap(store.ErrNotFound, "election")
	}
	idx := -1
	for i := range election.Candidates {
		if election.Candidates[i].Id == commit.CandidateId {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Wrap(store.ErrNotFound, "candidate")
	}
	voter, found := m.voters[guard.VoterId]
	if !found {
		return errors.Wrap(store.ErrNotFound, "voter")
	}
	if m.FailCommit != nil {
		return m.FailCommit
	}

	if err := m.insertGuard(guard); err != nil {
		return err
	}
	b := *ballot
	m.ballots[bk] = &b
	election.Candidates[idx].VoteCount++
	election.TotalVotes++
	voter.ClearCode()
	return m.LoseCommitAck
}

func (m *Store) FindBallot(_ context.Context, electionId uuid.UUID, pseudonym string) (*models.Ballot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, found := m.ballots[ballotKey{electionId, pseudonym}]
	if !found {
		return nil, store.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *Store) ListBallots(_ context.Context, electionId uuid.UUID) ([]*models.Ballot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Ballot
	for k, b := range m.ballots {
		if k.election == electionId {
			c := *b
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Ballot) int { return a.CastAt.Compare(b.CastAt) })
	return out, nil
}

func (m *Store) Close() error {
	return nil
}
