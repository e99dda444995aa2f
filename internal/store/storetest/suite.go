// Package storetest holds the behaviour every store.Store implementation must
// share. Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ballotd/internal/models"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per sub test.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, open Factory) {
	t.Run("voters", func(t *testing.T) { testVoters(t, open(t)) })
	t.Run("elections", func(t *testing.T) { testElections(t, open(t)) })
	t.Run("commit", func(t *testing.T) { testCommit(t, open(t)) })
	t.Run("commit duplicate", func(t *testing.T) { testCommitDuplicate(t, open(t)) })
	t.Run("commit unknown candidate", func(t *testing.T) { testCommitUnknownCandidate(t, open(t)) })
	t.Run("commit concurrent", func(t *testing.T) { testCommitConcurrent(t, open(t)) })
	t.Run("guards", func(t *testing.T) { testGuards(t, open(t)) })
	t.Run("purge", func(t *testing.T) { testPurge(t, open(t)) })
}

// Voter returns an active voter that is not yet stored.
func Voter(email string) *models.Voter {
	return &models.Voter{
		Id:     uuid.New(),
		Email:  email,
		Name:   email,
		Role:   models.VoterRoleDefault,
		Active: true,
	}
}

// Election returns a validated active election open around now.
func Election(t *testing.T, now time.Time, candidates ...string) *models.Election {
	t.Helper()
	if len(candidates) == 0 {
		candidates = []string{"Alice", "Bob", "Carol"}
	}
	e := &models.Election{
		Title:       "Board election",
		Description: "Pick one",
		Status:      models.ElectionStatusActive,
		StartAt:     now.Add(-time.Hour),
		FinishAt:    now.Add(time.Hour),
	}
	for _, name := range candidates {
		e.Candidates = append(e.Candidates, models.Candidate{Name: name})
	}
	require.NoError(t, e.Validate())
	return e
}

// NewCommit builds the commit for a voter choosing candidate.
func NewCommit(voter *models.Voter, election *models.Election, candidate uuid.UUID, pseudonym string) *store.Commit {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &store.Commit{
		Ballot: &models.Ballot{
			Id:              uuid.New(),
			ElectionId:      election.Id,
			Pseudonym:       pseudonym,
			Choice:          "00:00",
			VerificationTag: "tag-" + pseudonym,
			Ip:              "127.0.0.1",
			CastAt:          now,
		},
		Guard: &models.GuardRecord{
			VoterId:    voter.Id,
			ElectionId: election.Id,
			VotedAt:    now,
		},
		CandidateId: candidate,
	}
}

func testVoters(t *testing.T, s store.Store) {
	ctx := context.Background()

	v := Voter("a@example.com")
	require.NoError(t, s.CreateVoter(ctx, v))
	assert.True(t, errors.Is(s.CreateVoter(ctx, Voter("a@example.com")), store.ErrDuplicate))

	disabled := Voter("b@example.com")
	disabled.Active = false
	require.NoError(t, s.CreateVoter(ctx, disabled))
	admin := Voter("c@example.com")
	admin.Role = models.VoterRoleAdmin
	require.NoError(t, s.CreateVoter(ctx, admin))

	n, err := s.CountActiveVoters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.FindVoter(ctx, disabled.Id)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = s.FindVoter(ctx, uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))

	exp := time.Now().UTC().Add(10 * time.Minute).Truncate(time.Second)
	v.SetCode("424242", exp)
	v.MarkCodeVerified(time.Now().UTC())
	require.NoError(t, s.SaveCodeSlot(ctx, v))

	got, err = s.FindVoter(ctx, v.Id)
	require.NoError(t, err)
	assert.Equal(t, "424242", got.Code)
	assert.True(t, got.CodeVerified)
	require.NotNil(t, got.CodeExpiresAt)
	assert.True(t, exp.Equal(*got.CodeExpiresAt))

	got.ClearCode()
	require.NoError(t, s.SaveCodeSlot(ctx, got))
	got, err = s.FindVoter(ctx, v.Id)
	require.NoError(t, err)
	assert.False(t, got.HasCode())

	assert.True(t, errors.Is(s.SaveCodeSlot(ctx, Voter("nobody@example.com")), store.ErrNotFound))
}

func testElections(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	open := Election(t, now)
	require.NoError(t, s.CreateElection(ctx, open))

	later := Election(t, now.Add(48*time.Hour))
	require.NoError(t, s.CreateElection(ctx, later))

	draft := Election(t, now)
	draft.Status = models.ElectionStatusDraft
	require.NoError(t, s.CreateElection(ctx, draft))

	got, err := s.FindElection(ctx, open.Id)
	require.NoError(t, err)
	assert.Equal(t, open.Title, got.Title)
	require.Len(t, got.Candidates, 3)
	for i, c := range got.Candidates {
		assert.Equal(t, open.Candidates[i].Id, c.Id)
		assert.Equal(t, open.Candidates[i].Name, c.Name)
	}
	assert.Equal(t, models.ElectionStatusActive, got.CurrentStatus(now))

	list, err := s.ListOpenElections(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.Id, list[0].Id)
	assert.Len(t, list[0].Candidates, 3)

	_, err = s.FindElection(ctx, uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := Voter("voter@example.com")
	v.SetCode("111111", time.Now().UTC().Add(time.Minute))
	require.NoError(t, s.CreateVoter(ctx, v))
	e := Election(t, time.Now().UTC())
	require.NoError(t, s.CreateElection(ctx, e))

	commit := NewCommit(v, e, e.Candidates[1].Id, "p1")
	require.NoError(t, s.CommitBallot(ctx, commit))

	got, err := s.FindElection(ctx, e.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.TotalVotes)
	assert.EqualValues(t, 0, got.Candidates[0].VoteCount)
	assert.EqualValues(t, 1, got.Candidates[1].VoteCount)
	assert.True(t, got.CountersConsistent())

	voted, err := s.HasVoted(ctx, v.Id, e.Id)
	require.NoError(t, err)
	assert.True(t, voted)

	ballot, err := s.FindBallot(ctx, e.Id, "p1")
	require.NoError(t, err)
	assert.Equal(t, commit.Ballot.VerificationTag, ballot.VerificationTag)
	assert.True(t, commit.Ballot.CastAt.Equal(ballot.CastAt))

	voter, err := s.FindVoter(ctx, v.Id)
	require.NoError(t, err)
	assert.False(t, voter.HasCode())

	ballots, err := s.ListBallots(ctx, e.Id)
	require.NoError(t, err)
	assert.Len(t, ballots, 1)
}

func testCommitDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := Voter("voter@example.com")
	require.NoError(t, s.CreateVoter(ctx, v))
	e := Election(t, time.Now().UTC())
	require.NoError(t, s.CreateElection(ctx, e))

	require.NoError(t, s.CommitBallot(ctx, NewCommit(v, e, e.Candidates[0].Id, "p1")))

	// same voter under another pseudonym is stopped by the guard record
	err := s.CommitBallot(ctx, NewCommit(v, e, e.Candidates[1].Id, "p2"))
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)

	// another voter colliding on the pseudonym is stopped by the ballot key
	other := Voter("other@example.com")
	require.NoError(t, s.CreateVoter(ctx, other))
	err = s.CommitBallot(ctx, NewCommit(other, e, e.Candidates[1].Id, "p1"))
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)

	voted, err := s.HasVoted(ctx, other.Id, e.Id)
	require.NoError(t, err)
	assert.False(t, voted)

	got, err := s.FindElection(ctx, e.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.TotalVotes)
	assert.True(t, got.CountersConsistent())
}

func testCommitUnknownCandidate(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := Voter("voter@example.com")
	require.NoError(t, s.CreateVoter(ctx, v))
	e := Election(t, time.Now().UTC())
	require.NoError(t, s.CreateElection(ctx, e))

	err := s.CommitBallot(ctx, NewCommit(v, e, uuid.New(), "p1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrDuplicate))

	// nothing of the failed commit is visible
	voted, err := s.HasVoted(ctx, v.Id, e.Id)
	require.NoError(t, err)
	assert.False(t, voted)
	_, err = s.FindBallot(ctx, e.Id, "p1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	got, err := s.FindElection(ctx, e.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.TotalVotes)
}

func testCommitConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := Voter("voter@example.com")
	require.NoError(t, s.CreateVoter(ctx, v))
	e := Election(t, time.Now().UTC())
	require.NoError(t, s.CreateElection(ctx, e))

	const n = 8
	var (
		wg   sync.WaitGroup
		ok   atomic.Int32
		dups atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CommitBallot(ctx, NewCommit(v, e, e.Candidates[i%2].Id, "p"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, store.ErrDuplicate):
				dups.Add(1)
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, n-1, dups.Load())

	got, err := s.FindElection(ctx, e.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.TotalVotes)
	assert.True(t, got.CountersConsistent())
}

func testGuards(t *testing.T, s store.Store) {
	ctx := context.Background()
	v := Voter("voter@example.com")
	require.NoError(t, s.CreateVoter(ctx, v))
	first := Election(t, time.Now().UTC())
	second := Election(t, time.Now().UTC())
	require.NoError(t, s.CreateElection(ctx, first))
	require.NoError(t, s.CreateElection(ctx, second))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.InsertGuard(ctx, &models.GuardRecord{VoterId: v.Id, ElectionId: first.Id, VotedAt: now.Add(-time.Minute)}))
	require.NoError(t, s.InsertGuard(ctx, &models.GuardRecord{VoterId: v.Id, ElectionId: second.Id, VotedAt: now}))
	err := s.InsertGuard(ctx, &models.GuardRecord{VoterId: v.Id, ElectionId: second.Id, VotedAt: now})
	assert.True(t, errors.Is(err, store.ErrDuplicate))

	guards, err := s.ListGuards(ctx, v.Id)
	require.NoError(t, err)
	require.Len(t, guards, 2)
	assert.Equal(t, second.Id, guards[0].ElectionId)
	assert.Equal(t, first.Id, guards[1].ElectionId)

	n, err := s.CountGuards(ctx, first.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := Election(t, time.Now().UTC())
	keep := Election(t, time.Now().UTC())
	require.NoError(t, s.CreateElection(ctx, e))
	require.NoError(t, s.CreateElection(ctx, keep))

	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		v := Voter(email)
		require.NoError(t, s.CreateVoter(ctx, v))
		require.NoError(t, s.CommitBallot(ctx, NewCommit(v, e, e.Candidates[i%2].Id, "e-"+email)))
		if i == 0 {
			require.NoError(t, s.CommitBallot(ctx, NewCommit(v, keep, keep.Candidates[0].Id, "k-"+email)))
		}
	}

	res, err := s.PurgeElection(ctx, e.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Ballots)
	assert.EqualValues(t, 3, res.Guards)

	_, err = s.FindElection(ctx, e.Id)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	ballots, err := s.ListBallots(ctx, e.Id)
	require.NoError(t, err)
	assert.Empty(t, ballots)

	ballots, err = s.ListBallots(ctx, keep.Id)
	require.NoError(t, err)
	assert.Len(t, ballots, 1)

	_, err = s.PurgeElection(ctx, e.Id)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
