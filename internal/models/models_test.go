package models

import (
	"testing"
	"time"

	"ballotd/internal/errs"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedStatus(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	for _, tc := range []struct {
		stored ElectionStatus
		now    time.Time
		want   ElectionStatus
	}{
		{ElectionStatusActive, start.Add(-time.Second), ElectionStatusUpcoming},
		{ElectionStatusActive, start, ElectionStatusActive},
		{ElectionStatusActive, end, ElectionStatusActive},
		{ElectionStatusActive, end.Add(time.Second), ElectionStatusCompleted},
		{ElectionStatusCompleted, start.Add(time.Hour), ElectionStatusActive},
		{ElectionStatusCancelled, start.Add(time.Hour), ElectionStatusCancelled},
		{ElectionStatusDraft, end.Add(time.Hour), ElectionStatusDraft},
	} {
		assert.Equal(t, tc.want, DerivedStatus(tc.stored, start, end, tc.now), "%s at %s", tc.stored, tc.now)
	}
}

func validElection() *Election {
	now := time.Now()
	return &Election{
		Title:       " Title ",
		Description: "Description",
		StartAt:     now,
		FinishAt:    now.Add(time.Hour),
		TotalVotes:  3,
		Candidates:  []Candidate{{Name: " A ", VoteCount: 3}, {Name: "B"}},
	}
}

func TestValidate(t *testing.T) {
	e := validElection()
	require.NoError(t, e.Validate())
	assert.NotEqual(t, uuid.Nil, e.Id)
	assert.Equal(t, "Title", e.Title)
	assert.Equal(t, ElectionStatusActive, e.Status)
	assert.Zero(t, e.TotalVotes)
	for i, c := range e.Candidates {
		assert.NotEqual(t, uuid.Nil, c.Id)
		assert.Equal(t, e.Id, c.ElectionId)
		assert.Equal(t, i, c.Position)
		assert.Zero(t, c.VoteCount)
	}
	assert.Equal(t, "A", e.Candidates[0].Name)
	assert.True(t, e.CountersConsistent())

	found, ok := e.Candidate(e.Candidates[1].Id)
	require.True(t, ok)
	assert.Equal(t, "B", found.Name)
	_, ok = e.Candidate(uuid.New())
	assert.False(t, ok)
}

func TestValidateRejects(t *testing.T) {
	for name, mutate := range map[string]func(e *Election){
		"no title":       func(e *Election) { e.Title = "  " },
		"no description": func(e *Election) { e.Description = "" },
		"reversed":       func(e *Election) { e.StartAt, e.FinishAt = e.FinishAt, e.StartAt },
		"empty window":   func(e *Election) { e.FinishAt = e.StartAt },
		"one candidate":  func(e *Election) { e.Candidates = e.Candidates[:1] },
		"blank name":     func(e *Election) { e.Candidates[1].Name = " " },
		"derived status": func(e *Election) { e.Status = ElectionStatusUpcoming },
	} {
		e := validElection()
		mutate(e)
		err := e.Validate()
		assert.True(t, errors.Is(err, errs.ErrInvalidElection), "%s: %v", name, err)
	}
}

func TestCountersConsistent(t *testing.T) {
	e := &Election{TotalVotes: 3, Candidates: []Candidate{{VoteCount: 1}, {VoteCount: 2}}}
	assert.True(t, e.CountersConsistent())
	e.TotalVotes = 4
	assert.False(t, e.CountersConsistent())
}

func TestVoterCodeSlot(t *testing.T) {
	now := time.Now()
	v := &Voter{}
	assert.False(t, v.HasCode())
	assert.True(t, v.CodeExpired(now))

	v.MarkCodeVerified(now)
	v.SetCode("123456", now.Add(time.Minute))
	assert.True(t, v.HasCode())
	assert.False(t, v.CodeVerified, "a new code resets verification")
	assert.False(t, v.CodeExpired(now))
	assert.True(t, v.CodeExpired(now.Add(2*time.Minute)))
	assert.True(t, v.CodeMatches(" 123456\n"))
	assert.False(t, v.CodeMatches("654321"))

	v.ClearCode()
	assert.False(t, v.HasCode())
	assert.False(t, v.CodeMatches(""))
}

func TestRole(t *testing.T) {
	assert.Equal(t, "voter", VoterRoleDefault.String())
	assert.Equal(t, "admin", VoterRoleAdmin.String())
	assert.True(t, (&Voter{Role: VoterRoleAdmin}).IsAdmin())
	assert.False(t, ElectionStatusUpcoming.Stored())
}

func TestResultsVisibility(t *testing.T) {
	assert.True(t, ResultsVisible(VoterRoleAdmin, ElectionStatusActive))
	assert.True(t, ResultsVisible(VoterRoleDefault, ElectionStatusCompleted))
	assert.False(t, ResultsVisible(VoterRoleDefault, ElectionStatusActive))
	assert.False(t, ResultsVisible(VoterRoleDefault, ElectionStatusUpcoming))

	e := validElection()
	e.TotalVotes = 3
	e.Candidates[0].VoteCount = 3
	hidden := e.WithoutCounters()
	assert.Zero(t, hidden.TotalVotes)
	assert.Zero(t, hidden.Candidates[0].VoteCount)
	assert.Equal(t, e.Candidates[0].Name, hidden.Candidates[0].Name)
	assert.EqualValues(t, 3, e.Candidates[0].VoteCount)
}
