package guard

import (
	"context"
	"testing"
	"time"

	"ballotd/internal/errs"
	"ballotd/internal/models"
	"ballotd/internal/store/mem"
	"ballotd/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordVote(t *testing.T) {
	ctx := context.Background()
	g := New(mem.NewMemStore(), time.Second)
	voter, election := uuid.New(), uuid.New()

	voted, err := g.HasVoted(ctx, voter, election)
	require.NoError(t, err)
	assert.False(t, voted)

	require.NoError(t, g.RecordVote(ctx, voter, election, time.Now()))
	voted, err = g.HasVoted(ctx, voter, election)
	require.NoError(t, err)
	assert.True(t, voted)

	assert.Equal(t, errs.ErrAlreadyVoted, g.RecordVote(ctx, voter, election, time.Now()))

	voted, err = g.HasVoted(ctx, voter, uuid.New())
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	s := mem.NewMemStore()
	g := New(s, time.Second)
	now := time.Now().UTC()

	voter := uuid.New()
	first := storetest.Election(t, now)
	first.Title = "First"
	second := storetest.Election(t, now.Add(-3*time.Hour))
	second.Title = "Second"
	require.NoError(t, s.CreateElection(ctx, first))
	require.NoError(t, s.CreateElection(ctx, second))

	require.NoError(t, g.RecordVote(ctx, voter, second.Id, now.Add(-2*time.Hour)))
	require.NoError(t, g.RecordVote(ctx, voter, first.Id, now.Add(-time.Minute)))
	// a guard pointing at an election that is gone is skipped
	require.NoError(t, g.RecordVote(ctx, voter, uuid.New(), now))

	history, err := g.History(ctx, voter, now)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "First", history[0].Title)
	assert.Equal(t, models.ElectionStatusActive, history[0].Status)
	assert.Equal(t, "Second", history[1].Title)
	assert.Equal(t, models.ElectionStatusCompleted, history[1].Status)

	empty, err := g.History(ctx, uuid.New(), now)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
