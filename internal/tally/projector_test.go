package tally

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ballotd/internal/anonymizer"
	"ballotd/internal/errs"
	"ballotd/internal/models"
	"ballotd/internal/store"
	"ballotd/internal/store/mem"
	"ballotd/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePercentage(t *testing.T) {
	for _, tc := range []struct {
		count, total int64
		want         string
	}{
		{3, 10, "30.00"},
		{5, 10, "50.00"},
		{1, 3, "33.33"},
		{2, 3, "66.67"},
		{1, 8, "12.50"},
		{7, 7, "100.00"},
		{0, 5, "0.00"},
		{0, 0, "0.00"},
	} {
		assert.Equal(t, tc.want, FormatPercentage(tc.count, tc.total), "%d/%d", tc.count, tc.total)
	}
	assert.True(t, ComputePercentage(4, 0).Equal(decimal.Zero))
	assert.True(t, ComputePercentage(3, 10).Equal(decimal.NewFromInt(30)))
}

type fixture struct {
	store    *mem.Store
	engine   *anonymizer.Engine
	now      time.Time
	election *models.Election
	tally    *Projector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: mem.NewMemStore(), now: time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)}
	var err error
	f.engine, err = anonymizer.New("tally secret")
	require.NoError(t, err)
	f.election = storetest.Election(t, f.now, "A", "B", "C")
	require.NoError(t, f.store.CreateElection(context.Background(), f.election))
	f.tally = New(f.store, f.engine, func() time.Time { return f.now }, time.Second)
	return f
}

// castAs records a ballot sealed by engine for a new voter at castAt.
func (f *fixture) castAs(t *testing.T, engine *anonymizer.Engine, candidate uuid.UUID, castAt time.Time) {
	t.Helper()
	ctx := context.Background()
	v := storetest.Voter(uuid.NewString() + "@example.com")
	require.NoError(t, f.store.CreateVoter(ctx, v))
	sealed, err := engine.Seal(v.Id, f.election.Id, candidate, castAt)
	require.NoError(t, err)
	require.NoError(t, f.store.CommitBallot(ctx, &store.Commit{
		Ballot: &models.Ballot{
			Id: uuid.New(), ElectionId: f.election.Id,
			Pseudonym: sealed.Pseudonym, Choice: sealed.Choice, VerificationTag: sealed.VerificationTag,
			CastAt: castAt,
		},
		Guard:       &models.GuardRecord{VoterId: v.Id, ElectionId: f.election.Id, VotedAt: castAt},
		CandidateId: candidate,
	}))
}

// castSplit records 3 votes for A, 5 for B and 2 for C.
func (f *fixture) castSplit(t *testing.T) {
	for i, n := range []int{3, 5, 2} {
		for j := 0; j < n; j++ {
			f.castAs(t, f.engine, f.election.Candidates[i].Id, f.now.Add(-time.Duration(j)*time.Hour/2))
		}
	}
}

func TestResultsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.castSplit(t)

	_, err := f.tally.Results(ctx, f.election.Id, models.VoterRoleDefault)
	assert.Equal(t, errs.ErrResultsNotYetAvailable, err)

	res, err := f.tally.Results(ctx, f.election.Id, models.VoterRoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.ElectionStatusActive, res.Status)

	f.now = f.election.FinishAt.Add(time.Second)
	res, err = f.tally.Results(ctx, f.election.Id, models.VoterRoleDefault)
	require.NoError(t, err)
	assert.Equal(t, models.ElectionStatusCompleted, res.Status)
	assert.EqualValues(t, 10, res.TotalVotes)
	require.Len(t, res.Candidates, 3)
	var got []string
	for _, c := range res.Candidates {
		got = append(got, fmt.Sprintf("%s=%d/%s", c.Name, c.Votes, c.Percentage))
	}
	assert.Equal(t, []string{"A=3/30.00", "B=5/50.00", "C=2/20.00"}, got)

	_, err = f.tally.Results(ctx, uuid.New(), models.VoterRoleAdmin)
	assert.Equal(t, errs.ErrElectionNotFound, err)
}

func TestResultsWithoutVotes(t *testing.T) {
	f := newFixture(t)
	f.now = f.election.FinishAt.Add(time.Minute)

	res, err := f.tally.Results(context.Background(), f.election.Id, models.VoterRoleDefault)
	require.NoError(t, err)
	for _, c := range res.Candidates {
		assert.Equal(t, "0.00", c.Percentage)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.castSplit(t)
	// 20 eligible voters in total, admins and disabled accounts do not count
	for i := 0; i < 10; i++ {
		require.NoError(t, f.store.CreateVoter(ctx, storetest.Voter(fmt.Sprintf("idle%d@example.com", i))))
	}
	admin := storetest.Voter("admin@example.com")
	admin.Role = models.VoterRoleAdmin
	require.NoError(t, f.store.CreateVoter(ctx, admin))

	a, err := f.tally.Analytics(ctx, f.election.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 10, a.TotalVotes)
	assert.EqualValues(t, 20, a.EligibleVoters)
	assert.Equal(t, "50.00", a.Turnout)
	require.Len(t, a.Hourly, 24)

	var sum int64
	for h, b := range a.Hourly {
		assert.Equal(t, h, b.Hour)
		sum += b.Votes
	}
	assert.EqualValues(t, 10, sum)
	// j=0 and j=1 of every group land at 12:30 and 12:00
	assert.EqualValues(t, 6, a.Hourly[12].Votes)
}

func TestAuditConsistent(t *testing.T) {
	f := newFixture(t)
	f.castSplit(t)

	report, err := f.tally.Audit(context.Background(), f.election.Id)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.EqualValues(t, 10, report.Ballots)
	assert.EqualValues(t, 10, report.GuardRecords)
	for _, c := range report.Candidates {
		assert.Equal(t, c.Stored, c.Counted, c.Name)
	}
}

func TestAuditDetectsForeignKey(t *testing.T) {
	f := newFixture(t)
	f.castSplit(t)
	other, err := anonymizer.New("rotated secret")
	require.NoError(t, err)
	f.castAs(t, other, f.election.Candidates[0].Id, f.now)

	report, err := f.tally.Audit(context.Background(), f.election.Id)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.EqualValues(t, 1, report.Undecryptable)
	assert.EqualValues(t, 4, report.Candidates[0].Stored)
	assert.EqualValues(t, 3, report.Candidates[0].Counted)
}
