package ballot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ballotd/internal/anonymizer"
	"ballotd/internal/errs"
	"ballotd/internal/models"
	"ballotd/internal/notify"
	"ballotd/internal/otp"
	"ballotd/internal/store"
	"ballotd/internal/store/mem"
	"ballotd/internal/store/sqlite"
	"ballotd/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type backend struct {
	name string
	open func(t *testing.T) store.Store
}

var backends = []backend{
	{"mem", func(*testing.T) store.Store { return mem.NewMemStore() }},
	{"sqlite", func(t *testing.T) store.Store {
		s, err := sqlite.NewSqliteStorage(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
}

// eachStore runs fn once per storage backend.
func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

type fixture struct {
	store store.Store
	// mem is set when the fixture runs on the in-memory store and exposes its fault hooks
	mem      *mem.Store
	sent     *notify.Recorder
	clock    *clock
	auth     *otp.Authenticator
	engine   *anonymizer.Engine
	caster   *Caster
	election *models.Election
}

func newFixture(t *testing.T, authOpts ...otp.Option) *fixture {
	t.Helper()
	return newFixtureOn(t, mem.NewMemStore(), authOpts...)
}

func newFixtureOn(t *testing.T, s store.Store, authOpts ...otp.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: s,
		sent:  &notify.Recorder{},
		clock: &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.mem, _ = s.(*mem.Store)
	var err error
	f.engine, err = anonymizer.New("test secret")
	require.NoError(t, err)

	authOpts = append([]otp.Option{otp.WithClock(f.clock.Now)}, authOpts...)
	f.auth = otp.New(f.store, f.sent, authOpts...)
	f.caster = NewCaster(f.store, f.auth, f.engine, f.sent,
		WithClock(f.clock.Now), WithTimeout(time.Second, 100*time.Millisecond))

	f.election = storetest.Election(t, f.clock.Now(), "A", "B", "C")
	require.NoError(t, f.store.CreateElection(context.Background(), f.election))
	return f
}

// voter registers a voter holding a verified code and returns it with the code.
func (f *fixture) voter(t *testing.T, email string) (*models.Voter, string) {
	t.Helper()
	ctx := context.Background()
	v := storetest.Voter(email)
	require.NoError(t, f.store.CreateVoter(ctx, v))
	_, err := f.auth.IssueCode(ctx, v.Id)
	require.NoError(t, err)
	msg, ok := f.sent.Last(notify.PurposeCode)
	require.True(t, ok)
	code := msg.Payload["code"]
	require.NoError(t, f.auth.VerifyCode(ctx, v.Id, code))
	return v, code
}

func (f *fixture) cast(v *models.Voter, candidate uuid.UUID, code string) (*Receipt, error) {
	return f.caster.Cast(context.Background(), CastRequest{
		VoterId:     v.Id,
		ElectionId:  f.election.Id,
		CandidateId: candidate,
		Code:        code,
		ClientAddr:  "10.0.0.1",
	})
}

func (f *fixture) reloadElection(t *testing.T) *models.Election {
	e, err := f.store.FindElection(context.Background(), f.election.Id)
	require.NoError(t, err)
	return e
}

func TestCastRecordsBallot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, code := f.voter(t, "voter@example.com")
	b := f.election.Candidates[1]

	receipt, err := f.cast(v, b.Id, code)
	require.NoError(t, err)
	assert.Len(t, receipt.VerificationTag, 64)
	assert.Equal(t, f.clock.Now(), receipt.CastAt)

	e := f.reloadElection(t)
	assert.EqualValues(t, 1, e.TotalVotes)
	assert.EqualValues(t, 0, e.Candidates[0].VoteCount)
	assert.EqualValues(t, 1, e.Candidates[1].VoteCount)
	assert.EqualValues(t, 0, e.Candidates[2].VoteCount)

	ballots, err := f.store.ListBallots(ctx, f.election.Id)
	require.NoError(t, err)
	require.Len(t, ballots, 1)
	ballot := ballots[0]
	assert.Equal(t, receipt.VerificationTag, ballot.VerificationTag)
	assert.Equal(t, anonymizer.ComputeVerificationTag(ballot.Pseudonym, ballot.Choice, ballot.CastAt), ballot.VerificationTag)
	choice, err := f.engine.DecryptChoice(ballot.Choice)
	require.NoError(t, err)
	assert.Equal(t, b.Id, choice)

	voted, err := f.store.HasVoted(ctx, v.Id, f.election.Id)
	require.NoError(t, err)
	assert.True(t, voted)

	stored, err := f.store.FindVoter(ctx, v.Id)
	require.NoError(t, err)
	assert.False(t, stored.HasCode(), "code is consumed by the cast")

	msg, ok := f.sent.Last(notify.PurposeConfirmation)
	require.True(t, ok)
	assert.Equal(t, receipt.VerificationTag, msg.Payload["verification_tag"])
}

func TestSecondCastIsRejected(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixtureOn(t, s)
		ctx := context.Background()
		v, code := f.voter(t, "voter@example.com")

		_, err := f.cast(v, f.election.Candidates[1].Id, code)
		require.NoError(t, err)

		// the consumed code
		_, err = f.cast(v, f.election.Candidates[0].Id, code)
		assert.Equal(t, errs.ErrAlreadyVoted, err)

		// a freshly issued and verified code
		_, err = f.auth.IssueCode(ctx, v.Id)
		require.NoError(t, err)
		msg, _ := f.sent.Last(notify.PurposeCode)
		require.NoError(t, f.auth.VerifyCode(ctx, v.Id, msg.Payload["code"]))
		_, err = f.cast(v, f.election.Candidates[0].Id, msg.Payload["code"])
		assert.Equal(t, errs.ErrAlreadyVoted, err)

		// a garbage code
		_, err = f.cast(v, f.election.Candidates[0].Id, "000000")
		assert.Equal(t, errs.ErrAlreadyVoted, err)

		e := f.reloadElection(t)
		assert.EqualValues(t, 1, e.TotalVotes)
		assert.True(t, e.CountersConsistent())
	})
}

func TestConcurrentCastsAcceptOne(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixtureOn(t, s)
		v, code := f.voter(t, "voter@example.com")

		const n = 16
		results := make(chan error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.cast(v, f.election.Candidates[i%3].Id, code)
				results <- err
			}(i)
		}
		wg.Wait()
		close(results)

		var ok, dup int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errs.ErrAlreadyVoted):
				dup++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, dup)

		e := f.reloadElection(t)
		assert.EqualValues(t, 1, e.TotalVotes)
		assert.True(t, e.CountersConsistent())
		ballots, err := f.store.ListBallots(context.Background(), f.election.Id)
		require.NoError(t, err)
		assert.Len(t, ballots, 1)
	})
}

func TestCastRejectsBadCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unverified := storetest.Voter("unverified@example.com")
	require.NoError(t, f.store.CreateVoter(ctx, unverified))
	_, err := f.auth.IssueCode(ctx, unverified.Id)
	require.NoError(t, err)
	msg, _ := f.sent.Last(notify.PurposeCode)
	_, err = f.cast(unverified, f.election.Candidates[0].Id, msg.Payload["code"])
	assert.Equal(t, errs.ErrInvalidCode, err)

	v, code := f.voter(t, "voter@example.com")
	_, err = f.cast(v, f.election.Candidates[0].Id, "999999")
	assert.Equal(t, errs.ErrInvalidCode, err)

	f.clock.Advance(otp.CodeTTL + time.Second)
	_, err = f.cast(v, f.election.Candidates[0].Id, code)
	assert.Equal(t, errs.ErrInvalidCode, err)

	assert.EqualValues(t, 0, f.reloadElection(t).TotalVotes)
}

func TestCodeIsCheckedBeforeWindow(t *testing.T) {
	f := newFixture(t)
	v, _ := f.voter(t, "voter@example.com")
	f.clock.Advance(2 * time.Hour)

	_, err := f.cast(v, f.election.Candidates[0].Id, "wrong")
	assert.Equal(t, errs.ErrInvalidCode, err)
}

func TestCastOutsideWindow(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name   string
		modify func(e *models.Election, now time.Time)
	}{
		{"upcoming", func(e *models.Election, now time.Time) {
			e.StartAt, e.FinishAt = now.Add(time.Hour), now.Add(2*time.Hour)
		}},
		{"completed", func(e *models.Election, now time.Time) {
			e.StartAt, e.FinishAt = now.Add(-2*time.Hour), now.Add(-time.Hour)
		}},
		{"cancelled", func(e *models.Election, _ time.Time) { e.Status = models.ElectionStatusCancelled }},
		{"draft", func(e *models.Election, _ time.Time) { e.Status = models.ElectionStatusDraft }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			e := storetest.Election(t, f.clock.Now())
			tc.modify(e, f.clock.Now())
			require.NoError(t, f.store.CreateElection(ctx, e))
			v, code := f.voter(t, "voter@example.com")

			_, err := f.caster.Cast(ctx, CastRequest{VoterId: v.Id, ElectionId: e.Id, CandidateId: e.Candidates[0].Id, Code: code})
			assert.Equal(t, errs.ErrElectionNotActive, err)

			got, err := f.store.FindElection(ctx, e.Id)
			require.NoError(t, err)
			assert.Zero(t, got.TotalVotes)
		})
	}
}

func TestCastUnknownElectionOrCandidate(t *testing.T) {
	f := newFixture(t)
	v, code := f.voter(t, "voter@example.com")

	_, err := f.caster.Cast(context.Background(), CastRequest{VoterId: v.Id, ElectionId: uuid.New(), CandidateId: f.election.Candidates[0].Id, Code: code})
	assert.Equal(t, errs.ErrElectionNotFound, err)

	_, err = f.cast(v, uuid.New(), code)
	assert.Equal(t, errs.ErrCandidateNotFound, err)

	assert.Zero(t, f.reloadElection(t).TotalVotes)
}

func TestCastInactiveOrUnknownVoter(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixtureOn(t, s)
		ctx := context.Background()
		_, code := f.voter(t, "voter@example.com")

		disabled := storetest.Voter("off@example.com")
		disabled.Active = false
		require.NoError(t, f.store.CreateVoter(ctx, disabled))
		_, err := f.cast(disabled, f.election.Candidates[0].Id, code)
		assert.Equal(t, errs.ErrAccountInactive, err)

		_, err = f.cast(&models.Voter{Id: uuid.New()}, f.election.Candidates[0].Id, code)
		assert.Equal(t, errs.ErrVoterNotFound, err)
	})
}

func TestCommitFailureLeavesNoState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, code := f.voter(t, "voter@example.com")
	f.mem.FailCommit = errors.New("connection reset by peer")

	_, err := f.cast(v, f.election.Candidates[0].Id, code)
	assert.Equal(t, errs.ErrPersistenceFailure, err)

	voted, err := f.store.HasVoted(ctx, v.Id, f.election.Id)
	require.NoError(t, err)
	assert.False(t, voted)
	assert.Zero(t, f.reloadElection(t).TotalVotes)
	_, ok := f.sent.Last(notify.PurposeConfirmation)
	assert.False(t, ok)

	// the voter may retry with the same code once the store recovers
	f.mem.FailCommit = nil
	_, err = f.cast(v, f.election.Candidates[0].Id, code)
	require.NoError(t, err)
}

func TestLostAcknowledgementIsSuccess(t *testing.T) {
	f := newFixture(t)
	v, code := f.voter(t, "voter@example.com")
	f.mem.LoseCommitAck = errors.New("broken pipe")

	receipt, err := f.cast(v, f.election.Candidates[2].Id, code)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.VerificationTag)

	e := f.reloadElection(t)
	assert.EqualValues(t, 1, e.TotalVotes)
	assert.EqualValues(t, 1, e.Candidates[2].VoteCount)
}

func TestNotificationFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	v, code := f.voter(t, "voter@example.com")
	f.sent.Err = errors.New("relay down")

	receipt, err := f.cast(v, f.election.Candidates[0].Id, code)
	require.NoError(t, err)
	assert.NotNil(t, receipt)
	assert.EqualValues(t, 1, f.reloadElection(t).TotalVotes)
}

func TestSlowNotificationIsBounded(t *testing.T) {
	f := newFixture(t)
	v, code := f.voter(t, "voter@example.com")
	f.sent.Delay = 5 * time.Second

	start := time.Now()
	_, err := f.cast(v, f.election.Candidates[0].Id, code)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBallotsAreUnlinkable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var voters []*models.Voter
	for i := 0; i < 4; i++ {
		v, code := f.voter(t, fmt.Sprintf("v%d@example.com", i))
		voters = append(voters, v)
		_, err := f.cast(v, f.election.Candidates[i%3].Id, code)
		require.NoError(t, err)
	}

	ballots, err := f.store.ListBallots(ctx, f.election.Id)
	require.NoError(t, err)
	require.Len(t, ballots, 4)
	seen := map[string]bool{}
	for _, b := range ballots {
		assert.False(t, seen[b.Pseudonym])
		seen[b.Pseudonym] = true
		for _, v := range voters {
			for _, field := range []string{b.Pseudonym, b.Choice, b.VerificationTag} {
				assert.False(t, strings.Contains(field, v.Id.String()))
			}
		}
		for _, c := range f.election.Candidates {
			assert.False(t, strings.Contains(b.Choice, c.Id.String()))
		}
	}
}

func TestDevBypassCast(t *testing.T) {
	f := newFixture(t, otp.WithDevMode(true))
	v := storetest.Voter("dev@example.com")
	require.NoError(t, f.store.CreateVoter(context.Background(), v))

	_, err := f.cast(v, f.election.Candidates[0].Id, otp.DevBypassCode)
	require.NoError(t, err)
	_, err = f.cast(v, f.election.Candidates[0].Id, otp.DevBypassCode)
	assert.Equal(t, errs.ErrAlreadyVoted, err)
}

func TestExpiredCodeCannotCast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := storetest.Voter("late@example.com")
	require.NoError(t, f.store.CreateVoter(ctx, v))
	_, err := f.auth.IssueCode(ctx, v.Id)
	require.NoError(t, err)
	msg, _ := f.sent.Last(notify.PurposeCode)
	code := msg.Payload["code"]

	f.clock.Advance(otp.CodeTTL + time.Minute)
	assert.Equal(t, errs.ErrCodeExpired, f.auth.VerifyCode(ctx, v.Id, code))
	_, err = f.cast(v, f.election.Candidates[0].Id, code)
	assert.Equal(t, errs.ErrInvalidCode, err)
}

func TestTwoCandidateScenario(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixtureOn(t, s, otp.WithGenerator(func() (string, error) { return "482913", nil }))
		ctx := context.Background()
		e := storetest.Election(t, f.clock.Now(), "A", "B")
		require.NoError(t, f.store.CreateElection(ctx, e))
		v := storetest.Voter("v@example.com")
		require.NoError(t, f.store.CreateVoter(ctx, v))

		_, err := f.auth.IssueCode(ctx, v.Id)
		require.NoError(t, err)
		msg, _ := f.sent.Last(notify.PurposeCode)
		assert.Equal(t, "482913", msg.Payload["code"])
		require.NoError(t, f.auth.VerifyCode(ctx, v.Id, "482913"))

		a, b := e.Candidates[0], e.Candidates[1]
		_, err = f.caster.Cast(ctx, CastRequest{VoterId: v.Id, ElectionId: e.Id, CandidateId: a.Id, Code: "482913"})
		require.NoError(t, err)

		got, err := f.store.FindElection(ctx, e.Id)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.TotalVotes)
		assert.EqualValues(t, 1, got.Candidates[0].VoteCount)
		assert.EqualValues(t, 0, got.Candidates[1].VoteCount)
		ballots, err := f.store.ListBallots(ctx, e.Id)
		require.NoError(t, err)
		assert.Len(t, ballots, 1)
		voted, err := f.store.HasVoted(ctx, v.Id, e.Id)
		require.NoError(t, err)
		assert.True(t, voted)
		stored, err := f.store.FindVoter(ctx, v.Id)
		require.NoError(t, err)
		assert.False(t, stored.HasCode())

		_, err = f.caster.Cast(ctx, CastRequest{VoterId: v.Id, ElectionId: e.Id, CandidateId: b.Id, Code: "482913"})
		assert.Equal(t, errs.ErrAlreadyVoted, err)
	})
}
