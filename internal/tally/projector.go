// Package tally projects stored counters into results and checks them
// against the ballots.
package tally

import (
	"context"
	"time"

	"ballotd/internal/anonymizer"
	"ballotd/internal/errs"
	"ballotd/internal/models"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputePercentage is count/total*100 rounded half away from zero to two
// places. A zero total yields zero.
func ComputePercentage(count, total int64) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(count).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
}

// FormatPercentage renders ComputePercentage with exactly two decimals.
func FormatPercentage(count, total int64) string {
	return ComputePercentage(count, total).StringFixed(2)
}

type CandidateResult struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Votes       int64     `json:"votes"`
	Percentage  string    `json:"percentage"`
}

type Results struct {
	ElectionId uuid.UUID             `json:"electionId"`
	Title      string                `json:"title"`
	Status     models.ElectionStatus `json:"status"`
	TotalVotes int64                 `json:"totalVotes"`
	Candidates []CandidateResult     `json:"candidates"`
}

type Projector struct {
	store   store.Store
	engine  *anonymizer.Engine
	now     func() time.Time
	timeout time.Duration
}

func New(s store.Store, engine *anonymizer.Engine, now func() time.Time, timeout time.Duration) *Projector {
	if now == nil {
		now = time.Now
	}
	return &Projector{store: s, engine: engine, now: now, timeout: timeout}
}

func (p *Projector) election(ctx context.Context, id uuid.UUID) (*models.Election, error) {
	ctx, cancel := store.WithTimeout(ctx, p.timeout)
	defer cancel()
	election, err := p.store.FindElection(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrElectionNotFound
	}
	return election, err
}

// Results reads the counters. Voters see them once the election completed,
// administrators at any time.
func (p *Projector) Results(ctx context.Context, electionId uuid.UUID, role models.VoterRole) (*Results, error) {
	election, err := p.election(ctx, electionId)
	if err != nil {
		return nil, err
	}
	status := election.CurrentStatus(p.now())
	if !models.ResultsVisible(role, status) {
		return nil, errs.ErrResultsNotYetAvailable
	}
	if !election.CountersConsistent() {
		log.Error().Stringer("election", election.Id).Int64("total", election.TotalVotes).Msg("candidate counters do not add up")
	}

	res := &Results{
		ElectionId: election.Id,
		Title:      election.Title,
		Status:     status,
		TotalVotes: election.TotalVotes,
		Candidates: make([]CandidateResult, 0, len(election.Candidates)),
	}
	for _, c := range election.Candidates {
		res.Candidates = append(res.Candidates, CandidateResult{
			Id:          c.Id,
			Name:        c.Name,
			Description: c.Description,
			Votes:       c.VoteCount,
			Percentage:  FormatPercentage(c.VoteCount, election.TotalVotes),
		})
	}
	return res, nil
}
