package tally

import (
	"context"

	"ballotd/internal/models"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type HourBucket struct {
	Hour  int   `json:"hour"`
	Votes int64 `json:"votes"`
}

type Analytics struct {
	ElectionId     uuid.UUID             `json:"electionId"`
	Status         models.ElectionStatus `json:"status"`
	TotalVotes     int64                 `json:"totalVotes"`
	EligibleVoters int64                 `json:"eligibleVoters"`
	Turnout        string                `json:"turnout"`
	// Hourly counts ballots per UTC hour of day, all 24 hours present.
	Hourly []HourBucket `json:"hourly"`
}

// Analytics reports turnout against the active voter base and the hour of day
// ballots arrived.
func (p *Projector) Analytics(ctx context.Context, electionId uuid.UUID) (*Analytics, error) {
	election, err := p.election(ctx, electionId)
	if err != nil {
		return nil, err
	}
	ctx, cancel := store.WithTimeout(ctx, p.timeout)
	defer cancel()

	eligible, err := p.store.CountActiveVoters(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "tally: eligible voters")
	}
	ballots, err := p.store.ListBallots(ctx, electionId)
	if err != nil {
		return nil, errors.Wrap(err, "tally: ballots")
	}

	hourly := make([]HourBucket, 24)
	for h := range hourly {
		hourly[h].Hour = h
	}
	for _, b := range ballots {
		hourly[b.CastAt.UTC().Hour()].Votes++
	}
	return &Analytics{
		ElectionId:     election.Id,
		Status:         election.CurrentStatus(p.now()),
		TotalVotes:     election.TotalVotes,
		EligibleVoters: eligible,
		Turnout:        FormatPercentage(election.TotalVotes, eligible),
		Hourly:         hourly,
	}, nil
}
