package tally

import (
	"context"

	"ballotd/internal/anonymizer"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type CandidateAudit struct {
	Id      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Stored  int64     `json:"stored"`
	Counted int64     `json:"counted"`
}

type Audit struct {
	ElectionId   uuid.UUID        `json:"electionId"`
	StoredTotal  int64            `json:"storedTotal"`
	Ballots      int64            `json:"ballots"`
	GuardRecords int64            `json:"guardRecords"`
	Candidates   []CandidateAudit `json:"candidates"`
	// Undecryptable ballots failed authentication under the current key.
	Undecryptable int64 `json:"undecryptable"`
	// UnknownChoice ballots decrypted to an id that is not a candidate.
	UnknownChoice int64 `json:"unknownChoice"`
	// TagMismatch ballots whose verification tag does not match their content.
	TagMismatch int64 `json:"tagMismatch"`
	Consistent  bool  `json:"consistent"`
}

// Audit decrypts every ballot of the election and recounts it. The result is
// consistent when the recount, the stored counters, the ballot count and the
// guard record count all agree.
func (p *Projector) Audit(ctx context.Context, electionId uuid.UUID) (*Audit, error) {
	election, err := p.election(ctx, electionId)
	if err != nil {
		return nil, err
	}
	ctx, cancel := store.WithTimeout(ctx, p.timeout)
	defer cancel()

	ballots, err := p.store.ListBallots(ctx, electionId)
	if err != nil {
		return nil, errors.Wrap(err, "tally: ballots")
	}
	guards, err := p.store.CountGuards(ctx, electionId)
	if err != nil {
		return nil, errors.Wrap(err, "tally: guard records")
	}

	report := &Audit{
		ElectionId:   election.Id,
		StoredTotal:  election.TotalVotes,
		Ballots:      int64(len(ballots)),
		GuardRecords: guards,
	}
	counted := make(map[uuid.UUID]int64, len(election.Candidates))
	for _, b := range ballots {
		if anonymizer.ComputeVerificationTag(b.Pseudonym, b.Choice, b.CastAt) != b.VerificationTag {
			report.TagMismatch++
		}
		id, err := p.engine.DecryptChoice(b.Choice)
		if err != nil {
			report.Undecryptable++
			continue
		}
		if _, found := election.Candidate(id); !found {
			report.UnknownChoice++
			continue
		}
		counted[id]++
	}

	report.Consistent = report.Undecryptable == 0 && report.UnknownChoice == 0 && report.TagMismatch == 0 &&
		report.Ballots == report.StoredTotal && report.Ballots == report.GuardRecords &&
		election.CountersConsistent()
	for _, c := range election.Candidates {
		report.Candidates = append(report.Candidates, CandidateAudit{
			Id:      c.Id,
			Name:    c.Name,
			Stored:  c.VoteCount,
			Counted: counted[c.Id],
		})
		if counted[c.Id] != c.VoteCount {
			report.Consistent = false
		}
	}
	if !report.Consistent {
		log.Warn().Stringer("election", election.Id).
			Int64("ballots", report.Ballots).Int64("stored", report.StoredTotal).
			Int64("undecryptable", report.Undecryptable).Int64("tag_mismatch", report.TagMismatch).
			Msg("audit found inconsistencies")
	}
	return report, nil
}
