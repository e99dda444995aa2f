package models

import (
	"strings"
	"time"

	"ballotd/internal/errs"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

type Election struct {
	Id uuid.UUID `json:"id" db:"id" gorm:"type:text;primaryKey"`
	// Title election name shown to voters
	Title string `json:"title" db:"title" gorm:"not null"`
	// Description election description
	Description string `json:"description" db:"description" gorm:"not null"`
	// Status stored lifecycle status enum, see CurrentStatus for the effective one
	//
	// ElectionStatusDraft ElectionStatusActive ElectionStatusCompleted ElectionStatusCancelled
	Status ElectionStatus `json:"status" db:"status" gorm:"not null;default:'draft'"`
	// StartAt voting opens
	StartAt time.Time `json:"start_at" db:"start_at" gorm:"not null"`
	// FinishAt voting closes
	FinishAt time.Time `json:"finish_at" db:"finish_at" gorm:"not null"`
	// TotalVotes aggregate counter, always the sum of the candidate counters
	TotalVotes int64 `json:"total_votes" db:"total_votes" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	// Candidates owned by the election, ordered by Position
	Candidates []Candidate `json:"candidates" db:"-" gorm:"foreignKey:ElectionId;constraint:OnDelete:CASCADE"`
}

type Candidate struct {
	Id         uuid.UUID `json:"id" db:"id" gorm:"type:text;primaryKey"`
	ElectionId uuid.UUID `json:"-" db:"election_id" gorm:"type:text;index;not null"`
	// Name candidate name
	Name string `json:"name" db:"name" gorm:"not null"`
	// Description optional
	Description string `json:"description" db:"description" gorm:"not null;default:''"`
	// VoteCount per-candidate counter
	VoteCount int64 `json:"vote_count" db:"vote_count" gorm:"not null;default:0"`
	// Position display order inside the election
	Position int `json:"-" db:"position" gorm:"not null;default:0"`
}

// DerivedStatus computes the effective status of an election at now. Draft and
// cancelled are absolute; every other stored status follows the voting window.
func DerivedStatus(stored ElectionStatus, startAt, finishAt, now time.Time) ElectionStatus {
	switch stored {
	case ElectionStatusCancelled, ElectionStatusDraft:
		return stored
	}
	if now.Before(startAt) {
		return ElectionStatusUpcoming
	}
	if now.After(finishAt) {
		return ElectionStatusCompleted
	}
	return ElectionStatusActive
}

func (e *Election) CurrentStatus(now time.Time) ElectionStatus {
	return DerivedStatus(e.Status, e.StartAt, e.FinishAt, now)
}

// ResultsVisible reports whether a caller with role may read the counters of
// an election whose derived status is status.
func ResultsVisible(role VoterRole, status ElectionStatus) bool {
	return role == VoterRoleAdmin || status == ElectionStatusCompleted
}

// WithoutCounters returns a copy of the election with every counter zeroed.
func (e *Election) WithoutCounters() *Election {
	c := *e
	c.TotalVotes = 0
	c.Candidates = slices.Clone(e.Candidates)
	for i := range c.Candidates {
		c.Candidates[i].VoteCount = 0
	}
	return &c
}

// Candidate finds an embedded candidate by id.
func (e *Election) Candidate(id uuid.UUID) (*Candidate, bool) {
	i := slices.IndexFunc(e.Candidates, func(c Candidate) bool { return c.Id == id })
	if i < 0 {
		return nil, false
	}
	return &e.Candidates[i], true
}

// CountersConsistent reports whether the candidate counters add up to TotalVotes.
func (e *Election) CountersConsistent() bool {
	var sum int64
	for _, c := range e.Candidates {
		sum += c.VoteCount
	}
	return sum == e.TotalVotes
}

// Validate checks an election definition before it is created and assigns
// identifiers to the election and its candidates.
func (e *Election) Validate() error {
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	if e.Title == "" {
		return errs.InvalidElection("title is required")
	}
	if e.Description == "" {
		return errs.InvalidElection("description is required")
	}
	if !e.StartAt.Before(e.FinishAt) {
		return errs.InvalidElection("end date must be after start date")
	}
	if len(e.Candidates) < 2 {
		return errs.InvalidElection("at least two candidates are required")
	}
	if e.Status == "" {
		e.Status = ElectionStatusActive
	}
	if !e.Status.Stored() {
		return errs.InvalidElection("unknown status " + string(e.Status))
	}
	if e.Id == uuid.Nil {
		e.Id = uuid.New()
	}
	e.StartAt, e.FinishAt = e.StartAt.UTC(), e.FinishAt.UTC()
	e.TotalVotes = 0
	for i := range e.Candidates {
		c := &e.Candidates[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return errs.InvalidElection("candidate name is required")
		}
		if c.Id == uuid.Nil {
			c.Id = uuid.New()
		}
		c.ElectionId = e.Id
		c.Description = strings.TrimSpace(c.Description)
		c.VoteCount = 0
		c.Position = i
	}
	return nil
}
