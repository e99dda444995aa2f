package models

import (
	"time"

	"github.com/google/uuid"
)

// Ballot is the anonymous vote record. Nothing on it references the voter.
type Ballot struct {
	Id         uuid.UUID `json:"id" db:"id" gorm:"type:text;primaryKey"`
	ElectionId uuid.UUID `json:"election_id" db:"election_id" gorm:"type:text;not null;uniqueIndex:idx_ballot_election_pseudonym"`
	// Pseudonym salted one-way tag standing in for the voter
	Pseudonym string `json:"-" db:"pseudonym" gorm:"not null;uniqueIndex:idx_ballot_election_pseudonym"`
	// Choice encrypted candidate id, nonce:ciphertext
	Choice string `json:"-" db:"choice" gorm:"not null"`
	// VerificationTag receipt handed back to the voter
	VerificationTag string `json:"verification_tag" db:"verification_tag" gorm:"not null;index"`
	// Ip casting client address, kept for abuse investigation only
	Ip     string    `json:"-" db:"ip" gorm:"not null;default:''"`
	CastAt time.Time `json:"cast_at" db:"cast_at" gorm:"not null"`
}

// GuardRecord marks that a voter has voted in an election. It is the only
// place where voter identity and election meet.
type GuardRecord struct {
	VoterId    uuid.UUID `json:"voter_id" db:"voter_id" gorm:"type:text;primaryKey"`
	ElectionId uuid.UUID `json:"election_id" db:"election_id" gorm:"type:text;primaryKey;index"`
	VotedAt    time.Time `json:"voted_at" db:"voted_at" gorm:"not null"`
}
