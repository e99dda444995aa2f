package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Voter struct {
	Id uuid.UUID `json:"id" db:"id" gorm:"type:text;primaryKey"`
	// Email verified contact address, one-time codes are delivered here
	Email string `json:"email" db:"email" gorm:"uniqueIndex;not null"`
	// Name display name
	Name string `json:"name" db:"name" gorm:"not null;default:''"`
	// Role enum
	//
	// VoterRoleDefault VoterRoleAdmin
	Role VoterRole `json:"role" db:"role" gorm:"not null;default:0"`
	// Active disabled accounts cannot request codes or vote
	Active bool `json:"active" db:"active" gorm:"not null"`
	// Code current one-time code, empty when none is outstanding
	Code string `json:"-" db:"code" gorm:"not null;default:''"`
	// CodeExpiresAt expiry of Code
	CodeExpiresAt *time.Time `json:"-" db:"code_expires_at"`
	// CodeVerified set once the voter proved possession of Code
	CodeVerified bool `json:"-" db:"code_verified" gorm:"not null;default:false"`
	// CodeVerifiedAt when Code was verified
	CodeVerifiedAt *time.Time `json:"-" db:"code_verified_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// HasCode reports whether a code and its expiry are on record.
func (v *Voter) HasCode() bool {
	return v.Code != "" && v.CodeExpiresAt != nil
}

// CodeExpired reports whether the outstanding code is past its expiry.
func (v *Voter) CodeExpired(now time.Time) bool {
	return v.CodeExpiresAt == nil || now.After(*v.CodeExpiresAt)
}

// CodeMatches compares the submitted value with the stored code after trimming.
func (v *Voter) CodeMatches(submitted string) bool {
	return v.Code != "" && strings.TrimSpace(submitted) == strings.TrimSpace(v.Code)
}

func (v *Voter) SetCode(code string, expiresAt time.Time) {
	v.Code = code
	v.CodeExpiresAt = &expiresAt
	v.CodeVerified = false
	v.CodeVerifiedAt = nil
}

func (v *Voter) MarkCodeVerified(at time.Time) {
	v.CodeVerified = true
	v.CodeVerifiedAt = &at
}

func (v *Voter) ClearCode() {
	v.Code = ""
	v.CodeExpiresAt = nil
	v.CodeVerified = false
	v.CodeVerifiedAt = nil
}

func (v *Voter) IsAdmin() bool {
	return v.Role == VoterRoleAdmin
}
