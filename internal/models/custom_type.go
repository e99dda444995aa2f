package models

type ElectionStatus string
type VoterRole uint8

const (
	ElectionStatusDraft     ElectionStatus = "draft"
	ElectionStatusActive    ElectionStatus = "active"
	ElectionStatusCompleted ElectionStatus = "completed"
	ElectionStatusCancelled ElectionStatus = "cancelled"
	// ElectionStatusUpcoming is only ever derived, never stored
	ElectionStatusUpcoming ElectionStatus = "upcoming"
)

const (
	// VoterRoleDefault ordinary voter
	VoterRoleDefault VoterRole = iota
	// VoterRoleAdmin election administrator
	VoterRoleAdmin
)

func (r VoterRole) String() string {
	if r == VoterRoleAdmin {
		return "admin"
	}
	return "voter"
}

// Stored reports whether the status may be persisted on an election.
func (s ElectionStatus) Stored() bool {
	switch s {
	case ElectionStatusDraft, ElectionStatusActive, ElectionStatusCompleted, ElectionStatusCancelled:
		return true
	}
	return false
}
