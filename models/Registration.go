package models

import (
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"
)

type RegistrationType string

const (
    RegistrationIndividual RegistrationType = "individual"
    RegistrationTeam       RegistrationType = "team"
)

type RegistrationStatus string

const (
    StatusPending   RegistrationStatus = "pending"
    StatusConfirmed RegistrationStatus = "confirmed"
    StatusRejected  RegistrationStatus = "rejected"
    StatusWithdrawn RegistrationStatus = "withdrawn"
)

// Valid reports whether s is one of the known registration statuses
func (s RegistrationStatus) Valid() bool {
    switch s {
    case StatusPending, StatusConfirmed, StatusRejected, StatusWithdrawn:
        return true
    }
    return false
}

// Active statuses still claim the leader and members for the competition
func (s RegistrationStatus) Active() bool {
    return s == StatusPending || s == StatusConfirmed
}

// InvitationProgress is the aggregate invitation state of a registration
type InvitationProgress string

const (
    ProgressComplete           InvitationProgress = "complete"
    ProgressPendingInvitations InvitationProgress = "pending_invitations"
)

// Registration represents one individual's or one team's entry into a competition.
// Related rows are referenced by id only, traversal goes through the store.
type Registration struct {
    ID               string             `gorm:"type:uuid;primary_key" json:"id"`
    CompetitionID    string             `gorm:"type:uuid;not null;column:competition_id;uniqueIndex:idx_registrations_active_leader,where:status <> 'withdrawn' AND status <> 'rejected'" json:"competition_id"`
    LeaderID         string             `gorm:"type:uuid;not null;column:leader_id;uniqueIndex:idx_registrations_active_leader" json:"leader_id"`
    Type             RegistrationType   `gorm:"type:varchar(20);not null" json:"type"`
    TeamName         string             `gorm:"type:varchar(100);column:team_name" json:"team_name,omitempty"`
    Status           RegistrationStatus `gorm:"type:varchar(20);not null;index" json:"status"`
    InvitationStatus InvitationProgress `gorm:"type:varchar(30);not null;column:invitation_status" json:"invitation_status"`
    CreatedAt        time.Time          `json:"created_at"`
    UpdatedAt        time.Time          `json:"updated_at"`
}

func (r *Registration) BeforeCreate(tx *gorm.DB) error {
    if r.ID == "" {
        r.ID = uuid.NewString()
    }
    return nil
}

// RegistrationMember is an accepted member of a team registration, the leader excluded
type RegistrationMember struct {
    RegistrationID string    `gorm:"type:uuid;primaryKey;column:registration_id" json:"registration_id"`
    UserID         string    `gorm:"type:uuid;primaryKey;column:user_id" json:"user_id"`
    CompetitionID  string    `gorm:"type:uuid;not null;index;column:competition_id" json:"competition_id"`
    JoinedAt       time.Time `gorm:"not null;column:joined_at" json:"joined_at"`
}
