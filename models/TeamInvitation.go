package models

import (
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"
)

// InvitationState is the lifecycle state of a single invitation
type InvitationState string

const (
    InvitationPending  InvitationState = "pending"
    InvitationAccepted InvitationState = "accepted"
    InvitationRejected InvitationState = "rejected"
    InvitationExpired  InvitationState = "expired"
)

// Terminal states never change once reached
func (s InvitationState) Terminal() bool {
    return s == InvitationAccepted || s == InvitationRejected || s == InvitationExpired
}

// TeamInvitation is one outstanding offer to one invitee for one team registration
type TeamInvitation struct {
    ID             string          `gorm:"type:uuid;primary_key" json:"id"`
    RegistrationID string          `gorm:"type:uuid;not null;index;column:registration_id;uniqueIndex:idx_invitations_open_invitee,where:status = 'pending' OR status = 'accepted'" json:"registration_id"`
    CompetitionID  string          `gorm:"type:uuid;not null;column:competition_id" json:"competition_id"`
    InviterID      string          `gorm:"type:uuid;not null;column:inviter_id;index:idx_invitations_inviter_created" json:"inviter_id"`
    InviteeEmail   string          `gorm:"type:varchar(255);not null;column:invitee_email;uniqueIndex:idx_invitations_open_invitee" json:"invitee_email"`
    InviteeID      *string         `gorm:"type:uuid;column:invitee_id" json:"invitee_id"`
    Token          string          `gorm:"type:varchar(255);not null;unique" json:"-"`
    Status         InvitationState `gorm:"type:varchar(20);not null;index:idx_invitations_status_expiry" json:"status"`
    ExpiresAt      time.Time       `gorm:"not null;column:expires_at;index:idx_invitations_status_expiry" json:"expires_at"`
    RespondedAt    *time.Time      `gorm:"column:responded_at" json:"responded_at"`
    CreatedAt      time.Time       `gorm:"index:idx_invitations_inviter_created" json:"created_at"`
}

func (i *TeamInvitation) BeforeCreate(tx *gorm.DB) error {
    if i.ID == "" {
        i.ID = uuid.NewString()
    }
    return nil
}

// ExpiredAt reports whether the invitation TTL has elapsed at the given time
func (i *TeamInvitation) ExpiredAt(now time.Time) bool {
    return now.After(i.ExpiresAt)
}
