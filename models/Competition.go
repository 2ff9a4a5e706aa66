package models

import (
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"
)

// Competition represents a competition users register to, individually or as a team.
// SeatsRemaining is only ever mutated through the seat ledger statements.
type Competition struct {
    ID              string    `gorm:"type:uuid;primary_key" json:"id"`
    Title           string    `gorm:"type:varchar(100);not null" json:"title"`
    IsActive        bool      `gorm:"not null;default:true;column:is_active" json:"is_active"`
    MaxTeamSize     int       `gorm:"not null;default:1;column:max_team_size" json:"max_team_size"`
    TotalSeats      int       `gorm:"not null;column:total_seats" json:"total_seats"`
    SeatsRemaining  int       `gorm:"not null;column:seats_remaining;check:seats_remaining >= 0" json:"seats_remaining"`
    RequiresPayment bool      `gorm:"not null;default:false;column:requires_payment" json:"requires_payment"`
    StartDate       time.Time `gorm:"not null;column:start_date" json:"start_date"`
    EndDate         time.Time `gorm:"not null;column:end_date" json:"end_date"`
    CreatedAt       time.Time `json:"created_at"`
    UpdatedAt       time.Time `json:"updated_at"`
}

func (c *Competition) BeforeCreate(tx *gorm.DB) error {
    if c.ID == "" {
        c.ID = uuid.NewString()
    }
    return nil
}

// RegistrationOpen reports whether new registrations are accepted at the given time
func (c *Competition) RegistrationOpen(now time.Time) bool {
    return c.IsActive && !now.After(c.EndDate)
}

// Started reports whether the competition has begun at the given time
func (c *Competition) Started(now time.Time) bool {
    return !c.StartDate.IsZero() && !now.Before(c.StartDate)
}
