package models

import (
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"
)

// Submission represents a user's attempt at a competition puzzle.
// The coordinator only checks for existence, a leader with a submission cannot withdraw.
type Submission struct {
    ID            string    `gorm:"type:uuid;primary_key" json:"id"`
    UserID        string    `gorm:"type:uuid;not null;column:user_id;index:idx_submissions_user_competition" json:"user_id"`
    CompetitionID string    `gorm:"type:uuid;not null;column:competition_id;index:idx_submissions_user_competition" json:"competition_id"`
    PuzzleID      string    `gorm:"type:varchar(255);not null;column:puzzle_id" json:"puzzle_id"`
    Score         float64   `gorm:"type:numeric(15,2);not null" json:"score"`
    CreatedAt     time.Time `json:"created_at"`
}

func (s *Submission) BeforeCreate(tx *gorm.DB) error {
    if s.ID == "" {
        s.ID = uuid.NewString()
    }
    return nil
}
