package models

import (
    "time"

    "github.com/google/uuid"
    "gorm.io/gorm"
)

type PaymentStatus string

const (
    PaymentCreated   PaymentStatus = "created"
    PaymentCompleted PaymentStatus = "completed"
    PaymentFailed    PaymentStatus = "failed"
)

// Payment is written by the payment gateway integration, the coordinator only reads it
type Payment struct {
    ID             string        `gorm:"type:uuid;primary_key" json:"id"`
    RegistrationID string        `gorm:"type:uuid;not null;index;column:registration_id" json:"registration_id"`
    Status         PaymentStatus `gorm:"type:varchar(20);not null" json:"status"`
    AmountCents    int64         `gorm:"not null;column:amount_cents" json:"amount_cents"`
    CreatedAt      time.Time     `json:"created_at"`
    UpdatedAt      time.Time     `json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
    if p.ID == "" {
        p.ID = uuid.NewString()
    }
    return nil
}
