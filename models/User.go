package models

import (
    "github.com/google/uuid"
    "gorm.io/gorm"
)

// User is the subset of an account the coordinator reads, accounts are owned elsewhere
type User struct {
    ID        string `gorm:"type:uuid;primary_key" json:"id"`
    Email     string `gorm:"type:varchar(255);unique;not null" json:"email"`
    Firstname string `gorm:"type:varchar(100)" json:"firstname"`
    Lastname  string `gorm:"type:varchar(100)" json:"lastname"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
    if u.ID == "" {
        u.ID = uuid.NewString()
    }
    return nil
}

// DisplayName returns the name used in emails
func (u *User) DisplayName() string {
    if u.Firstname == "" && u.Lastname == "" {
        return u.Email
    }
    if u.Lastname == "" {
        return u.Firstname
    }
    return u.Firstname + " " + u.Lastname
}
