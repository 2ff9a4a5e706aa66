package database

import (
	"fmt"
	"time"

	"registrar/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Demo data for local runs
const (
	DemoAdminEmail  = "admin@registrar.local"
	DemoLeaderEmail = "leader@registrar.local"
)

// DemoUsers returns the accounts created on an empty database
func DemoUsers() []models.User {
	return []models.User{
		{Email: DemoAdminEmail, Firstname: "Admin", Lastname: "Admin"},
		{Email: DemoLeaderEmail, Firstname: "Ada", Lastname: "Lovelace"},
		{Email: "alan@registrar.local", Firstname: "Alan", Lastname: "Turing"},
		{Email: "grace@registrar.local", Firstname: "Grace", Lastname: "Hopper"},
	}
}

// DemoCompetition opens a week from now and accepts teams of three
func DemoCompetition(now time.Time) models.Competition {
	return models.Competition{
		Title:          "Spring Hive",
		IsActive:       true,
		MaxTeamSize:    3,
		TotalSeats:     50,
		SeatsRemaining: 50,
		StartDate:      now.Add(7 * 24 * time.Hour),
		EndDate:        now.Add(9 * 24 * time.Hour),
	}
}

// Populate fills an empty database with the demo users and competition
func Populate(db *gorm.DB, log logrus.FieldLogger) error {
	var countUser, countCompetition int64
	if err := db.Model(&models.User{}).Count(&countUser).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if err := db.Model(&models.Competition{}).Count(&countCompetition).Error; err != nil {
		return fmt.Errorf("failed to count competitions: %w", err)
	}

	if countUser == 0 {
		users := DemoUsers()
		if err := db.Create(&users).Error; err != nil {
			return fmt.Errorf("failed to create demo users: %w", err)
		}
		log.WithField("count", len(users)).Info("Demo users created")
	}

	if countCompetition == 0 {
		comp := DemoCompetition(time.Now())
		if err := db.Create(&comp).Error; err != nil {
			return fmt.Errorf("failed to create demo competition: %w", err)
		}
		log.WithField("competition_id", comp.ID).Info("Demo competition created")
	}
	return nil
}
