package database

import (
	"fmt"
	"time"

	"registrar/config"
	"registrar/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const invitationsCascadeFK = "fk_team_invitations_registration"

// Open connects to postgres and migrates the schema
func Open(cfg *config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.PostgresVerbose {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{
		// Unique violations come back as gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger: gormlogger.New(log.WithField("component", "gorm"), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the coordinator reads or writes
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Competition{},
		&models.Registration{},
		&models.RegistrationMember{},
		&models.TeamInvitation{},
		&models.Submission{},
		&models.Payment{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Invitations are owned by their registration and go away with it.
	// sqlite cannot add a constraint to an existing table, test databases go without it.
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	if !db.Migrator().HasConstraint(&models.TeamInvitation{}, invitationsCascadeFK) {
		err := db.Exec(`ALTER TABLE team_invitations ADD CONSTRAINT ` + invitationsCascadeFK + `
            FOREIGN KEY (registration_id) REFERENCES registrations(id) ON DELETE CASCADE`).Error
		if err != nil {
			return fmt.Errorf("failed to add invitation cascade: %w", err)
		}
	}
	return nil
}
