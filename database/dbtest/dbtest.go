// Package dbtest opens a migrated gorm store for tests. It runs on postgres when
// REGISTRAR_TEST_POSTGRES_DSN is set and on a throwaway sqlite file otherwise.
package dbtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"registrar/database"
	"registrar/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresDSNEnv names the variable selecting a real postgres server
const PostgresDSNEnv = "REGISTRAR_TEST_POSTGRES_DSN"

const truncateAll = `TRUNCATE users, competitions, registrations, registration_members, team_invitations, submissions, payments CASCADE`

// DB is a migrated store plus seeding helpers for the tables the coordinator only reads
type DB struct {
	*database.Store

	// Lookups serves the identity, submission and payment collaborators.
	// On sqlite the store keeps a single connection so these reads get their own pool.
	Lookups *database.Store

	t  testing.TB
	db *gorm.DB
}

// Open returns an empty migrated database. now drives created_at and updated_at.
func Open(t testing.TB, now func() time.Time) *DB {
	t.Helper()

	cfg := func() *gorm.Config {
		return &gorm.Config{
			TranslateError: true,
			NowFunc:        now,
			Logger:         gormlogger.Discard,
		}
	}

	if dsn := os.Getenv(PostgresDSNEnv); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg())
		require.NoError(t, err)
		closeOnCleanup(t, db)
		require.NoError(t, database.Migrate(db))
		require.NoError(t, db.Exec(truncateAll).Error)

		store := database.NewStore(db)
		return &DB{Store: store, Lookups: store, t: t, db: db}
	}

	// WAL lets the lookup pool read while the store holds a write transaction
	dsn := filepath.Join(t.TempDir(), "registrar.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), cfg())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows one writer, concurrent transactions queue on the pool instead of failing busy
	sqlDB.SetMaxOpenConns(1)
	closeOnCleanup(t, db)
	require.NoError(t, database.Migrate(db))

	lookups, err := gorm.Open(sqlite.Open(dsn), cfg())
	require.NoError(t, err)
	closeOnCleanup(t, lookups)

	return &DB{
		Store:   database.NewStore(db),
		Lookups: database.NewStore(lookups),
		t:       t,
		db:      db,
	}
}

func closeOnCleanup(t testing.TB, db *gorm.DB) {
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
}

// Postgres reports whether the database is a postgres server
func (d *DB) Postgres() bool {
	return d.db.Dialector.Name() == "postgres"
}

// AddCompetition inserts every field, zero values included
func (d *DB) AddCompetition(c models.Competition) models.Competition {
	d.t.Helper()
	require.NoError(d.t, d.db.Select("*").Create(&c).Error)
	return c
}

func (d *DB) AddUser(u models.User) models.User {
	d.t.Helper()
	require.NoError(d.t, d.db.Create(&u).Error)
	return u
}

func (d *DB) AddSubmission(s models.Submission) models.Submission {
	d.t.Helper()
	require.NoError(d.t, d.db.Create(&s).Error)
	return s
}

func (d *DB) AddPayment(p models.Payment) models.Payment {
	d.t.Helper()
	require.NoError(d.t, d.db.Create(&p).Error)
	return p
}
