package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"registrar/models"
	"registrar/services"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	return NewStore(db), mock
}

var (
	reserveSQL = regexp.QuoteMeta(`UPDATE competitions SET seats_remaining = seats_remaining - 1 WHERE id = $1 AND seats_remaining > 0`)
	releaseSQL = regexp.QuoteMeta(`UPDATE competitions SET seats_remaining = seats_remaining + 1 WHERE id = $1 AND seats_remaining < total_seats`)
)

func TestReserveSeat(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(reserveSQL).WithArgs("comp-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(reserveSQL).WithArgs("comp-1").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ReserveSeat(ctx, "comp-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReserveSeat(ctx, "comp-1")
	require.NoError(t, err)
	assert.False(t, ok, "no row matched, the competition is full")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSeatError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectExec(reserveSQL).WithArgs("comp-1").WillReturnError(boom)

	ok, err := store.ReserveSeat(context.Background(), "comp-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseSeat(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(releaseSQL).WithArgs("comp-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(releaseSQL).WithArgs("comp-1").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ReleaseSeat(ctx, "comp-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReleaseSeat(ctx, "comp-1")
	require.NoError(t, err)
	assert.False(t, ok, "the counter is already at total_seats")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCompetitionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "competitions" WHERE id = \$1`).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetCompetition(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRegistrationSelectsForUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "registrations" WHERE id = \$1 .*FOR UPDATE`).
		WithArgs("reg-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "competition_id", "leader_id", "type", "status", "invitation_status"}).
			AddRow("reg-1", "comp-1", "user-1", "team", "pending", "complete"))

	reg, err := store.LockRegistration(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "comp-1", reg.CompetitionID)
	assert.Equal(t, models.StatusPending, reg.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRegistrationMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "registrations" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateRegistration(context.Background(), "missing", models.StatusConfirmed, models.ProgressComplete)
	assert.ErrorIs(t, err, services.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveInvitationOnlyMatchesPending(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "team_invitations" SET .* WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ResolveInvitation(context.Background(), "inv-1", models.InvitationAccepted, time.Now(), nil)
	require.NoError(t, err)
	assert.False(t, ok, "an already answered invitation is left untouched")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), services.ErrRecordNotFound)
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey), services.ErrDuplicateRecord)

	other := errors.New("boom")
	assert.Equal(t, other, translate(other))
}
