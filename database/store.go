package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"registrar/metrics"
	"registrar/models"
	"registrar/services"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements the coordinator's persistence and read-only collaborators on gorm
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// translate maps gorm errors onto the storage sentinels the services understand
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", services.ErrRecordNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", services.ErrDuplicateRecord, err)
	}
	return err
}

func (s *Store) Transaction(ctx context.Context, fn func(tx services.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ReserveSeat is a single conditional decrement, concurrent callers can never drive the counter below zero
func (s *Store) ReserveSeat(ctx context.Context, competitionID string) (bool, error) {
	defer metrics.RecordDBOperation("reserve_seat", "competitions", time.Now())

	res := s.db.WithContext(ctx).Exec(
		`UPDATE competitions SET seats_remaining = seats_remaining - 1 WHERE id = ? AND seats_remaining > 0`,
		competitionID,
	)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseSeat is a single conditional increment bounded by total_seats
func (s *Store) ReleaseSeat(ctx context.Context, competitionID string) (bool, error) {
	defer metrics.RecordDBOperation("release_seat", "competitions", time.Now())

	res := s.db.WithContext(ctx).Exec(
		`UPDATE competitions SET seats_remaining = seats_remaining + 1 WHERE id = ? AND seats_remaining < total_seats`,
		competitionID,
	)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetCompetition(ctx context.Context, id string) (*models.Competition, error) {
	var competition models.Competition
	if err := s.db.WithContext(ctx).First(&competition, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &competition, nil
}

func (s *Store) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	return translate(s.db.WithContext(ctx).Create(reg).Error)
}

func (s *Store) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).First(&reg, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

// LockRegistration takes a row lock held until the surrounding transaction ends
func (s *Store) LockRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&reg, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

func (s *Store) ListRegistrations(ctx context.Context, competitionID string) ([]models.Registration, error) {
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("competition_id = ?", competitionID).
		Order("created_at, id").
		Find(&regs).Error
	return regs, translate(err)
}

func (s *Store) UpdateRegistration(ctx context.Context, id string, status models.RegistrationStatus, progress models.InvitationProgress) error {
	res := s.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            status,
			"invitation_status": progress,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return services.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ActiveRegistrationFor(ctx context.Context, competitionID, userID string) (*models.Registration, error) {
	db := s.db.WithContext(ctx)
	memberOf := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.RegistrationMember{}).
		Select("registration_id").
		Where("user_id = ? AND competition_id = ?", userID, competitionID)

	var reg models.Registration
	err := db.
		Where("competition_id = ? AND status IN ?", competitionID, []models.RegistrationStatus{models.StatusPending, models.StatusConfirmed}).
		Where("leader_id = ? OR id IN (?)", userID, memberOf).
		Order("created_at").
		First(&reg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

// LockParticipant takes a postgres advisory lock keyed on the pair, other dialects serialize writers already
func (s *Store) LockParticipant(ctx context.Context, competitionID, userID string) error {
	if s.db.Dialector.Name() != "postgres" {
		return nil
	}
	return translate(s.db.WithContext(ctx).
		Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, competitionID+":"+userID).Error)
}

func (s *Store) AddMember(ctx context.Context, member *models.RegistrationMember) error {
	return translate(s.db.WithContext(ctx).Create(member).Error)
}

func (s *Store) CountMembers(ctx context.Context, registrationID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.RegistrationMember{}).
		Where("registration_id = ?", registrationID).
		Count(&n).Error
	return n, translate(err)
}

func (s *Store) ListMembers(ctx context.Context, registrationID string) ([]models.RegistrationMember, error) {
	var members []models.RegistrationMember
	err := s.db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Order("joined_at").
		Find(&members).Error
	return members, translate(err)
}

func (s *Store) CreateInvitations(ctx context.Context, invitations []*models.TeamInvitation) error {
	if len(invitations) == 0 {
		return nil
	}
	defer metrics.RecordDBOperation("create", "team_invitations", time.Now())
	return translate(s.db.WithContext(ctx).Create(invitations).Error)
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*models.TeamInvitation, error) {
	var inv models.TeamInvitation
	if err := s.db.WithContext(ctx).First(&inv, "token = ?", token).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (s *Store) ListInvitations(ctx context.Context, registrationID string) ([]models.TeamInvitation, error) {
	var invitations []models.TeamInvitation
	err := s.db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Order("created_at, invitee_email").
		Find(&invitations).Error
	return invitations, translate(err)
}

func (s *Store) OpenInvitationEmails(ctx context.Context, registrationID string, emails []string) ([]string, error) {
	var open []string
	err := s.db.WithContext(ctx).
		Model(&models.TeamInvitation{}).
		Where("registration_id = ? AND invitee_email IN ?", registrationID, emails).
		Where("status IN ?", []models.InvitationState{models.InvitationPending, models.InvitationAccepted}).
		Pluck("invitee_email", &open).Error
	return open, translate(err)
}

func (s *Store) CountInvitationsSince(ctx context.Context, inviterID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.TeamInvitation{}).
		Where("inviter_id = ? AND created_at >= ?", inviterID, since).
		Count(&n).Error
	return n, translate(err)
}

func (s *Store) CountInvitations(ctx context.Context, registrationID string, state models.InvitationState) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.TeamInvitation{}).
		Where("registration_id = ? AND status = ?", registrationID, state).
		Count(&n).Error
	return n, translate(err)
}

// ResolveInvitation only matches pending rows so a terminal invitation is never rewritten
func (s *Store) ResolveInvitation(ctx context.Context, id string, to models.InvitationState, respondedAt time.Time, inviteeID *string) (bool, error) {
	updates := map[string]interface{}{
		"status":       to,
		"responded_at": respondedAt,
	}
	if inviteeID != nil {
		updates["invitee_id"] = *inviteeID
	}

	res := s.db.WithContext(ctx).
		Model(&models.TeamInvitation{}).
		Where("id = ? AND status = ?", id, models.InvitationPending).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListOverdueInvitations(ctx context.Context, now time.Time, limit int) ([]models.TeamInvitation, error) {
	defer metrics.RecordDBOperation("list_overdue", "team_invitations", time.Now())

	var invitations []models.TeamInvitation
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.InvitationPending, now).
		Order("expires_at, id").
		Limit(limit).
		Find(&invitations).Error
	return invitations, translate(err)
}

func (s *Store) ExpireInvitation(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.TeamInvitation{}).
		Where("id = ? AND status = ? AND expires_at < ?", id, models.InvitationPending, now).
		Update("status", models.InvitationExpired)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ExpireOpenInvitations(ctx context.Context, registrationID string, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.TeamInvitation{}).
		Where("registration_id = ? AND status = ?", registrationID, models.InvitationPending).
		Update("status", models.InvitationExpired)
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "LOWER(email) = ?", email).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Store) HasSubmission(ctx context.Context, competitionID, userID string) (bool, error) {
	var exists bool
	err := s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Select("1").
		Where("competition_id = ? AND user_id = ?", competitionID, userID).
		Limit(1).
		Scan(&exists).Error
	return exists, translate(err)
}

func (s *Store) PaymentCompleted(ctx context.Context, registrationID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("registration_id = ? AND status = ?", registrationID, models.PaymentCompleted).
		Count(&n).Error
	return n > 0, translate(err)
}

var (
	_ services.Store             = (*Store)(nil)
	_ services.IdentityLookup    = (*Store)(nil)
	_ services.SubmissionChecker = (*Store)(nil)
	_ services.PaymentVerifier   = (*Store)(nil)
)
