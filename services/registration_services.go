package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"registrar/config"
	"registrar/metrics"
	"registrar/models"

	"github.com/sirupsen/logrus"
)

const minTeamNameLength = 3

// RegistrationService owns the lifecycle of registrations:
// pending -> confirmed -> withdrawn/rejected, with seats moving through the ledger
type RegistrationService struct {
	store       Store
	ledger      *SeatLedger
	invitations *InvitationStore
	coordinator *InvitationCoordinator
	submissions SubmissionChecker
	payments    PaymentVerifier
	identity    IdentityLookup
	mailer      Mailer
	mail        *MailQueue
	notifier    Notifier
	cache       StatusCache
	policy      config.InvitationPolicy
	now         func() time.Time
	log         logrus.FieldLogger
}

// RegisterIndividual reserves a seat and creates a confirmed registration in one transaction
func (s *RegistrationService) RegisterIndividual(ctx context.Context, competitionID, userID string) (*models.Registration, error) {
	var (
		reg  *models.Registration
		comp *models.Competition
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		comp, err = s.openCompetition(ctx, tx, competitionID)
		if err != nil {
			return err
		}
		if err := s.ensureNotRegistered(ctx, tx, competitionID, userID); err != nil {
			return err
		}

		if err := s.ledger.WithTx(tx).Reserve(ctx, competitionID); err != nil {
			return err
		}

		reg = &models.Registration{
			CompetitionID:    competitionID,
			LeaderID:         userID,
			Type:             models.RegistrationIndividual,
			Status:           models.StatusConfirmed,
			InvitationStatus: models.ProgressComplete,
		}
		return s.createRegistration(ctx, tx, reg)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"registration_id": reg.ID,
		"competition_id":  competitionID,
		"user_id":         userID,
	}).Info("Individual registration confirmed")

	s.sendConfirmations(ctx, reg, comp, nil)
	s.publish(EventConfirmed, reg)
	return reg, nil
}

// RegisterTeam creates a pending team registration and invites its members.
// No seat is taken until the registration completes.
func (s *RegistrationService) RegisterTeam(ctx context.Context, competitionID, leaderID, teamName string, memberEmails []string) (*BatchResult, error) {
	teamName = strings.TrimSpace(teamName)
	if utf8.RuneCountInString(teamName) < minTeamNameLength {
		return nil, ErrTeamNameTooShort
	}

	emails, err := normalizeEmails(memberEmails)
	if err != nil {
		return nil, err
	}
	// A team starts with at least one invitation, otherwise it would be complete and pending with nobody to wait for
	if len(emails) == 0 {
		return nil, ErrNoEmails
	}

	var (
		reg       *models.Registration
		comp      *models.Competition
		created   []*models.TeamInvitation
		remaining int
	)
	err = s.store.Transaction(ctx, func(tx Store) error {
		var err error
		comp, err = s.openCompetition(ctx, tx, competitionID)
		if err != nil {
			return err
		}
		if err := s.ensureNotRegistered(ctx, tx, competitionID, leaderID); err != nil {
			return err
		}
		if size := 1 + len(emails); size > comp.MaxTeamSize {
			return ErrTeamSizeExceeded.
				With("team_size", size).
				With("max_team_size", comp.MaxTeamSize)
		}

		reg = &models.Registration{
			CompetitionID:    competitionID,
			LeaderID:         leaderID,
			Type:             models.RegistrationTeam,
			TeamName:         teamName,
			Status:           models.StatusPending,
			InvitationStatus: models.ProgressComplete,
		}
		if err := s.createRegistration(ctx, tx, reg); err != nil {
			return err
		}

		created, remaining, err = s.coordinator.createInTx(ctx, tx, reg, comp, leaderID, emails)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Registration:   *reg,
		Invitations:    derefInvitations(created),
		RemainingQuota: remaining,
	}
	result.EmailsQueued, result.EmailsFailed, result.EmailsPending = s.coordinator.dispatchInvitations(ctx, reg, comp, created)

	s.log.WithFields(logrus.Fields{
		"registration_id": reg.ID,
		"competition_id":  competitionID,
		"leader_id":       leaderID,
		"invitations":     len(created),
	}).Info("Team registration created")

	s.publish(EventInvitationsSent, reg)
	return result, nil
}

// Complete confirms a pending registration whose invitations are all resolved.
// NoSeatsAvailable leaves it pending so the leader can retry.
func (s *RegistrationService) Complete(ctx context.Context, registrationID string) (*models.Registration, error) {
	return s.complete(ctx, registrationID)
}

func (s *RegistrationService) completeResolved(ctx context.Context, registrationID string) (*models.Registration, error) {
	return s.complete(ctx, registrationID)
}

func (s *RegistrationService) complete(ctx context.Context, registrationID string) (reg *models.Registration, err error) {
	defer func() {
		metrics.Completions.WithLabelValues(completionResult(err)).Inc()
	}()

	var (
		comp    *models.Competition
		members []models.RegistrationMember
	)
	err = s.store.Transaction(ctx, func(tx Store) error {
		var err error
		reg, err = tx.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFoundAs(err, ErrRegistrationNotFound, "lock registration")
		}
		if reg.Status != models.StatusPending {
			return ErrRegistrationNotPending.With("status", string(reg.Status))
		}

		resolved, err := s.invitations.WithTx(tx).IsFullyResolved(ctx, reg.ID)
		if err != nil {
			return err
		}
		if !resolved {
			return ErrInvitationsPending
		}

		members, err = tx.ListMembers(ctx, reg.ID)
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		if reg.Type == models.RegistrationTeam && len(members) == 0 && !s.policy.AllowSolo {
			return ErrNoAcceptedMembers
		}

		comp, err = tx.GetCompetition(ctx, reg.CompetitionID)
		if err != nil {
			return notFoundAs(err, ErrCompetitionNotFound, "load competition")
		}
		if comp.RequiresPayment {
			paid, err := s.payments.PaymentCompleted(ctx, reg.ID)
			if err != nil {
				return fmt.Errorf("verify payment: %w", err)
			}
			if !paid {
				return ErrPaymentRequired
			}
		}

		if err := s.ledger.WithTx(tx).Reserve(ctx, reg.CompetitionID); err != nil {
			return err
		}
		if err := tx.UpdateRegistration(ctx, reg.ID, models.StatusConfirmed, models.ProgressComplete); err != nil {
			return fmt.Errorf("confirm registration: %w", err)
		}
		reg.Status = models.StatusConfirmed
		reg.InvitationStatus = models.ProgressComplete
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoSeatsAvailable) {
			s.log.WithField("registration_id", registrationID).Warn("Registration left pending, no seat available")
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"registration_id": reg.ID,
		"competition_id":  reg.CompetitionID,
		"members":         len(members),
	}).Info("Registration confirmed")

	s.sendConfirmations(ctx, reg, comp, members)
	s.cache.Invalidate(ctx, reg.ID)
	s.publish(EventConfirmed, reg)
	return reg, nil
}

// Cancel withdraws a registration on behalf of its leader
func (s *RegistrationService) Cancel(ctx context.Context, registrationID string) (*models.Registration, error) {
	return s.Withdraw(ctx, registrationID, models.StatusWithdrawn)
}

// Withdraw moves an active registration to withdrawn or rejected. It is refused once the
// competition started or the leader submitted. A confirmed registration gives its seat back.
func (s *RegistrationService) Withdraw(ctx context.Context, registrationID string, to models.RegistrationStatus) (*models.Registration, error) {
	if to != models.StatusWithdrawn && to != models.StatusRejected {
		return nil, ErrInvalidStatus.With("status", string(to))
	}

	var reg *models.Registration
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		reg, err = tx.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFoundAs(err, ErrRegistrationNotFound, "lock registration")
		}
		if !reg.Status.Active() {
			return ErrRegistrationNotPending.
				Withf("registration is already %s", reg.Status).
				With("status", string(reg.Status))
		}

		comp, err := tx.GetCompetition(ctx, reg.CompetitionID)
		if err != nil {
			return notFoundAs(err, ErrCompetitionNotFound, "load competition")
		}
		if comp.Started(s.now()) {
			return ErrCompetitionStarted
		}

		submitted, err := s.submissions.HasSubmission(ctx, reg.CompetitionID, reg.LeaderID)
		if err != nil {
			return fmt.Errorf("check submissions: %w", err)
		}
		if submitted {
			return ErrSubmissionExists
		}

		return s.transition(ctx, tx, reg, to)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"registration_id": reg.ID,
		"status":          reg.Status,
	}).Info("Registration withdrawn")

	s.cache.Invalidate(ctx, reg.ID)
	s.publish(EventStatusChanged, reg)
	return reg, nil
}

// UpdateStatus is the admin override. Entering confirmed reserves a seat and leaving
// confirmed releases one, a failed seat operation rejects the whole update.
func (s *RegistrationService) UpdateStatus(ctx context.Context, registrationID string, to models.RegistrationStatus) (*models.Registration, error) {
	if !to.Valid() {
		return nil, ErrInvalidStatus.With("status", string(to))
	}

	var (
		reg     *models.Registration
		comp    *models.Competition
		members []models.RegistrationMember
		from    models.RegistrationStatus
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		var err error
		reg, err = tx.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFoundAs(err, ErrRegistrationNotFound, "lock registration")
		}
		from = reg.Status
		if from == to {
			return nil
		}

		comp, err = tx.GetCompetition(ctx, reg.CompetitionID)
		if err != nil {
			return notFoundAs(err, ErrCompetitionNotFound, "load competition")
		}
		if to == models.StatusConfirmed {
			members, err = tx.ListMembers(ctx, reg.ID)
			if err != nil {
				return fmt.Errorf("list members: %w", err)
			}
		}

		return s.transition(ctx, tx, reg, to)
	})
	if err != nil {
		return nil, err
	}
	if from == to {
		return reg, nil
	}

	s.log.WithFields(logrus.Fields{
		"registration_id": reg.ID,
		"from":            from,
		"to":              to,
	}).Info("Registration status updated")

	if to == models.StatusConfirmed {
		s.sendConfirmations(ctx, reg, comp, members)
	}
	s.cache.Invalidate(ctx, reg.ID)
	s.publish(EventStatusChanged, reg)
	return reg, nil
}

// transition applies a status change with its seat movement inside tx
func (s *RegistrationService) transition(ctx context.Context, tx Store, reg *models.Registration, to models.RegistrationStatus) error {
	invitations := s.invitations.WithTx(tx)
	ledger := s.ledger.WithTx(tx)
	progress := reg.InvitationStatus

	if !reg.Status.Active() && to.Active() {
		if err := s.ensureParticipantsFree(ctx, tx, reg); err != nil {
			return err
		}
	}

	switch {
	case to == models.StatusConfirmed:
		resolved, err := invitations.IsFullyResolved(ctx, reg.ID)
		if err != nil {
			return err
		}
		if !resolved {
			return ErrInvitationsPending
		}
		if err := ledger.Reserve(ctx, reg.CompetitionID); err != nil {
			return err
		}
		progress = models.ProgressComplete
	case reg.Status == models.StatusConfirmed:
		if err := ledger.Release(ctx, reg.CompetitionID); err != nil {
			return err
		}
	}

	if !to.Active() && s.policy.ExpireOnCancel {
		n, err := invitations.ExpireOpen(ctx, reg.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			progress = models.ProgressComplete
		}
	}

	if err := tx.UpdateRegistration(ctx, reg.ID, to, progress); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("update registration status: %w", err)
	}
	reg.Status = to
	reg.InvitationStatus = progress
	return nil
}

func (s *RegistrationService) openCompetition(ctx context.Context, tx Store, competitionID string) (*models.Competition, error) {
	comp, err := tx.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, notFoundAs(err, ErrCompetitionNotFound, "load competition")
	}
	if !comp.RegistrationOpen(s.now()) {
		return nil, ErrRegistrationClosed
	}
	return comp, nil
}

func (s *RegistrationService) ensureNotRegistered(ctx context.Context, tx Store, competitionID, userID string) error {
	if err := tx.LockParticipant(ctx, competitionID, userID); err != nil {
		return fmt.Errorf("lock participant: %w", err)
	}
	existing, err := tx.ActiveRegistrationFor(ctx, competitionID, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("check existing registration: %w", err)
	}
	return ErrAlreadyRegistered.With("registration_id", existing.ID)
}

// ensureParticipantsFree refuses to revive a registration whose leader or members
// joined another active registration of the competition in the meantime
func (s *RegistrationService) ensureParticipantsFree(ctx context.Context, tx Store, reg *models.Registration) error {
	members, err := tx.ListMembers(ctx, reg.ID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	users := make([]string, 0, len(members)+1)
	users = append(users, reg.LeaderID)
	for _, m := range members {
		users = append(users, m.UserID)
	}
	// Fixed lock order across transactions
	sort.Strings(users)

	for _, userID := range users {
		if err := s.ensureNotRegistered(ctx, tx, reg.CompetitionID, userID); err != nil {
			var e *Error
			if errors.As(err, &e) {
				return e.With("user_id", userID)
			}
			return err
		}
	}
	return nil
}

func (s *RegistrationService) createRegistration(ctx context.Context, tx Store, reg *models.Registration) error {
	if err := tx.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// sendConfirmations queues a confirmation email to the leader and every member, without waiting
func (s *RegistrationService) sendConfirmations(ctx context.Context, reg *models.Registration, comp *models.Competition, members []models.RegistrationMember) {
	if comp == nil || s.identity == nil {
		return
	}

	userIDs := make([]string, 0, len(members)+1)
	userIDs = append(userIDs, reg.LeaderID)
	for _, m := range members {
		userIDs = append(userIDs, m.UserID)
	}

	competition := *comp
	for _, id := range userIDs {
		user, err := s.identity.GetUser(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("user_id", id).Warn("Confirmation recipient lookup failed")
			continue
		}
		recipient := *user
		s.mail.Enqueue("confirmation", logrus.Fields{
			"registration_id": reg.ID,
			"user_id":         recipient.ID,
		}, func(ctx context.Context) error {
			return s.mailer.SendConfirmation(ctx, recipient, competition)
		})
	}
}

func (s *RegistrationService) publish(eventType string, reg *models.Registration) {
	s.notifier.Publish(RegistrationEvent{
		Type:             eventType,
		RegistrationID:   reg.ID,
		CompetitionID:    reg.CompetitionID,
		Status:           reg.Status,
		InvitationStatus: reg.InvitationStatus,
		At:               s.now().UTC(),
	})
}

func completionResult(err error) string {
	if err == nil {
		return "confirmed"
	}
	if code := CodeOf(err); code != CodeUnknown {
		return strings.ToLower(string(code))
	}
	return "error"
}
