package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"registrar/metrics"
	"registrar/models"

	"github.com/sirupsen/logrus"
)

const defaultSweepBatchSize = 500

// SweepResult summarizes one sweep
type SweepResult struct {
	Expired       int      `json:"expired"`
	Registrations int      `json:"registrations"`
	Completed     []string `json:"completed"`
	Notified      int      `json:"notified"`
}

// ExpirySweeper ages out overdue pending invitations, recomputes the affected
// registrations and completes those left fully resolved
type ExpirySweeper struct {
	store       Store
	invitations *InvitationStore
	coordinator *InvitationCoordinator
	identity    IdentityLookup
	mailer      Mailer
	mail        *MailQueue
	lock        SweepLock
	batchSize   int
	now         func() time.Time
	log         logrus.FieldLogger
}

// Sweep expires every overdue pending invitation. Running it again with no new
// overdue invitations changes nothing.
func (s *ExpirySweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{Completed: []string{}}
	touched := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		overdue, err := s.invitations.Overdue(ctx, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("list overdue invitations: %w", err)
		}
		if len(overdue) == 0 {
			break
		}

		expired := 0
		for _, group := range groupByRegistration(overdue) {
			n, err := s.sweepRegistration(ctx, group, result)
			if err != nil {
				// One broken registration must not block the others, it is retried next sweep
				s.log.WithError(err).WithField("registration_id", group[0].RegistrationID).Error("Sweeping registration failed")
				continue
			}
			if n > 0 {
				touched[group[0].RegistrationID] = struct{}{}
			}
			expired += n
		}
		result.Expired += expired

		if len(overdue) < s.batchSize || expired == 0 {
			break
		}
	}

	result.Registrations = len(touched)
	if result.Expired > 0 {
		s.log.WithFields(logrus.Fields{
			"expired":       result.Expired,
			"registrations": result.Registrations,
			"completed":     len(result.Completed),
		}).Info("Expired overdue invitations")
	}
	return result, nil
}

// sweepRegistration expires one registration's overdue invitations in a single transaction
func (s *ExpirySweeper) sweepRegistration(ctx context.Context, group []models.TeamInvitation, result *SweepResult) (int, error) {
	registrationID := group[0].RegistrationID

	var (
		reg      *models.Registration
		lapsed   []string
		progress models.InvitationProgress
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		invitations := s.invitations.WithTx(tx)

		var err error
		reg, err = tx.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFoundAs(err, ErrRegistrationNotFound, "lock registration")
		}

		lapsed = lapsed[:0]
		for _, inv := range group {
			ok, err := invitations.Expire(ctx, inv.ID)
			if err != nil {
				return err
			}
			// Answered between listing and locking, terminal states stay untouched
			if ok {
				lapsed = append(lapsed, inv.InviteeEmail)
			}
		}
		if len(lapsed) == 0 {
			return nil
		}

		progress, err = invitations.Progress(ctx, reg.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdateRegistration(ctx, reg.ID, reg.Status, progress); err != nil {
			return fmt.Errorf("update invitation status: %w", err)
		}
		reg.InvitationStatus = progress
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(lapsed) == 0 {
		return 0, nil
	}

	metrics.SweeperExpired.Add(float64(len(lapsed)))
	s.coordinator.cache.Invalidate(ctx, reg.ID)
	s.coordinator.publish(EventInvitationsLapsed, reg)

	if reg.Status == models.StatusPending && progress == models.ProgressComplete {
		completed, cerr := s.coordinator.autoComplete(ctx, reg.ID, nil)
		if completed {
			result.Completed = append(result.Completed, reg.ID)
		} else if cerr != nil && !errors.Is(cerr, ErrRegistrationNotPending) {
			s.log.WithField("registration_id", reg.ID).WithField("code", cerr.Code).Info("Registration stays pending after sweep")
		}
	}

	if s.notifyLeader(ctx, reg, lapsed) {
		result.Notified++
	}
	return len(lapsed), nil
}

// notifyLeader queues one summary email per affected team leader
func (s *ExpirySweeper) notifyLeader(ctx context.Context, reg *models.Registration, lapsed []string) bool {
	if s.identity == nil {
		return false
	}
	leader, err := s.identity.GetUser(ctx, reg.LeaderID)
	if err != nil {
		s.log.WithError(err).WithField("leader_id", reg.LeaderID).Warn("Leader lookup failed, expiry notice skipped")
		return false
	}

	event := LeaderEvent{
		Kind:     EventInvitationsLapsed,
		TeamName: reg.TeamName,
		Emails:   append([]string(nil), lapsed...),
	}
	if comp, err := s.store.GetCompetition(ctx, reg.CompetitionID); err == nil {
		event.CompetitionTitle = comp.Title
	}

	recipient := *leader
	s.mail.Enqueue("leader_notification", logrus.Fields{
		"registration_id": reg.ID,
		"leader_id":       recipient.ID,
		"lapsed":          len(lapsed),
	}, func(ctx context.Context) error {
		return s.mailer.SendTeamLeaderNotification(ctx, recipient, event)
	})
	return true
}

// Run sweeps every interval until ctx is done. With a lock configured only the
// instance holding it sweeps during an interval.
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	s.log.WithField("interval", interval).Info("Expiry sweeper started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx, interval)
		}
	}
}

func (s *ExpirySweeper) tick(ctx context.Context, interval time.Duration) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, interval)
		if err != nil {
			s.log.WithError(err).Warn("Sweep lock unavailable, skipping this interval")
			return
		}
		if !acquired {
			s.log.Debug("Another instance holds the sweep lock")
			return
		}
	}

	if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.WithError(err).Error("Expiry sweep failed")
	}
}

// groupByRegistration keeps the oldest-first order of the first invitation of each registration
func groupByRegistration(invitations []models.TeamInvitation) [][]models.TeamInvitation {
	index := make(map[string]int)
	var groups [][]models.TeamInvitation
	for _, inv := range invitations {
		i, ok := index[inv.RegistrationID]
		if !ok {
			i = len(groups)
			index[inv.RegistrationID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], inv)
	}
	return groups
}
