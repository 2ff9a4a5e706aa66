package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"registrar/config"
	"registrar/metrics"
	"registrar/models"
	"registrar/utils"

	"github.com/sirupsen/logrus"
)

// InvitationAction is the answer of an invitee
type InvitationAction string

const (
	ActionAccept InvitationAction = "accept"
	ActionReject InvitationAction = "reject"
)

// ParseAction validates a raw action string
func ParseAction(raw string) (InvitationAction, error) {
	switch InvitationAction(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionAccept:
		return ActionAccept, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", ErrInvalidAction
}

// BatchResult reports a created batch of invitations.
// Email failures are counted here and never fail the batch.
type BatchResult struct {
	Registration   models.Registration     `json:"registration"`
	Invitations    []models.TeamInvitation `json:"invitations"`
	EmailsQueued   int                     `json:"emails_queued"`
	EmailsFailed   int                     `json:"emails_failed"`
	EmailsPending  int                     `json:"emails_pending"`
	RemainingQuota int                     `json:"remaining_quota"`
}

// RespondResult reports an invitation response and the completion it may have triggered
type RespondResult struct {
	Invitation   models.TeamInvitation `json:"invitation"`
	Registration models.Registration   `json:"registration"`
	// Completed is true when the response resolved the team and the registration got confirmed
	Completed bool `json:"completed"`
	// CompletionError is set when the automatic completion was attempted and refused
	CompletionError *Error `json:"completion_error,omitempty"`
}

// InvitationStatusView is the read model of a team registration and its invitations
type InvitationStatusView struct {
	RegistrationID   string                         `json:"registration_id"`
	CompetitionID    string                         `json:"competition_id"`
	LeaderID         string                         `json:"leader_id"`
	Type             models.RegistrationType        `json:"type"`
	TeamName         string                         `json:"team_name,omitempty"`
	Status           models.RegistrationStatus      `json:"status"`
	InvitationStatus models.InvitationProgress      `json:"invitation_status"`
	FullyResolved    bool                           `json:"fully_resolved"`
	TeamSize         int                            `json:"team_size"`
	MaxTeamSize      int                            `json:"max_team_size"`
	Members          []string                       `json:"members"`
	Counts           map[models.InvitationState]int `json:"counts"`
	Invitations      []models.TeamInvitation        `json:"invitations"`
}

// completer confirms a registration whose invitations just became fully resolved
type completer interface {
	completeResolved(ctx context.Context, registrationID string) (*models.Registration, error)
}

// InvitationCoordinator turns candidate emails into tracked invitations and
// decides when a team registration's invitations are fully resolved
type InvitationCoordinator struct {
	store         Store
	invitations   *InvitationStore
	identity      IdentityLookup
	mailer        Mailer
	mail          *MailQueue
	notifier      Notifier
	cache         StatusCache
	policy        config.InvitationPolicy
	reportTimeout time.Duration
	now           func() time.Time
	log           logrus.FieldLogger

	completer completer
}

// normalizeEmails lowercases, validates and dedupes the candidate emails, keeping their order
func normalizeEmails(emails []string) ([]string, error) {
	seen := make(map[string]struct{}, len(emails))
	normalized := make([]string, 0, len(emails))
	for _, raw := range emails {
		email := utils.NormalizeEmail(raw)
		if !utils.IsValidEmail(email) {
			return nil, ErrInvalidEmail.With("email", raw)
		}
		if _, dup := seen[email]; dup {
			return nil, ErrDuplicateInvitee.With("email", email)
		}
		seen[email] = struct{}{}
		normalized = append(normalized, email)
	}
	return normalized, nil
}

// CreateInvitations invites a batch of emails to join a pending team registration
func (c *InvitationCoordinator) CreateInvitations(ctx context.Context, registrationID, inviterID string, emails []string) (*BatchResult, error) {
	if len(emails) == 0 {
		return nil, ErrNoEmails
	}
	normalized, err := normalizeEmails(emails)
	if err != nil {
		return nil, err
	}

	var (
		reg       *models.Registration
		comp      *models.Competition
		created   []*models.TeamInvitation
		remaining int
	)
	err = c.store.Transaction(ctx, func(tx Store) error {
		var err error
		reg, err = tx.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFoundAs(err, ErrRegistrationNotFound, "lock registration")
		}
		if reg.Type != models.RegistrationTeam {
			return ErrNotTeamRegistration
		}
		if reg.Status != models.StatusPending {
			return ErrRegistrationNotPending.With("status", string(reg.Status))
		}

		comp, err = tx.GetCompetition(ctx, reg.CompetitionID)
		if err != nil {
			return notFoundAs(err, ErrCompetitionNotFound, "load competition")
		}
		if !comp.RegistrationOpen(c.now()) {
			return ErrRegistrationClosed
		}

		created, remaining, err = c.createInTx(ctx, tx, reg, comp, inviterID, normalized)
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
	result.EmailsQueued, result.EmailsFailed, result.EmailsPending = c.dispatchInvitations(ctx, reg, comp, created)

	c.cache.Invalidate(ctx, reg.ID)
	c.publish(EventInvitationsSent, reg)
	c.log.WithFields(logrus.Fields{
		"registration_id": reg.ID,
		"inviter_id":      inviterID,
		"count":           len(created),
		"emails_failed":   result.EmailsFailed,
	}).Info("Invitations created")

	return result, nil
}

// createInTx enforces the batch constraints and persists the invitations inside tx.
// The registration must already be locked by the caller.
func (c *InvitationCoordinator) createInTx(ctx context.Context, tx Store, reg *models.Registration, comp *models.Competition, inviterID string, emails []string) ([]*models.TeamInvitation, int, error) {
	open, err := tx.OpenInvitationEmails(ctx, reg.ID, emails)
	if err != nil {
		return nil, 0, fmt.Errorf("check open invitations: %w", err)
	}
	if len(open) > 0 {
		return nil, 0, ErrAlreadyInvited.With("email", open[0])
	}

	accepted, err := tx.CountMembers(ctx, reg.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("count members: %w", err)
	}
	if size := 1 + len(emails) + int(accepted); size > comp.MaxTeamSize {
		return nil, 0, ErrTeamSizeExceeded.
			With("team_size", size).
			With("max_team_size", comp.MaxTeamSize)
	}

	since := c.now().Add(-c.policy.LimitWindow)
	sent, err := tx.CountInvitationsSince(ctx, inviterID, since)
	if err != nil {
		return nil, 0, fmt.Errorf("count recent invitations: %w", err)
	}
	remaining := c.policy.DailyLimit - int(sent)
	if remaining < 0 {
		remaining = 0
	}
	if len(emails) > remaining {
		return nil, 0, ErrDailyLimitExceeded.
			Withf("daily invitation limit exceeded, %d of %d remaining", remaining, c.policy.DailyLimit).
			With("remaining", remaining).
			With("limit", c.policy.DailyLimit)
	}

	created, err := c.invitations.WithTx(tx).Create(ctx, reg, inviterID, emails, c.lookupInvitees(ctx, emails))
	if err != nil {
		return nil, 0, err
	}

	if err := tx.UpdateRegistration(ctx, reg.ID, reg.Status, models.ProgressPendingInvitations); err != nil {
		return nil, 0, fmt.Errorf("update invitation status: %w", err)
	}
	reg.InvitationStatus = models.ProgressPendingInvitations

	return created, remaining - len(created), nil
}

// lookupInvitees pre-binds invitee ids of emails that already own an account.
// Lookup failures only cost the binding, the accepting user is bound later anyway.
func (c *InvitationCoordinator) lookupInvitees(ctx context.Context, emails []string) map[string]string {
	ids := make(map[string]string)
	if c.identity == nil {
		return ids
	}
	for _, email := range emails {
		user, err := c.identity.FindUserByEmail(ctx, email)
		if err != nil {
			if !errors.Is(err, ErrRecordNotFound) {
				c.log.WithError(err).WithField("email", email).Warn("Invitee lookup failed")
			}
			continue
		}
		ids[email] = user.ID
	}
	return ids
}

// dispatchInvitations queues one invitation email per invitation and waits briefly for the outcomes
func (c *InvitationCoordinator) dispatchInvitations(ctx context.Context, reg *models.Registration, comp *models.Competition, invitations []*models.TeamInvitation) (queued, failed, pending int) {
	if len(invitations) == 0 {
		return 0, 0, 0
	}

	ic := InvitationContext{CompetitionTitle: comp.Title, TeamName: reg.TeamName}
	if c.identity != nil {
		if leader, err := c.identity.GetUser(ctx, reg.LeaderID); err == nil {
			ic.InviterName = leader.DisplayName()
		}
	}

	results := make([]<-chan error, 0, len(invitations))
	for _, inv := range invitations {
		invitation := *inv
		results = append(results, c.mail.Enqueue("invitation", logrus.Fields{
			"registration_id": reg.ID,
			"invitation_id":   invitation.ID,
			"email":           invitation.InviteeEmail,
		}, func(ctx context.Context) error {
			return c.mailer.SendInvitation(ctx, invitation, ic)
		}))
	}

	failed, pending = awaitDeliveries(results, c.reportTimeout)
	return len(invitations), failed, pending
}

// Respond applies an invitee's answer. Accepting requires userID unless the invitation
// was pre-bound to an existing account.
func (c *InvitationCoordinator) Respond(ctx context.Context, token string, action InvitationAction, userID string) (*RespondResult, error) {
	if action != ActionAccept && action != ActionReject {
		return nil, ErrInvalidAction
	}

	var (
		inv      *models.TeamInvitation
		reg      *models.Registration
		progress models.InvitationProgress
	)
	err := c.store.Transaction(ctx, func(tx Store) error {
		invitations := c.invitations.WithTx(tx)

		var err error
		inv, err = invitations.ByToken(ctx, token)
		if err != nil {
			return err
		}
		now := c.now()
		if inv.Status == models.InvitationExpired || (inv.Status == models.InvitationPending && inv.ExpiredAt(now)) {
			return ErrExpired
		}
		if inv.Status != models.InvitationPending {
			return ErrAlreadyResponded.With("status", string(inv.Status))
		}

		reg, err = tx.LockRegistration(ctx, inv.RegistrationID)
		if err != nil {
			return notFoundAs(err, ErrRegistrationNotFound, "lock registration")
		}
		if !reg.Status.Active() {
			return ErrRegistrationNotPending.With("status", string(reg.Status))
		}

		switch action {
		case ActionAccept:
			if err := c.acceptInTx(ctx, tx, invitations, reg, inv, userID); err != nil {
				return err
			}
		case ActionReject:
			var bind *string
			if userID != "" {
				bind = &userID
			}
			ok, err := invitations.Resolve(ctx, inv, models.InvitationRejected, bind)
			if err != nil {
				return err
			}
			if !ok {
				return ErrAlreadyResponded
			}
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
		return nil, err
	}

	c.cache.Invalidate(ctx, reg.ID)
	c.publish(EventInvitationAnswer, reg)
	c.log.WithFields(logrus.Fields{
		"registration_id": reg.ID,
		"invitation_id":   inv.ID,
		"action":          action,
		"progress":        progress,
	}).Info("Invitation answered")

	result := &RespondResult{Invitation: *inv, Registration: *reg}
	if progress == models.ProgressComplete && reg.Status == models.StatusPending {
		result.Completed, result.CompletionError = c.autoComplete(ctx, reg.ID, result)
	}
	return result, nil
}

func (c *InvitationCoordinator) acceptInTx(ctx context.Context, tx Store, invitations *InvitationStore, reg *models.Registration, inv *models.TeamInvitation, userID string) error {
	if userID == "" && inv.InviteeID != nil {
		userID = *inv.InviteeID
	}
	if userID == "" {
		return ErrIdentityRequired
	}

	// The invitee stays pending when already registered elsewhere so it can be retried
	if err := tx.LockParticipant(ctx, reg.CompetitionID, userID); err != nil {
		return fmt.Errorf("lock participant: %w", err)
	}
	existing, err := tx.ActiveRegistrationFor(ctx, reg.CompetitionID, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("check existing registration: %w", err)
	}
	if existing != nil {
		return ErrAlreadyRegistered.With("registration_id", existing.ID)
	}

	comp, err := tx.GetCompetition(ctx, reg.CompetitionID)
	if err != nil {
		return notFoundAs(err, ErrCompetitionNotFound, "load competition")
	}
	members, err := tx.CountMembers(ctx, reg.ID)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if size := 1 + int(members); size+1 > comp.MaxTeamSize {
		return ErrTeamFull.
			With("team_size", size).
			With("max_team_size", comp.MaxTeamSize)
	}

	ok, err := invitations.Resolve(ctx, inv, models.InvitationAccepted, &userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyResponded
	}

	err = tx.AddMember(ctx, &models.RegistrationMember{
		RegistrationID: reg.ID,
		UserID:         userID,
		CompetitionID:  reg.CompetitionID,
		JoinedAt:       c.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// autoComplete runs the completion triggered by a resolving response or sweep.
// A refused completion is reported, the registration simply stays pending.
func (c *InvitationCoordinator) autoComplete(ctx context.Context, registrationID string, result *RespondResult) (bool, *Error) {
	if c.completer == nil {
		return false, nil
	}
	reg, err := c.completer.completeResolved(ctx, registrationID)
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			c.log.WithField("registration_id", registrationID).WithField("code", cerr.Code).Info("Automatic completion refused")
			return false, cerr
		}
		c.log.WithError(err).WithField("registration_id", registrationID).Error("Automatic completion failed")
		return false, newError(KindConflict, CodeUnknown, "automatic completion failed, complete the registration manually")
	}
	if result != nil {
		result.Registration = *reg
	}
	return true, nil
}

// IsFullyResolved reports whether no invitation of the registration remains pending
func (c *InvitationCoordinator) IsFullyResolved(ctx context.Context, registrationID string) (bool, error) {
	if _, err := c.store.GetRegistration(ctx, registrationID); err != nil {
		return false, notFoundAs(err, ErrRegistrationNotFound, "load registration")
	}
	return c.invitations.IsFullyResolved(ctx, registrationID)
}

// Status returns the invitation status view of a registration, served from cache when possible
func (c *InvitationCoordinator) Status(ctx context.Context, registrationID string) (*InvitationStatusView, error) {
	// The generation is read before the store so a mutation committed meanwhile voids the Set
	view, generation, ok := c.cache.Get(ctx, registrationID)
	if ok {
		metrics.CacheHits.Inc()
		return view, nil
	}
	metrics.CacheMisses.Inc()

	reg, err := c.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, notFoundAs(err, ErrRegistrationNotFound, "load registration")
	}
	comp, err := c.store.GetCompetition(ctx, reg.CompetitionID)
	if err != nil {
		return nil, notFoundAs(err, ErrCompetitionNotFound, "load competition")
	}
	members, err := c.store.ListMembers(ctx, reg.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	invitations, err := c.invitations.List(ctx, reg.ID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	if invitations == nil {
		invitations = []models.TeamInvitation{}
	}

	view = &InvitationStatusView{
		RegistrationID:   reg.ID,
		CompetitionID:    reg.CompetitionID,
		LeaderID:         reg.LeaderID,
		Type:             reg.Type,
		TeamName:         reg.TeamName,
		Status:           reg.Status,
		InvitationStatus: reg.InvitationStatus,
		FullyResolved:    true,
		TeamSize:         1 + len(members),
		MaxTeamSize:      comp.MaxTeamSize,
		Members:          make([]string, 0, len(members)),
		Counts:           make(map[models.InvitationState]int),
		Invitations:      invitations,
	}
	for _, m := range members {
		view.Members = append(view.Members, m.UserID)
	}
	for _, inv := range invitations {
		view.Counts[inv.Status]++
		if inv.Status == models.InvitationPending {
			view.FullyResolved = false
		}
	}

	c.cache.Set(ctx, view, generation)
	return view, nil
}

func (c *InvitationCoordinator) publish(eventType string, reg *models.Registration) {
	c.notifier.Publish(RegistrationEvent{
		Type:             eventType,
		RegistrationID:   reg.ID,
		CompetitionID:    reg.CompetitionID,
		Status:           reg.Status,
		InvitationStatus: reg.InvitationStatus,
		At:               c.now().UTC(),
	})
}

func derefInvitations(in []*models.TeamInvitation) []models.TeamInvitation {
	out := make([]models.TeamInvitation, 0, len(in))
	for _, inv := range in {
		out = append(out, *inv)
	}
	return out
}
