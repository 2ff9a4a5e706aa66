package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"registrar/metrics"
	"registrar/models"
)

// tokenBytes is the entropy of an invitation token before hex encoding
const tokenBytes = 32

// NewToken returns an opaque single-use invitation token
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// InvitationStore creates, tracks and resolves the invitation records of team registrations
type InvitationStore struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

func NewInvitationStore(store Store, ttl time.Duration, now func() time.Time) *InvitationStore {
	if now == nil {
		now = time.Now
	}
	return &InvitationStore{store: store, ttl: ttl, now: now, newToken: NewToken}
}

// WithTx returns a store whose operations join the given transaction
func (s *InvitationStore) WithTx(tx Store) *InvitationStore {
	return &InvitationStore{store: tx, ttl: s.ttl, now: s.now, newToken: s.newToken}
}

// Create persists one pending invitation per email, inviteeIDs pre-binds known accounts by email
func (s *InvitationStore) Create(ctx context.Context, reg *models.Registration, inviterID string, emails []string, inviteeIDs map[string]string) ([]*models.TeamInvitation, error) {
	now := s.now().UTC()
	invitations := make([]*models.TeamInvitation, 0, len(emails))
	for _, email := range emails {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}

		inv := &models.TeamInvitation{
			RegistrationID: reg.ID,
			CompetitionID:  reg.CompetitionID,
			InviterID:      inviterID,
			InviteeEmail:   email,
			Token:          token,
			Status:         models.InvitationPending,
			ExpiresAt:      now.Add(s.ttl),
			CreatedAt:      now,
		}
		if id, ok := inviteeIDs[email]; ok {
			bound := id
			inv.InviteeID = &bound
		}
		invitations = append(invitations, inv)
	}

	if err := s.store.CreateInvitations(ctx, invitations); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, ErrAlreadyInvited
		}
		return nil, fmt.Errorf("create invitations: %w", err)
	}

	metrics.Invitations.WithLabelValues(string(models.InvitationPending)).Add(float64(len(invitations)))
	return invitations, nil
}

// ByToken loads an invitation or fails with ErrInvalidToken
func (s *InvitationStore) ByToken(ctx context.Context, token string) (*models.TeamInvitation, error) {
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load invitation: %w", err)
	}
	return inv, nil
}

// Resolve moves a pending invitation to accepted or rejected.
// It returns false when another caller resolved it first.
func (s *InvitationStore) Resolve(ctx context.Context, inv *models.TeamInvitation, to models.InvitationState, inviteeID *string) (bool, error) {
	respondedAt := s.now().UTC()
	ok, err := s.store.ResolveInvitation(ctx, inv.ID, to, respondedAt, inviteeID)
	if err != nil {
		return false, fmt.Errorf("resolve invitation: %w", err)
	}
	if ok {
		inv.Status = to
		inv.RespondedAt = &respondedAt
		if inviteeID != nil {
			inv.InviteeID = inviteeID
		}
		metrics.Invitations.WithLabelValues(string(to)).Inc()
	}
	return ok, nil
}

// Overdue lists pending invitations whose TTL elapsed
func (s *InvitationStore) Overdue(ctx context.Context, limit int) ([]models.TeamInvitation, error) {
	return s.store.ListOverdueInvitations(ctx, s.now().UTC(), limit)
}

// Expire ages out one overdue pending invitation, false when it was already resolved
func (s *InvitationStore) Expire(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.ExpireInvitation(ctx, id, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("expire invitation: %w", err)
	}
	if ok {
		metrics.Invitations.WithLabelValues(string(models.InvitationExpired)).Inc()
	}
	return ok, nil
}

// ExpireOpen expires every pending invitation of a registration
func (s *InvitationStore) ExpireOpen(ctx context.Context, registrationID string) (int64, error) {
	n, err := s.store.ExpireOpenInvitations(ctx, registrationID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire open invitations: %w", err)
	}
	metrics.Invitations.WithLabelValues(string(models.InvitationExpired)).Add(float64(n))
	return n, nil
}

// IsFullyResolved reports whether no invitation of the registration is still pending
func (s *InvitationStore) IsFullyResolved(ctx context.Context, registrationID string) (bool, error) {
	pending, err := s.store.CountInvitations(ctx, registrationID, models.InvitationPending)
	if err != nil {
		return false, fmt.Errorf("count pending invitations: %w", err)
	}
	return pending == 0, nil
}

// Progress computes the aggregate invitation status of a registration
func (s *InvitationStore) Progress(ctx context.Context, registrationID string) (models.InvitationProgress, error) {
	resolved, err := s.IsFullyResolved(ctx, registrationID)
	if err != nil {
		return "", err
	}
	if resolved {
		return models.ProgressComplete, nil
	}
	return models.ProgressPendingInvitations, nil
}

// List returns every invitation of a registration
func (s *InvitationStore) List(ctx context.Context, registrationID string) ([]models.TeamInvitation, error) {
	return s.store.ListInvitations(ctx, registrationID)
}
