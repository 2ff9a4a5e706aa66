package services

import (
	"context"
	"errors"
	"time"

	"registrar/models"
)

// Storage level sentinels, implementations wrap them with %w
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")
)

// SeatStore holds the competition seat counters
type SeatStore interface {
	// ReserveSeat decrements seats_remaining in one conditional statement.
	// It returns false when no seat was left.
	ReserveSeat(ctx context.Context, competitionID string) (bool, error)
	// ReleaseSeat increments seats_remaining unless it already equals total_seats.
	// It returns false when the counter was already full.
	ReleaseSeat(ctx context.Context, competitionID string) (bool, error)
}

// Store is the transactional persistence the coordinator runs on.
// Every method of a Store handed to a Transaction callback runs inside that transaction.
type Store interface {
	SeatStore

	Transaction(ctx context.Context, fn func(tx Store) error) error

	GetCompetition(ctx context.Context, id string) (*models.Competition, error)

	CreateRegistration(ctx context.Context, reg *models.Registration) error
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	// LockRegistration loads a registration and serializes other lockers until the transaction ends
	LockRegistration(ctx context.Context, id string) (*models.Registration, error)
	ListRegistrations(ctx context.Context, competitionID string) ([]models.Registration, error)
	UpdateRegistration(ctx context.Context, id string, status models.RegistrationStatus, progress models.InvitationProgress) error
	// ActiveRegistrationFor returns the pending or confirmed registration the user leads or belongs to
	ActiveRegistrationFor(ctx context.Context, competitionID, userID string) (*models.Registration, error)
	// LockParticipant serializes transactions touching the same user in the same competition.
	// The lock is held until the transaction ends.
	LockParticipant(ctx context.Context, competitionID, userID string) error

	AddMember(ctx context.Context, member *models.RegistrationMember) error
	CountMembers(ctx context.Context, registrationID string) (int64, error)
	ListMembers(ctx context.Context, registrationID string) ([]models.RegistrationMember, error)

	CreateInvitations(ctx context.Context, invitations []*models.TeamInvitation) error
	GetInvitationByToken(ctx context.Context, token string) (*models.TeamInvitation, error)
	ListInvitations(ctx context.Context, registrationID string) ([]models.TeamInvitation, error)
	// OpenInvitationEmails returns the emails among the given ones holding a pending or accepted invitation
	OpenInvitationEmails(ctx context.Context, registrationID string, emails []string) ([]string, error)
	CountInvitationsSince(ctx context.Context, inviterID string, since time.Time) (int64, error)
	CountInvitations(ctx context.Context, registrationID string, state models.InvitationState) (int64, error)
	// ResolveInvitation moves a pending invitation to a terminal state.
	// It returns false when the invitation was no longer pending.
	ResolveInvitation(ctx context.Context, id string, to models.InvitationState, respondedAt time.Time, inviteeID *string) (bool, error)
	// ListOverdueInvitations returns pending invitations with expires_at before now, oldest first
	ListOverdueInvitations(ctx context.Context, now time.Time, limit int) ([]models.TeamInvitation, error)
	// ExpireInvitation expires one invitation if it is still pending and overdue
	ExpireInvitation(ctx context.Context, id string, now time.Time) (bool, error)
	// ExpireOpenInvitations expires every pending invitation of a registration regardless of TTL
	ExpireOpenInvitations(ctx context.Context, registrationID string, now time.Time) (int64, error)
}

// IdentityLookup resolves accounts owned by the identity service
type IdentityLookup interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// SubmissionChecker reports whether a user already submitted to a competition
type SubmissionChecker interface {
	HasSubmission(ctx context.Context, competitionID, userID string) (bool, error)
}

// PaymentVerifier reports whether the payment of a registration completed
type PaymentVerifier interface {
	PaymentCompleted(ctx context.Context, registrationID string) (bool, error)
}

// InvitationContext is what an invitation email needs besides the invitation itself
type InvitationContext struct {
	CompetitionTitle string
	TeamName         string
	InviterName      string
}

// LeaderEvent summarizes what happened to a team for its leader
type LeaderEvent struct {
	Kind             string // "invitations_expired"
	CompetitionTitle string
	TeamName         string
	Emails           []string
}

// Mailer delivers transactional emails. Callers never depend on delivery for correctness.
type Mailer interface {
	SendInvitation(ctx context.Context, invitation models.TeamInvitation, ic InvitationContext) error
	SendTeamLeaderNotification(ctx context.Context, leader models.User, event LeaderEvent) error
	SendConfirmation(ctx context.Context, user models.User, competition models.Competition) error
}

// RegistrationEvent is published whenever a registration or one of its invitations changes
type RegistrationEvent struct {
	Type             string                    `json:"type"`
	RegistrationID   string                    `json:"registration_id"`
	CompetitionID    string                    `json:"competition_id"`
	Status           models.RegistrationStatus `json:"status"`
	InvitationStatus models.InvitationProgress `json:"invitation_status"`
	At               time.Time                 `json:"at"`
}

// Event types
const (
	EventInvitationsSent   = "invitations_sent"
	EventInvitationAnswer  = "invitation_answered"
	EventInvitationsLapsed = "invitations_expired"
	EventConfirmed         = "registration_confirmed"
	EventStatusChanged     = "status_changed"
)

// Notifier fans registration events out to live subscribers
type Notifier interface {
	Publish(event RegistrationEvent)
}

// StatusCache caches invitation status views per registration.
// Every Invalidate bumps the registration's generation so a view built from reads older
// than the latest mutation is never stored.
type StatusCache interface {
	// Get returns the cached view. On a miss it returns the generation to hand back to Set,
	// a negative generation means the view must not be cached.
	Get(ctx context.Context, registrationID string) (view *InvitationStatusView, generation int64, ok bool)
	// Set stores the view unless the registration was invalidated after generation was read
	Set(ctx context.Context, view *InvitationStatusView, generation int64)
	Invalidate(ctx context.Context, registrationID string)
}

// SweepLock elects the single instance allowed to sweep during an interval
type SweepLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
}

type noopNotifier struct{}

func (noopNotifier) Publish(RegistrationEvent) {}

type noopStatusCache struct{}

func (noopStatusCache) Get(context.Context, string) (*InvitationStatusView, int64, bool) {
	return nil, -1, false
}
func (noopStatusCache) Set(context.Context, *InvitationStatusView, int64) {}
func (noopStatusCache) Invalidate(context.Context, string)               {}
