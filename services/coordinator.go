package services

import (
	"context"
	"errors"
	"time"

	"registrar/config"
	"registrar/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "services.coordinator"

// Deps are the collaborators the coordinator is built from.
// Store, Identity, Submissions, Payments, Mailer and MailQueue are required.
type Deps struct {
	Store       Store
	Identity    IdentityLookup
	Submissions SubmissionChecker
	Payments    PaymentVerifier
	Mailer      Mailer
	MailQueue   *MailQueue

	Notifier  Notifier
	Cache     StatusCache
	SweepLock SweepLock

	Policy            config.InvitationPolicy
	MailReportTimeout time.Duration
	SweepBatchSize    int
	Now               func() time.Time
	Logger            logrus.FieldLogger
	Tracer            trace.Tracer
}

// Coordinator is the registration and team invitation API consumed by the HTTP layer
type Coordinator struct {
	Ledger        *SeatLedger
	Invitations   *InvitationCoordinator
	Registrations *RegistrationService
	Sweeper       *ExpirySweeper

	store  Store
	tracer trace.Tracer
	log    logrus.FieldLogger
}

func NewCoordinator(d Deps) *Coordinator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Cache == nil {
		d.Cache = noopStatusCache{}
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	if d.SweepBatchSize <= 0 {
		d.SweepBatchSize = defaultSweepBatchSize
	}

	ledger := NewSeatLedger(d.Store, d.Logger)
	invitationStore := NewInvitationStore(d.Store, d.Policy.TTL, d.Now)

	invitations := &InvitationCoordinator{
		store:         d.Store,
		invitations:   invitationStore,
		identity:      d.Identity,
		mailer:        d.Mailer,
		mail:          d.MailQueue,
		notifier:      d.Notifier,
		cache:         d.Cache,
		policy:        d.Policy,
		reportTimeout: d.MailReportTimeout,
		now:           d.Now,
		log:           d.Logger.WithField("component", "invitation_coordinator"),
	}

	registrations := &RegistrationService{
		store:       d.Store,
		ledger:      ledger,
		invitations: invitationStore,
		coordinator: invitations,
		submissions: d.Submissions,
		payments:    d.Payments,
		identity:    d.Identity,
		mailer:      d.Mailer,
		mail:        d.MailQueue,
		notifier:    d.Notifier,
		cache:       d.Cache,
		policy:      d.Policy,
		now:         d.Now,
		log:         d.Logger.WithField("component", "registrations"),
	}
	invitations.completer = registrations

	sweeper := &ExpirySweeper{
		store:       d.Store,
		invitations: invitationStore,
		coordinator: invitations,
		identity:    d.Identity,
		mailer:      d.Mailer,
		mail:        d.MailQueue,
		lock:        d.SweepLock,
		batchSize:   d.SweepBatchSize,
		now:         d.Now,
		log:         d.Logger.WithField("component", "expiry_sweeper"),
	}

	return &Coordinator{
		Ledger:        ledger,
		Invitations:   invitations,
		Registrations: registrations,
		Sweeper:       sweeper,
		store:         d.Store,
		tracer:        d.Tracer,
		log:           d.Logger.WithField("component", "coordinator"),
	}
}

func (c *Coordinator) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// end records err on the span. Coordinator errors are expected outcomes and only tag the span.
func end(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		span.SetAttributes(attribute.String("registrar.error_code", string(cerr.Code)))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (c *Coordinator) RegisterIndividual(ctx context.Context, competitionID, userID string) (reg *models.Registration, err error) {
	ctx, span := c.start(ctx, "registrations.register_individual",
		attribute.String("competition.id", competitionID),
		attribute.String("user.id", userID),
	)
	defer func() { end(span, err) }()

	return c.Registrations.RegisterIndividual(ctx, competitionID, userID)
}

func (c *Coordinator) RegisterTeam(ctx context.Context, competitionID, leaderID, teamName string, memberEmails []string) (res *BatchResult, err error) {
	ctx, span := c.start(ctx, "registrations.register_team",
		attribute.String("competition.id", competitionID),
		attribute.String("user.id", leaderID),
		attribute.Int("invitations.count", len(memberEmails)),
	)
	defer func() { end(span, err) }()

	return c.Registrations.RegisterTeam(ctx, competitionID, leaderID, teamName, memberEmails)
}

func (c *Coordinator) SendBatchInvitations(ctx context.Context, registrationID, inviterID string, emails []string) (res *BatchResult, err error) {
	ctx, span := c.start(ctx, "invitations.send_batch",
		attribute.String("registration.id", registrationID),
		attribute.Int("invitations.count", len(emails)),
	)
	defer func() { end(span, err) }()

	return c.Invitations.CreateInvitations(ctx, registrationID, inviterID, emails)
}

func (c *Coordinator) RespondToInvitation(ctx context.Context, token string, action InvitationAction, userID string) (res *RespondResult, err error) {
	ctx, span := c.start(ctx, "invitations.respond",
		attribute.String("invitation.action", string(action)),
	)
	defer func() { end(span, err) }()

	return c.Invitations.Respond(ctx, token, action, userID)
}

func (c *Coordinator) CompleteRegistration(ctx context.Context, registrationID string) (reg *models.Registration, err error) {
	ctx, span := c.start(ctx, "registrations.complete",
		attribute.String("registration.id", registrationID),
	)
	defer func() { end(span, err) }()

	return c.Registrations.Complete(ctx, registrationID)
}

func (c *Coordinator) CancelRegistration(ctx context.Context, registrationID string) (reg *models.Registration, err error) {
	ctx, span := c.start(ctx, "registrations.cancel",
		attribute.String("registration.id", registrationID),
	)
	defer func() { end(span, err) }()

	return c.Registrations.Cancel(ctx, registrationID)
}

func (c *Coordinator) RejectRegistration(ctx context.Context, registrationID string) (reg *models.Registration, err error) {
	ctx, span := c.start(ctx, "registrations.reject",
		attribute.String("registration.id", registrationID),
	)
	defer func() { end(span, err) }()

	return c.Registrations.Withdraw(ctx, registrationID, models.StatusRejected)
}

func (c *Coordinator) UpdateRegistrationStatus(ctx context.Context, registrationID string, status models.RegistrationStatus) (reg *models.Registration, err error) {
	ctx, span := c.start(ctx, "registrations.update_status",
		attribute.String("registration.id", registrationID),
		attribute.String("registration.status", string(status)),
	)
	defer func() { end(span, err) }()

	return c.Registrations.UpdateStatus(ctx, registrationID, status)
}

func (c *Coordinator) GetInvitationStatus(ctx context.Context, registrationID string) (view *InvitationStatusView, err error) {
	ctx, span := c.start(ctx, "invitations.status",
		attribute.String("registration.id", registrationID),
	)
	defer func() { end(span, err) }()

	return c.Invitations.Status(ctx, registrationID)
}

func (c *Coordinator) IsFullyResolved(ctx context.Context, registrationID string) (bool, error) {
	return c.Invitations.IsFullyResolved(ctx, registrationID)
}

func (c *Coordinator) SweepExpiredInvitations(ctx context.Context) (res *SweepResult, err error) {
	ctx, span := c.start(ctx, "invitations.sweep")
	defer func() { end(span, err) }()

	return c.Sweeper.Sweep(ctx)
}

// Registration loads a registration for authorization checks in the HTTP layer
func (c *Coordinator) Registration(ctx context.Context, registrationID string) (*models.Registration, error) {
	reg, err := c.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, notFoundAs(err, ErrRegistrationNotFound, "load registration")
	}
	return reg, nil
}

// ExportRow is one registration flattened for spreadsheet export
type ExportRow struct {
	Registration models.Registration
	Leader       *models.User
	Members      []models.User
	Pending      int
}

// ExportRegistrations lists a competition's registrations with their people resolved
func (c *Coordinator) ExportRegistrations(ctx context.Context, competitionID string) (comp *models.Competition, rows []ExportRow, err error) {
	ctx, span := c.start(ctx, "registrations.export",
		attribute.String("competition.id", competitionID),
	)
	defer func() { end(span, err) }()

	comp, err = c.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, nil, notFoundAs(err, ErrCompetitionNotFound, "load competition")
	}
	regs, err := c.store.ListRegistrations(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}

	identity := c.Registrations.identity
	rows = make([]ExportRow, 0, len(regs))
	for _, reg := range regs {
		row := ExportRow{Registration: reg}
		if u, err := identity.GetUser(ctx, reg.LeaderID); err == nil {
			row.Leader = u
		}
		members, err := c.store.ListMembers(ctx, reg.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range members {
			if u, err := identity.GetUser(ctx, m.UserID); err == nil {
				row.Members = append(row.Members, *u)
			} else {
				row.Members = append(row.Members, models.User{ID: m.UserID})
			}
		}
		pending, err := c.store.CountInvitations(ctx, reg.ID, models.InvitationPending)
		if err != nil {
			return nil, nil, err
		}
		row.Pending = int(pending)
		rows = append(rows, row)
	}
	return comp, rows, nil
}

// RunSweeper blocks running the expiry sweeper until ctx is done
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	c.Sweeper.Run(ctx, interval)
}
