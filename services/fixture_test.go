package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"registrar/config"
	"registrar/database/dbtest"
	"registrar/models"
	"registrar/services"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var errSMTPDown = errors.New("smtp down")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type leaderNotice struct {
	leader models.User
	event  services.LeaderEvent
}

// recordingMailer keeps every email instead of sending it
type recordingMailer struct {
	mu            sync.Mutex
	failFor       map[string]bool
	invitations   []models.TeamInvitation
	notices       []leaderNotice
	confirmations []string
}

func (m *recordingMailer) SendInvitation(ctx context.Context, inv models.TeamInvitation, ic services.InvitationContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[inv.InviteeEmail] {
		return errSMTPDown
	}
	m.invitations = append(m.invitations, inv)
	return nil
}

func (m *recordingMailer) SendTeamLeaderNotification(ctx context.Context, leader models.User, event services.LeaderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, leaderNotice{leader: leader, event: event})
	return nil
}

func (m *recordingMailer) SendConfirmation(ctx context.Context, user models.User, competition models.Competition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = append(m.confirmations, user.Email)
	return nil
}

func (m *recordingMailer) confirmed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.confirmations...)
}

func (m *recordingMailer) leaderNotices() []leaderNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]leaderNotice(nil), m.notices...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []services.RegistrationEvent
}

func (n *recordingNotifier) Publish(event services.RegistrationEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) types(registrationID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.RegistrationID == registrationID {
			out = append(out, e.Type)
		}
	}
	return out
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *dbtest.DB
	clock    *clock
	mailer   *recordingMailer
	notifier *recordingNotifier
	coord    *services.Coordinator
	comp     models.Competition

	leader models.User
	alice  models.User
	bob    models.User
	carol  models.User
	dave   models.User
}

type fixtureOptions struct {
	seats       int
	maxTeamSize int
	policy      config.InvitationPolicy
	batchSize   int
	competition func(*models.Competition)
	cache       services.StatusCache
}

type option func(*fixtureOptions)

func withSeats(n int) option       { return func(o *fixtureOptions) { o.seats = n } }
func withMaxTeamSize(n int) option { return func(o *fixtureOptions) { o.maxTeamSize = n } }
func withBatchSize(n int) option   { return func(o *fixtureOptions) { o.batchSize = n } }

func withPolicy(fn func(*config.InvitationPolicy)) option {
	return func(o *fixtureOptions) { fn(&o.policy) }
}

func withCompetition(fn func(*models.Competition)) option {
	return func(o *fixtureOptions) { o.competition = fn }
}

func withCache(c services.StatusCache) option {
	return func(o *fixtureOptions) { o.cache = c }
}

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// missingID is a well formed id no row carries, postgres refuses malformed uuids
const missingID = "00000000-0000-0000-0000-000000000000"

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	o := fixtureOptions{seats: 10, maxTeamSize: 3, policy: config.DefaultInvitationPolicy}
	for _, opt := range opts {
		opt(&o)
	}

	clk := &clock{t: epoch}
	store := dbtest.Open(t, clk.Now)
	logger, _ := logtest.NewNullLogger()

	comp := models.Competition{
		Title:          "Spring Hive",
		IsActive:       true,
		MaxTeamSize:    o.maxTeamSize,
		TotalSeats:     o.seats,
		SeatsRemaining: o.seats,
		StartDate:      epoch.Add(30 * 24 * time.Hour),
		EndDate:        epoch.Add(32 * 24 * time.Hour),
	}
	if o.competition != nil {
		o.competition(&comp)
	}

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		clock:    clk,
		mailer:   &recordingMailer{failFor: map[string]bool{}},
		notifier: &recordingNotifier{},
		comp:     store.AddCompetition(comp),
		leader:   store.AddUser(models.User{Email: "leader@example.com", Firstname: "Lea"}),
		alice:    store.AddUser(models.User{Email: "alice@example.com", Firstname: "Alice"}),
		bob:      store.AddUser(models.User{Email: "bob@example.com", Firstname: "Bob"}),
		carol:    store.AddUser(models.User{Email: "carol@example.com", Firstname: "Carol"}),
		dave:     store.AddUser(models.User{Email: "dave@example.com", Firstname: "Dave"}),
	}

	queue := services.NewMailQueue(2, 64, logger)
	t.Cleanup(func() { queue.Stop(time.Second) })

	f.coord = services.NewCoordinator(services.Deps{
		Store:             store,
		Identity:          store.Lookups,
		Submissions:       store.Lookups,
		Payments:          store.Lookups,
		Mailer:            f.mailer,
		MailQueue:         queue,
		Notifier:          f.notifier,
		Cache:             o.cache,
		Policy:            o.policy,
		MailReportTimeout: 2 * time.Second,
		SweepBatchSize:    o.batchSize,
		Now:               clk.Now,
		Logger:            logger,
	})
	return f
}

// registerTeam creates a team led by f.leader and fails the test on error
func (f *fixture) registerTeam(emails ...string) *services.BatchResult {
	f.t.Helper()
	res, err := f.coord.RegisterTeam(f.ctx, f.comp.ID, f.leader.ID, "Hive Minds", emails)
	require.NoError(f.t, err)
	return res
}

// resolvedTeam registers a team whose only invitee accepted while the competition
// awaits payment, so the registration stays pending with every invitation resolved
func (f *fixture) resolvedTeam(leader, invitee models.User, teamName string) *services.BatchResult {
	f.t.Helper()
	require.True(f.t, f.comp.RequiresPayment, "the competition must require payment")
	res, err := f.coord.RegisterTeam(f.ctx, f.comp.ID, leader.ID, teamName, []string{invitee.Email})
	require.NoError(f.t, err)
	answer := f.respond(f.tokenFor(res, invitee.Email), services.ActionAccept, invitee.ID)
	require.False(f.t, answer.Completed)
	return res
}

// tokenFor returns the token of the invitation sent to email
func (f *fixture) tokenFor(res *services.BatchResult, email string) string {
	f.t.Helper()
	for _, inv := range res.Invitations {
		if inv.InviteeEmail == email {
			return inv.Token
		}
	}
	f.t.Fatalf("no invitation for %s", email)
	return ""
}

func (f *fixture) respond(token string, action services.InvitationAction, userID string) *services.RespondResult {
	f.t.Helper()
	res, err := f.coord.RespondToInvitation(f.ctx, token, action, userID)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) registration(id string) models.Registration {
	f.t.Helper()
	reg, err := f.coord.Registration(f.ctx, id)
	require.NoError(f.t, err)
	return *reg
}

func (f *fixture) seatsRemaining() int {
	f.t.Helper()
	comp, err := f.store.GetCompetition(f.ctx, f.comp.ID)
	require.NoError(f.t, err)
	return comp.SeatsRemaining
}

// confirmedCount counts the registrations holding a seat
func (f *fixture) confirmedCount() int {
	f.t.Helper()
	regs, err := f.store.ListRegistrations(f.ctx, f.comp.ID)
	require.NoError(f.t, err)
	n := 0
	for _, r := range regs {
		if r.Status == models.StatusConfirmed {
			n++
		}
	}
	return n
}

// assertSeatsConserved checks seats_remaining plus confirmed registrations equals total_seats
func (f *fixture) assertSeatsConserved() {
	f.t.Helper()
	require.Equal(f.t, f.comp.TotalSeats, f.seatsRemaining()+f.confirmedCount())
}

func requireCode(t *testing.T, err error, code services.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, services.CodeOf(err), "unexpected error: %v", err)
}
