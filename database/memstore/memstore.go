// Package memstore keeps the coordinator's state in process memory.
// Every transaction holds one mutex and rolls back to a snapshot on error.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"registrar/models"
	"registrar/services"
)

type state struct {
	competitions  map[string]models.Competition
	registrations map[string]models.Registration
	members       map[string]map[string]models.RegistrationMember
	invitations   map[string]models.TeamInvitation
}

// directory holds the records owned by other services. It sits outside
// transactions so lookups made while one is open never wait on the store lock.
type directory struct {
	mu          sync.RWMutex
	users       map[string]models.User
	submissions []models.Submission
	payments    []models.Payment
}

func newState() *state {
	return &state{
		competitions:  make(map[string]models.Competition),
		registrations: make(map[string]models.Registration),
		members:       make(map[string]map[string]models.RegistrationMember),
		invitations:   make(map[string]models.TeamInvitation),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.competitions {
		c.competitions[k] = v
	}
	for k, v := range s.registrations {
		c.registrations[k] = v
	}
	for k, m := range s.members {
		cm := make(map[string]models.RegistrationMember, len(m))
		for u, v := range m {
			cm[u] = v
		}
		c.members[k] = cm
	}
	for k, v := range s.invitations {
		c.invitations[k] = v
	}
	return c
}

// Store implements services.Store and the read-only collaborators in memory
type Store struct {
	mu   *sync.Mutex
	data *state
	dir  *directory
	inTx bool
	now  func() time.Time
}

func New() *Store {
	return &Store{
		mu:   &sync.Mutex{},
		data: newState(),
		dir:  &directory{users: make(map[string]models.User)},
		now:  time.Now,
	}
}

// WithClock sets the clock used for created_at timestamps
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) locked(fn func(d *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}

func (s *Store) Transaction(ctx context.Context, fn func(tx services.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	snapshot := s.data.clone()
	tx := &Store{mu: s.mu, data: s.data, dir: s.dir, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", services.ErrRecordNotFound, kind, id)
}

func duplicate(what string) error {
	return fmt.Errorf("%w: %s", services.ErrDuplicateRecord, what)
}

// Seed data

func (s *Store) AddCompetition(c models.Competition) models.Competition {
	s.locked(func(d *state) error {
		c.BeforeCreate(nil)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}
		d.competitions[c.ID] = c
		return nil
	})
	return c
}

func (s *Store) AddUser(u models.User) models.User {
	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	if u.ID == "" {
		u.ID = fmt.Sprintf("user-%d", len(s.dir.users)+1)
	}
	s.dir.users[u.ID] = u
	return u
}

func (s *Store) AddSubmission(sub models.Submission) {
	s.dir.mu.Lock()
	s.dir.submissions = append(s.dir.submissions, sub)
	s.dir.mu.Unlock()
}

func (s *Store) AddPayment(p models.Payment) {
	s.dir.mu.Lock()
	s.dir.payments = append(s.dir.payments, p)
	s.dir.mu.Unlock()
}

// Seats

func (s *Store) ReserveSeat(ctx context.Context, competitionID string) (bool, error) {
	var ok bool
	err := s.locked(func(d *state) error {
		c, found := d.competitions[competitionID]
		if !found || c.SeatsRemaining <= 0 {
			return nil
		}
		c.SeatsRemaining--
		d.competitions[competitionID] = c
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) ReleaseSeat(ctx context.Context, competitionID string) (bool, error) {
	var ok bool
	err := s.locked(func(d *state) error {
		c, found := d.competitions[competitionID]
		if !found || c.SeatsRemaining >= c.TotalSeats {
			return nil
		}
		c.SeatsRemaining++
		d.competitions[competitionID] = c
		ok = true
		return nil
	})
	return ok, err
}

// Competitions

func (s *Store) GetCompetition(ctx context.Context, id string) (*models.Competition, error) {
	var out *models.Competition
	err := s.locked(func(d *state) error {
		c, ok := d.competitions[id]
		if !ok {
			return notFound("competition", id)
		}
		out = &c
		return nil
	})
	return out, err
}

// Registrations

func activeLeaderConflict(d *state, reg models.Registration) bool {
	if !reg.Status.Active() {
		return false
	}
	for _, other := range d.registrations {
		if other.ID != reg.ID && other.CompetitionID == reg.CompetitionID &&
			other.LeaderID == reg.LeaderID && other.Status.Active() {
			return true
		}
	}
	return false
}

func (s *Store) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	return s.locked(func(d *state) error {
		reg.BeforeCreate(nil)
		if _, exists := d.registrations[reg.ID]; exists {
			return duplicate("registration id")
		}
		if activeLeaderConflict(d, *reg) {
			return duplicate("active registration for leader")
		}
		now := s.now()
		reg.CreatedAt, reg.UpdatedAt = now, now
		d.registrations[reg.ID] = *reg
		return nil
	})
}

func (s *Store) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var out *models.Registration
	err := s.locked(func(d *state) error {
		r, ok := d.registrations[id]
		if !ok {
			return notFound("registration", id)
		}
		out = &r
		return nil
	})
	return out, err
}

// LockRegistration needs no extra locking, transactions already hold the store mutex
func (s *Store) LockRegistration(ctx context.Context, id string) (*models.Registration, error) {
	return s.GetRegistration(ctx, id)
}

func (s *Store) ListRegistrations(ctx context.Context, competitionID string) ([]models.Registration, error) {
	var out []models.Registration
	err := s.locked(func(d *state) error {
		for _, r := range d.registrations {
			if r.CompetitionID == competitionID {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (s *Store) UpdateRegistration(ctx context.Context, id string, status models.RegistrationStatus, progress models.InvitationProgress) error {
	return s.locked(func(d *state) error {
		r, ok := d.registrations[id]
		if !ok {
			return notFound("registration", id)
		}
		r.Status = status
		r.InvitationStatus = progress
		if activeLeaderConflict(d, r) {
			return duplicate("active registration for leader")
		}
		r.UpdatedAt = s.now()
		d.registrations[id] = r
		return nil
	})
}

func (s *Store) ActiveRegistrationFor(ctx context.Context, competitionID, userID string) (*models.Registration, error) {
	var out *models.Registration
	err := s.locked(func(d *state) error {
		for _, r := range d.registrations {
			if r.CompetitionID != competitionID || !r.Status.Active() {
				continue
			}
			_, member := d.members[r.ID][userID]
			if r.LeaderID == userID || member {
				found := r
				out = &found
				return nil
			}
		}
		return notFound("active registration for user", userID)
	})
	return out, err
}

// LockParticipant is a no-op, transactions already hold the store lock
func (s *Store) LockParticipant(ctx context.Context, competitionID, userID string) error {
	return ctx.Err()
}

// Members

func (s *Store) AddMember(ctx context.Context, member *models.RegistrationMember) error {
	return s.locked(func(d *state) error {
		m, ok := d.members[member.RegistrationID]
		if !ok {
			m = make(map[string]models.RegistrationMember)
			d.members[member.RegistrationID] = m
		}
		if _, exists := m[member.UserID]; exists {
			return duplicate("registration member")
		}
		m[member.UserID] = *member
		return nil
	})
}

func (s *Store) CountMembers(ctx context.Context, registrationID string) (int64, error) {
	var n int64
	err := s.locked(func(d *state) error {
		n = int64(len(d.members[registrationID]))
		return nil
	})
	return n, err
}

func (s *Store) ListMembers(ctx context.Context, registrationID string) ([]models.RegistrationMember, error) {
	var out []models.RegistrationMember
	err := s.locked(func(d *state) error {
		for _, m := range d.members[registrationID] {
			out = append(out, m)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].JoinedAt.Equal(out[j].JoinedAt) {
				return out[i].UserID < out[j].UserID
			}
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		})
		return nil
	})
	return out, err
}

// Invitations

func openState(st models.InvitationState) bool {
	return st == models.InvitationPending || st == models.InvitationAccepted
}

func (s *Store) CreateInvitations(ctx context.Context, invitations []*models.TeamInvitation) error {
	return s.locked(func(d *state) error {
		staged := make(map[string]models.TeamInvitation, len(invitations))
		for _, inv := range invitations {
			inv.BeforeCreate(nil)
			for _, other := range d.invitations {
				if other.Token == inv.Token {
					return duplicate("invitation token")
				}
				if other.RegistrationID == inv.RegistrationID && other.InviteeEmail == inv.InviteeEmail &&
					openState(other.Status) && openState(inv.Status) {
					return duplicate("open invitation for " + inv.InviteeEmail)
				}
			}
			for _, other := range staged {
				if other.Token == inv.Token || other.InviteeEmail == inv.InviteeEmail {
					return duplicate("invitation in batch")
				}
			}
			if inv.CreatedAt.IsZero() {
				inv.CreatedAt = s.now()
			}
			staged[inv.ID] = *inv
		}
		for id, inv := range staged {
			d.invitations[id] = inv
		}
		return nil
	})
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*models.TeamInvitation, error) {
	var out *models.TeamInvitation
	err := s.locked(func(d *state) error {
		for _, inv := range d.invitations {
			if inv.Token == token {
				found := inv
				out = &found
				return nil
			}
		}
		return notFound("invitation token", "")
	})
	return out, err
}

func sortInvitations(out []models.TeamInvitation) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InviteeEmail < out[j].InviteeEmail
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

func (s *Store) ListInvitations(ctx context.Context, registrationID string) ([]models.TeamInvitation, error) {
	var out []models.TeamInvitation
	err := s.locked(func(d *state) error {
		for _, inv := range d.invitations {
			if inv.RegistrationID == registrationID {
				out = append(out, inv)
			}
		}
		sortInvitations(out)
		return nil
	})
	return out, err
}

func (s *Store) OpenInvitationEmails(ctx context.Context, registrationID string, emails []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		wanted[e] = struct{}{}
	}

	var out []string
	err := s.locked(func(d *state) error {
		for _, inv := range d.invitations {
			if inv.RegistrationID != registrationID || !openState(inv.Status) {
				continue
			}
			if _, ok := wanted[inv.InviteeEmail]; ok {
				out = append(out, inv.InviteeEmail)
			}
		}
		sort.Strings(out)
		return nil
	})
	return out, err
}

func (s *Store) CountInvitationsSince(ctx context.Context, inviterID string, since time.Time) (int64, error) {
	var n int64
	err := s.locked(func(d *state) error {
		for _, inv := range d.invitations {
			if inv.InviterID == inviterID && !inv.CreatedAt.Before(since) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) CountInvitations(ctx context.Context, registrationID string, st models.InvitationState) (int64, error) {
	var n int64
	err := s.locked(func(d *state) error {
		for _, inv := range d.invitations {
			if inv.RegistrationID == registrationID && inv.Status == st {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) ResolveInvitation(ctx context.Context, id string, to models.InvitationState, respondedAt time.Time, inviteeID *string) (bool, error) {
	var ok bool
	err := s.locked(func(d *state) error {
		inv, found := d.invitations[id]
		if !found || inv.Status != models.InvitationPending {
			return nil
		}
		inv.Status = to
		at := respondedAt
		inv.RespondedAt = &at
		if inviteeID != nil {
			bound := *inviteeID
			inv.InviteeID = &bound
		}
		d.invitations[id] = inv
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) ListOverdueInvitations(ctx context.Context, now time.Time, limit int) ([]models.TeamInvitation, error) {
	var out []models.TeamInvitation
	err := s.locked(func(d *state) error {
		for _, inv := range d.invitations {
			if inv.Status == models.InvitationPending && inv.ExpiresAt.Before(now) {
				out = append(out, inv)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (s *Store) ExpireInvitation(ctx context.Context, id string, now time.Time) (bool, error) {
	var ok bool
	err := s.locked(func(d *state) error {
		inv, found := d.invitations[id]
		if !found || inv.Status != models.InvitationPending || !inv.ExpiresAt.Before(now) {
			return nil
		}
		inv.Status = models.InvitationExpired
		d.invitations[id] = inv
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) ExpireOpenInvitations(ctx context.Context, registrationID string, now time.Time) (int64, error) {
	var n int64
	err := s.locked(func(d *state) error {
		for id, inv := range d.invitations {
			if inv.RegistrationID == registrationID && inv.Status == models.InvitationPending {
				inv.Status = models.InvitationExpired
				d.invitations[id] = inv
				n++
			}
		}
		return nil
	})
	return n, err
}

// Collaborators

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.dir.mu.RLock()
	defer s.dir.mu.RUnlock()
	for _, u := range s.dir.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, notFound("user email", email)
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.dir.mu.RLock()
	defer s.dir.mu.RUnlock()
	u, ok := s.dir.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (s *Store) HasSubmission(ctx context.Context, competitionID, userID string) (bool, error) {
	s.dir.mu.RLock()
	defer s.dir.mu.RUnlock()
	for _, sub := range s.dir.submissions {
		if sub.CompetitionID == competitionID && sub.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) PaymentCompleted(ctx context.Context, registrationID string) (bool, error) {
	s.dir.mu.RLock()
	defer s.dir.mu.RUnlock()
	for _, p := range s.dir.payments {
		if p.RegistrationID == registrationID && p.Status == models.PaymentCompleted {
			return true, nil
		}
	}
	return false, nil
}

var (
	_ services.Store             = (*Store)(nil)
	_ services.IdentityLookup    = (*Store)(nil)
	_ services.SubmissionChecker = (*Store)(nil)
	_ services.PaymentVerifier   = (*Store)(nil)
)
