package registrations

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"registrar/config"
	"registrar/database/memstore"
	"registrar/middleware"
	"registrar/models"
	"registrar/realtime"
	"registrar/services"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testSecret = "handler-secret"

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *memstore.Store
	comp   models.Competition
	leader models.User
	alice  models.User
	bob    models.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := logtest.NewNullLogger()

	store := memstore.New()
	now := time.Now()
	s := &testServer{
		t:     t,
		store: store,
		comp: store.AddCompetition(models.Competition{
			Title:          "Spring Hive",
			IsActive:       true,
			MaxTeamSize:    3,
			TotalSeats:     5,
			SeatsRemaining: 5,
			StartDate:      now.Add(7 * 24 * time.Hour),
			EndDate:        now.Add(9 * 24 * time.Hour),
		}),
		leader: store.AddUser(models.User{Email: "leader@example.com", Firstname: "Lea"}),
		alice:  store.AddUser(models.User{Email: "alice@example.com", Firstname: "Alice"}),
		bob:    store.AddUser(models.User{Email: "bob@example.com", Firstname: "Bob"}),
	}

	queue := services.NewMailQueue(1, 16, logger)
	t.Cleanup(func() { queue.Stop(time.Second) })

	coord := services.NewCoordinator(services.Deps{
		Store:             store,
		Identity:          store,
		Submissions:       store,
		Payments:          store,
		Mailer:            services.NewLogMailer(logger, "http://localhost:3000"),
		MailQueue:         queue,
		Policy:            config.DefaultInvitationPolicy,
		MailReportTimeout: time.Second,
		Logger:            logger,
	})

	s.router = gin.New()
	RegisterRoutes(s.router.Group("/api/v1"), NewHandler(coord, realtime.NewHub(8, logger), logger), testSecret)
	return s
}

func (s *testServer) token(user models.User, admin bool) string {
	s.t.Helper()
	token, err := middleware.IssueToken(testSecret, user.ID, user.Email, admin, time.Hour)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func (s *testServer) registerTeam(emails ...string) services.BatchResult {
	s.t.Helper()
	w := s.do(http.MethodPost, "/competitions/"+s.comp.ID+"/registrations/team", s.token(s.leader, false),
		TeamRegistrationRequest{TeamName: "Hive Minds", MemberEmails: emails})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var res services.BatchResult
	decode(s.t, w, &res)
	return res
}

// tokenOf reads the invitation token from the store, responses never expose it
func (s *testServer) tokenOf(registrationID, email string) string {
	s.t.Helper()
	invs, err := s.store.ListInvitations(context.Background(), registrationID)
	require.NoError(s.t, err)
	for _, inv := range invs {
		if inv.InviteeEmail == email {
			return inv.Token
		}
	}
	s.t.Fatalf("no invitation for %s", email)
	return ""
}

func TestTeamRegistrationFlow(t *testing.T) {
	s := newTestServer(t)
	res := s.registerTeam(s.alice.Email, s.bob.Email)
	id := res.Registration.ID
	assert.Equal(t, models.StatusPending, res.Registration.Status)
	assert.Len(t, res.Invitations, 2)
	assert.NotContains(t, s.do(http.MethodGet, "/registrations/"+id+"/invitations", s.token(s.leader, false), nil).Body.String(), "token\":")

	w := s.do(http.MethodPost, "/invitations/"+s.tokenOf(id, s.alice.Email)+"/respond", s.token(s.alice, false),
		RespondInvitationRequest{Action: "accept"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Rejecting needs no account
	w = s.do(http.MethodPost, "/invitations/"+s.tokenOf(id, s.bob.Email)+"/respond", "",
		RespondInvitationRequest{Action: "reject"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var answered services.RespondResult
	decode(t, w, &answered)
	assert.True(t, answered.Completed)
	assert.Equal(t, models.StatusConfirmed, answered.Registration.Status)

	w = s.do(http.MethodGet, "/registrations/"+id+"/invitations", s.token(s.alice, false), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view services.InvitationStatusView
	decode(t, w, &view)
	assert.True(t, view.FullyResolved)
	assert.Equal(t, []string{s.alice.ID}, view.Members)
}

func TestInvitationStatusAccess(t *testing.T) {
	s := newTestServer(t)
	res := s.registerTeam(s.alice.Email)
	path := "/registrations/" + res.Registration.ID + "/invitations"

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, s.token(s.bob, false), nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, s.token(s.bob, true), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/registrations/missing/invitations", s.token(s.leader, false), nil).Code)
}

func TestOnlyLeaderManagesRegistration(t *testing.T) {
	s := newTestServer(t)
	res := s.registerTeam(s.alice.Email)
	id := res.Registration.ID

	w := s.do(http.MethodPost, "/registrations/"+id+"/invitations", s.token(s.bob, false),
		InvitationBatchRequest{Emails: []string{"x@example.com"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/registrations/"+id+"/cancel", s.token(s.alice, false), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/registrations/"+id+"/cancel", s.token(s.leader, false), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reg models.Registration
	decode(t, w, &reg)
	assert.Equal(t, models.StatusWithdrawn, reg.Status)
}

func TestCoordinatorErrorsCarryCodes(t *testing.T) {
	s := newTestServer(t)
	res := s.registerTeam(s.alice.Email)

	w := s.do(http.MethodPost, "/registrations/"+res.Registration.ID+"/invitations", s.token(s.leader, false),
		InvitationBatchRequest{Emails: []string{s.alice.Email}})
	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	decode(t, w, &body)
	assert.Equal(t, string(services.CodeAlreadyInvited), body.Code)

	w = s.do(http.MethodPost, "/registrations/"+res.Registration.ID+"/complete", s.token(s.leader, false), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	decode(t, w, &body)
	assert.Equal(t, string(services.CodeInvitationsPending), body.Code)

	w = s.do(http.MethodPost, "/invitations/"+s.tokenOf(res.Registration.ID, s.alice.Email)+"/respond", "",
		RespondInvitationRequest{Action: "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	decode(t, w, &body)
	assert.Equal(t, string(services.CodeInvalidAction), body.Code)

	w = s.do(http.MethodPost, "/invitations/unknown/respond", "", RespondInvitationRequest{Action: "accept"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterTeamRequiresName(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/competitions/"+s.comp.ID+"/registrations/team", s.token(s.leader, false),
		map[string]interface{}{"member_emails": []string{s.alice.Email}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterIndividualAndAdminOverride(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/competitions/"+s.comp.ID+"/registrations/individual", s.token(s.bob, false), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg models.Registration
	decode(t, w, &reg)
	assert.Equal(t, models.StatusConfirmed, reg.Status)

	path := "/registrations/" + reg.ID + "/status"
	assert.Equal(t, http.StatusForbidden,
		s.do(http.MethodPut, path, s.token(s.bob, false), UpdateStatusRequest{Status: models.StatusRejected}).Code)

	w = s.do(http.MethodPut, path, s.token(s.leader, true), UpdateStatusRequest{Status: models.StatusRejected})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	comp, err := s.store.GetCompetition(context.Background(), s.comp.ID)
	require.NoError(t, err)
	assert.Equal(t, comp.TotalSeats, comp.SeatsRemaining)
}

func TestExportRegistrations(t *testing.T) {
	s := newTestServer(t)
	s.registerTeam(s.alice.Email)
	path := "/competitions/" + s.comp.ID + "/registrations/export"

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, s.token(s.leader, false), nil).Code)

	w := s.do(http.MethodGet, path, s.token(s.leader, true), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "registrations-"+s.comp.ID+".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Registration ID", rows[0][0])
	assert.Equal(t, "team", rows[1][1])
	assert.Equal(t, "Hive Minds", rows[1][2])
	assert.Equal(t, s.leader.Email, rows[1][5])
}

func TestSweepRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/admin/invitations/sweep", s.token(s.leader, false), nil).Code)

	w := s.do(http.MethodPost, "/admin/invitations/sweep", s.token(s.leader, true), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result services.SweepResult
	decode(t, w, &result)
	assert.Zero(t, result.Expired)
}
