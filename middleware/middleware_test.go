package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	claims := GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusOK, gin.H{"user_id": ""})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID, "admin": claims.Admin})
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.GET("/private", AuthMiddleware(secret), whoami)
	r.GET("/admin", AuthMiddleware(secret), RequireAdmin(), whoami)
	r.GET("/public", OptionalAuthMiddleware(secret), whoami)
	return r
}

func get(t *testing.T, r http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func issue(t *testing.T, userID string, admin bool, ttl time.Duration) string {
	t.Helper()
	token, err := IssueToken(secret, userID, userID+"@example.com", admin, ttl)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter()

	w := get(t, r, "/private", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authorization header is required")

	w = get(t, r, "/private", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid token")

	w = get(t, r, "/private", issue(t, "user-1", false, -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Token expired")

	forged, err := IssueToken("other-secret", "user-1", "", false, time.Hour)
	require.NoError(t, err)
	w = get(t, r, "/private", forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(t, r, "/private", issue(t, "user-1", false, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"user-1"`)
}

func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	r := newRouter()
	w := get(t, r, "/private?access_token="+issue(t, "user-2", false, time.Hour), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"user-2"`)
}

func TestRequireAdmin(t *testing.T) {
	r := newRouter()

	w := get(t, r, "/admin", issue(t, "user-1", false, time.Hour))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(t, r, "/admin", issue(t, "root", true, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"admin":true`)
}

func TestOptionalAuthMiddleware(t *testing.T) {
	r := newRouter()

	w := get(t, r, "/public", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":""`)

	// A bad token degrades to anonymous
	w = get(t, r, "/public", "garbage")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":""`)

	w = get(t, r, "/public", issue(t, "user-3", false, time.Hour))
	assert.Contains(t, w.Body.String(), `"user_id":"user-3"`)
}

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "buckets are per ip")

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	now = now.Add(time.Hour)
	rl.forgetIdle(10 * time.Minute)
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	r := gin.New()
	r.Use(RateLimiterMiddleware(rl))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(t, r, "/ping", "").Code)
	w := get(t, r, "/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
