package v1

import (
	"registrar/handlers/registrations"
	"registrar/middleware"
	"registrar/realtime"
	"registrar/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Deps are the services the v1 endpoints are served from
type Deps struct {
	Coordinator *services.Coordinator
	Hub         *realtime.Hub
	RateLimiter *middleware.RateLimiter
	JWTSecret   string
	Logger      logrus.FieldLogger
}

// Register the endpoints for the v1 API
func Register(r *gin.Engine, deps Deps) {
	v1 := r.Group("/api/v1")

	// Add metrics middleware to all routes
	v1.Use(middleware.MetricsMiddleware())
	if deps.RateLimiter != nil {
		v1.Use(middleware.RateLimiterMiddleware(deps.RateLimiter))
	}

	RegisterPingRoutes(v1)
	registrations.RegisterRoutes(v1, registrations.NewHandler(deps.Coordinator, deps.Hub, deps.Logger), deps.JWTSecret)

	// Register metrics endpoint
	RegisterMetricsRoutes(v1)
}

// RegisterPingRoutes registers the liveness check of the API
func RegisterPingRoutes(r *gin.RouterGroup) {
	r.GET("/ping", ping)
}

// @Summary Ping the API
// @Description Answers pong while the process serves requests
// @Tags App
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ping [get]
func ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
