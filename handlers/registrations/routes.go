package registrations

import (
	"registrar/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all routes related to registrations and team invitations
// r: the RouterGroup to which the routes are added
func RegisterRoutes(r *gin.RouterGroup, h *Handler, jwtSecret string) {
	auth := middleware.AuthMiddleware(jwtSecret)

	competitions := r.Group("/competitions")
	competitions.Use(auth)
	{
		competitions.POST("/:id/registrations/individual", h.RegisterIndividual)
		competitions.POST("/:id/registrations/team", h.RegisterTeam)
		competitions.GET("/:id/registrations/export", middleware.RequireAdmin(), h.ExportRegistrations)
	}

	registrations := r.Group("/registrations")
	registrations.Use(auth)
	{
		registrations.POST("/:id/invitations", h.SendInvitations)
		registrations.GET("/:id/invitations", h.GetInvitationStatus)
		registrations.POST("/:id/complete", h.CompleteRegistration)
		registrations.POST("/:id/cancel", h.CancelRegistration)
		registrations.GET("/:id/ws", h.RegistrationWebSocket)

		// Admin routes
		registrations.POST("/:id/reject", middleware.RequireAdmin(), h.RejectRegistration)
		registrations.PUT("/:id/status", middleware.RequireAdmin(), h.UpdateRegistrationStatus)
	}

	// Invitees may reject without an account, accepting needs one
	r.POST("/invitations/:token/respond", middleware.OptionalAuthMiddleware(jwtSecret), h.RespondToInvitation)

	admin := r.Group("/admin")
	admin.Use(auth, middleware.RequireAdmin())
	{
		admin.POST("/invitations/sweep", h.SweepExpiredInvitations)
	}
}
