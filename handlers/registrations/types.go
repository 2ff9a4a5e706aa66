package registrations

import (
	"registrar/models"
	"registrar/realtime"
	"registrar/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Error messages of the registration endpoints
const (
	ErrInvalidRequest      = "Invalid request data"
	ErrNotRegistrationLead = "Only the team leader can manage this registration"
	ErrNoAccess            = "User does not have access to this registration"
	ErrExportFailed        = "Failed to export registrations"
)

// TeamRegistrationRequest model for registering a team
type TeamRegistrationRequest struct {
	TeamName     string   `json:"team_name" binding:"required"`
	MemberEmails []string `json:"member_emails"`
}

// InvitationBatchRequest model for inviting members to a team
type InvitationBatchRequest struct {
	Emails []string `json:"emails"`
}

// RespondInvitationRequest model for answering an invitation
type RespondInvitationRequest struct {
	Action string `json:"action" binding:"required" example:"accept"`
}

// UpdateStatusRequest model for the admin status override
type UpdateStatusRequest struct {
	Status models.RegistrationStatus `json:"status" binding:"required" example:"confirmed"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Handler serves the registration and invitation endpoints
type Handler struct {
	coordinator *services.Coordinator
	hub         *realtime.Hub
	log         logrus.FieldLogger
}

func NewHandler(coordinator *services.Coordinator, hub *realtime.Hub, logger logrus.FieldLogger) *Handler {
	return &Handler{
		coordinator: coordinator,
		hub:         hub,
		log:         logger.WithField("component", "registrations_http"),
	}
}

func respondWithError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
