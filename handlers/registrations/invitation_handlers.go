package registrations

import (
	"net/http"

	"registrar/middleware"
	"registrar/services"
	"registrar/utils/response"

	"github.com/gin-gonic/gin"
)

// SendInvitations invites more members to a pending team
// @Summary Invite members to a team
// @Description Creates one invitation per email. Email delivery is best-effort, failed sends are counted in the response.
// @Tags Invitations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param request body InvitationBatchRequest true "Invitee emails"
// @Success 201 {object} services.BatchResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /registrations/{id}/invitations [post]
// @Security Bearer
func (h *Handler) SendInvitations(c *gin.Context) {
	var req InvitationBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, ErrInvalidRequest+": "+err.Error())
		return
	}

	reg, ok := h.authorizeLeader(c)
	if !ok {
		return
	}

	// The leader is the inviter even when an admin sends on their behalf
	result, err := h.coordinator.SendBatchInvitations(c.Request.Context(), reg.ID, reg.LeaderID, req.Emails)
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetInvitationStatus returns a registration with its invitations
// @Summary Get the invitation status of a registration
// @Description Visible to the leader, the accepted members and admins
// @Tags Invitations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} services.InvitationStatusView
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /registrations/{id}/invitations [get]
// @Security Bearer
func (h *Handler) GetInvitationStatus(c *gin.Context) {
	view, err := h.coordinator.GetInvitationStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	if !canView(middleware.GetClaims(c), view) {
		respondWithError(c, http.StatusForbidden, ErrNoAccess)
		return
	}
	c.JSON(http.StatusOK, view)
}

// RespondToInvitation accepts or rejects an invitation by token
// @Summary Answer an invitation
// @Description Accepting binds the signed in user to the team. The last answer of a team triggers its completion.
// @Tags Invitations
// @Accept json
// @Produce json
// @Param token path string true "Invitation token"
// @Param request body RespondInvitationRequest true "accept or reject"
// @Success 200 {object} services.RespondResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /invitations/{token}/respond [post]
func (h *Handler) RespondToInvitation(c *gin.Context) {
	var req RespondInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, ErrInvalidRequest+": "+err.Error())
		return
	}

	action, err := services.ParseAction(req.Action)
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}

	result, err := h.coordinator.RespondToInvitation(c.Request.Context(), c.Param("token"), action, middleware.GetUserID(c))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SweepExpiredInvitations runs the expiry sweeper on demand
// @Summary Expire overdue invitations
// @Description Expires every pending invitation past its TTL and completes the teams left fully resolved
// @Tags Invitations
// @Produce json
// @Success 200 {object} services.SweepResult
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/invitations/sweep [post]
// @Security Bearer
func (h *Handler) SweepExpiredInvitations(c *gin.Context) {
	result, err := h.coordinator.SweepExpiredInvitations(c.Request.Context())
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func canView(claims *middleware.Claims, view *services.InvitationStatusView) bool {
	if claims == nil {
		return false
	}
	if claims.Admin || claims.UserID == view.LeaderID {
		return true
	}
	for _, member := range view.Members {
		if member == claims.UserID {
			return true
		}
	}
	return false
}
