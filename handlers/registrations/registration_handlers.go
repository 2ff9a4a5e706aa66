package registrations

import (
	"net/http"

	"registrar/middleware"
	"registrar/models"
	"registrar/utils/response"

	"github.com/gin-gonic/gin"
)

// RegisterIndividual registers the current user alone
// @Summary Register individually for a competition
// @Description Reserves a seat and creates a confirmed registration for the current user
// @Tags Registrations
// @Produce json
// @Param id path string true "Competition ID"
// @Success 201 {object} models.Registration
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /competitions/{id}/registrations/individual [post]
// @Security Bearer
func (h *Handler) RegisterIndividual(c *gin.Context) {
	reg, err := h.coordinator.RegisterIndividual(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

// RegisterTeam registers a team led by the current user
// @Summary Register a team for a competition
// @Description Creates a pending team registration and sends one invitation per member email, at least one is required. No seat is reserved until completion.
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Competition ID"
// @Param request body TeamRegistrationRequest true "Team name and member emails"
// @Success 201 {object} services.BatchResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /competitions/{id}/registrations/team [post]
// @Security Bearer
func (h *Handler) RegisterTeam(c *gin.Context) {
	var req TeamRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, ErrInvalidRequest+": "+err.Error())
		return
	}

	result, err := h.coordinator.RegisterTeam(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.TeamName, req.MemberEmails)
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// CompleteRegistration confirms a team once every invitation is answered
// @Summary Complete a team registration
// @Description Reserves a seat and confirms a pending registration whose invitations are all resolved
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} models.Registration
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /registrations/{id}/complete [post]
// @Security Bearer
func (h *Handler) CompleteRegistration(c *gin.Context) {
	if _, ok := h.authorizeLeader(c); !ok {
		return
	}

	reg, err := h.coordinator.CompleteRegistration(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// CancelRegistration withdraws a registration
// @Summary Cancel a registration
// @Description Withdraws the registration before the competition starts and gives its seat back
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} models.Registration
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /registrations/{id}/cancel [post]
// @Security Bearer
func (h *Handler) CancelRegistration(c *gin.Context) {
	if _, ok := h.authorizeLeader(c); !ok {
		return
	}

	reg, err := h.coordinator.CancelRegistration(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// RejectRegistration rejects a registration on behalf of the organizers
// @Summary Reject a registration
// @Description Moves an active registration to rejected under the same rules as a cancellation
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} models.Registration
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /registrations/{id}/reject [post]
// @Security Bearer
func (h *Handler) RejectRegistration(c *gin.Context) {
	reg, err := h.coordinator.RejectRegistration(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// UpdateRegistrationStatus is the admin status override
// @Summary Update a registration status
// @Description Entering confirmed reserves a seat, leaving confirmed releases it. The update is refused when the seat operation fails.
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param request body UpdateStatusRequest true "New status"
// @Success 200 {object} models.Registration
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /registrations/{id}/status [put]
// @Security Bearer
func (h *Handler) UpdateRegistrationStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, ErrInvalidRequest+": "+err.Error())
		return
	}

	reg, err := h.coordinator.UpdateRegistrationStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// authorizeLeader loads the registration and checks the current user leads it or is an admin.
// It writes the error response itself.
func (h *Handler) authorizeLeader(c *gin.Context) (*models.Registration, bool) {
	reg, err := h.coordinator.Registration(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return nil, false
	}

	claims := middleware.GetClaims(c)
	if claims == nil || (claims.UserID != reg.LeaderID && !claims.Admin) {
		respondWithError(c, http.StatusForbidden, ErrNotRegistrationLead)
		return nil, false
	}
	return reg, true
}
