package registrations

import (
	"net/http"

	"registrar/middleware"
	"registrar/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RegistrationWebSocket streams the events of one registration to its leader, members and admins
// @Summary Watch a registration
// @Description Upgrades to a WebSocket that receives a JSON event on every invitation answer, expiry and status change. Pass the token as access_token.
// @Tags Registrations
// @Param id path string true "Registration ID"
// @Param access_token query string false "JWT when the Authorization header cannot be set"
// @Success 101
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /registrations/{id}/ws [get]
// @Security Bearer
func (h *Handler) RegistrationWebSocket(c *gin.Context) {
	registrationID := c.Param("id")

	view, err := h.coordinator.GetInvitationStatus(c.Request.Context(), registrationID)
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}
	if !canView(middleware.GetClaims(c), view) {
		respondWithError(c, http.StatusForbidden, ErrNoAccess)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	h.hub.Register(registrationID, conn)
	defer func() {
		h.hub.Unregister(registrationID, conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.log.WithError(err).Debug("WebSocket closed")
			break
		}
	}
}
