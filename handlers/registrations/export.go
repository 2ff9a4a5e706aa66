package registrations

import (
	"fmt"
	"net/http"
	"strings"

	"registrar/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Registrations"

var exportHeaders = []interface{}{
	"Registration ID", "Type", "Team", "Status", "Invitations",
	"Leader email", "Leader name", "Members", "Pending invitations", "Created at",
}

// ExportRegistrations streams the registrations of a competition as an XLSX file
// @Summary Export the registrations of a competition
// @Description Returns an XLSX workbook with one row per registration
// @Tags Registrations
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Competition ID"
// @Success 200 {file} file
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /competitions/{id}/registrations/export [get]
// @Security Bearer
func (h *Handler) ExportRegistrations(c *gin.Context) {
	comp, rows, err := h.coordinator.ExportRegistrations(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.CoordinatorError(c, h.log, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	// The default workbook comes with Sheet1
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		h.exportFailed(c, err)
		return
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeaders); err != nil {
		h.exportFailed(c, err)
		return
	}

	for i, row := range rows {
		reg := row.Registration
		leaderEmail, leaderName := "", ""
		if row.Leader != nil {
			leaderEmail = row.Leader.Email
			leaderName = strings.TrimSpace(row.Leader.Firstname + " " + row.Leader.Lastname)
		}
		members := make([]string, 0, len(row.Members))
		for _, m := range row.Members {
			if m.Email != "" {
				members = append(members, m.Email)
			} else {
				members = append(members, m.ID)
			}
		}

		values := []interface{}{
			reg.ID, string(reg.Type), reg.TeamName, string(reg.Status), string(reg.InvitationStatus),
			leaderEmail, leaderName, strings.Join(members, ", "), row.Pending,
			reg.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			h.exportFailed(c, err)
			return
		}
	}

	filename := fmt.Sprintf("registrations-%s.xlsx", comp.ID)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		h.log.WithError(err).WithField("competition_id", comp.ID).Error("Failed to write registrations export")
	}
}

func (h *Handler) exportFailed(c *gin.Context, err error) {
	h.log.WithError(err).Error(ErrExportFailed)
	respondWithError(c, http.StatusInternalServerError, ErrExportFailed)
}
