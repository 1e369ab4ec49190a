package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"clinicore/internal/common"
	"clinicore/internal/services"
)

// AssignmentHandlers handles patient to psychologist assignment requests
type AssignmentHandlers struct {
	assignmentSvc services.AssignmentService
}

// NewAssignmentHandlers creates a new assignment handlers instance
func NewAssignmentHandlers(assignmentSvc services.AssignmentService) *AssignmentHandlers {
	return &AssignmentHandlers{assignmentSvc: assignmentSvc}
}

// AssignRequest names the psychologist receiving the patient.
type AssignRequest struct {
	PsychologistID string `json:"psychologist_id"`
}

// Assign links a patient to a psychologist in the caller's organization.
func (h *AssignmentHandlers) Assign(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	patientID, err := common.ValidateUUID(c.Param("id"), "patient id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	var req AssignRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	psychologistID, err := common.ValidateUUID(req.PsychologistID, "psychologist id")
	if err != nil {
		return common.SendValidationError(c, "psychologist_id", err.Error())
	}

	if err := h.assignmentSvc.Assign(c.Request().Context(), caller, patientID, psychologistID); err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"patient_id":      patientID.String(),
		"psychologist_id": psychologistID.String(),
	})
}

// Unassign clears a patient's psychologist assignment.
func (h *AssignmentHandlers) Unassign(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	patientID, err := common.ValidateUUID(c.Param("id"), "patient id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	if err := h.assignmentSvc.Unassign(c.Request().Context(), caller, patientID); err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"patient_id": patientID.String()})
}
