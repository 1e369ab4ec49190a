package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"clinicore/internal/common"
	"clinicore/internal/models"
	"clinicore/internal/services"
)

// OrganizationHandlers handles organization bootstrap and bulk caseload
// redistribution.
type OrganizationHandlers struct {
	provisioningSvc services.ProvisioningService
	assignmentSvc   services.AssignmentService
}

// NewOrganizationHandlers creates a new organization handlers instance
func NewOrganizationHandlers(provisioningSvc services.ProvisioningService, assignmentSvc services.AssignmentService) *OrganizationHandlers {
	return &OrganizationHandlers{
		provisioningSvc: provisioningSvc,
		assignmentSvc:   assignmentSvc,
	}
}

// BootstrapRequest is the public signup payload: a new organization and
// its owner account in one call.
type BootstrapRequest struct {
	OrganizationName    string `json:"organization_name"`
	OrganizationLegalID string `json:"organization_legal_id"`
	Plan                string `json:"plan"`
	Email               string `json:"email"`
	Password            string `json:"password"`
	FirstName           string `json:"first_name"`
	LastName            string `json:"last_name"`
	LegalID             string `json:"legal_id"`
	DateOfBirth         string `json:"date_of_birth"`
	IsPsychologist      bool   `json:"is_psychologist"`
}

// Bootstrap handles organization signup. This route is unauthenticated;
// everything is validated before the first write and partial failures are
// compensated by the provisioning saga.
func (h *OrganizationHandlers) Bootstrap(c echo.Context) error {
	var req BootstrapRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		return common.SendValidationError(c, "date_of_birth", "must be a date in YYYY-MM-DD format")
	}

	result, err := h.provisioningSvc.BootstrapOrganization(c.Request().Context(), &services.BootstrapRequest{
		OrganizationName:    req.OrganizationName,
		OrganizationLegalID: req.OrganizationLegalID,
		Plan:                models.Plan(req.Plan),
		Email:               req.Email,
		Password:            req.Password,
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		LegalID:             req.LegalID,
		DateOfBirth:         dob,
		IsPsychologist:      req.IsPsychologist,
	})
	if err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// RedistributeRequest guards the bulk rewrite behind an explicit flag.
type RedistributeRequest struct {
	Confirm bool `json:"confirm"`
}

// Redistribute rebalances every patient in the organization across its
// active pure-clinician psychologists. The operation rewrites all
// assignments, so it refuses to run without confirm set.
func (h *OrganizationHandlers) Redistribute(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	orgID, err := common.ValidateUUID(c.Param("id"), "organization id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	var req RedistributeRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	if !req.Confirm {
		return common.SendValidationError(c, "confirm", "redistribution rewrites every assignment; set confirm to true")
	}

	summary, err := h.assignmentSvc.Redistribute(c.Request().Context(), caller, orgID)
	if err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusOK, summary)
}
