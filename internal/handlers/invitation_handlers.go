package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"clinicore/internal/common"
	"clinicore/internal/models"
	"clinicore/internal/repositories"
	"clinicore/internal/services"
)

// InvitationHandlers handles member invitation requests
type InvitationHandlers struct {
	provisioningSvc services.ProvisioningService
	invitationRepo  repositories.InvitationRepository
}

// NewInvitationHandlers creates a new invitation handlers instance
func NewInvitationHandlers(provisioningSvc services.ProvisioningService, invitationRepo repositories.InvitationRepository) *InvitationHandlers {
	return &InvitationHandlers{
		provisioningSvc: provisioningSvc,
		invitationRepo:  invitationRepo,
	}
}

// CreateInvitationRequest is the payload for inviting a member into the
// caller's organization.
type CreateInvitationRequest struct {
	Email       string  `json:"email"`
	Role        string  `json:"role"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	LegalID     *string `json:"legal_id"`
	DateOfBirth *string `json:"date_of_birth"`
}

// CreateInvitation invites a member. Quota and duplicate checks run before
// any write; the provider email is part of the saga and failures roll the
// invitation row back.
func (h *InvitationHandlers) CreateInvitation(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	var req CreateInvitationRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}

	var dob *time.Time
	if req.DateOfBirth != nil && *req.DateOfBirth != "" {
		parsed, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			return common.SendValidationError(c, "date_of_birth", "must be a date in YYYY-MM-DD format")
		}
		dob = &parsed
	}

	result, err := h.provisioningSvc.CreateInvitation(c.Request().Context(), caller, &services.InvitationRequest{
		Email:       req.Email,
		Role:        models.Role(req.Role),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		LegalID:     req.LegalID,
		DateOfBirth: dob,
	})
	if err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// RevokeInvitation marks a pending invitation revoked. Accepted or already
// revoked invitations report not found; the transition is terminal once.
func (h *InvitationHandlers) RevokeInvitation(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	invitationID, err := common.ValidateUUID(c.Param("id"), "invitation id")
	if err != nil {
		return common.SendValidationError(c, "id", err.Error())
	}

	if err := h.provisioningSvc.RevokeInvitation(c.Request().Context(), caller, invitationID); err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": models.InvitationStatusRevoked})
}

// ListInvitations returns the caller organization's invitations, newest
// first.
func (h *InvitationHandlers) ListInvitations(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok || caller.OrganizationID == nil {
		return common.SendUnauthorizedError(c)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset = common.ValidatePaginationParams(limit, offset)

	invitations, err := h.invitationRepo.ListByOrganization(c.Request().Context(), *caller.OrganizationID, limit, offset)
	if err != nil {
		return common.SendError(c, common.NewInternalError("failed to list invitations", err))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"invitations": invitations,
		"limit":       limit,
		"offset":      offset,
	})
}
