package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"clinicore/internal/common"
	"clinicore/internal/middleware"
	"clinicore/internal/models"
	"clinicore/internal/services"
)

const sessionTokenTTL = 12 * time.Hour

// AuthHandlers handles session establishment, profile reads and role
// switching.
type AuthHandlers struct {
	provisioningSvc services.ProvisioningService
	sessionSvc      services.SessionService
	jwtSecret       []byte
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(provisioningSvc services.ProvisioningService, sessionSvc services.SessionService, jwtSecret []byte) *AuthHandlers {
	return &AuthHandlers{
		provisioningSvc: provisioningSvc,
		sessionSvc:      sessionSvc,
		jwtSecret:       jwtSecret,
	}
}

// EstablishSessionRequest carries the identity provider access token when
// it is not sent as a bearer header.
type EstablishSessionRequest struct {
	AccessToken string `json:"access_token"`
}

// SessionResponse is returned by session establishment and role switching.
type SessionResponse struct {
	AccessToken string        `json:"access_token"`
	User        *models.User  `json:"user"`
	Roles       []models.Role `json:"roles"`
	ActiveRole  models.Role   `json:"active_role"`
}

// EstablishSession exchanges a provider-issued token for a platform
// session. First login consumes any pending invitation for the subject's
// email; repeat logins are idempotent.
func (h *AuthHandlers) EstablishSession(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		var req EstablishSessionRequest
		if err := c.Bind(&req); err == nil {
			token = strings.TrimSpace(req.AccessToken)
		}
	}
	if token == "" {
		return common.SendValidationError(c, "access_token", "provider access token is required")
	}

	user, err := h.provisioningSvc.EstablishSession(c.Request().Context(), token)
	if err != nil {
		return common.SendError(c, err)
	}

	return h.respondWithSession(c, http.StatusOK, user.ID, "")
}

// Me returns the caller's profile with the resolved active role. An
// optional role query parameter requests a specific held role for this
// response.
func (h *AuthHandlers) Me(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	pathRole := models.Role(strings.ToUpper(strings.TrimSpace(c.QueryParam("role"))))
	if pathRole != "" && !models.ValidRole(pathRole) {
		return common.SendValidationError(c, "role", "unknown role")
	}

	user, roles, err := h.sessionSvc.Profile(c.Request().Context(), caller.UserID)
	if err != nil {
		return common.SendError(c, err)
	}
	active := h.sessionSvc.ResolveActiveRole(c.Request().Context(), user, roles, pathRole)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":        user,
		"roles":       roles,
		"active_role": active,
	})
}

// SwitchRoleRequest selects a held role as the caller's active role.
type SwitchRoleRequest struct {
	Role models.Role `json:"role"`
}

// SwitchRole persists the caller's active role, waits briefly for the
// change to be readable, and returns a fresh token carrying it. A slow
// store does not fail the switch; converged reports what was observed.
func (h *AuthHandlers) SwitchRole(c echo.Context) error {
	caller, ok := callerFromContext(c)
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	var req SwitchRoleRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "invalid request format")
	}
	if !models.ValidRole(req.Role) {
		return common.SendValidationError(c, "role", "unknown role")
	}

	ctx := c.Request().Context()
	if err := h.sessionSvc.SwitchRole(ctx, caller.UserID, req.Role); err != nil {
		return common.SendError(c, err)
	}

	converged, err := h.sessionSvc.AwaitActiveRole(ctx, caller.UserID, req.Role)
	if err != nil {
		c.Logger().Warnf("active role convergence check failed for %s: %v", caller.UserID, err)
	}
	convergence := "pending"
	if converged {
		convergence = "confirmed"
	}

	return h.respondWithSession(c, http.StatusOK, caller.UserID, convergence)
}

func (h *AuthHandlers) respondWithSession(c echo.Context, status int, userID uuid.UUID, convergence string) error {
	ctx := c.Request().Context()

	user, roles, err := h.sessionSvc.Profile(ctx, userID)
	if err != nil {
		return common.SendError(c, err)
	}
	active := h.sessionSvc.ResolveActiveRole(ctx, user, roles, "")

	token, err := middleware.NewSessionToken(h.jwtSecret, user, roles, active, sessionTokenTTL)
	if err != nil {
		return common.SendError(c, common.NewInternalError("failed to sign session token", err))
	}

	resp := map[string]interface{}{
		"access_token": token,
		"user":         user,
		"roles":        roles,
		"active_role":  active,
	}
	if convergence != "" {
		resp["convergence"] = convergence
	}
	return c.JSON(status, resp)
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
