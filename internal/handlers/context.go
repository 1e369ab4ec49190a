package handlers

import (
	"github.com/labstack/echo/v4"

	"clinicore/internal/common"
	"clinicore/internal/services"
)

// callerFromContext rebuilds the service-level caller identity from the
// values the JWT middleware placed on the request context.
func callerFromContext(c echo.Context) (services.Caller, bool) {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return services.Caller{}, false
	}
	roles, ok := common.GetRolesFromContext(ctx)
	if !ok {
		return services.Caller{}, false
	}

	caller := services.Caller{UserID: userID, Roles: roles}
	if orgID, ok := common.GetOrganizationIDFromContext(ctx); ok {
		caller.OrganizationID = &orgID
	}
	return caller, true
}
