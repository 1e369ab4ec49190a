package middleware

import (
	"github.com/labstack/echo/v4"

	"clinicore/internal/common"
	"clinicore/internal/models"
)

// RequireAnyRole rejects the request with 403 unless the caller holds
// at least one of the given roles. Authorization is decided on the full
// role set, not the active role, so an owner browsing as PSYCHOLOGIST
// keeps access to administrative routes.
func RequireAnyRole(required ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles, ok := common.GetRolesFromContext(c.Request().Context())
			if !ok {
				return common.SendUnauthorizedError(c)
			}
			if !models.HasAnyRole(roles, required...) {
				return common.SendError(c, common.NewAuthorizationError("insufficient role for this operation"))
			}
			return next(c)
		}
	}
}
