package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const CurrentAPIVersion = "v1"

// APIVersion stamps every response with the API version derived from
// the request path, falling back to the current version for unversioned
// routes such as /health and /metrics.
func APIVersion() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			version := CurrentAPIVersion
			parts := strings.Split(strings.TrimPrefix(c.Request().URL.Path, "/"), "/")
			if len(parts) > 0 && strings.HasPrefix(parts[0], "v") && len(parts[0]) <= 3 {
				version = parts[0]
			}
			c.Response().Header().Set("X-API-Version", version)
			return next(c)
		}
	}
}
