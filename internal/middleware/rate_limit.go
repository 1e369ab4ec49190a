package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"clinicore/internal/caching"
	"clinicore/internal/common"
)

// RateLimit caps requests per client IP on the public endpoints using the
// shared redis counter. The counter is keyed per route so bootstrap and
// session establishment have independent budgets. A redis failure counts
// as limited; both routes front provider calls that must not be hammered.
func RateLimit(cacheSvc caching.CacheService, limit int, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Path() + ":" + c.RealIP()
			limited, err := cacheSvc.IsRateLimited(c.Request().Context(), key, limit, window)
			if err != nil {
				c.Logger().Warnf("rate limit check failed for %s: %v", key, err)
				limited = true
			}
			if limited {
				return c.JSON(http.StatusTooManyRequests, common.CreateErrorResponse("RATE_LIMITED", "Too many requests, try again later", nil))
			}
			return next(c)
		}
	}
}
