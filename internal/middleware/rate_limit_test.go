package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"clinicore/internal/models"
)

// stubCache drives IsRateLimited and records the key the middleware built;
// the profile and role methods are never reached from this middleware.
type stubCache struct {
	limited bool
	err     error
	lastKey string
	calls   int
}

func (s *stubCache) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.lastKey = key
	s.calls++
	return s.limited, s.err
}

func (s *stubCache) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return nil, nil
}

func (s *stubCache) SetProfile(ctx context.Context, user *models.User, ttl time.Duration) error {
	return nil
}

func (s *stubCache) InvalidateProfile(ctx context.Context, userID uuid.UUID) error { return nil }

func (s *stubCache) RefreshProfile(ctx context.Context, userID uuid.UUID, ttl time.Duration, load func(context.Context) (*models.User, error)) (*models.User, error) {
	return nil, nil
}

func (s *stubCache) GetActiveRole(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	return "", nil
}

func (s *stubCache) SetActiveRole(ctx context.Context, userID uuid.UUID, role models.Role, ttl time.Duration) error {
	return nil
}

func (s *stubCache) DeleteActiveRole(ctx context.Context, userID uuid.UUID) error { return nil }

func (s *stubCache) Client() *redis.Client { return nil }

func rateLimitedRequest(t *testing.T, cache *stubCache) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.9")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/sessions")

	handler := RateLimit(cache, 5, time.Minute)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	assert.NoError(t, handler(c))
	return rec
}

func TestRateLimit_PassesUnderLimit(t *testing.T) {
	cache := &stubCache{limited: false}

	rec := rateLimitedRequest(t, cache)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cache.calls)
	assert.Equal(t, "/v1/sessions:203.0.113.9", cache.lastKey)
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	cache := &stubCache{limited: true}

	rec := rateLimitedRequest(t, cache)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestRateLimit_CounterFailureClosesEndpoint(t *testing.T) {
	cache := &stubCache{limited: false, err: errors.New("redis down")}

	rec := rateLimitedRequest(t, cache)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
