package services

import (
	"context"
	"log"
	"time"

	"clinicore/internal/caching"
	"clinicore/internal/common"
	"clinicore/internal/models"
	"clinicore/internal/repositories"

	"github.com/google/uuid"
)

const (
	profileCacheTTL = 5 * time.Minute

	// Convergence wait after a role switch. Bounded and cancellable; the
	// caller proceeds anyway when it elapses.
	roleSwitchPollInterval = 120 * time.Millisecond
	roleSwitchPollTimeout  = 1500 * time.Millisecond
)

// SessionService resolves the active role a multi-role user is operating
// under and propagates role switches.
type SessionService interface {
	Profile(ctx context.Context, userID uuid.UUID) (*models.User, []models.Role, error)
	ResolveActiveRole(ctx context.Context, user *models.User, roles []models.Role, pathRole models.Role) models.Role
	SwitchRole(ctx context.Context, userID uuid.UUID, role models.Role) error
	AwaitActiveRole(ctx context.Context, userID uuid.UUID, role models.Role) (bool, error)
}

type sessionService struct {
	userRepo     repositories.UserRepository
	userRoleRepo repositories.UserRoleRepository
	cacheSvc     caching.CacheService
}

func NewSessionService(userRepo repositories.UserRepository, userRoleRepo repositories.UserRoleRepository, cacheSvc caching.CacheService) SessionService {
	return &sessionService{
		userRepo:     userRepo,
		userRoleRepo: userRoleRepo,
		cacheSvc:     cacheSvc,
	}
}

// Profile returns the user and their role set, serving the user from the
// profile cache when possible. Cache refreshes go through a single-flight
// group so concurrent misses for the same user share one store read.
func (s *sessionService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, []models.Role, error) {
	user, err := s.cacheSvc.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("WARN: profile cache read failed for %s: %v", userID, err)
	}
	if user == nil {
		user, err = s.cacheSvc.RefreshProfile(ctx, userID, profileCacheTTL, func(ctx context.Context) (*models.User, error) {
			return s.userRepo.GetByID(ctx, userID)
		})
		if err != nil {
			if repositories.IsNotFound(err) {
				return nil, nil, common.NewNotFoundError("user not found")
			}
			return nil, nil, common.NewInternalError("failed to load profile", err)
		}
	}

	roles, err := s.userRoleRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, common.NewInternalError("failed to load roles", err)
	}
	return user, roles, nil
}

// ResolveActiveRole applies the precedence: a role implied by the requested
// resource path if held, then the stored preference if still held, then the
// first role in the set.
func (s *sessionService) ResolveActiveRole(ctx context.Context, user *models.User, roles []models.Role, pathRole models.Role) models.Role {
	if pathRole != "" && models.HasRole(roles, pathRole) {
		return pathRole
	}
	if user.ActiveRole != nil && models.HasRole(roles, *user.ActiveRole) {
		return *user.ActiveRole
	}
	if cached, err := s.cacheSvc.GetActiveRole(ctx, user.ID); err == nil && cached != "" {
		if models.HasRole(roles, cached) {
			return cached
		}
		// The cached preference points at a role no longer held; drop it
		// so later resolutions skip the lookup.
		if err := s.cacheSvc.DeleteActiveRole(ctx, user.ID); err != nil {
			log.Printf("WARN: failed to drop stale active role for %s: %v", user.ID, err)
		}
	}
	if len(roles) > 0 {
		return roles[0]
	}
	return ""
}

// SwitchRole persists the new active role server-side. Dependent reads
// converge eventually; AwaitActiveRole is the bounded wait for that.
func (s *sessionService) SwitchRole(ctx context.Context, userID uuid.UUID, role models.Role) error {
	if !models.ValidRole(role) {
		return common.NewValidationError("unknown role")
	}

	roles, err := s.userRoleRepo.ListByUser(ctx, userID)
	if err != nil {
		return common.NewInternalError("failed to load roles", err)
	}
	if !models.HasRole(roles, role) {
		return common.NewAuthorizationError("caller does not hold this role")
	}

	if err := s.userRepo.SetActiveRole(ctx, userID, role); err != nil {
		return common.NewInternalError("failed to persist active role", err)
	}

	if err := s.cacheSvc.SetActiveRole(ctx, userID, role, profileCacheTTL); err != nil {
		log.Printf("WARN: failed to cache active role for %s: %v", userID, err)
	}
	if err := s.cacheSvc.InvalidateProfile(ctx, userID); err != nil {
		log.Printf("WARN: failed to invalidate profile cache for %s: %v", userID, err)
	}
	return nil
}

// AwaitActiveRole polls the profile read until it reflects the new active
// role or the bounded window elapses. An elapsed window is not an error;
// callers navigate anyway.
func (s *sessionService) AwaitActiveRole(ctx context.Context, userID uuid.UUID, role models.Role) (bool, error) {
	return common.PollUntil(ctx, roleSwitchPollInterval, roleSwitchPollTimeout, func(ctx context.Context) (bool, error) {
		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return false, nil
			}
			return false, common.NewInternalError("failed to read profile", err)
		}
		return user.ActiveRole != nil && *user.ActiveRole == role, nil
	})
}
