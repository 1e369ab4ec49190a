package caching

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"clinicore/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

type CacheService interface {
	// Profile caching
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error)
	SetProfile(ctx context.Context, user *models.User, ttl time.Duration) error
	InvalidateProfile(ctx context.Context, userID uuid.UUID) error
	// RefreshProfile loads a profile through the single-flight group: one
	// concurrent loader per user id, everyone else shares its result.
	RefreshProfile(ctx context.Context, userID uuid.UUID, ttl time.Duration, load func(context.Context) (*models.User, error)) (*models.User, error)

	// Active role
	GetActiveRole(ctx context.Context, userID uuid.UUID) (models.Role, error)
	SetActiveRole(ctx context.Context, userID uuid.UUID, role models.Role, ttl time.Duration) error
	DeleteActiveRole(ctx context.Context, userID uuid.UUID) error

	// Rate limiting
	IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Client exposes the underlying connection for health checks.
	Client() *redis.Client
}

type redisCacheService struct {
	client *redis.Client
	group  singleflight.Group
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Printf("WARN: Redis ping failed on initialization: %v (address: %s)", pingErr, parsedAddr)
	}

	return &redisCacheService{client: client}
}

func (r *redisCacheService) Client() *redis.Client {
	return r.client
}

func profileKey(userID uuid.UUID) string {
	return fmt.Sprintf("clinicore:profile:%s", userID.String())
}

func activeRoleKey(userID uuid.UUID) string {
	return fmt.Sprintf("clinicore:active_role:%s", userID.String())
}

func (r *redisCacheService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	data, err := r.client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *redisCacheService) SetProfile(ctx context.Context, user *models.User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, profileKey(user.ID), data, ttl).Err()
}

func (r *redisCacheService) InvalidateProfile(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, profileKey(userID)).Err()
}

func (r *redisCacheService) RefreshProfile(ctx context.Context, userID uuid.UUID, ttl time.Duration, load func(context.Context) (*models.User, error)) (*models.User, error) {
	result, err, _ := r.group.Do(userID.String(), func() (interface{}, error) {
		user, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if cacheErr := r.SetProfile(ctx, user, ttl); cacheErr != nil {
			log.Printf("WARN: Failed to cache profile %s: %v", userID, cacheErr)
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.User), nil
}

func (r *redisCacheService) GetActiveRole(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	val, err := r.client.Get(ctx, activeRoleKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // not set
		}
		return "", err
	}
	return models.Role(val), nil
}

func (r *redisCacheService) SetActiveRole(ctx context.Context, userID uuid.UUID, role models.Role, ttl time.Duration) error {
	return r.client.Set(ctx, activeRoleKey(userID), string(role), ttl).Err()
}

func (r *redisCacheService) DeleteActiveRole(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, activeRoleKey(userID)).Err()
}

func (r *redisCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	cacheKey := fmt.Sprintf("clinicore:ratelimit:%s", key)
	count, err := r.client.Incr(ctx, cacheKey).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		r.client.Expire(ctx, cacheKey, window)
	}
	return count > int64(limit), nil
}
