package repositories

import (
	"context"

	"clinicore/internal/models"

	"github.com/google/uuid"
)

type UserRoleRepository interface {
	Create(ctx context.Context, userID uuid.UUID, role models.Role) error
	Delete(ctx context.Context, userID uuid.UUID, role models.Role) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Role, error)
}

type userRoleRepo struct {
	db Database
}

func NewUserRoleRepo(db Database) UserRoleRepository {
	return &userRoleRepo{db: db}
}

func (r *userRoleRepo) Create(ctx context.Context, userID uuid.UUID, role models.Role) error {
	query := `
		INSERT INTO user_roles (id, user_id, role, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, role) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, uuid.New(), userID, role)
	return err
}

func (r *userRoleRepo) Delete(ctx context.Context, userID uuid.UUID, role models.Role) error {
	query := `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`
	_, err := r.db.Exec(ctx, query, userID, role)
	return err
}

func (r *userRoleRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Role, error) {
	query := `
		SELECT role
		FROM user_roles
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}
