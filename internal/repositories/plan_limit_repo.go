package repositories

import (
	"context"

	"clinicore/internal/models"

	"github.com/google/uuid"
)

type PlanLimitRepository interface {
	GetByOrganization(ctx context.Context, organizationID uuid.UUID) (*models.PlanLimit, error)
	Upsert(ctx context.Context, limit *models.PlanLimit) error
}

type planLimitRepo struct {
	db Database
}

func NewPlanLimitRepo(db Database) PlanLimitRepository {
	return &planLimitRepo{db: db}
}

// GetByOrganization returns nil without error when no override row exists;
// the quota validator falls back to the plan defaults.
func (r *planLimitRepo) GetByOrganization(ctx context.Context, organizationID uuid.UUID) (*models.PlanLimit, error) {
	limit := &models.PlanLimit{}
	query := `
		SELECT organization_id, assistants_max, created_at, updated_at
		FROM plan_limits
		WHERE organization_id = $1
	`
	err := r.db.QueryRow(ctx, query, organizationID).Scan(&limit.OrganizationID, &limit.AssistantsMax, &limit.CreatedAt, &limit.UpdatedAt)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return limit, nil
}

func (r *planLimitRepo) Upsert(ctx context.Context, limit *models.PlanLimit) error {
	query := `
		INSERT INTO plan_limits (organization_id, assistants_max, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (organization_id) DO UPDATE SET assistants_max = $2, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, limit.OrganizationID, limit.AssistantsMax)
	return err
}
