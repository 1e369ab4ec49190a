package repositories

import (
	"context"

	"clinicore/internal/models"

	"github.com/google/uuid"
)

type OrganizationRepository interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetByLegalID(ctx context.Context, legalID string) (*models.Organization, error)
	Update(ctx context.Context, org *models.Organization) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*models.Organization, error)
}

type organizationRepo struct {
	db Database
}

func NewOrganizationRepo(db Database) OrganizationRepository {
	return &organizationRepo{db: db}
}

func (r *organizationRepo) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, name, legal_id, plan, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, org.ID, org.Name, org.LegalID, org.Plan, org.Status)
	return err
}

func (r *organizationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	org := &models.Organization{}
	query := `
		SELECT id, name, legal_id, plan, status, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&org.ID, &org.Name, &org.LegalID, &org.Plan, &org.Status, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (r *organizationRepo) GetByLegalID(ctx context.Context, legalID string) (*models.Organization, error) {
	org := &models.Organization{}
	query := `
		SELECT id, name, legal_id, plan, status, created_at, updated_at
		FROM organizations
		WHERE legal_id = $1
	`
	err := r.db.QueryRow(ctx, query, legalID).Scan(&org.ID, &org.Name, &org.LegalID, &org.Plan, &org.Status, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (r *organizationRepo) Update(ctx context.Context, org *models.Organization) error {
	query := `
		UPDATE organizations
		SET name = $1, legal_id = $2, plan = $3, status = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := r.db.Exec(ctx, query, org.Name, org.LegalID, org.Plan, org.Status, org.ID)
	return err
}

func (r *organizationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM organizations WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *organizationRepo) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	query := `
		SELECT id, name, legal_id, plan, status, created_at, updated_at
		FROM organizations
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org := &models.Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.LegalID, &org.Plan, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}
