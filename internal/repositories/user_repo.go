package repositories

import (
	"context"

	"clinicore/internal/models"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByLegalID(ctx context.Context, legalID string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOrganization(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]*models.User, error)
	ListActiveByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) ([]*models.User, error)
	ListActivePurePsychologists(ctx context.Context, organizationID uuid.UUID) ([]*models.User, error)
	CountNonDeletedByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) (int, error)
	SetAssignedPsychologist(ctx context.Context, patientID uuid.UUID, psychologistID *uuid.UUID) error
	SetActiveRole(ctx context.Context, userID uuid.UUID, role models.Role) error
	CaseloadByPsychologist(ctx context.Context, organizationID uuid.UUID) (map[uuid.UUID]int, error)
}

type userRepo struct {
	db Database
}

func NewUserRepo(db Database) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, organization_id, email, legal_id, first_name, last_name, date_of_birth, status, assigned_psychologist_id, is_psychologist, active_role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.OrganizationID, &user.Email, &user.LegalID, &user.FirstName, &user.LastName,
		&user.DateOfBirth, &user.Status, &user.AssignedPsychologistID, &user.IsPsychologist, &user.ActiveRole,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, organization_id, email, legal_id, first_name, last_name, date_of_birth, status, assigned_psychologist_id, is_psychologist, active_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, user.ID, user.OrganizationID, user.Email, user.LegalID, user.FirstName,
		user.LastName, user.DateOfBirth, user.Status, user.AssignedPsychologistID, user.IsPsychologist, user.ActiveRole)
	return err
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *userRepo) GetByLegalID(ctx context.Context, legalID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE legal_id = $1`
	return scanUser(r.db.QueryRow(ctx, query, legalID))
}

func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET organization_id = $1, first_name = $2, last_name = $3, date_of_birth = $4, status = $5,
		    assigned_psychologist_id = $6, is_psychologist = $7, active_role = $8, updated_at = NOW()
		WHERE id = $9
	`
	_, err := r.db.Exec(ctx, query, user.OrganizationID, user.FirstName, user.LastName, user.DateOfBirth,
		user.Status, user.AssignedPsychologistID, user.IsPsychologist, user.ActiveRole, user.ID)
	return err
}

func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *userRepo) ListByOrganization(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, organizationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *userRepo) ListActiveByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.organization_id = $1 AND u.status = 'ACTIVE'
		AND EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = u.id AND ur.role = $2)
		ORDER BY u.created_at ASC
	`
	rows, err := r.db.Query(ctx, query, organizationID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListActivePurePsychologists returns ACTIVE psychologists holding no
// administrative role. Only these receive a caseload during redistribution.
func (r *userRepo) ListActivePurePsychologists(ctx context.Context, organizationID uuid.UUID) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.organization_id = $1 AND u.status = 'ACTIVE'
		AND EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = u.id AND ur.role = 'PSYCHOLOGIST')
		AND NOT EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = u.id AND ur.role IN ('ADMIN', 'OWNER', 'SUPERADMIN'))
		ORDER BY u.created_at ASC
	`
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// CountNonDeletedByRole counts users holding the role whose status is
// anything but DELETED. Quota checks count suspended and inactive members
// against the cap.
func (r *userRepo) CountNonDeletedByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.organization_id = $1 AND ur.role = $2 AND u.status != 'DELETED'
	`
	var count int
	err := r.db.QueryRow(ctx, query, organizationID, role).Scan(&count)
	return count, err
}

func (r *userRepo) SetAssignedPsychologist(ctx context.Context, patientID uuid.UUID, psychologistID *uuid.UUID) error {
	query := `UPDATE users SET assigned_psychologist_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, psychologistID, patientID)
	return err
}

func (r *userRepo) SetActiveRole(ctx context.Context, userID uuid.UUID, role models.Role) error {
	query := `UPDATE users SET active_role = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, role, userID)
	return err
}

// CaseloadByPsychologist recomputes per-psychologist patient counts from the
// store, not from any in-memory plan, so writes that did not apply surface.
func (r *userRepo) CaseloadByPsychologist(ctx context.Context, organizationID uuid.UUID) (map[uuid.UUID]int, error) {
	query := `
		SELECT assigned_psychologist_id, COUNT(*)
		FROM users
		WHERE organization_id = $1 AND assigned_psychologist_id IS NOT NULL
		GROUP BY assigned_psychologist_id
	`
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	caseloads := make(map[uuid.UUID]int)
	for rows.Next() {
		var psychologistID uuid.UUID
		var count int
		if err := rows.Scan(&psychologistID, &count); err != nil {
			return nil, err
		}
		caseloads[psychologistID] = count
	}
	return caseloads, nil
}

func collectUsers(rows interface {
	Next() bool
	Scan(...any) error
}) ([]*models.User, error) {
	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}
