package repositories

import (
	"context"
	"time"

	"clinicore/internal/models"

	"github.com/google/uuid"
)

type InvitationRepository interface {
	Create(ctx context.Context, invitation *models.UserInvitation) error
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.UserInvitation, error)
	LatestPendingByEmail(ctx context.Context, email string) (*models.UserInvitation, error)
	HasPendingByEmail(ctx context.Context, organizationID uuid.UUID, email string) (bool, error)
	HasPendingByLegalID(ctx context.Context, organizationID uuid.UUID, legalID string) (bool, error)
	CountPendingByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) (int, error)
	MarkAccepted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRevoked(ctx context.Context, organizationID, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOrganization(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]*models.UserInvitation, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.UserInvitation, error)
}

type invitationRepo struct {
	db Database
}

func NewInvitationRepo(db Database) InvitationRepository {
	return &invitationRepo{db: db}
}

const invitationColumns = `id, organization_id, email, role, first_name, last_name, legal_id, date_of_birth, status, token, invited_by, created_at, updated_at`

func scanInvitation(row interface{ Scan(...any) error }) (*models.UserInvitation, error) {
	inv := &models.UserInvitation{}
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.FirstName, &inv.LastName,
		&inv.LegalID, &inv.DateOfBirth, &inv.Status, &inv.Token, &inv.InvitedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invitationRepo) Create(ctx context.Context, invitation *models.UserInvitation) error {
	query := `
		INSERT INTO user_invitations (id, organization_id, email, role, first_name, last_name, legal_id, date_of_birth, status, token, invited_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, invitation.ID, invitation.OrganizationID, invitation.Email, invitation.Role,
		invitation.FirstName, invitation.LastName, invitation.LegalID, invitation.DateOfBirth, invitation.Status,
		invitation.Token, invitation.InvitedBy)
	return err
}

func (r *invitationRepo) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.UserInvitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM user_invitations WHERE organization_id = $1 AND id = $2`
	return scanInvitation(r.db.QueryRow(ctx, query, organizationID, id))
}

func (r *invitationRepo) LatestPendingByEmail(ctx context.Context, email string) (*models.UserInvitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM user_invitations
		WHERE email = $1 AND status = 'PENDING'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanInvitation(r.db.QueryRow(ctx, query, email))
}

func (r *invitationRepo) HasPendingByEmail(ctx context.Context, organizationID uuid.UUID, email string) (bool, error) {
	query := `SELECT COUNT(*) FROM user_invitations WHERE organization_id = $1 AND email = $2 AND status = 'PENDING'`
	var count int
	if err := r.db.QueryRow(ctx, query, organizationID, email).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *invitationRepo) HasPendingByLegalID(ctx context.Context, organizationID uuid.UUID, legalID string) (bool, error) {
	query := `SELECT COUNT(*) FROM user_invitations WHERE organization_id = $1 AND legal_id = $2 AND status = 'PENDING'`
	var count int
	if err := r.db.QueryRow(ctx, query, organizationID, legalID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *invitationRepo) CountPendingByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) (int, error) {
	query := `SELECT COUNT(*) FROM user_invitations WHERE organization_id = $1 AND role = $2 AND status = 'PENDING'`
	var count int
	err := r.db.QueryRow(ctx, query, organizationID, role).Scan(&count)
	return count, err
}

// MarkAccepted flips a PENDING invitation to ACCEPTED. The status guard in
// the WHERE clause makes the terminal transition happen at most once; the
// boolean result reports whether this call performed it.
func (r *invitationRepo) MarkAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE user_invitations SET status = 'ACCEPTED', updated_at = NOW() WHERE id = $1 AND status = 'PENDING'`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *invitationRepo) MarkRevoked(ctx context.Context, organizationID, id uuid.UUID) (bool, error) {
	query := `UPDATE user_invitations SET status = 'REVOKED', updated_at = NOW() WHERE organization_id = $1 AND id = $2 AND status = 'PENDING'`
	tag, err := r.db.Exec(ctx, query, organizationID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *invitationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM user_invitations WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

func (r *invitationRepo) ListByOrganization(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]*models.UserInvitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM user_invitations
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, organizationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []*models.UserInvitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, nil
}

func (r *invitationRepo) ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.UserInvitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM user_invitations
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []*models.UserInvitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, nil
}
