package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinicore/internal/models"

	"github.com/google/uuid"
)

type AuditLogsRepository interface {
	Create(ctx context.Context, auditLog *models.AuditLog) error
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.AuditLog, error)
	List(ctx context.Context, organizationID uuid.UUID, filters *models.AuditLogFilters) ([]*models.AuditLog, error)
	ListByDateRange(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]*models.AuditLog, error)
	ListByAction(ctx context.Context, action string, since time.Time) ([]*models.AuditLog, error)
}

type auditLogsRepo struct {
	db Database
}

func NewAuditLogsRepo(db Database) AuditLogsRepository {
	return &auditLogsRepo{db: db}
}

func (r *auditLogsRepo) Create(ctx context.Context, auditLog *models.AuditLog) error {
	if auditLog.ID == uuid.Nil {
		auditLog.ID = uuid.New()
	}

	var newValuesBytes, oldValuesBytes []byte
	var err error
	if auditLog.NewValues != nil {
		newValuesBytes, err = json.Marshal(auditLog.NewValues)
		if err != nil {
			return fmt.Errorf("failed to marshal new_values: %w", err)
		}
	}
	if auditLog.OldValues != nil {
		oldValuesBytes, err = json.Marshal(auditLog.OldValues)
		if err != nil {
			return fmt.Errorf("failed to marshal old_values: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (id, organization_id, table_name, record_id, action, new_values, old_values, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err = r.db.Exec(ctx, query, auditLog.ID, auditLog.OrganizationID, auditLog.TableName, auditLog.RecordID,
		auditLog.Action, newValuesBytes, oldValuesBytes, auditLog.ChangedBy)
	return err
}

func (r *auditLogsRepo) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.AuditLog, error) {
	query := `
		SELECT id, organization_id, table_name, record_id, action, new_values, old_values, changed_by, created_at
		FROM audit_logs
		WHERE organization_id = $1 AND id = $2
	`
	return scanAuditLog(r.db.QueryRow(ctx, query, organizationID, id))
}

func (r *auditLogsRepo) List(ctx context.Context, organizationID uuid.UUID, filters *models.AuditLogFilters) ([]*models.AuditLog, error) {
	query := `
		SELECT id, organization_id, table_name, record_id, action, new_values, old_values, changed_by, created_at
		FROM audit_logs
		WHERE organization_id = $1
	`
	args := []any{organizationID}

	if filters != nil {
		if filters.TableName != nil {
			args = append(args, *filters.TableName)
			query += fmt.Sprintf(" AND table_name = $%d", len(args))
		}
		if filters.RecordID != nil {
			args = append(args, *filters.RecordID)
			query += fmt.Sprintf(" AND record_id = $%d", len(args))
		}
		if filters.Action != nil {
			args = append(args, *filters.Action)
			query += fmt.Sprintf(" AND action = $%d", len(args))
		}
		if filters.ChangedBy != nil {
			args = append(args, *filters.ChangedBy)
			query += fmt.Sprintf(" AND changed_by = $%d", len(args))
		}
		if filters.StartDate != nil {
			args = append(args, *filters.StartDate)
			query += fmt.Sprintf(" AND created_at >= $%d", len(args))
		}
		if filters.EndDate != nil {
			args = append(args, *filters.EndDate)
			query += fmt.Sprintf(" AND created_at <= $%d", len(args))
		}
	}

	limit, offset := 100, 0
	if filters != nil {
		if filters.Limit > 0 {
			limit = filters.Limit
		}
		if filters.Offset > 0 {
			offset = filters.Offset
		}
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (r *auditLogsRepo) ListByDateRange(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]*models.AuditLog, error) {
	query := `
		SELECT id, organization_id, table_name, record_id, action, new_values, old_values, changed_by, created_at
		FROM audit_logs
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, organizationID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// ListByAction queries across organizations; it backs operator reports
// rather than tenant-facing endpoints.
func (r *auditLogsRepo) ListByAction(ctx context.Context, action string, since time.Time) ([]*models.AuditLog, error) {
	query := `
		SELECT id, organization_id, table_name, record_id, action, new_values, old_values, changed_by, created_at
		FROM audit_logs
		WHERE action = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, action, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func scanAuditLog(row interface{ Scan(...any) error }) (*models.AuditLog, error) {
	entry := &models.AuditLog{}
	var newValuesBytes, oldValuesBytes []byte
	err := row.Scan(&entry.ID, &entry.OrganizationID, &entry.TableName, &entry.RecordID, &entry.Action,
		&newValuesBytes, &oldValuesBytes, &entry.ChangedBy, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(newValuesBytes) > 0 {
		if err := json.Unmarshal(newValuesBytes, &entry.NewValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new_values: %w", err)
		}
	}
	if len(oldValuesBytes) > 0 {
		if err := json.Unmarshal(oldValuesBytes, &entry.OldValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal old_values: %w", err)
		}
	}
	return entry, nil
}
