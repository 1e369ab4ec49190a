package services

import (
	"context"
	"errors"
	"time"

	"clinicore/internal/models"
	"clinicore/internal/repositories"

	"github.com/google/uuid"
)

type AuditLogsService interface {
	LogActivity(ctx context.Context, organizationID uuid.UUID, tableName, recordID, action string, changedBy *uuid.UUID, oldValues, newValues models.JSONB) error
	GetAuditLog(ctx context.Context, organizationID, auditLogID uuid.UUID) (*models.AuditLog, error)
	ListAuditLogs(ctx context.Context, organizationID uuid.UUID, filters *models.AuditLogFilters) ([]*models.AuditLog, error)
	ListByDateRange(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]*models.AuditLog, error)
	ListRecentByAction(ctx context.Context, action string, since time.Time) ([]*models.AuditLog, error)
}

type auditLogsService struct {
	auditLogsRepo repositories.AuditLogsRepository
}

func NewAuditLogsService(auditLogsRepo repositories.AuditLogsRepository) AuditLogsService {
	return &auditLogsService{
		auditLogsRepo: auditLogsRepo,
	}
}

func (s *auditLogsService) LogActivity(ctx context.Context, organizationID uuid.UUID, tableName, recordID, action string, changedBy *uuid.UUID, oldValues, newValues models.JSONB) error {
	if tableName == "" {
		return errors.New("table_name is required")
	}
	if action == "" {
		return errors.New("action is required")
	}

	entry := &models.AuditLog{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		TableName:      tableName,
		RecordID:       recordID,
		Action:         action,
		OldValues:      oldValues,
		NewValues:      newValues,
		ChangedBy:      changedBy,
	}
	return s.auditLogsRepo.Create(ctx, entry)
}

func (s *auditLogsService) GetAuditLog(ctx context.Context, organizationID, auditLogID uuid.UUID) (*models.AuditLog, error) {
	return s.auditLogsRepo.GetByID(ctx, organizationID, auditLogID)
}

func (s *auditLogsService) ListAuditLogs(ctx context.Context, organizationID uuid.UUID, filters *models.AuditLogFilters) ([]*models.AuditLog, error) {
	return s.auditLogsRepo.List(ctx, organizationID, filters)
}

func (s *auditLogsService) ListByDateRange(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]*models.AuditLog, error) {
	return s.auditLogsRepo.ListByDateRange(ctx, organizationID, start, end)
}

func (s *auditLogsService) ListRecentByAction(ctx context.Context, action string, since time.Time) ([]*models.AuditLog, error) {
	return s.auditLogsRepo.ListByAction(ctx, action, since)
}
