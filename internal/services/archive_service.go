package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"clinicore/internal/repositories"
)

const archiveBucket = "clinicore-audit-archive"

// ArchiveService exports audit logs to object storage, one JSON object per
// organization per day.
type ArchiveService interface {
	ArchiveAuditLogs(ctx context.Context, day time.Time) error
}

type archiveService struct {
	orgRepo  repositories.OrganizationRepository
	auditSvc AuditLogsService
	minioSvc MinioService
}

func NewArchiveService(orgRepo repositories.OrganizationRepository, auditSvc AuditLogsService, minioSvc MinioService) ArchiveService {
	return &archiveService{
		orgRepo:  orgRepo,
		auditSvc: auditSvc,
		minioSvc: minioSvc,
	}
}

func (s *archiveService) ArchiveAuditLogs(ctx context.Context, day time.Time) error {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	if err := s.minioSvc.EnsureBucketExists(ctx, archiveBucket); err != nil {
		return fmt.Errorf("failed to ensure archive bucket: %w", err)
	}

	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		orgs, err := s.orgRepo.List(ctx, pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list organizations: %w", err)
		}
		if len(orgs) == 0 {
			return nil
		}

		for _, org := range orgs {
			logs, err := s.auditSvc.ListByDateRange(ctx, org.ID, start, end)
			if err != nil {
				log.Printf("WARN: skipping archive for organization %s: %v", org.ID, err)
				continue
			}
			if len(logs) == 0 {
				continue
			}

			data, err := json.Marshal(logs)
			if err != nil {
				log.Printf("WARN: failed to encode archive for organization %s: %v", org.ID, err)
				continue
			}

			objectName := fmt.Sprintf("%s/%s.json", org.ID, start.Format("2006-01-02"))
			if err := s.minioSvc.UploadJSON(ctx, archiveBucket, objectName, data); err != nil {
				log.Printf("WARN: failed to upload archive %s: %v", objectName, err)
			}
		}
	}
}
