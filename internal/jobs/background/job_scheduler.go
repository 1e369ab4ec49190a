package background

import (
	"context"
	"log"
	"time"

	"clinicore/internal/models"
	"clinicore/internal/repositories"
	"clinicore/internal/services"

	"github.com/go-co-op/gocron/v2"
)

// Stale PENDING invitations older than this are revoked by the sweeper.
const staleInvitationAge = 30 * 24 * time.Hour

// JobScheduler runs the maintenance jobs: stale-invitation expiry, the
// orphan-candidate report and the daily audit archive.
type JobScheduler struct {
	scheduler      gocron.Scheduler
	invitationRepo repositories.InvitationRepository
	auditSvc       services.AuditLogsService
	archiveSvc     services.ArchiveService
}

func NewJobScheduler(invitationRepo repositories.InvitationRepository, auditSvc services.AuditLogsService, archiveSvc services.ArchiveService) *JobScheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	js := &JobScheduler{
		scheduler:      scheduler,
		invitationRepo: invitationRepo,
		auditSvc:       auditSvc,
		archiveSvc:     archiveSvc,
	}
	js.registerJobs()
	return js
}

func (js *JobScheduler) registerJobs() {
	if _, err := js.scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(js.expireStaleInvitations),
	); err != nil {
		log.Printf("Failed to register invitation expiry job: %v", err)
	}

	if _, err := js.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(4, 0, 0))),
		gocron.NewTask(js.reportOrphanCandidates),
	); err != nil {
		log.Printf("Failed to register orphan candidate report job: %v", err)
	}

	if js.archiveSvc != nil {
		if _, err := js.scheduler.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
			gocron.NewTask(js.archiveAuditLogs),
		); err != nil {
			log.Printf("Failed to register audit archive job: %v", err)
		}
	}
}

func (js *JobScheduler) Start() {
	js.scheduler.Start()
}

func (js *JobScheduler) Stop() {
	if err := js.scheduler.Shutdown(); err != nil {
		log.Printf("Failed to shut down scheduler: %v", err)
	}
}

// expireStaleInvitations revokes PENDING invitations that were never
// accepted. Each expiry leaves an audit entry so operators can see why a
// pending offer disappeared.
func (js *JobScheduler) expireStaleInvitations() {
	ctx := context.Background()
	cutoff := time.Now().Add(-staleInvitationAge)

	stale, err := js.invitationRepo.ListStalePending(ctx, cutoff)
	if err != nil {
		log.Printf("Failed to list stale invitations: %v", err)
		return
	}

	for _, invitation := range stale {
		revoked, err := js.invitationRepo.MarkRevoked(ctx, invitation.OrganizationID, invitation.ID)
		if err != nil {
			log.Printf("Failed to expire invitation %s: %v", invitation.ID, err)
			continue
		}
		if !revoked {
			continue
		}
		if err := js.auditSvc.LogActivity(ctx, invitation.OrganizationID, "user_invitations", invitation.ID.String(),
			models.ActionInvitationExpired, nil, models.JSONB{"status": models.InvitationStatusPending}, models.JSONB{"status": models.InvitationStatusRevoked}); err != nil {
			log.Printf("Failed to record expiry audit entry for %s: %v", invitation.ID, err)
		}
	}
	if len(stale) > 0 {
		log.Printf("Expired %d stale invitations", len(stale))
	}
}

// reportOrphanCandidates lists failed saga compensations from the last day
// so an operator can reconcile the identity provider and the local store by
// hand. Nothing is deleted automatically.
func (js *JobScheduler) reportOrphanCandidates() {
	ctx := context.Background()
	since := time.Now().Add(-24 * time.Hour)

	candidates, err := js.auditSvc.ListRecentByAction(ctx, models.ActionOrphanCandidate, since)
	if err != nil {
		log.Printf("Failed to list orphan candidates: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	log.Printf("Orphan candidate report: %d failed compensations in the last 24h", len(candidates))
	for _, entry := range candidates {
		log.Printf("  org=%s saga=%s detail=%v at=%s", entry.OrganizationID, entry.RecordID, entry.NewValues, entry.CreatedAt.Format(time.RFC3339))
	}
}

func (js *JobScheduler) archiveAuditLogs() {
	ctx := context.Background()
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	if err := js.archiveSvc.ArchiveAuditLogs(ctx, yesterday); err != nil {
		log.Printf("Audit archive run failed: %v", err)
	}
}
