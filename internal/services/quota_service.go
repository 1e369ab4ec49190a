package services

import (
	"context"

	"clinicore/internal/common"
	"clinicore/internal/models"
	"clinicore/internal/repositories"
)

// QuotaCounts are the current occupancy numbers a quota decision is made
// over. Pending invitations count against the cap so a burst of concurrent
// invitations cannot exceed it before any is accepted; user counts exclude
// only DELETED status.
type QuotaCounts struct {
	Assistants                 int
	PendingAssistantInvites    int
	Psychologists              int
	PendingPsychologistInvites int
}

// ValidateQuota is the pure allow/deny rule over plan, overrides and counts.
// SOLO ignores overrides entirely: one assistant, one psychologist. TEAM caps
// assistants at the override (default 99) and never caps psychologists.
func ValidateQuota(plan models.Plan, limits *models.PlanLimit, role models.Role, counts QuotaCounts) error {
	switch role {
	case models.RoleAssistant:
		max := 1
		if plan == models.PlanTeam {
			max = models.DefaultTeamAssistantsMax
			if limits != nil && limits.AssistantsMax != nil {
				max = *limits.AssistantsMax
			}
		}
		if counts.Assistants+counts.PendingAssistantInvites >= max {
			return common.NewConflictError("assistant limit reached for this plan")
		}
	case models.RolePsychologist:
		if plan == models.PlanSolo {
			if counts.Psychologists+counts.PendingPsychologistInvites >= 1 {
				return common.NewConflictError("psychologist limit reached for this plan")
			}
		}
	}
	return nil
}

// QuotaService gathers the current counts for an organization and applies
// the validator. The check-then-act window is not locked; the bound is
// best-effort under concurrent invitation requests.
type QuotaService interface {
	CheckInvitationQuota(ctx context.Context, org *models.Organization, role models.Role) error
}

type quotaService struct {
	userRepo       repositories.UserRepository
	invitationRepo repositories.InvitationRepository
	planLimitRepo  repositories.PlanLimitRepository
}

func NewQuotaService(userRepo repositories.UserRepository, invitationRepo repositories.InvitationRepository, planLimitRepo repositories.PlanLimitRepository) QuotaService {
	return &quotaService{
		userRepo:       userRepo,
		invitationRepo: invitationRepo,
		planLimitRepo:  planLimitRepo,
	}
}

func (s *quotaService) CheckInvitationQuota(ctx context.Context, org *models.Organization, role models.Role) error {
	if role != models.RoleAssistant && role != models.RolePsychologist {
		return nil
	}

	limits, err := s.planLimitRepo.GetByOrganization(ctx, org.ID)
	if err != nil {
		return common.NewInternalError("failed to load plan limits", err)
	}

	var counts QuotaCounts
	switch role {
	case models.RoleAssistant:
		counts.Assistants, err = s.userRepo.CountNonDeletedByRole(ctx, org.ID, models.RoleAssistant)
		if err != nil {
			return common.NewInternalError("failed to count assistants", err)
		}
		counts.PendingAssistantInvites, err = s.invitationRepo.CountPendingByRole(ctx, org.ID, models.RoleAssistant)
		if err != nil {
			return common.NewInternalError("failed to count pending assistant invitations", err)
		}
	case models.RolePsychologist:
		counts.Psychologists, err = s.userRepo.CountNonDeletedByRole(ctx, org.ID, models.RolePsychologist)
		if err != nil {
			return common.NewInternalError("failed to count psychologists", err)
		}
		counts.PendingPsychologistInvites, err = s.invitationRepo.CountPendingByRole(ctx, org.ID, models.RolePsychologist)
		if err != nil {
			return common.NewInternalError("failed to count pending psychologist invitations", err)
		}
	}

	if err := ValidateQuota(org.Plan, limits, role, counts); err != nil {
		quotaDenialsTotal.WithLabelValues(string(role)).Inc()
		return err
	}
	return nil
}
