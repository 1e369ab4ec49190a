package services

import (
	"context"
	"log"

	"clinicore/internal/common"
	"clinicore/internal/models"
	"clinicore/internal/repositories"

	"github.com/google/uuid"
)

// AssignmentChange records one care-team pointer mutation.
type AssignmentChange struct {
	PatientID              uuid.UUID  `json:"patient_id"`
	PreviousPsychologistID *uuid.UUID `json:"previous_psychologist_id"`
	NewPsychologistID      *uuid.UUID `json:"new_psychologist_id"`
	Event                  string     `json:"event"`
}

// RedistributionSummary reports a bulk redistribution. Caseloads are
// recomputed from the store after the writes, not from the in-memory plan,
// so a write that did not apply as expected is visible.
type RedistributionSummary struct {
	TotalPatients     int                `json:"total_patients"`
	PsychologistCount int                `json:"psychologist_count"`
	Changes           []AssignmentChange `json:"changes"`
	CaseloadsByID     map[uuid.UUID]int  `json:"caseloads_by_id"`
}

// PlanRedistribution computes the greedy blocks allocation: capacity is
// ceil(patients/psychologists) and each psychologist is filled up to
// capacity before the next one starts. This produces contiguous blocks per
// psychologist, not interleaved round-robin, and the last psychologist may
// receive fewer than capacity. With zero psychologists every patient is
// unassigned.
func PlanRedistribution(patients []*models.User, psychologists []*models.User) []AssignmentChange {
	changes := make([]AssignmentChange, 0, len(patients))

	if len(psychologists) == 0 {
		for _, patient := range patients {
			changes = append(changes, AssignmentChange{
				PatientID:              patient.ID,
				PreviousPsychologistID: patient.AssignedPsychologistID,
				NewPsychologistID:      nil,
				Event:                  models.ActionUnassigned,
			})
		}
		return changes
	}

	capacity := (len(patients) + len(psychologists) - 1) / len(psychologists)
	for i, patient := range patients {
		psychologist := psychologists[i/capacity]
		psychologistID := psychologist.ID
		changes = append(changes, AssignmentChange{
			PatientID:              patient.ID,
			PreviousPsychologistID: patient.AssignedPsychologistID,
			NewPsychologistID:      &psychologistID,
			Event:                  models.ActionAssigned,
		})
	}
	return changes
}

// AssignmentService mutates the care-team pointer. It is the only writer of
// assigned_psychologist_id.
type AssignmentService interface {
	Assign(ctx context.Context, caller Caller, patientID, psychologistID uuid.UUID) error
	Unassign(ctx context.Context, caller Caller, patientID uuid.UUID) error
	Redistribute(ctx context.Context, caller Caller, organizationID uuid.UUID) (*RedistributionSummary, error)
}

type assignmentService struct {
	userRepo     repositories.UserRepository
	userRoleRepo repositories.UserRoleRepository
	auditSvc     AuditLogsService
}

func NewAssignmentService(userRepo repositories.UserRepository, userRoleRepo repositories.UserRoleRepository, auditSvc AuditLogsService) AssignmentService {
	return &assignmentService{
		userRepo:     userRepo,
		userRoleRepo: userRoleRepo,
		auditSvc:     auditSvc,
	}
}

func (s *assignmentService) Assign(ctx context.Context, caller Caller, patientID, psychologistID uuid.UUID) error {
	patient, err := s.loadOwnedUser(ctx, caller, patientID)
	if err != nil {
		return err
	}

	psychologist, err := s.userRepo.GetByID(ctx, psychologistID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return common.NewNotFoundError("psychologist not found")
		}
		return common.NewInternalError("failed to load psychologist", err)
	}

	if patient.OrganizationID == nil || psychologist.OrganizationID == nil ||
		*patient.OrganizationID != *psychologist.OrganizationID {
		return common.NewValidationError("psychologist must belong to the patient's organization")
	}
	if psychologist.Status != models.UserStatusActive {
		return common.NewValidationError("psychologist is not active")
	}

	roles, err := s.userRoleRepo.ListByUser(ctx, psychologistID)
	if err != nil {
		return common.NewInternalError("failed to load psychologist roles", err)
	}
	if !models.HasRole(roles, models.RolePsychologist) {
		return common.NewValidationError("target user is not a psychologist")
	}

	if err := s.userRepo.SetAssignedPsychologist(ctx, patientID, &psychologistID); err != nil {
		return common.NewInternalError("failed to assign psychologist", err)
	}

	s.logAssignmentEvent(ctx, *patient.OrganizationID, patient, caller.UserID, models.ActionAssigned, &psychologistID)
	return nil
}

func (s *assignmentService) Unassign(ctx context.Context, caller Caller, patientID uuid.UUID) error {
	patient, err := s.loadOwnedUser(ctx, caller, patientID)
	if err != nil {
		return err
	}

	if err := s.userRepo.SetAssignedPsychologist(ctx, patientID, nil); err != nil {
		return common.NewInternalError("failed to unassign psychologist", err)
	}

	if patient.OrganizationID != nil {
		s.logAssignmentEvent(ctx, *patient.OrganizationID, patient, caller.UserID, models.ActionUnassigned, nil)
	}
	return nil
}

// Redistribute clears every patient's pointer and reassigns all of them in
// one pass against the pure plan. There is no diffing against the previous
// assignment and the writes are independent: the operation is deliberately
// disruptive and must be explicitly confirmed by an administrator.
func (s *assignmentService) Redistribute(ctx context.Context, caller Caller, organizationID uuid.UUID) (*RedistributionSummary, error) {
	if !models.HasAnyRole(caller.Roles, models.RoleAdmin, models.RoleOwner, models.RoleSuperadmin) {
		return nil, common.NewAuthorizationError("not allowed to redistribute patients")
	}
	if !models.HasRole(caller.Roles, models.RoleSuperadmin) {
		if caller.OrganizationID == nil || *caller.OrganizationID != organizationID {
			return nil, common.NewAuthorizationError("organization is not owned by caller")
		}
	}

	patients, err := s.userRepo.ListActiveByRole(ctx, organizationID, models.RolePatient)
	if err != nil {
		return nil, common.NewInternalError("failed to load patients", err)
	}
	psychologists, err := s.userRepo.ListActivePurePsychologists(ctx, organizationID)
	if err != nil {
		return nil, common.NewInternalError("failed to load psychologists", err)
	}

	changes := PlanRedistribution(patients, psychologists)

	// Clear all pointers first, then write the new mapping.
	for _, patient := range patients {
		if err := s.userRepo.SetAssignedPsychologist(ctx, patient.ID, nil); err != nil {
			return nil, common.NewInternalError("failed to clear assignment", err)
		}
	}
	for _, change := range changes {
		if change.NewPsychologistID == nil {
			continue
		}
		if err := s.userRepo.SetAssignedPsychologist(ctx, change.PatientID, change.NewPsychologistID); err != nil {
			return nil, common.NewInternalError("failed to write assignment", err)
		}
	}

	for _, change := range changes {
		redistributionChangesTotal.Inc()
		if err := s.auditSvc.LogActivity(ctx, organizationID, "users", change.PatientID.String(), change.Event,
			&caller.UserID, jsonbPointer(change.PreviousPsychologistID), jsonbPointer(change.NewPsychologistID)); err != nil {
			log.Printf("WARN: failed to record redistribution audit entry: %v", err)
		}
	}

	caseloads, err := s.userRepo.CaseloadByPsychologist(ctx, organizationID)
	if err != nil {
		return nil, common.NewInternalError("failed to recompute caseloads", err)
	}

	return &RedistributionSummary{
		TotalPatients:     len(patients),
		PsychologistCount: len(psychologists),
		Changes:           changes,
		CaseloadsByID:     caseloads,
	}, nil
}

// loadOwnedUser loads a patient and checks the caller may operate on them:
// superadmins see everything, everyone else only their own organization.
func (s *assignmentService) loadOwnedUser(ctx context.Context, caller Caller, patientID uuid.UUID) (*models.User, error) {
	patient, err := s.userRepo.GetByID(ctx, patientID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, common.NewNotFoundError("patient not found")
		}
		return nil, common.NewInternalError("failed to load patient", err)
	}

	if !models.HasRole(caller.Roles, models.RoleSuperadmin) {
		if caller.OrganizationID == nil || patient.OrganizationID == nil ||
			*caller.OrganizationID != *patient.OrganizationID {
			return nil, common.NewNotFoundError("patient not found")
		}
	}
	return patient, nil
}

func (s *assignmentService) logAssignmentEvent(ctx context.Context, orgID uuid.UUID, patient *models.User, changedBy uuid.UUID, event string, newPsychologistID *uuid.UUID) {
	if err := s.auditSvc.LogActivity(ctx, orgID, "users", patient.ID.String(), event, &changedBy,
		jsonbPointer(patient.AssignedPsychologistID), jsonbPointer(newPsychologistID)); err != nil {
		log.Printf("WARN: failed to record assignment audit entry: %v", err)
	}
}

func jsonbPointer(id *uuid.UUID) models.JSONB {
	if id == nil {
		return models.JSONB{"assigned_psychologist_id": nil}
	}
	return models.JSONB{"assigned_psychologist_id": id.String()}
}
