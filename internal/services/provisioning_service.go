package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"clinicore/internal/caching"
	"clinicore/internal/common"
	"clinicore/internal/identity"
	"clinicore/internal/models"
	"clinicore/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/gommon/random"
)

// Caller identifies the authenticated actor behind a provisioning request.
type Caller struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	Roles          []models.Role
}

type BootstrapRequest struct {
	OrganizationName    string      `json:"organization_name"`
	OrganizationLegalID string      `json:"organization_legal_id"`
	Plan                models.Plan `json:"plan"`
	Email               string      `json:"email"`
	Password            string      `json:"password"`
	FirstName           string      `json:"first_name"`
	LastName            string      `json:"last_name"`
	LegalID             string      `json:"legal_id"`
	DateOfBirth         time.Time   `json:"date_of_birth"`
	IsPsychologist      bool        `json:"is_psychologist"`
}

type BootstrapResult struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
}

type InvitationRequest struct {
	Email       string      `json:"email"`
	Role        models.Role `json:"role"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	LegalID     *string     `json:"legal_id"`
	DateOfBirth *time.Time  `json:"date_of_birth"`
}

type InvitationResult struct {
	InvitationID   uuid.UUID `json:"invitation_id"`
	ProviderUserID uuid.UUID `json:"provider_user_id"`
}

// ProvisioningService coordinates organization creation, member invitation
// and invitation acceptance across the identity provider and the local
// store. There is no shared transaction between the two systems; each flow
// is a saga with explicit, local, reverse-order compensation.
type ProvisioningService interface {
	BootstrapOrganization(ctx context.Context, req *BootstrapRequest) (*BootstrapResult, error)
	CreateInvitation(ctx context.Context, caller Caller, req *InvitationRequest) (*InvitationResult, error)
	RevokeInvitation(ctx context.Context, caller Caller, invitationID uuid.UUID) error
	EstablishSession(ctx context.Context, token string) (*models.User, error)
}

type provisioningService struct {
	gateway        identity.Gateway
	orgRepo        repositories.OrganizationRepository
	userRepo       repositories.UserRepository
	userRoleRepo   repositories.UserRoleRepository
	invitationRepo repositories.InvitationRepository
	auditSvc       AuditLogsService
	quotaSvc       QuotaService
	cacheSvc       caching.CacheService
	redirectURL    string
}

func NewProvisioningService(
	gateway identity.Gateway,
	orgRepo repositories.OrganizationRepository,
	userRepo repositories.UserRepository,
	userRoleRepo repositories.UserRoleRepository,
	invitationRepo repositories.InvitationRepository,
	auditSvc AuditLogsService,
	quotaSvc QuotaService,
	cacheSvc caching.CacheService,
	redirectURL string,
) ProvisioningService {
	return &provisioningService{
		gateway:        gateway,
		orgRepo:        orgRepo,
		userRepo:       userRepo,
		userRoleRepo:   userRoleRepo,
		invitationRepo: invitationRepo,
		auditSvc:       auditSvc,
		quotaSvc:       quotaSvc,
		cacheSvc:       cacheSvc,
		redirectURL:    redirectURL,
	}
}

// sagaStep pairs a forward action with the undo for the writes that action
// performed. A failing step must have cleaned up its own partial writes
// before returning; compensation only covers steps that completed.
type sagaStep struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

func (s *provisioningService) runSaga(ctx context.Context, saga string, orgID uuid.UUID, steps []sagaStep) error {
	var completed []sagaStep
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			s.compensate(ctx, saga, orgID, completed)
			sagaOutcomesTotal.WithLabelValues(saga, "failure").Inc()
			return err
		}
		completed = append(completed, step)
	}
	sagaOutcomesTotal.WithLabelValues(saga, "success").Inc()
	return nil
}

// compensate undoes completed steps in reverse order. A failing compensation
// is recorded as an orphan candidate and otherwise swallowed: the original
// error is what the caller sees, and there is no retry queue. The nightly
// report surfaces the recorded candidates to operators.
func (s *provisioningService) compensate(ctx context.Context, saga string, orgID uuid.UUID, completed []sagaStep) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(ctx); err != nil {
			compensationRunsTotal.WithLabelValues(step.name, "failure").Inc()
			log.Printf("WARN: compensation for step %q failed, orphan candidate: %v", step.name, err)
			if auditErr := s.auditSvc.LogActivity(ctx, orgID, "sagas", saga, models.ActionOrphanCandidate, nil, nil, models.JSONB{
				"step": step.name, "error": err.Error(),
			}); auditErr != nil {
				log.Printf("WARN: failed to record orphan candidate for step %q: %v", step.name, auditErr)
			}
			continue
		}
		compensationRunsTotal.WithLabelValues(step.name, "success").Inc()
	}
}

func (s *provisioningService) BootstrapOrganization(ctx context.Context, req *BootstrapRequest) (*BootstrapResult, error) {
	if err := validateBootstrapRequest(req); err != nil {
		return nil, err
	}

	plan := req.Plan
	if plan == "" {
		plan = models.PlanSolo
	}

	org := &models.Organization{
		ID:      uuid.New(),
		Name:    strings.TrimSpace(req.OrganizationName),
		LegalID: strings.TrimSpace(req.OrganizationLegalID),
		Plan:    plan,
		Status:  "ACTIVE",
	}

	roles := []models.Role{models.RoleAdmin}
	if req.IsPsychologist {
		roles = append(roles, models.RolePsychologist)
	}

	metadata := map[string]interface{}{
		"organization_id": org.ID.String(),
		"roles":           roleStrings(roles),
		"first_name":      req.FirstName,
		"last_name":       req.LastName,
		"legal_id":        req.LegalID,
		"date_of_birth":   req.DateOfBirth.Format("2006-01-02"),
	}

	var providerUserID uuid.UUID

	steps := []sagaStep{
		{
			name: "create_organization",
			run: func(ctx context.Context) error {
				if err := s.orgRepo.Create(ctx, org); err != nil {
					if repositories.IsUniqueViolation(err) {
						return common.NewConflictError("an organization with this legal id already exists")
					}
					return common.NewInternalError("failed to create organization", err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				return s.orgRepo.Delete(ctx, org.ID)
			},
		},
		{
			name: "create_provider_account",
			run: func(ctx context.Context) error {
				id, err := s.gateway.CreateAccount(ctx, req.Email, req.Password, metadata)
				if err != nil {
					return err
				}
				providerUserID = id
				return nil
			},
			compensate: func(ctx context.Context) error {
				return s.gateway.DeleteAccount(ctx, providerUserID)
			},
		},
		{
			name: "send_invite_email",
			run: func(ctx context.Context) error {
				return s.gateway.SendInviteEmail(ctx, req.Email, s.redirectURL)
			},
		},
		{
			name: "create_local_user",
			run: func(ctx context.Context) error {
				dob := req.DateOfBirth
				user := &models.User{
					ID:             providerUserID,
					OrganizationID: &org.ID,
					Email:          req.Email,
					LegalID:        req.LegalID,
					FirstName:      req.FirstName,
					LastName:       req.LastName,
					DateOfBirth:    &dob,
					Status:         models.UserStatusPending,
					IsPsychologist: req.IsPsychologist,
				}
				if err := s.userRepo.Create(ctx, user); err != nil {
					if repositories.IsUniqueViolation(err) {
						return common.NewConflictError("email, legal id or organization id already exists")
					}
					return common.NewInternalError("failed to create user", err)
				}
				for _, role := range roles {
					if err := s.userRoleRepo.Create(ctx, user.ID, role); err != nil {
						// Undo this step's own writes before failing it.
						if delErr := s.userRepo.Delete(ctx, user.ID); delErr != nil {
							log.Printf("WARN: failed to remove user %s after role insert failure: %v", user.ID, delErr)
						}
						return common.NewInternalError("failed to assign role", err)
					}
				}
				return nil
			},
		},
	}

	if err := s.runSaga(ctx, "organization_bootstrap", org.ID, steps); err != nil {
		return nil, err
	}

	if err := s.auditSvc.LogActivity(ctx, org.ID, "organizations", org.ID.String(), models.ActionInsert, &providerUserID, nil, models.JSONB{
		"name": org.Name, "plan": string(org.Plan),
	}); err != nil {
		log.Printf("WARN: failed to record bootstrap audit entry: %v", err)
	}

	return &BootstrapResult{OrganizationID: org.ID, UserID: providerUserID}, nil
}

func (s *provisioningService) CreateInvitation(ctx context.Context, caller Caller, req *InvitationRequest) (*InvitationResult, error) {
	if !models.HasAnyRole(caller.Roles, models.RoleAdmin, models.RoleOwner, models.RoleSuperadmin) {
		return nil, common.NewAuthorizationError("not allowed to invite members")
	}
	if caller.OrganizationID == nil {
		return nil, common.NewAuthorizationError("caller has no organization")
	}
	orgID := *caller.OrganizationID

	if err := validateInvitationRequest(req); err != nil {
		return nil, err
	}

	org, err := s.orgRepo.GetByID(ctx, orgID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, common.NewNotFoundError("organization not found")
		}
		return nil, common.NewInternalError("failed to load organization", err)
	}

	if err := s.quotaSvc.CheckInvitationQuota(ctx, org, req.Role); err != nil {
		return nil, err
	}

	if err := s.rejectDuplicateInvitee(ctx, orgID, req); err != nil {
		return nil, err
	}

	invitation := &models.UserInvitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Role:           req.Role,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		LegalID:        req.LegalID,
		DateOfBirth:    req.DateOfBirth,
		Status:         models.InvitationStatusPending,
		Token:          random.String(48),
		InvitedBy:      caller.UserID,
	}

	metadata := map[string]interface{}{
		"organization_id": orgID.String(),
		"invitation_id":   invitation.ID.String(),
		"roles":           []string{string(req.Role)},
		"first_name":      req.FirstName,
		"last_name":       req.LastName,
	}
	if req.LegalID != nil {
		metadata["legal_id"] = *req.LegalID
	}
	if req.DateOfBirth != nil {
		metadata["date_of_birth"] = req.DateOfBirth.Format("2006-01-02")
	}

	var providerUserID uuid.UUID

	steps := []sagaStep{
		{
			name: "create_invitation",
			run: func(ctx context.Context) error {
				if err := s.invitationRepo.Create(ctx, invitation); err != nil {
					if repositories.IsUniqueViolation(err) {
						return common.NewConflictError("a pending invitation already exists for this email or legal id")
					}
					return common.NewInternalError("failed to create invitation", err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				return s.invitationRepo.Delete(ctx, invitation.ID)
			},
		},
		{
			name: "provider_invite",
			run: func(ctx context.Context) error {
				id, err := s.gateway.InviteByEmail(ctx, invitation.Email, s.redirectURL, metadata)
				if err != nil {
					return err
				}
				providerUserID = id
				return nil
			},
		},
	}

	if err := s.runSaga(ctx, "member_invitation", invitation.OrganizationID, steps); err != nil {
		return nil, err
	}

	return &InvitationResult{InvitationID: invitation.ID, ProviderUserID: providerUserID}, nil
}

func (s *provisioningService) rejectDuplicateInvitee(ctx context.Context, orgID uuid.UUID, req *InvitationRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return common.NewConflictError("a user with this email already exists")
	} else if !repositories.IsNotFound(err) {
		return common.NewInternalError("failed to check email uniqueness", err)
	}

	if req.LegalID != nil {
		if _, err := s.userRepo.GetByLegalID(ctx, *req.LegalID); err == nil {
			return common.NewConflictError("a user with this legal id already exists")
		} else if !repositories.IsNotFound(err) {
			return common.NewInternalError("failed to check legal id uniqueness", err)
		}

		pending, err := s.invitationRepo.HasPendingByLegalID(ctx, orgID, *req.LegalID)
		if err != nil {
			return common.NewInternalError("failed to check pending invitations", err)
		}
		if pending {
			return common.NewConflictError("a pending invitation already exists for this legal id")
		}
	}

	pending, err := s.invitationRepo.HasPendingByEmail(ctx, orgID, email)
	if err != nil {
		return common.NewInternalError("failed to check pending invitations", err)
	}
	if pending {
		return common.NewConflictError("a pending invitation already exists for this email")
	}
	return nil
}

func (s *provisioningService) RevokeInvitation(ctx context.Context, caller Caller, invitationID uuid.UUID) error {
	if !models.HasAnyRole(caller.Roles, models.RoleAdmin, models.RoleOwner, models.RoleSuperadmin) {
		return common.NewAuthorizationError("not allowed to revoke invitations")
	}
	if caller.OrganizationID == nil {
		return common.NewAuthorizationError("caller has no organization")
	}

	revoked, err := s.invitationRepo.MarkRevoked(ctx, *caller.OrganizationID, invitationID)
	if err != nil {
		return common.NewInternalError("failed to revoke invitation", err)
	}
	if !revoked {
		return common.NewNotFoundError("no pending invitation found")
	}
	return nil
}

// EstablishSession is called the first time a freshly-authenticated identity
// is observed. It is idempotent: if the local user already exists, nothing
// else happens, which makes the whole acceptance flow safely retryable.
func (s *provisioningService) EstablishSession(ctx context.Context, token string) (*models.User, error) {
	session, err := s.gateway.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	// Invitations store lowercased emails; the provider may assert any case.
	session.Email = strings.ToLower(strings.TrimSpace(session.Email))

	existing, err := s.userRepo.GetByID(ctx, session.SubjectID)
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFound(err) {
		return nil, common.NewInternalError("failed to look up user", err)
	}

	invitation, err := s.invitationRepo.LatestPendingByEmail(ctx, session.Email)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return nil, common.NewInternalError("failed to look up invitation", err)
		}
		invitation = nil
	}

	user, roles, err := s.mergeProfile(session, invitation)
	if err != nil {
		return nil, err
	}

	var createdOrg *models.Organization
	if user.OrganizationID == nil && models.HasRole(roles, models.RolePsychologist) {
		org := &models.Organization{
			ID:      uuid.New(),
			Name:    strings.TrimSpace(user.FirstName + " " + user.LastName),
			LegalID: "ORG-" + shortID(session.SubjectID),
			Plan:    models.PlanSolo,
			Status:  "ACTIVE",
		}
		if err := s.orgRepo.Create(ctx, org); err != nil {
			return nil, common.NewInternalError("failed to create independent organization", err)
		}
		createdOrg = org
		user.OrganizationID = &org.ID
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.removeCreatedOrganization(ctx, createdOrg)
		if repositories.IsUniqueViolation(err) {
			return nil, common.NewConflictError("email or legal id already exists")
		}
		return nil, common.NewInternalError("failed to create user", err)
	}
	for _, role := range roles {
		if err := s.userRoleRepo.Create(ctx, user.ID, role); err != nil {
			if delErr := s.userRepo.Delete(ctx, user.ID); delErr != nil {
				log.Printf("WARN: failed to remove user %s after role insert failure: %v", user.ID, delErr)
			}
			s.removeCreatedOrganization(ctx, createdOrg)
			return nil, common.NewInternalError("failed to assign role", err)
		}
	}

	// Marking the invitation and the audit entry are best-effort: the user
	// row already exists, and acceptance no longer depends on invitation
	// state for anything except audit.
	if invitation != nil {
		accepted, err := s.invitationRepo.MarkAccepted(ctx, invitation.ID)
		if err != nil {
			log.Printf("WARN: failed to mark invitation %s accepted: %v", invitation.ID, err)
		} else if accepted {
			if err := s.auditSvc.LogActivity(ctx, invitation.OrganizationID, "user_invitations", invitation.ID.String(),
				models.ActionInvitationAccepted, &user.ID, nil, models.JSONB{"email": invitation.Email, "role": string(invitation.Role)}); err != nil {
				log.Printf("WARN: failed to record acceptance audit entry: %v", err)
			}
		}
	}

	if s.cacheSvc != nil {
		if err := s.cacheSvc.SetProfile(ctx, user, 5*time.Minute); err != nil {
			log.Printf("WARN: failed to cache new profile: %v", err)
		}
	}
	return user, nil
}

// removeCreatedOrganization undoes the independent organization created in
// the same EstablishSession invocation. A failed undo leaves an orphan
// candidate for the nightly report.
func (s *provisioningService) removeCreatedOrganization(ctx context.Context, org *models.Organization) {
	if org == nil {
		return
	}
	if err := s.orgRepo.Delete(ctx, org.ID); err != nil {
		log.Printf("WARN: failed to remove organization %s after session establishment failure, orphan candidate: %v", org.ID, err)
		if auditErr := s.auditSvc.LogActivity(ctx, org.ID, "sagas", "session_establishment", models.ActionOrphanCandidate, nil, nil, models.JSONB{
			"step": "create_independent_organization", "error": err.Error(),
		}); auditErr != nil {
			log.Printf("WARN: failed to record orphan candidate for organization %s: %v", org.ID, auditErr)
		}
	}
}

// mergeProfile resolves every NOT NULL column with the precedence
// invitation fields, then provider metadata, then a deterministic fallback.
// A legal id available nowhere is synthesized from the identity id; the
// placeholder is never reconciled later.
func (s *provisioningService) mergeProfile(session *identity.Session, invitation *models.UserInvitation) (*models.User, []models.Role, error) {
	md := session.Metadata

	firstName := metadataString(md, "first_name")
	lastName := metadataString(md, "last_name")
	legalID := metadataString(md, "legal_id")
	var dob *time.Time
	if raw := metadataString(md, "date_of_birth"); raw != "" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			dob = &parsed
		}
	}

	roles := rolesFromMetadata(md)
	var orgID *uuid.UUID
	if raw := metadataString(md, "organization_id"); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			orgID = &parsed
		}
	}

	if invitation != nil {
		if invitation.FirstName != "" {
			firstName = invitation.FirstName
		}
		if invitation.LastName != "" {
			lastName = invitation.LastName
		}
		if invitation.LegalID != nil && *invitation.LegalID != "" {
			legalID = *invitation.LegalID
		}
		if invitation.DateOfBirth != nil {
			dob = invitation.DateOfBirth
		}
		if !models.HasRole(roles, invitation.Role) {
			roles = append(roles, invitation.Role)
		}
		orgIDCopy := invitation.OrganizationID
		orgID = &orgIDCopy
	}

	if firstName == "" {
		// Deterministic fallback: the email local part.
		if at := strings.Index(session.Email, "@"); at > 0 {
			firstName = session.Email[:at]
		} else {
			firstName = session.Email
		}
	}
	if legalID == "" {
		legalID = "ID-" + shortID(session.SubjectID)
	}
	if len(roles) == 0 {
		roles = []models.Role{models.RolePatient}
	}

	user := &models.User{
		ID:             session.SubjectID,
		OrganizationID: orgID,
		Email:          session.Email,
		LegalID:        legalID,
		FirstName:      firstName,
		LastName:       lastName,
		DateOfBirth:    dob,
		Status:         models.UserStatusActive,
		IsPsychologist: models.HasRole(roles, models.RolePsychologist),
	}
	return user, roles, nil
}

func validateBootstrapRequest(req *BootstrapRequest) error {
	if err := common.ValidateRequiredString(req.OrganizationName, "organization name"); err != nil {
		return common.NewValidationError("%s", err.Error())
	}
	if err := common.ValidateLegalID(req.OrganizationLegalID); err != nil {
		return common.NewValidationError("organization %s", err.Error())
	}
	if err := common.ValidateEmail(req.Email); err != nil {
		return common.NewValidationError("%s", err.Error())
	}
	if err := common.ValidatePassword(req.Password); err != nil {
		return common.NewValidationError("%s", err.Error())
	}
	if err := common.ValidateRequiredString(req.FirstName, "first name"); err != nil {
		return common.NewValidationError("%s", err.Error())
	}
	if err := common.ValidateLegalID(req.LegalID); err != nil {
		return common.NewValidationError("%s", err.Error())
	}
	if err := common.ValidateAdultDateOfBirth(req.DateOfBirth); err != nil {
		return common.NewValidationError("%s", err.Error())
	}
	if req.Plan != "" && req.Plan != models.PlanSolo && req.Plan != models.PlanTeam {
		return common.NewValidationError("plan must be SOLO or TEAM")
	}
	return nil
}

func validateInvitationRequest(req *InvitationRequest) error {
	if err := common.ValidateEmail(req.Email); err != nil {
		return common.NewValidationError("%s", err.Error())
	}
	if !models.HasRole(models.InvitableRoles, req.Role) {
		return common.NewValidationError("role must be ASSISTANT, PSYCHOLOGIST or PATIENT")
	}
	if req.LegalID != nil && *req.LegalID != "" {
		if err := common.ValidateLegalID(*req.LegalID); err != nil {
			return common.NewValidationError("%s", err.Error())
		}
	}
	// Majority is required for staff only; a patient's date of birth is
	// recorded but never age-checked.
	if models.RequiresMajority(req.Role) && req.DateOfBirth != nil {
		if err := common.ValidateAdultDateOfBirth(*req.DateOfBirth); err != nil {
			return common.NewValidationError("%s", err.Error())
		}
	}
	return nil
}

func roleStrings(roles []models.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func rolesFromMetadata(md map[string]interface{}) []models.Role {
	raw, ok := md["roles"]
	if !ok {
		return nil
	}
	var roles []models.Role
	switch values := raw.(type) {
	case []interface{}:
		for _, v := range values {
			if str, ok := v.(string); ok && models.ValidRole(models.Role(str)) {
				roles = append(roles, models.Role(str))
			}
		}
	case []string:
		for _, str := range values {
			if models.ValidRole(models.Role(str)) {
				roles = append(roles, models.Role(str))
			}
		}
	}
	return roles
}

func metadataString(md map[string]interface{}, key string) string {
	if md == nil {
		return ""
	}
	if value, ok := md[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(fmt.Sprintf("%.8s", id.String()))
}
