package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"clinicore/internal/common"
	"clinicore/internal/identity"
	"clinicore/internal/models"
)

const testRedirectURL = "https://app.example.com/welcome"

type ProvisioningServiceTestSuite struct {
	suite.Suite
	gateway        *MockGateway
	orgRepo        *MockOrganizationRepository
	userRepo       *MockUserRepository
	userRoleRepo   *MockUserRoleRepository
	invitationRepo *MockInvitationRepository
	auditRepo      *MockAuditLogsRepository
	planLimitRepo  *MockPlanLimitRepository
	cacheSvc       *MockCacheService
	service        ProvisioningService
	ctx            context.Context
}

func (suite *ProvisioningServiceTestSuite) SetupTest() {
	suite.gateway = &MockGateway{}
	suite.orgRepo = &MockOrganizationRepository{}
	suite.userRepo = &MockUserRepository{}
	suite.userRoleRepo = &MockUserRoleRepository{}
	suite.invitationRepo = &MockInvitationRepository{}
	suite.auditRepo = &MockAuditLogsRepository{}
	suite.planLimitRepo = &MockPlanLimitRepository{}
	suite.cacheSvc = &MockCacheService{}
	suite.service = NewProvisioningService(
		suite.gateway,
		suite.orgRepo,
		suite.userRepo,
		suite.userRoleRepo,
		suite.invitationRepo,
		NewAuditLogsService(suite.auditRepo),
		NewQuotaService(suite.userRepo, suite.invitationRepo, suite.planLimitRepo),
		suite.cacheSvc,
		testRedirectURL,
	)
	suite.ctx = context.Background()
}

func TestProvisioningServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ProvisioningServiceTestSuite))
}

func validBootstrapRequest() *BootstrapRequest {
	return &BootstrapRequest{
		OrganizationName:    "Centro Aurora",
		OrganizationLegalID: "12345678-5",
		Plan:                models.PlanSolo,
		Email:               "owner@example.com",
		Password:            "Str0ng!pass",
		FirstName:           "Ana",
		LastName:            "Rojas",
		LegalID:             "7775777-5",
		DateOfBirth:         time.Date(1985, 3, 14, 0, 0, 0, 0, time.UTC),
		IsPsychologist:      true,
	}
}

func (suite *ProvisioningServiceTestSuite) TestBootstrap_Success() {
	req := validBootstrapRequest()
	providerID := uuid.New()

	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.gateway.On("CreateAccount", suite.ctx, req.Email, req.Password, mock.Anything).Return(providerID, nil)
	suite.gateway.On("SendInviteEmail", suite.ctx, req.Email, testRedirectURL).Return(nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, providerID, models.RoleAdmin).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, providerID, models.RolePsychologist).Return(nil)
	suite.auditRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.AuditLog")).Return(nil)

	result, err := suite.service.BootstrapOrganization(suite.ctx, req)

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), providerID, result.UserID)
	assert.NotEqual(suite.T(), uuid.Nil, result.OrganizationID)
	suite.gateway.AssertExpectations(suite.T())
	suite.userRoleRepo.AssertExpectations(suite.T())
}

func (suite *ProvisioningServiceTestSuite) TestBootstrap_InvalidRequestWritesNothing() {
	req := validBootstrapRequest()
	req.Email = "not-an-email"

	_, err := suite.service.BootstrapOrganization(suite.ctx, req)

	assert.Equal(suite.T(), common.KindValidation, common.KindOf(err))
	suite.orgRepo.AssertNotCalled(suite.T(), "Create")
	suite.gateway.AssertNotCalled(suite.T(), "CreateAccount")
}

func (suite *ProvisioningServiceTestSuite) TestBootstrap_ProviderFailureRemovesOrganization() {
	req := validBootstrapRequest()

	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.gateway.On("CreateAccount", suite.ctx, req.Email, req.Password, mock.Anything).
		Return(uuid.Nil, common.NewUpstreamError("authentication service unavailable", errors.New("503")))
	suite.orgRepo.On("Delete", suite.ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	_, err := suite.service.BootstrapOrganization(suite.ctx, req)

	assert.Equal(suite.T(), common.KindUpstream, common.KindOf(err))
	suite.orgRepo.AssertCalled(suite.T(), "Delete", suite.ctx, mock.AnythingOfType("uuid.UUID"))
	suite.userRepo.AssertNotCalled(suite.T(), "Create")
}

func (suite *ProvisioningServiceTestSuite) TestBootstrap_EmailFailureRemovesAccountAndOrganization() {
	req := validBootstrapRequest()
	providerID := uuid.New()

	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.gateway.On("CreateAccount", suite.ctx, req.Email, req.Password, mock.Anything).Return(providerID, nil)
	suite.gateway.On("SendInviteEmail", suite.ctx, req.Email, testRedirectURL).
		Return(common.NewUpstreamError("invite email failed", errors.New("timeout")))
	suite.gateway.On("DeleteAccount", suite.ctx, providerID).Return(nil)
	suite.orgRepo.On("Delete", suite.ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	_, err := suite.service.BootstrapOrganization(suite.ctx, req)

	assert.Error(suite.T(), err)
	suite.gateway.AssertCalled(suite.T(), "DeleteAccount", suite.ctx, providerID)
	suite.orgRepo.AssertCalled(suite.T(), "Delete", suite.ctx, mock.AnythingOfType("uuid.UUID"))
}

func (suite *ProvisioningServiceTestSuite) TestBootstrap_LocalUserFailureCompensatesEverything() {
	req := validBootstrapRequest()
	providerID := uuid.New()

	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.gateway.On("CreateAccount", suite.ctx, req.Email, req.Password, mock.Anything).Return(providerID, nil)
	suite.gateway.On("SendInviteEmail", suite.ctx, req.Email, testRedirectURL).Return(nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(errors.New("insert failed"))
	suite.gateway.On("DeleteAccount", suite.ctx, providerID).Return(nil)
	suite.orgRepo.On("Delete", suite.ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	_, err := suite.service.BootstrapOrganization(suite.ctx, req)

	assert.Error(suite.T(), err)
	suite.gateway.AssertCalled(suite.T(), "DeleteAccount", suite.ctx, providerID)
	suite.orgRepo.AssertCalled(suite.T(), "Delete", suite.ctx, mock.AnythingOfType("uuid.UUID"))
}

func (suite *ProvisioningServiceTestSuite) TestBootstrap_RoleInsertFailureRemovesUserRow() {
	req := validBootstrapRequest()
	providerID := uuid.New()

	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.gateway.On("CreateAccount", suite.ctx, req.Email, req.Password, mock.Anything).Return(providerID, nil)
	suite.gateway.On("SendInviteEmail", suite.ctx, req.Email, testRedirectURL).Return(nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, providerID, models.RoleAdmin).Return(errors.New("insert failed"))
	suite.userRepo.On("Delete", suite.ctx, providerID).Return(nil)
	suite.gateway.On("DeleteAccount", suite.ctx, providerID).Return(nil)
	suite.orgRepo.On("Delete", suite.ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	_, err := suite.service.BootstrapOrganization(suite.ctx, req)

	assert.Error(suite.T(), err)
	// The failing step undoes its own write before compensation runs.
	suite.userRepo.AssertCalled(suite.T(), "Delete", suite.ctx, providerID)
	suite.gateway.AssertCalled(suite.T(), "DeleteAccount", suite.ctx, providerID)
}

func (suite *ProvisioningServiceTestSuite) caller(orgID uuid.UUID, roles ...models.Role) Caller {
	return Caller{UserID: uuid.New(), OrganizationID: &orgID, Roles: roles}
}

func (suite *ProvisioningServiceTestSuite) TestCreateInvitation_RequiresAdministrativeRole() {
	caller := suite.caller(uuid.New(), models.RolePsychologist)

	_, err := suite.service.CreateInvitation(suite.ctx, caller, &InvitationRequest{
		Email: "new@example.com",
		Role:  models.RolePatient,
	})

	assert.Equal(suite.T(), common.KindAuthorization, common.KindOf(err))
}

func (suite *ProvisioningServiceTestSuite) TestCreateInvitation_Success() {
	orgID := uuid.New()
	caller := suite.caller(orgID, models.RoleAdmin)
	providerID := uuid.New()
	org := &models.Organization{ID: orgID, Plan: models.PlanTeam}

	suite.orgRepo.On("GetByID", suite.ctx, orgID).Return(org, nil)
	suite.userRepo.On("GetByEmail", suite.ctx, "new@example.com").Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("HasPendingByEmail", suite.ctx, orgID, "new@example.com").Return(false, nil)
	suite.invitationRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.UserInvitation")).Return(nil)
	suite.gateway.On("InviteByEmail", suite.ctx, "new@example.com", testRedirectURL, mock.Anything).Return(providerID, nil)

	result, err := suite.service.CreateInvitation(suite.ctx, caller, &InvitationRequest{
		Email:     "new@example.com",
		Role:      models.RolePatient,
		FirstName: "Pedro",
	})

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), providerID, result.ProviderUserID)
	suite.invitationRepo.AssertExpectations(suite.T())

	created := suite.invitationRepo.Calls[1].Arguments.Get(1).(*models.UserInvitation)
	assert.Equal(suite.T(), models.InvitationStatusPending, created.Status)
	assert.Len(suite.T(), created.Token, 48)
	assert.Equal(suite.T(), caller.UserID, created.InvitedBy)
}

func (suite *ProvisioningServiceTestSuite) TestCreateInvitation_QuotaDenied() {
	orgID := uuid.New()
	caller := suite.caller(orgID, models.RoleOwner)
	org := &models.Organization{ID: orgID, Plan: models.PlanSolo}

	suite.orgRepo.On("GetByID", suite.ctx, orgID).Return(org, nil)
	suite.planLimitRepo.On("GetByOrganization", suite.ctx, orgID).Return(nil, nil)
	suite.userRepo.On("CountNonDeletedByRole", suite.ctx, orgID, models.RolePsychologist).Return(1, nil)
	suite.invitationRepo.On("CountPendingByRole", suite.ctx, orgID, models.RolePsychologist).Return(0, nil)

	_, err := suite.service.CreateInvitation(suite.ctx, caller, &InvitationRequest{
		Email: "second@example.com",
		Role:  models.RolePsychologist,
	})

	assert.Equal(suite.T(), common.KindConflict, common.KindOf(err))
	suite.invitationRepo.AssertNotCalled(suite.T(), "Create")
	suite.gateway.AssertNotCalled(suite.T(), "InviteByEmail")
}

func (suite *ProvisioningServiceTestSuite) TestCreateInvitation_ProviderFailureRollsBackRow() {
	orgID := uuid.New()
	caller := suite.caller(orgID, models.RoleAdmin)
	org := &models.Organization{ID: orgID, Plan: models.PlanTeam}

	suite.orgRepo.On("GetByID", suite.ctx, orgID).Return(org, nil)
	suite.userRepo.On("GetByEmail", suite.ctx, "new@example.com").Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("HasPendingByEmail", suite.ctx, orgID, "new@example.com").Return(false, nil)
	suite.invitationRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.UserInvitation")).Return(nil)
	suite.gateway.On("InviteByEmail", suite.ctx, "new@example.com", testRedirectURL, mock.Anything).
		Return(uuid.Nil, common.NewUpstreamError("provider rejected invite", errors.New("500")))
	suite.invitationRepo.On("Delete", suite.ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	_, err := suite.service.CreateInvitation(suite.ctx, caller, &InvitationRequest{
		Email: "new@example.com",
		Role:  models.RolePatient,
	})

	assert.Equal(suite.T(), common.KindUpstream, common.KindOf(err))
	suite.invitationRepo.AssertCalled(suite.T(), "Delete", suite.ctx, mock.AnythingOfType("uuid.UUID"))
}

func (suite *ProvisioningServiceTestSuite) TestCreateInvitation_DuplicatePendingEmail() {
	orgID := uuid.New()
	caller := suite.caller(orgID, models.RoleAdmin)
	org := &models.Organization{ID: orgID, Plan: models.PlanTeam}

	suite.orgRepo.On("GetByID", suite.ctx, orgID).Return(org, nil)
	suite.userRepo.On("GetByEmail", suite.ctx, "dup@example.com").Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("HasPendingByEmail", suite.ctx, orgID, "dup@example.com").Return(true, nil)

	_, err := suite.service.CreateInvitation(suite.ctx, caller, &InvitationRequest{
		Email: "dup@example.com",
		Role:  models.RolePatient,
	})

	assert.Equal(suite.T(), common.KindConflict, common.KindOf(err))
	suite.invitationRepo.AssertNotCalled(suite.T(), "Create")
}

func (suite *ProvisioningServiceTestSuite) TestRevokeInvitation_TerminalOnce() {
	orgID := uuid.New()
	caller := suite.caller(orgID, models.RoleAdmin)
	invitationID := uuid.New()

	suite.invitationRepo.On("MarkRevoked", suite.ctx, orgID, invitationID).Return(false, nil)

	err := suite.service.RevokeInvitation(suite.ctx, caller, invitationID)

	// An invitation that already reached a terminal state is not revocable.
	assert.Equal(suite.T(), common.KindNotFound, common.KindOf(err))
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_IdempotentForKnownUser() {
	subjectID := uuid.New()
	existing := &models.User{ID: subjectID, Email: "known@example.com"}

	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: "known@example.com"}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(existing, nil)

	user, err := suite.service.EstablishSession(suite.ctx, "token")

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), existing, user)
	suite.userRepo.AssertNotCalled(suite.T(), "Create")
	suite.invitationRepo.AssertNotCalled(suite.T(), "MarkAccepted")
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_ConsumesInvitation() {
	subjectID := uuid.New()
	orgID := uuid.New()
	legalID := "7775777-5"
	dob := time.Date(2001, 7, 1, 0, 0, 0, 0, time.UTC)
	invitation := &models.UserInvitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          "invitee@example.com",
		Role:           models.RolePsychologist,
		FirstName:      "Sofia",
		LastName:       "Mena",
		LegalID:        &legalID,
		DateOfBirth:    &dob,
		Status:         models.InvitationStatusPending,
	}

	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: "invitee@example.com"}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("LatestPendingByEmail", suite.ctx, "invitee@example.com").Return(invitation, nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, subjectID, models.RolePsychologist).Return(nil)
	suite.invitationRepo.On("MarkAccepted", suite.ctx, invitation.ID).Return(true, nil)
	suite.auditRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.AuditLog")).Return(nil)
	suite.cacheSvc.On("SetProfile", suite.ctx, mock.AnythingOfType("*models.User"), 5*time.Minute).Return(nil)

	user, err := suite.service.EstablishSession(suite.ctx, "token")

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), subjectID, user.ID)
	assert.Equal(suite.T(), orgID, *user.OrganizationID)
	assert.Equal(suite.T(), "Sofia", user.FirstName)
	assert.Equal(suite.T(), legalID, user.LegalID)
	assert.Equal(suite.T(), models.UserStatusActive, user.Status)
	assert.True(suite.T(), user.IsPsychologist)
	suite.invitationRepo.AssertExpectations(suite.T())
	suite.auditRepo.AssertExpectations(suite.T())
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_FallbackProfileWithoutInvitation() {
	subjectID := uuid.New()

	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: "walkin@example.com"}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("LatestPendingByEmail", suite.ctx, "walkin@example.com").Return(nil, errNotFoundForTest())
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, subjectID, models.RolePatient).Return(nil)
	suite.cacheSvc.On("SetProfile", suite.ctx, mock.AnythingOfType("*models.User"), 5*time.Minute).Return(nil)

	user, err := suite.service.EstablishSession(suite.ctx, "token")

	assert.NoError(suite.T(), err)
	// Deterministic fallbacks: email local part, synthesized legal id,
	// default PATIENT role, no organization.
	assert.Equal(suite.T(), "walkin", user.FirstName)
	assert.Contains(suite.T(), user.LegalID, "ID-")
	assert.Nil(suite.T(), user.OrganizationID)
	assert.False(suite.T(), user.IsPsychologist)
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_OrglessPsychologistGetsSoloOrganization() {
	subjectID := uuid.New()
	metadata := map[string]interface{}{
		"roles":      []interface{}{"PSYCHOLOGIST"},
		"first_name": "Ines",
		"last_name":  "Vidal",
	}

	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: "solo@example.com", Metadata: metadata}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("LatestPendingByEmail", suite.ctx, "solo@example.com").Return(nil, errNotFoundForTest())
	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, subjectID, models.RolePsychologist).Return(nil)
	suite.cacheSvc.On("SetProfile", suite.ctx, mock.AnythingOfType("*models.User"), 5*time.Minute).Return(nil)

	user, err := suite.service.EstablishSession(suite.ctx, "token")

	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), user.OrganizationID)

	org := suite.orgRepo.Calls[0].Arguments.Get(1).(*models.Organization)
	assert.Equal(suite.T(), models.PlanSolo, org.Plan)
	assert.Equal(suite.T(), "Ines Vidal", org.Name)
	assert.Contains(suite.T(), org.LegalID, "ORG-")
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_MixedCaseProviderEmailMatchesInvitation() {
	subjectID := uuid.New()
	orgID := uuid.New()
	invitation := &models.UserInvitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          "invitee@example.com",
		Role:           models.RoleAssistant,
		FirstName:      "Carla",
		Status:         models.InvitationStatusPending,
	}

	// The provider asserts the email with arbitrary casing; invitation rows
	// are stored lowercased.
	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: " Invitee@Example.COM "}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("LatestPendingByEmail", suite.ctx, "invitee@example.com").Return(invitation, nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, subjectID, models.RoleAssistant).Return(nil)
	suite.invitationRepo.On("MarkAccepted", suite.ctx, invitation.ID).Return(true, nil)
	suite.auditRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.AuditLog")).Return(nil)
	suite.cacheSvc.On("SetProfile", suite.ctx, mock.AnythingOfType("*models.User"), 5*time.Minute).Return(nil)

	user, err := suite.service.EstablishSession(suite.ctx, "token")

	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "invitee@example.com", user.Email)
	assert.Equal(suite.T(), orgID, *user.OrganizationID)
	assert.Equal(suite.T(), "Carla", user.FirstName)
	suite.invitationRepo.AssertExpectations(suite.T())
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_UserCreateFailureRemovesSoloOrganization() {
	subjectID := uuid.New()
	metadata := map[string]interface{}{
		"roles":      []interface{}{"PSYCHOLOGIST"},
		"first_name": "Ines",
		"last_name":  "Vidal",
	}

	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: "solo@example.com", Metadata: metadata}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("LatestPendingByEmail", suite.ctx, "solo@example.com").Return(nil, errNotFoundForTest())
	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).
		Return(&pgconn.PgError{Code: "23505"})
	suite.orgRepo.On("Delete", suite.ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	_, err := suite.service.EstablishSession(suite.ctx, "token")

	// The organization created in this invocation is undone; a retry does
	// not mint a second one.
	assert.Equal(suite.T(), common.KindConflict, common.KindOf(err))
	createdID := suite.orgRepo.Calls[0].Arguments.Get(1).(*models.Organization).ID
	suite.orgRepo.AssertCalled(suite.T(), "Delete", suite.ctx, createdID)
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_RoleInsertFailureCompensatesUserAndOrganization() {
	subjectID := uuid.New()
	metadata := map[string]interface{}{
		"roles":      []interface{}{"PSYCHOLOGIST"},
		"first_name": "Ines",
		"last_name":  "Vidal",
	}

	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: "solo@example.com", Metadata: metadata}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("LatestPendingByEmail", suite.ctx, "solo@example.com").Return(nil, errNotFoundForTest())
	suite.orgRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.Organization")).Return(nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, subjectID, models.RolePsychologist).Return(errors.New("insert failed"))
	suite.userRepo.On("Delete", suite.ctx, subjectID).Return(nil)
	suite.orgRepo.On("Delete", suite.ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	_, err := suite.service.EstablishSession(suite.ctx, "token")

	assert.Error(suite.T(), err)
	suite.userRepo.AssertCalled(suite.T(), "Delete", suite.ctx, subjectID)
	createdID := suite.orgRepo.Calls[0].Arguments.Get(1).(*models.Organization).ID
	suite.orgRepo.AssertCalled(suite.T(), "Delete", suite.ctx, createdID)
}

func (suite *ProvisioningServiceTestSuite) TestEstablishSession_AcceptanceMarkFailureIsNonFatal() {
	subjectID := uuid.New()
	invitation := &models.UserInvitation{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Email:          "flaky@example.com",
		Role:           models.RolePatient,
		FirstName:      "Leo",
		Status:         models.InvitationStatusPending,
	}

	suite.gateway.On("ValidateSession", suite.ctx, "token").
		Return(&identity.Session{SubjectID: subjectID, Email: "flaky@example.com"}, nil)
	suite.userRepo.On("GetByID", suite.ctx, subjectID).Return(nil, errNotFoundForTest())
	suite.invitationRepo.On("LatestPendingByEmail", suite.ctx, "flaky@example.com").Return(invitation, nil)
	suite.userRepo.On("Create", suite.ctx, mock.AnythingOfType("*models.User")).Return(nil)
	suite.userRoleRepo.On("Create", suite.ctx, subjectID, models.RolePatient).Return(nil)
	suite.invitationRepo.On("MarkAccepted", suite.ctx, invitation.ID).Return(false, errors.New("write failed"))
	suite.cacheSvc.On("SetProfile", suite.ctx, mock.AnythingOfType("*models.User"), 5*time.Minute).Return(nil)

	user, err := suite.service.EstablishSession(suite.ctx, "token")

	// The user row exists; acceptance bookkeeping is best-effort.
	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), user)
	suite.auditRepo.AssertNotCalled(suite.T(), "Create")
}
