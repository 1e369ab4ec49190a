package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"clinicore/internal/identity"
	"clinicore/internal/models"
)

// errNotFoundForTest is what a repository surfaces for a missing row.
func errNotFoundForTest() error {
	return pgx.ErrNoRows
}

// Mock repositories and services shared by the service test suites.

type MockOrganizationRepository struct {
	mock.Mock
}

func (m *MockOrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *MockOrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) GetByLegalID(ctx context.Context, legalID string) (*models.Organization, error) {
	args := m.Called(ctx, legalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *MockOrganizationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOrganizationRepository) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*models.Organization), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByLegalID(ctx context.Context, legalID string) (*models.User, error) {
	args := m.Called(ctx, legalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUserRepository) ListByOrganization(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]*models.User, error) {
	args := m.Called(ctx, organizationID, limit, offset)
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockUserRepository) ListActiveByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) ([]*models.User, error) {
	args := m.Called(ctx, organizationID, role)
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockUserRepository) ListActivePurePsychologists(ctx context.Context, organizationID uuid.UUID) ([]*models.User, error) {
	args := m.Called(ctx, organizationID)
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockUserRepository) CountNonDeletedByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) (int, error) {
	args := m.Called(ctx, organizationID, role)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepository) SetAssignedPsychologist(ctx context.Context, patientID uuid.UUID, psychologistID *uuid.UUID) error {
	args := m.Called(ctx, patientID, psychologistID)
	return args.Error(0)
}

func (m *MockUserRepository) SetActiveRole(ctx context.Context, userID uuid.UUID, role models.Role) error {
	args := m.Called(ctx, userID, role)
	return args.Error(0)
}

func (m *MockUserRepository) CaseloadByPsychologist(ctx context.Context, organizationID uuid.UUID) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, organizationID)
	return args.Get(0).(map[uuid.UUID]int), args.Error(1)
}

type MockUserRoleRepository struct {
	mock.Mock
}

func (m *MockUserRoleRepository) Create(ctx context.Context, userID uuid.UUID, role models.Role) error {
	args := m.Called(ctx, userID, role)
	return args.Error(0)
}

func (m *MockUserRoleRepository) Delete(ctx context.Context, userID uuid.UUID, role models.Role) error {
	args := m.Called(ctx, userID, role)
	return args.Error(0)
}

func (m *MockUserRoleRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Role, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.Role), args.Error(1)
}

type MockInvitationRepository struct {
	mock.Mock
}

func (m *MockInvitationRepository) Create(ctx context.Context, invitation *models.UserInvitation) error {
	args := m.Called(ctx, invitation)
	return args.Error(0)
}

func (m *MockInvitationRepository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.UserInvitation, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserInvitation), args.Error(1)
}

func (m *MockInvitationRepository) LatestPendingByEmail(ctx context.Context, email string) (*models.UserInvitation, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserInvitation), args.Error(1)
}

func (m *MockInvitationRepository) HasPendingByEmail(ctx context.Context, organizationID uuid.UUID, email string) (bool, error) {
	args := m.Called(ctx, organizationID, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitationRepository) HasPendingByLegalID(ctx context.Context, organizationID uuid.UUID, legalID string) (bool, error) {
	args := m.Called(ctx, organizationID, legalID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitationRepository) CountPendingByRole(ctx context.Context, organizationID uuid.UUID, role models.Role) (int, error) {
	args := m.Called(ctx, organizationID, role)
	return args.Int(0), args.Error(1)
}

func (m *MockInvitationRepository) MarkAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitationRepository) MarkRevoked(ctx context.Context, organizationID, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, organizationID, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockInvitationRepository) ListByOrganization(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]*models.UserInvitation, error) {
	args := m.Called(ctx, organizationID, limit, offset)
	return args.Get(0).([]*models.UserInvitation), args.Error(1)
}

func (m *MockInvitationRepository) ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.UserInvitation, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).([]*models.UserInvitation), args.Error(1)
}

type MockPlanLimitRepository struct {
	mock.Mock
}

func (m *MockPlanLimitRepository) GetByOrganization(ctx context.Context, organizationID uuid.UUID) (*models.PlanLimit, error) {
	args := m.Called(ctx, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlanLimit), args.Error(1)
}

func (m *MockPlanLimitRepository) Upsert(ctx context.Context, limit *models.PlanLimit) error {
	args := m.Called(ctx, limit)
	return args.Error(0)
}

type MockAuditLogsRepository struct {
	mock.Mock
}

func (m *MockAuditLogsRepository) Create(ctx context.Context, auditLog *models.AuditLog) error {
	args := m.Called(ctx, auditLog)
	return args.Error(0)
}

func (m *MockAuditLogsRepository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.AuditLog, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditLog), args.Error(1)
}

func (m *MockAuditLogsRepository) List(ctx context.Context, organizationID uuid.UUID, filters *models.AuditLogFilters) ([]*models.AuditLog, error) {
	args := m.Called(ctx, organizationID, filters)
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

func (m *MockAuditLogsRepository) ListByDateRange(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]*models.AuditLog, error) {
	args := m.Called(ctx, organizationID, start, end)
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

func (m *MockAuditLogsRepository) ListByAction(ctx context.Context, action string, since time.Time) ([]*models.AuditLog, error) {
	args := m.Called(ctx, action, since)
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateAccount(ctx context.Context, email, password string, metadata map[string]interface{}) (uuid.UUID, error) {
	args := m.Called(ctx, email, password, metadata)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockGateway) SendInviteEmail(ctx context.Context, email, redirectURL string) error {
	args := m.Called(ctx, email, redirectURL)
	return args.Error(0)
}

func (m *MockGateway) InviteByEmail(ctx context.Context, email, redirectURL string, metadata map[string]interface{}) (uuid.UUID, error) {
	args := m.Called(ctx, email, redirectURL, metadata)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockGateway) DeleteAccount(ctx context.Context, providerUserID uuid.UUID) error {
	args := m.Called(ctx, providerUserID)
	return args.Error(0)
}

func (m *MockGateway) ValidateSession(ctx context.Context, token string) (*identity.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockCacheService) SetProfile(ctx context.Context, user *models.User, ttl time.Duration) error {
	args := m.Called(ctx, user, ttl)
	return args.Error(0)
}

func (m *MockCacheService) InvalidateProfile(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockCacheService) RefreshProfile(ctx context.Context, userID uuid.UUID, ttl time.Duration, load func(context.Context) (*models.User, error)) (*models.User, error) {
	args := m.Called(ctx, userID, ttl)
	if args.Get(0) != nil {
		return args.Get(0).(*models.User), args.Error(1)
	}
	// Fall through to the loader so suites can exercise the refresh path
	// without re-implementing single flight.
	return load(ctx)
}

func (m *MockCacheService) GetActiveRole(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Role), args.Error(1)
}

func (m *MockCacheService) SetActiveRole(ctx context.Context, userID uuid.UUID, role models.Role, ttl time.Duration) error {
	args := m.Called(ctx, userID, role, ttl)
	return args.Error(0)
}

func (m *MockCacheService) DeleteActiveRole(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheService) Client() *redis.Client {
	return nil
}
