package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinicore/internal/caching"
	"clinicore/internal/handlers"
	"clinicore/internal/identity"
	"clinicore/internal/jobs/background"
	"clinicore/internal/middleware"
	"clinicore/internal/models"
	"clinicore/internal/repositories"
	"clinicore/internal/services"
	"clinicore/pkg/database"
)

func main() {
	// Database connection
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	pool, err := database.NewPool(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// JWT configuration
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = random.String(32) // Generate random secret for development
		log.Println("WARNING: JWT_SECRET not set, using a generated development secret")
	}

	// Identity provider configuration
	identityURL := os.Getenv("IDENTITY_BASE_URL")
	if identityURL == "" {
		log.Fatal("IDENTITY_BASE_URL environment variable is required")
	}
	identityServiceKey := os.Getenv("IDENTITY_SERVICE_KEY")
	if identityServiceKey == "" {
		log.Fatal("IDENTITY_SERVICE_KEY environment variable is required")
	}
	jwksURL := os.Getenv("IDENTITY_JWKS_URL")
	if jwksURL == "" {
		jwksURL = identityURL + "/.well-known/jwks.json"
	}
	inviteRedirectURL := os.Getenv("INVITE_REDIRECT_URL")

	gateway, err := identity.NewHTTPGateway(identity.Config{
		BaseURL:    identityURL,
		ServiceKey: identityServiceKey,
		JWKSURL:    jwksURL,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to initialize identity gateway: %v", err)
	}

	// Redis configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			redisDB = db
		}
	}
	cacheSvc := caching.NewRedisCacheService(redisAddr, redisPassword, redisDB)

	// MinIO configuration, used for audit log archival
	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	if minioEndpoint == "" {
		minioEndpoint = "localhost:9000"
	}
	minioAccessKey := os.Getenv("MINIO_ACCESS_KEY")
	if minioAccessKey == "" {
		minioAccessKey = "minioadmin"
	}
	minioSecretKey := os.Getenv("MINIO_SECRET_KEY")
	if minioSecretKey == "" {
		minioSecretKey = "minioadmin"
	}
	minioUseSSL := os.Getenv("MINIO_USE_SSL") == "true"

	minioSvc, err := services.NewMinioService(minioEndpoint, minioAccessKey, minioSecretKey, minioUseSSL)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO service: %v", err)
	}

	// Create repositories
	orgRepo := repositories.NewOrganizationRepo(pool)
	userRepo := repositories.NewUserRepo(pool)
	userRoleRepo := repositories.NewUserRoleRepo(pool)
	invitationRepo := repositories.NewInvitationRepo(pool)
	planLimitRepo := repositories.NewPlanLimitRepo(pool)
	auditLogsRepo := repositories.NewAuditLogsRepo(pool)

	// Create services
	auditSvc := services.NewAuditLogsService(auditLogsRepo)
	quotaSvc := services.NewQuotaService(userRepo, invitationRepo, planLimitRepo)
	provisioningSvc := services.NewProvisioningService(
		gateway,
		orgRepo,
		userRepo,
		userRoleRepo,
		invitationRepo,
		auditSvc,
		quotaSvc,
		cacheSvc,
		inviteRedirectURL,
	)
	sessionSvc := services.NewSessionService(userRepo, userRoleRepo, cacheSvc)
	assignmentSvc := services.NewAssignmentService(userRepo, userRoleRepo, auditSvc)
	archiveSvc := services.NewArchiveService(orgRepo, auditSvc, minioSvc)

	// Create handlers
	authHandlers := handlers.NewAuthHandlers(provisioningSvc, sessionSvc, []byte(jwtSecret))
	orgHandlers := handlers.NewOrganizationHandlers(provisioningSvc, assignmentSvc)
	invitationHandlers := handlers.NewInvitationHandlers(provisioningSvc, invitationRepo)
	assignmentHandlers := handlers.NewAssignmentHandlers(assignmentSvc)
	auditHandlers := handlers.NewAuditLogsHandlers(auditSvc)
	healthHandlers := handlers.NewHealthHandlers(pool, cacheSvc.Client(), minioSvc.Client())

	// Background jobs: invitation expiry, orphan report and audit archival
	scheduler := background.NewJobScheduler(invitationRepo, auditSvc, archiveSvc)
	scheduler.Start()
	defer scheduler.Stop()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())
	e.Use(middleware.APIVersion())

	// Health and metrics endpoints (no auth required)
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")

	// Public routes: signup and session establishment, rate limited per IP
	publicLimit := middleware.RateLimit(cacheSvc, 20, time.Minute)
	v1.POST("/organizations", orgHandlers.Bootstrap, publicLimit)
	v1.POST("/sessions", authHandlers.EstablishSession, publicLimit)

	// Protected routes
	jwtConfig := echojwt.Config{
		SigningKey: []byte(jwtSecret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(middleware.SessionClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(401, "Invalid token")
		},
	}
	protected := v1.Group("")
	protected.Use(echojwt.WithConfig(jwtConfig))
	protected.Use(middleware.HydrateSession())

	protected.GET("/me", authHandlers.Me)
	protected.POST("/me/role", authHandlers.SwitchRole)

	admin := middleware.RequireAnyRole(models.AdministrativeRoles...)
	protected.POST("/invitations", invitationHandlers.CreateInvitation, admin)
	protected.GET("/invitations", invitationHandlers.ListInvitations, admin)
	protected.POST("/invitations/:id/revoke", invitationHandlers.RevokeInvitation, admin)

	careTeam := middleware.RequireAnyRole(append([]models.Role{models.RoleAssistant, models.RolePsychologist}, models.AdministrativeRoles...)...)
	protected.POST("/patients/:id/assign", assignmentHandlers.Assign, careTeam)
	protected.POST("/patients/:id/unassign", assignmentHandlers.Unassign, careTeam)
	protected.POST("/organizations/:id/redistribute", orgHandlers.Redistribute, admin)

	protected.GET("/audit-logs", auditHandlers.ListAuditLogs, admin)
	protected.GET("/audit-logs/:id", auditHandlers.GetAuditLog, admin)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := e.Start(":" + port); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
