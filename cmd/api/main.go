package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/background"
	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/handlers"
	middlewareCustom "github.com/BradenHooton/trustgate/internal/middleware"
	"github.com/BradenHooton/trustgate/internal/repositories"
	"github.com/BradenHooton/trustgate/internal/routes"
	"github.com/BradenHooton/trustgate/internal/services"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Minute)
	err = db.MigratePool(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient := newRedisClient(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", slog.Any("error", err))
		os.Exit(1)
	}

	totpKey, err := totpEncryptionKey(cfg, logger)
	if err != nil {
		logger.Error("invalid TOTP_ENCRYPTION_KEY", slog.Any("error", err))
		os.Exit(1)
	}
	totpManager, err := auth.NewTOTPManager(totpKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	identityRepo := repositories.NewIdentityRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	sessionRepo := repositories.NewDeviceSessionRepository(db)
	codeRepo := repositories.NewVerificationCodeRepository(db)
	factorRepo := repositories.NewMFAFactorRepository(db)
	backupCodeRepo := repositories.NewBackupCodeRepository(db)
	eventRepo := repositories.NewAccountEventRepository(db)
	exportRepo := repositories.NewDataExportRepository(db)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	assertionVerifier := auth.NewAssertionVerifier(cfg.Auth.OAuthAssertionSecret)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayJitter,
	})

	auditLogger := pkglogger.NewAuditLogger(logger)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// AWS delivery and storage
	emailService := services.NewAWSSESEmailService(awsCfg, cfg.Email.FromAddress, cfg.Email.AppBaseURL, logger)
	smsService := services.NewAWSSNSSMSService(awsCfg, cfg.AWS.SMSSenderID, logger)
	avatarStorage := services.NewS3Storage(awsCfg, cfg.AWS.AvatarBucket)
	exportStorage := services.NewS3Storage(awsCfg, cfg.AWS.ExportBucket)

	var (
		exportQueue  services.ExportQueue
		exportSource background.ExportSource
	)
	if redisClient != nil {
		q := services.NewRedisExportQueue(redisClient)
		exportQueue, exportSource = q, q
	} else {
		q := services.NewMemoryExportQueue(100)
		exportQueue, exportSource = q, q
	}

	// Initialize services
	scorer := trust.NewScorer(&cfg.Trust)
	gate := trust.NewGate(&cfg.Trust)
	eventService := services.NewEventService(eventRepo, logger)
	codeService := services.NewVerificationCodeService(codeRepo, &cfg.Trust, logger)
	sessionService := services.NewDeviceSessionService(sessionRepo, factorRepo, codeService, emailService, eventService, scorer, &cfg.Trust, logger, auditLogger)
	mfaService := services.NewMFAService(factorRepo, backupCodeRepo, codeService, smsService, sessionService, eventService, totpManager, cfg.Auth.BackupCodeCount, logger, auditLogger)
	authService := services.NewAuthService(userRepo, identityRepo, revokeRepo, sessionService, mfaService, codeService, emailService, eventService, tokenManager, assertionVerifier, timingDelay, logger, auditLogger)
	accountService := services.NewAccountService(userRepo, identityRepo, sessionService, codeService, emailService, avatarStorage, exportStorage, eventService, logger, auditLogger)
	stepUpService := services.NewStepUpService(userRepo, sessionService, mfaService, codeService, emailService, eventService, gate, logger, auditLogger)
	exportService := services.NewDataExportService(exportRepo, services.ExportSources{
		Users:      userRepo,
		Identities: identityRepo,
		Factors:    factorRepo,
		Sessions:   sessionRepo,
		Events:     eventRepo,
	}, exportQueue, exportStorage, emailService, eventService, cfg.AWS.PresignTTL, logger)

	// Initialize handlers
	guard := handlers.NewStepUpGuard(stepUpService, logger)
	checks := map[string]handlers.Pinger{
		"database": handlers.PingFunc(db.HealthCheck),
	}
	if redisClient != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	h := routes.Handlers{
		Auth:         handlers.NewAuthHandler(authService, ipConfig, logger),
		Device:       handlers.NewDeviceHandler(sessionService, accountService),
		Verification: handlers.NewVerificationHandler(stepUpService, time.Duration(cfg.Trust.GracePeriodMinutes)*time.Minute),
		MFA:          handlers.NewMFAHandler(mfaService, accountService, guard),
		Account:      handlers.NewAccountHandler(accountService, eventService, guard, ipConfig),
		Export:       handlers.NewExportHandler(exportService),
		Health:       handlers.NewHealthHandler(checks, logger),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, routes.Security{
		TokenManager: tokenManager,
		Revocations:  revokeRepo,
		FailClosed:   cfg.Server.Env == "production",
		Sessions:     sessionService,
		Factors:      mfaService,
		RateLimiter:  middlewareCustom.NewRateLimiter(cfg.RateLimit, redisClient, ipConfig, logger),
		Logger:       logger,
	})

	// Background work
	cleanupManager := background.NewCleanupManager(map[string]background.ExpiryPurger{
		"device_sessions":    sessionRepo,
		"verification_codes": codeRepo,
		"revoked_tokens": background.PurgeFunc(func(ctx context.Context, _ time.Time) (int64, error) {
			return revokeRepo.CleanupExpiredTokens(ctx)
		}),
	}, logger, cfg.Auth.CleanupInterval)
	exportWorker := background.NewExportWorker(exportSource, exportService, 2, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go cleanupManager.Start(workerCtx)
	exportWorker.Start(workerCtx)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	workerCancel()
	cleanupManager.Stop()
	exportWorker.Wait()

	logger.Info("server stopped gracefully")
}

// newRedisClient returns nil when Redis is not configured or unreachable.
// Rate limits then fall back to in-process counters and exports to an
// in-process queue.
func newRedisClient(cfg *config.Config, logger *slog.Logger) *redis.Client {
	addr := cfg.Redis.Addr()
	if addr == "" {
		logger.Warn("REDIS_HOST not set, using in-process rate limits and export queue")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, continuing", slog.String("addr", addr), slog.Any("error", err))
	} else {
		logger.Info("redis connection established", slog.String("addr", addr))
	}
	return client
}

// totpEncryptionKey decodes the hex key. Outside production a missing key is
// replaced with a random one, which makes existing enrollments unreadable
// after a restart.
func totpEncryptionKey(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	raw := cfg.Auth.TOTPEncryptionKey
	if raw == "" {
		if cfg.Server.Env == "production" {
			return nil, errors.New("required in production")
		}
		logger.Warn("TOTP_ENCRYPTION_KEY not set, generating an ephemeral key")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return key, nil
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("must be hex encoded: %w", err)
	}
	return key, nil
}
