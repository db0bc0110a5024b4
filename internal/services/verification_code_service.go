package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
)

// VerificationCodeRepository defines persistence for one-time codes
type VerificationCodeRepository interface {
	Create(ctx context.Context, c *models.VerificationCode) error
	GetActive(ctx context.Context, userID, purpose string) (*models.VerificationCode, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Consume(ctx context.Context, id string) (bool, error)
}

// VerificationCodeService issues and checks hashed numeric codes.
// At most one code per user and purpose is live at a time.
type VerificationCodeService struct {
	repo        VerificationCodeRepository
	ttl         time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewVerificationCodeService creates a new VerificationCodeService
func NewVerificationCodeService(repo VerificationCodeRepository, cfg *config.TrustConfig, logger *slog.Logger) *VerificationCodeService {
	return &VerificationCodeService{
		repo:        repo,
		ttl:         cfg.CodeTTL,
		maxAttempts: cfg.CodeMaxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// Issue creates a fresh code and returns the plaintext for delivery
func (s *VerificationCodeService) Issue(ctx context.Context, userID, purpose, target string) (string, time.Time, error) {
	code, err := pkgauth.GenerateNumericCode(pkgauth.CodeDigits)
	if err != nil {
		s.logger.Error("failed to generate verification code", slog.Any("error", err))
		return "", time.Time{}, models.ErrInternalServer
	}

	hash, err := pkgauth.HashCode(code)
	if err != nil {
		s.logger.Error("failed to hash verification code", slog.Any("error", err))
		return "", time.Time{}, models.ErrInternalServer
	}

	expiresAt := s.now().Add(s.ttl)
	record := &models.VerificationCode{
		UserID:    userID,
		Purpose:   purpose,
		Target:    target,
		CodeHash:  hash,
		ExpiresAt: expiresAt,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Error("failed to store verification code",
			slog.String("user_id", userID),
			slog.String("purpose", purpose),
			slog.Any("error", err))
		return "", time.Time{}, models.ErrInternalServer
	}

	return code, expiresAt, nil
}

// Consume checks code against the live code for purpose and burns it on
// success. Wrong guesses count toward the attempt limit.
func (s *VerificationCodeService) Consume(ctx context.Context, userID, purpose, code string) (*models.VerificationCode, error) {
	record, err := s.repo.GetActive(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCode
		}
		s.logger.Error("failed to load verification code", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if record.IsConsumed() || record.IsExpired(s.now()) {
		return nil, models.ErrInvalidCode
	}
	if record.Attempts >= s.maxAttempts {
		return nil, models.ErrTooManyAttempts
	}

	if !pkgauth.CompareCode(record.CodeHash, code) {
		attempts, err := s.repo.IncrementAttempts(ctx, record.ID)
		if err != nil {
			s.logger.Error("failed to count verification attempt", slog.String("code_id", record.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		if attempts >= s.maxAttempts {
			return nil, models.ErrTooManyAttempts
		}
		return nil, models.ErrInvalidCode
	}

	consumed, err := s.repo.Consume(ctx, record.ID)
	if err != nil {
		s.logger.Error("failed to consume verification code", slog.String("code_id", record.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	// Lost a race with a concurrent request presenting the same code
	if !consumed {
		return nil, models.ErrInvalidCode
	}

	return record, nil
}
