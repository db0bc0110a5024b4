package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// MFAFactorRepository defines persistence for enrolled factors
type MFAFactorRepository interface {
	Create(ctx context.Context, f *models.MFAFactor) error
	GetByID(ctx context.Context, userID, id string) (*models.MFAFactor, error)
	ListByUser(ctx context.Context, userID string) ([]models.MFAFactor, error)
	ListVerifiedByUser(ctx context.Context, userID string) ([]models.MFAFactor, error)
	MarkVerified(ctx context.Context, id string) error
	UpdateLastUsedAt(ctx context.Context, id string) error
	Delete(ctx context.Context, userID, id string) error
	DeleteUnverified(ctx context.Context, userID, factorType string) error
}

// BackupCodeRepository defines persistence for backup codes
type BackupCodeRepository interface {
	Replace(ctx context.Context, userID string, hashes []string) error
	ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error)
	CountUnused(ctx context.Context, userID string) (int, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// FactorSummary lists a user's factors and remaining backup codes
type FactorSummary struct {
	Factors              []models.FactorResponse `json:"factors"`
	BackupCodesRemaining int                     `json:"backup_codes_remaining"`
}

// MFAService handles factor enrollment, challenges and backup codes
type MFAService struct {
	factors         MFAFactorRepository
	backupCodes     BackupCodeRepository
	codes           *VerificationCodeService
	sms             SMSSender
	sessions        *DeviceSessionService
	events          *EventService
	totpMgr         *auth.TOTPManager
	backupCodeCount int
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
}

// NewMFAService creates a new MFA service
func NewMFAService(
	factors MFAFactorRepository,
	backupCodes BackupCodeRepository,
	codes *VerificationCodeService,
	sms SMSSender,
	sessions *DeviceSessionService,
	events *EventService,
	totpMgr *auth.TOTPManager,
	backupCodeCount int,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *MFAService {
	return &MFAService{
		factors:         factors,
		backupCodes:     backupCodes,
		codes:           codes,
		sms:             sms,
		sessions:        sessions,
		events:          events,
		totpMgr:         totpMgr,
		backupCodeCount: backupCodeCount,
		logger:          logger,
		auditLogger:     auditLogger,
	}
}

// TwoFactorState returns the verified factors and whether unused backup codes exist
func (s *MFAService) TwoFactorState(ctx context.Context, userID string) ([]models.MFAFactor, bool, error) {
	factors, err := s.factors.ListVerifiedByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list verified factors", slog.String("user_id", userID), slog.Any("error", err))
		return nil, false, models.ErrInternalServer
	}
	if len(factors) == 0 {
		return factors, false, nil
	}

	remaining, err := s.backupCodes.CountUnused(ctx, userID)
	if err != nil {
		s.logger.Error("failed to count backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, false, models.ErrInternalServer
	}
	return factors, remaining > 0, nil
}

// HasVerifiedFactors reports whether the account has completed any 2FA enrollment
func (s *MFAService) HasVerifiedFactors(ctx context.Context, userID string) (bool, error) {
	factors, err := s.factors.ListVerifiedByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list verified factors", slog.String("user_id", userID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	return len(factors) > 0, nil
}

// ListFactors returns metadata for every factor, verified or pending
func (s *MFAService) ListFactors(ctx context.Context, userID string) (*FactorSummary, error) {
	factors, err := s.factors.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list factors", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	remaining, err := s.backupCodes.CountUnused(ctx, userID)
	if err != nil {
		s.logger.Error("failed to count backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	summary := &FactorSummary{
		Factors:              make([]models.FactorResponse, 0, len(factors)),
		BackupCodesRemaining: remaining,
	}
	for i := range factors {
		summary.Factors = append(summary.Factors, factors[i].ToResponse())
	}
	return summary, nil
}

// EnrollTOTP starts an authenticator-app enrollment. Any earlier unfinished
// TOTP enrollment is discarded.
func (s *MFAService) EnrollTOTP(ctx context.Context, user *models.User, friendlyName string) (*models.MFAEnrollResponse, error) {
	if err := s.factors.DeleteUnverified(ctx, user.ID, models.FactorTypeTOTP); err != nil {
		s.logger.Error("failed to clear pending TOTP enrollments", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	enrollment, err := s.totpMgr.NewEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if friendlyName == "" {
		friendlyName = "Authenticator app"
	}
	factor := &models.MFAFactor{
		UserID:              user.ID,
		FactorType:          models.FactorTypeTOTP,
		FriendlyName:        friendlyName,
		Status:              models.FactorStatusUnverified,
		TOTPSecretEncrypted: enrollment.EncryptedSecret,
		TOTPSecretNonce:     enrollment.Nonce,
	}
	if err := s.factors.Create(ctx, factor); err != nil {
		s.logger.Error("failed to create TOTP factor", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("TOTP enrollment started", slog.String("user_id", user.ID), slog.String("factor_id", factor.ID))

	return &models.MFAEnrollResponse{
		FactorID:   factor.ID,
		FactorType: factor.FactorType,
		QRCode:     enrollment.QRCodeDataURL,
		Secret:     enrollment.Secret,
	}, nil
}

// EnrollPhone starts an SMS enrollment and texts a confirmation code
func (s *MFAService) EnrollPhone(ctx context.Context, user *models.User, phone, friendlyName string) (*models.MFAEnrollResponse, error) {
	if err := s.factors.DeleteUnverified(ctx, user.ID, models.FactorTypePhone); err != nil {
		s.logger.Error("failed to clear pending phone enrollments", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if friendlyName == "" {
		friendlyName = "Phone " + models.MaskPhone(phone)
	}
	factor := &models.MFAFactor{
		UserID:       user.ID,
		FactorType:   models.FactorTypePhone,
		FriendlyName: friendlyName,
		Status:       models.FactorStatusUnverified,
		Phone:        &phone,
	}
	if err := s.factors.Create(ctx, factor); err != nil {
		s.logger.Error("failed to create phone factor", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.textCode(ctx, user.ID, factor, models.CodePurposeFactorEnrollment); err != nil {
		return nil, err
	}

	return &models.MFAEnrollResponse{FactorID: factor.ID, FactorType: factor.FactorType}, nil
}

// VerifyEnrollment confirms a pending factor. The first verified factor of
// an account also gets a fresh set of backup codes, returned once.
func (s *MFAService) VerifyEnrollment(ctx context.Context, user *models.User, sessionID, factorID, code string) (*models.MFAVerifyEnrollmentResponse, error) {
	factor, err := s.loadFactor(ctx, user.ID, factorID)
	if err != nil {
		return nil, err
	}
	if factor.IsVerified() {
		return nil, models.ErrFactorAlreadyVerified
	}

	hadFactors, err := s.HasVerifiedFactors(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	switch factor.FactorType {
	case models.FactorTypeTOTP:
		if err := s.checkTOTP(factor, code, false); err != nil {
			return nil, err
		}
	case models.FactorTypePhone:
		record, err := s.codes.Consume(ctx, user.ID, models.CodePurposeFactorEnrollment, code)
		if err != nil {
			return nil, err
		}
		if record.Target != factor.ID {
			return nil, models.ErrInvalidCode
		}
	default:
		return nil, models.ErrBadRequest
	}

	if err := s.factors.MarkVerified(ctx, factor.ID); err != nil {
		if errors.Is(err, models.ErrFactorAlreadyVerified) {
			return nil, err
		}
		s.logger.Error("failed to mark factor verified", slog.String("factor_id", factor.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp := &models.MFAVerifyEnrollmentResponse{FactorID: factor.ID}
	if !hadFactors {
		codes, err := s.issueBackupCodes(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		resp.BackupCodes = codes
	}

	// Completing enrollment is itself a second-factor presentation.
	if err := s.sessions.PromoteToAAL2(ctx, sessionID); err != nil {
		s.logger.Warn("failed to promote session after enrollment", slog.String("session_id", sessionID), slog.Any("error", err))
	}

	s.events.Record(ctx, EventInput{
		UserID:      user.ID,
		SessionID:   sessionID,
		EventType:   models.EventTwoFactorEnabled,
		Description: "Two-factor authentication enabled",
		Extra:       map[string]interface{}{"factor_type": factor.FactorType},
	})
	s.auditLogger.LogAccountAction(ctx, models.EventTwoFactorEnabled, user.ID, "", map[string]string{"factor_type": factor.FactorType})

	return resp, nil
}

// Challenge prepares a login second-factor check. Phone factors get a
// texted code; TOTP factors need nothing sent.
func (s *MFAService) Challenge(ctx context.Context, userID, factorID string) error {
	factor, err := s.loadVerifiedFactor(ctx, userID, factorID)
	if err != nil {
		return err
	}
	if factor.FactorType == models.FactorTypePhone {
		return s.textCode(ctx, userID, factor, models.CodePurposeMFASMS)
	}
	return nil
}

// VerifyChallenge checks a login second factor and raises the session to aal2
func (s *MFAService) VerifyChallenge(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, code string) error {
	if err := s.VerifyFactorCode(ctx, userID, method, factorID, code, models.CodePurposeMFASMS); err != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "mfa_challenge_failed",
			UserID:        userID,
			SessionID:     sessionID,
			FailureReason: err.Error(),
		})
		return err
	}

	if err := s.sessions.PromoteToAAL2(ctx, sessionID); err != nil {
		return err
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "mfa_challenge_verified",
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
		Metadata:  map[string]string{"method": string(method)},
	})
	return nil
}

// SendSMSCode texts a code to a verified phone factor for purpose
func (s *MFAService) SendSMSCode(ctx context.Context, userID, factorID, purpose string) error {
	factor, err := s.loadVerifiedFactor(ctx, userID, factorID)
	if err != nil {
		return err
	}
	if factor.FactorType != models.FactorTypePhone {
		return models.ErrMethodNotAvailable
	}
	return s.textCode(ctx, userID, factor, purpose)
}

// VerifyFactorCode checks a TOTP, SMS or backup code against the user's
// verified factors. smsPurpose selects which outstanding SMS code applies.
func (s *MFAService) VerifyFactorCode(ctx context.Context, userID string, method models.VerificationMethod, factorID, code, smsPurpose string) error {
	switch method {
	case models.MethodTOTP:
		factor, err := s.loadVerifiedFactor(ctx, userID, factorID)
		if err != nil {
			return err
		}
		if factor.FactorType != models.FactorTypeTOTP {
			return models.ErrMethodNotAvailable
		}
		if err := s.checkTOTP(factor, code, true); err != nil {
			return err
		}
		s.markUsed(ctx, factor.ID)
		return nil

	case models.MethodSMS:
		factor, err := s.loadVerifiedFactor(ctx, userID, factorID)
		if err != nil {
			return err
		}
		if factor.FactorType != models.FactorTypePhone {
			return models.ErrMethodNotAvailable
		}
		record, err := s.codes.Consume(ctx, userID, smsPurpose, code)
		if err != nil {
			return err
		}
		if record.Target != factor.ID {
			return models.ErrInvalidCode
		}
		s.markUsed(ctx, factor.ID)
		return nil

	case models.MethodBackupCode:
		return s.consumeBackupCode(ctx, userID, code)
	}

	return models.ErrMethodNotAvailable
}

// Unenroll removes a factor. Removing the last verified factor also
// discards the backup codes.
func (s *MFAService) Unenroll(ctx context.Context, userID, sessionID, factorID string) error {
	factor, err := s.loadFactor(ctx, userID, factorID)
	if err != nil {
		return err
	}

	if err := s.factors.Delete(ctx, userID, factor.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		s.logger.Error("failed to delete factor", slog.String("factor_id", factor.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	remaining, err := s.HasVerifiedFactors(ctx, userID)
	if err != nil {
		return err
	}
	if !remaining {
		if err := s.backupCodes.DeleteByUser(ctx, userID); err != nil {
			s.logger.Error("failed to delete backup codes", slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}
	}

	if factor.IsVerified() {
		s.events.Record(ctx, EventInput{
			UserID:      userID,
			SessionID:   sessionID,
			EventType:   models.EventTwoFactorDisabled,
			Description: "Two-factor method removed",
			Extra:       map[string]interface{}{"factor_type": factor.FactorType, "remaining": remaining},
		})
		s.auditLogger.LogAccountAction(ctx, models.EventTwoFactorDisabled, userID, "", map[string]string{"factor_type": factor.FactorType})
	}
	return nil
}

// RegenerateBackupCodes replaces all backup codes and returns the new set
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID, sessionID string) ([]string, error) {
	hasFactors, err := s.HasVerifiedFactors(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasFactors {
		return nil, models.ErrBadRequest
	}

	codes, err := s.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   sessionID,
		EventType:   models.EventBackupCodesRegenerated,
		Description: "Backup codes regenerated",
	})
	return codes, nil
}

func (s *MFAService) issueBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := auth.GenerateBackupCodes(s.backupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := pkgauth.HashCode(code)
		if err != nil {
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		hashes[i] = hash
	}

	if err := s.backupCodes.Replace(ctx, userID, hashes); err != nil {
		s.logger.Error("failed to store backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return codes, nil
}

func (s *MFAService) consumeBackupCode(ctx context.Context, userID, code string) error {
	unused, err := s.backupCodes.ListUnused(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	for _, entry := range unused {
		if !pkgauth.CompareCode(entry.CodeHash, code) {
			continue
		}
		used, err := s.backupCodes.MarkUsed(ctx, entry.ID)
		if err != nil {
			s.logger.Error("failed to mark backup code used", slog.Any("error", err))
			return models.ErrInternalServer
		}
		if !used {
			return models.ErrInvalidCode
		}
		s.logger.Info("backup code used", slog.String("user_id", userID), slog.Int("remaining", len(unused)-1))
		return nil
	}

	return models.ErrInvalidCode
}

func (s *MFAService) checkTOTP(factor *models.MFAFactor, code string, replayGuard bool) error {
	secret, err := s.totpMgr.DecryptSecret(factor.TOTPSecretEncrypted, factor.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.String("factor_id", factor.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	lastUsed := factor.LastUsedAt
	if !replayGuard {
		lastUsed = nil
	}
	valid, err := s.totpMgr.ValidateCode(secret, code, lastUsed)
	if err != nil || !valid {
		return models.ErrInvalidCode
	}
	return nil
}

func (s *MFAService) textCode(ctx context.Context, userID string, factor *models.MFAFactor, purpose string) error {
	if factor.Phone == nil {
		return models.ErrMethodNotAvailable
	}
	code, _, err := s.codes.Issue(ctx, userID, purpose, factor.ID)
	if err != nil {
		return err
	}
	if err := s.sms.SendCode(ctx, *factor.Phone, code); err != nil {
		s.logger.Error("failed to text verification code", slog.String("factor_id", factor.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

func (s *MFAService) markUsed(ctx context.Context, factorID string) {
	if err := s.factors.UpdateLastUsedAt(ctx, factorID); err != nil {
		s.logger.Error("failed to update factor last used", slog.String("factor_id", factorID), slog.Any("error", err))
	}
}

func (s *MFAService) loadFactor(ctx context.Context, userID, factorID string) (*models.MFAFactor, error) {
	factor, err := s.factors.GetByID(ctx, userID, factorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load factor", slog.String("factor_id", factorID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return factor, nil
}

func (s *MFAService) loadVerifiedFactor(ctx context.Context, userID, factorID string) (*models.MFAFactor, error) {
	factor, err := s.loadFactor(ctx, userID, factorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMethodNotAvailable
		}
		return nil, err
	}
	if !factor.IsVerified() {
		return nil, models.ErrMethodNotAvailable
	}
	return factor, nil
}
