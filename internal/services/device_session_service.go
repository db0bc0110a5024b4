package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// DeviceSessionRepository defines persistence for device sessions
type DeviceSessionRepository interface {
	Create(ctx context.Context, s *models.DeviceSession) error
	GetByID(ctx context.Context, id string) (*models.DeviceSession, error)
	ListTrustedByUser(ctx context.Context, userID string) ([]models.DeviceSession, error)
	ListByUser(ctx context.Context, userID string) ([]models.DeviceSession, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	StampSensitiveVerification(ctx context.Context, id string, at time.Time) (bool, error)
	SetAAL(ctx context.Context, id, aal string) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, userID, id string) error
	DeleteAllForUser(ctx context.Context, userID, keepID string) (int64, error)
}

// VerifiedFactorLister reports the user's completed 2FA enrollments
type VerifiedFactorLister interface {
	ListVerifiedByUser(ctx context.Context, userID string) ([]models.MFAFactor, error)
}

// DeviceSessionService creates device sessions through the trust scorer and
// manages their lifecycle.
type DeviceSessionService struct {
	sessions    DeviceSessionRepository
	factors     VerifiedFactorLister
	codes       *VerificationCodeService
	email       EmailSender
	events      *EventService
	scorer      *trust.Scorer
	sessionTTL  time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewDeviceSessionService creates a new DeviceSessionService
func NewDeviceSessionService(
	sessions DeviceSessionRepository,
	factors VerifiedFactorLister,
	codes *VerificationCodeService,
	email EmailSender,
	events *EventService,
	scorer *trust.Scorer,
	cfg *config.TrustConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *DeviceSessionService {
	return &DeviceSessionService{
		sessions:    sessions,
		factors:     factors,
		codes:       codes,
		email:       email,
		events:      events,
		scorer:      scorer,
		sessionTTL:  cfg.SessionTTL,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// CreateSession scores the device against the user's trusted history,
// persists the session and kicks off device verification when needed.
func (s *DeviceSessionService) CreateSession(ctx context.Context, user *models.User, fp models.DeviceFingerprint, userAgent string, level trust.TrustLevel) (*models.DeviceSession, trust.Decision, error) {
	var (
		history      []models.DeviceSession
		hasTwoFactor bool
	)

	if level == trust.LevelStandard {
		var err error
		history, err = s.sessions.ListTrustedByUser(ctx, user.ID)
		if err != nil {
			s.logger.Error("failed to load trusted sessions", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, trust.Decision{}, models.ErrInternalServer
		}

		factors, err := s.factors.ListVerifiedByUser(ctx, user.ID)
		if err != nil {
			s.logger.Error("failed to load verified factors", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, trust.Decision{}, models.ErrInternalServer
		}
		hasTwoFactor = len(factors) > 0
	}

	decision := s.scorer.Decide(level, history, fp, hasTwoFactor)
	now := s.now()

	session := &models.DeviceSession{
		UserID:            user.ID,
		Fingerprint:       fp,
		UserAgent:         userAgent,
		IsTrusted:         decision.IsTrusted,
		NeedsVerification: decision.NeedsVerification,
		ConfidenceScore:   decision.Score,
		AAL:               models.AAL1,
		ExpiresAt:         now.Add(s.sessionTTL),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Error("failed to create device session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, trust.Decision{}, models.ErrInternalServer
	}

	s.auditLogger.LogTrustDecision(ctx, user.ID, session.ID, decision.Level.String(), decision.Score, decision.IsTrusted, decision.NeedsVerification)

	eventType, description := models.EventLogin, "Signed in"
	if level == trust.LevelStandard && decision.Tier != trust.TierHigh {
		eventType, description = models.EventNewDeviceLogin, "Signed in from a new device"
	}
	s.events.Record(ctx, EventInput{
		UserID:      user.ID,
		SessionID:   session.ID,
		EventType:   eventType,
		Description: description,
		Device:      &fp,
		Extra: map[string]interface{}{
			"confidence_score": decision.Score,
			"trust_level":      decision.Level.String(),
		},
	})

	if eventType == models.EventNewDeviceLogin {
		if err := s.email.SendNewDeviceAlert(ctx, user.Email, fp, now); err != nil {
			s.logger.Warn("failed to send new device alert", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	if decision.NeedsVerification {
		if err := s.sendDeviceCode(ctx, user); err != nil {
			// The session stays flagged; the client can ask for a resend.
			s.logger.Warn("failed to send device verification code", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	s.logger.Info("device session created",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
		slog.String("trust_level", decision.Level.String()),
		slog.Int("confidence_score", decision.Score),
		slog.Bool("needs_verification", decision.NeedsVerification))

	return session, decision, nil
}

func (s *DeviceSessionService) sendDeviceCode(ctx context.Context, user *models.User) error {
	code, expiresAt, err := s.codes.Issue(ctx, user.ID, models.CodePurposeDeviceVerification, user.Email)
	if err != nil {
		return err
	}
	return s.email.SendVerificationCode(ctx, user.Email, models.CodePurposeDeviceVerification, code, expiresAt)
}

// Get loads a session owned by userID. Expired sessions are reported as
// ErrSessionExpired.
func (s *DeviceSessionService) Get(ctx context.Context, userID, sessionID string) (*models.DeviceSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrSessionNotFound) {
			return nil, models.ErrSessionNotFound
		}
		s.logger.Error("failed to load device session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if session.UserID != userID {
		return nil, models.ErrSessionNotFound
	}
	if session.IsExpired(s.now()) {
		return nil, models.ErrSessionExpired
	}
	return session, nil
}

// VerifyDevice checks the emailed device code and trusts the session
func (s *DeviceSessionService) VerifyDevice(ctx context.Context, user *models.User, sessionID, code string) (*models.DeviceSession, error) {
	session, err := s.Get(ctx, user.ID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.NeedsVerification {
		return session, nil
	}

	if _, err := s.codes.Consume(ctx, user.ID, models.CodePurposeDeviceVerification, code); err != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "device_verification_failed",
			UserID:        user.ID,
			SessionID:     sessionID,
			FailureReason: err.Error(),
		})
		return nil, err
	}

	now := s.now()
	if err := s.sessions.MarkVerified(ctx, sessionID, now); err != nil {
		s.logger.Error("failed to mark session verified", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	session.IsTrusted = true
	session.NeedsVerification = false
	session.LastVerifiedAt = &now

	s.events.Record(ctx, EventInput{
		UserID:      user.ID,
		SessionID:   sessionID,
		EventType:   models.EventDeviceTrusted,
		Description: "Device verified by email code",
		Device:      &session.Fingerprint,
	})
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "device_verified",
		UserID:    user.ID,
		SessionID: sessionID,
		Success:   true,
	})

	return session, nil
}

// ResendDeviceCode issues a new device verification code
func (s *DeviceSessionService) ResendDeviceCode(ctx context.Context, user *models.User, sessionID string) error {
	session, err := s.Get(ctx, user.ID, sessionID)
	if err != nil {
		return err
	}
	if !session.NeedsVerification {
		return models.ErrBadRequest
	}

	if err := s.sendDeviceCode(ctx, user); err != nil {
		s.logger.Error("failed to resend device code", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// ListSessions returns the user's active sessions
func (s *DeviceSessionService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.DeviceSessionResponse, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	out := make([]models.DeviceSessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessions[i].ToResponse(currentSessionID))
	}
	return out, nil
}

// RevokeSession deletes one of the user's sessions
func (s *DeviceSessionService) RevokeSession(ctx context.Context, userID, sessionID, currentSessionID string) error {
	if err := s.sessions.Delete(ctx, userID, sessionID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return err
		}
		s.logger.Error("failed to revoke session", slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   currentSessionID,
		EventType:   models.EventSessionRevoked,
		Description: "Signed out a device",
		Extra:       map[string]interface{}{"revoked_session_id": sessionID},
	})
	return nil
}

// RevokeAllSessions deletes every session except keepID and returns the count
func (s *DeviceSessionService) RevokeAllSessions(ctx context.Context, userID, keepID string) (int64, error) {
	n, err := s.sessions.DeleteAllForUser(ctx, userID, keepID)
	if err != nil {
		s.logger.Error("failed to revoke sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}
	return n, nil
}

// EndSession removes the caller's own session on logout
func (s *DeviceSessionService) EndSession(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.Delete(ctx, userID, sessionID); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		s.logger.Error("failed to delete session on logout", slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// Touch records activity; failures are only logged
func (s *DeviceSessionService) Touch(ctx context.Context, sessionID string) {
	if err := s.sessions.Touch(ctx, sessionID, s.now()); err != nil {
		s.logger.Warn("failed to touch session", slog.String("session_id", sessionID), slog.Any("error", err))
	}
}

// GetAuthenticatorAssuranceLevel returns the session's AAL, aal1 on any
// lookup failure.
func (s *DeviceSessionService) GetAuthenticatorAssuranceLevel(ctx context.Context, sessionID string) string {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("failed to load session for AAL", slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return models.AAL1
	}
	return trust.AssuranceLevel(session, s.now())
}

// PromoteToAAL2 marks the session as having presented a second factor
func (s *DeviceSessionService) PromoteToAAL2(ctx context.Context, sessionID string) error {
	if err := s.sessions.SetAAL(ctx, sessionID, models.AAL2); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return err
		}
		s.logger.Error("failed to promote session", slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// StampSensitiveVerification opens a fresh grace period on the session
func (s *DeviceSessionService) StampSensitiveVerification(ctx context.Context, sessionID string) (time.Time, error) {
	now := s.now()
	stamped, err := s.sessions.StampSensitiveVerification(ctx, sessionID, now)
	if err != nil {
		s.logger.Error("failed to stamp sensitive verification", slog.String("session_id", sessionID), slog.Any("error", err))
		return time.Time{}, models.ErrInternalServer
	}
	if !stamped {
		// Either the session vanished/expired or a newer stamp already exists.
		session, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil || session.IsExpired(now) {
			return time.Time{}, models.ErrSessionExpired
		}
	}
	return now, nil
}
