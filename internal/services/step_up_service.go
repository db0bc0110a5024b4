package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// UserLookup loads a user by id
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// StepUpService guards sensitive actions behind a fresh proof of identity
type StepUpService struct {
	users       UserLookup
	sessions    *DeviceSessionService
	mfa         *MFAService
	codes       *VerificationCodeService
	email       EmailSender
	events      *EventService
	gate        *trust.Gate
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewStepUpService creates a new StepUpService
func NewStepUpService(
	users UserLookup,
	sessions *DeviceSessionService,
	mfa *MFAService,
	codes *VerificationCodeService,
	email EmailSender,
	events *EventService,
	gate *trust.Gate,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *StepUpService {
	return &StepUpService{
		users:       users,
		sessions:    sessions,
		mfa:         mfa,
		codes:       codes,
		email:       email,
		events:      events,
		gate:        gate,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

type stepUpContext struct {
	user           *models.User
	session        *models.DeviceSession
	factors        []models.MFAFactor
	hasBackupCodes bool
	sessionErr     error
}

func (s *StepUpService) load(ctx context.Context, userID, sessionID string) (*stepUpContext, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load user for step-up", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// A session that cannot be read is handed to the gate as nil so the
	// decision fails closed. Other failures are kept for callers that must
	// write to the session.
	session, err := s.sessions.Get(ctx, userID, sessionID)
	var sessionErr error
	if err != nil && !errors.Is(err, models.ErrSessionNotFound) && !errors.Is(err, models.ErrSessionExpired) {
		sessionErr = err
	}

	factors, hasBackupCodes, err := s.mfa.TwoFactorState(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &stepUpContext{user: user, session: session, factors: factors, hasBackupCodes: hasBackupCodes, sessionErr: sessionErr}, nil
}

// Evaluate reports whether the session must re-verify before a sensitive action
func (s *StepUpService) Evaluate(ctx context.Context, userID, sessionID string) (trust.StepUpDecision, error) {
	sc, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return trust.StepUpDecision{}, err
	}
	if sc.sessionErr != nil {
		s.logger.Warn("session unreadable, requiring verification", slog.String("session_id", sessionID), slog.Any("error", sc.sessionErr))
	}
	return s.gate.Evaluate(sc.session, sc.user, sc.factors, sc.hasBackupCodes), nil
}

// RequestChallenge sends the code for methods that need one (email, sms).
// It reports whether anything was sent.
func (s *StepUpService) RequestChallenge(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID string) (bool, error) {
	sc, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}
	if sc.sessionErr != nil {
		return false, sc.sessionErr
	}
	if sc.session == nil {
		return false, models.ErrSessionNotFound
	}
	if !trust.Allows(s.gate.Methods(sc.user, sc.factors, sc.hasBackupCodes), method, factorID) {
		return false, models.ErrMethodNotAvailable
	}

	switch method {
	case models.MethodEmail:
		code, expiresAt, err := s.codes.Issue(ctx, userID, models.CodePurposeStepUpEmail, sc.user.Email)
		if err != nil {
			return false, err
		}
		if err := s.email.SendVerificationCode(ctx, sc.user.Email, models.CodePurposeStepUpEmail, code, expiresAt); err != nil {
			s.logger.Error("failed to email step-up code", slog.String("user_id", userID), slog.Any("error", err))
			return false, models.ErrInternalServer
		}
		return true, nil
	case models.MethodSMS:
		if err := s.mfa.SendSMSCode(ctx, userID, factorID, models.CodePurposeStepUpSMS); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// Verify checks a proof of identity and opens a new grace period on the
// session. A second-factor proof also raises the session to aal2.
func (s *StepUpService) Verify(ctx context.Context, userID, sessionID string, method models.VerificationMethod, factorID, secret string) (time.Time, error) {
	sc, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if sc.sessionErr != nil {
		return time.Time{}, sc.sessionErr
	}
	if sc.session == nil {
		return time.Time{}, models.ErrSessionExpired
	}
	if !trust.Allows(s.gate.Methods(sc.user, sc.factors, sc.hasBackupCodes), method, factorID) {
		return time.Time{}, models.ErrMethodNotAvailable
	}

	if err := s.checkProof(ctx, sc.user, method, factorID, secret); err != nil {
		s.auditLogger.LogStepUp(ctx, userID, sessionID, string(method), false, err.Error())
		return time.Time{}, err
	}

	at, err := s.sessions.StampSensitiveVerification(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}

	if method.IsTwoFactor() {
		if err := s.sessions.PromoteToAAL2(ctx, sessionID); err != nil {
			s.logger.Warn("failed to promote session after step-up", slog.String("session_id", sessionID), slog.Any("error", err))
		}
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   sessionID,
		EventType:   models.EventSensitiveActionVerified,
		Description: "Identity confirmed for a sensitive action",
		Device:      &sc.session.Fingerprint,
		Extra:       map[string]interface{}{"method": string(method)},
	})
	s.auditLogger.LogStepUp(ctx, userID, sessionID, string(method), true, "")

	return at, nil
}

func (s *StepUpService) checkProof(ctx context.Context, user *models.User, method models.VerificationMethod, factorID, secret string) error {
	switch method {
	case models.MethodPassword:
		if !user.HasPassword() || pkgauth.ComparePassword(*user.PasswordHash, secret) != nil {
			return models.ErrInvalidCredentials
		}
		return nil
	case models.MethodEmail:
		_, err := s.codes.Consume(ctx, user.ID, models.CodePurposeStepUpEmail, secret)
		return err
	case models.MethodTOTP, models.MethodSMS, models.MethodBackupCode:
		return s.mfa.VerifyFactorCode(ctx, user.ID, method, factorID, secret, models.CodePurposeStepUpSMS)
	}
	return models.ErrMethodNotAvailable
}
