package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/BradenHooton/trustgate/internal/trust"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// Post-auth flows
const (
	FlowOAuth    = "oauth"
	FlowOTP      = "otp"
	FlowRecovery = "recovery"
)

// UserRepository defines the interface for user persistence
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateEmail(ctx context.Context, id, email string) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdateAvatar(ctx context.Context, id string, avatarKey *string) error
	Delete(ctx context.Context, id string) error
}

// IdentityRepository defines persistence for linked OAuth identities
type IdentityRepository interface {
	Create(ctx context.Context, identity *models.Identity) error
	GetByProvider(ctx context.Context, provider, providerUserID string) (*models.Identity, error)
	ListByUser(ctx context.Context, userID string) ([]models.Identity, error)
	Delete(ctx context.Context, userID, id string) error
}

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time) (bool, error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// ClientDevice is the request context a session is created from
type ClientDevice struct {
	Fingerprint models.DeviceFingerprint
	UserAgent   string
}

// SignUpInput carries a password registration
type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Device   ClientDevice
}

// LoginInput carries a password sign-in
type LoginInput struct {
	Email    string
	Password string
	Device   ClientDevice
}

// PostAuthInput carries the proof for a non-password sign-in flow
type PostAuthInput struct {
	Flow        string
	Assertion   string // oauth
	Email       string // otp, recovery
	Code        string // otp, recovery
	NewPassword string // recovery
	Device      ClientDevice
}

// AuthService handles authentication business logic
type AuthService struct {
	users       UserRepository
	identities  IdentityRepository
	revokeRepo  TokenRevocationRepository
	sessions    *DeviceSessionService
	mfa         *MFAService
	codes       *VerificationCodeService
	email       EmailSender
	events      *EventService
	tm          *auth.TokenManager
	assertions  *auth.AssertionVerifier
	timingDelay *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	identities IdentityRepository,
	revokeRepo TokenRevocationRepository,
	sessions *DeviceSessionService,
	mfa *MFAService,
	codes *VerificationCodeService,
	email EmailSender,
	events *EventService,
	tm *auth.TokenManager,
	assertions *auth.AssertionVerifier,
	timingDelay *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		identities:  identities,
		revokeRepo:  revokeRepo,
		sessions:    sessions,
		mfa:         mfa,
		codes:       codes,
		email:       email,
		events:      events,
		tm:          tm,
		assertions:  assertions,
		timingDelay: timingDelay,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates a password account. The first device of a brand-new
// account is trusted outright.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*models.AuthResponse, error) {
	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || name == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hash, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	user, err := s.users.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      &hash,
		Name:              name,
		Status:            models.UserStatusActive,
		PasswordChangedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.events.Record(ctx, EventInput{
		UserID:      user.ID,
		EventType:   models.EventSignup,
		Description: "Account created",
		Device:      &in.Device.Fingerprint,
	})
	s.logger.Info("user signed up", slog.String("user_id", user.ID))

	return s.startSession(ctx, user, in.Device, trust.LevelNewAccount)
}

// Login authenticates with email and password. Failed attempts are padded
// to a uniform duration.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (resp *models.AuthResponse, err error) {
	start := time.Now()
	defer func() {
		s.timingDelay.PadFailure(start, err == nil)
	}()

	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, models.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn a hash comparison so unknown emails cost the same.
			_ = pkgauth.ComparePassword(dummyPasswordHash, in.Password)
			s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     in.Device.Fingerprint.IPAddress,
				FailureReason: "invalid_credentials",
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.HasPassword() || pkgauth.ComparePassword(*user.PasswordHash, in.Password) != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     in.Device.Fingerprint.IPAddress,
			FailureReason: "invalid_credentials",
		})
		return nil, models.ErrInvalidCredentials
	}

	if err := validateAccountState(user); err != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			FailureReason: "account_blocked",
		})
		return nil, err
	}

	resp, err = s.startSession(ctx, user, in.Device, trust.LevelStandard)
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		SessionID: resp.SessionID,
		IPAddress: in.Device.Fingerprint.IPAddress,
		UserAgent: in.Device.UserAgent,
		Success:   true,
	})
	return resp, nil
}

// dummyPasswordHash is a valid bcrypt hash compared against when the email
// is unknown.
const dummyPasswordHash = "$2a$14$ajq8Q7fbtFRQvXpdCq7Jcuy.Rx1h/L4J60Otx.gyNLbAYctGMJ9tK"

// RequestLoginCode emails a sign-in code. Unknown addresses are ignored
// without error.
func (s *AuthService) RequestLoginCode(ctx context.Context, email string) error {
	return s.sendAccountCode(ctx, normalizeEmail(email), models.CodePurposeLoginOTP)
}

// RequestPasswordRecovery emails a recovery code. Unknown addresses are
// ignored without error.
func (s *AuthService) RequestPasswordRecovery(ctx context.Context, email string) error {
	return s.sendAccountCode(ctx, normalizeEmail(email), models.CodePurposePasswordRecovery)
}

func (s *AuthService) sendAccountCode(ctx context.Context, email, purpose string) error {
	if email == "" {
		return models.ErrBadRequest
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if validateAccountState(user) != nil {
		return nil
	}

	code, expiresAt, err := s.codes.Issue(ctx, user.ID, purpose, user.Email)
	if err != nil {
		return err
	}
	if err := s.email.SendVerificationCode(ctx, user.Email, purpose, code, expiresAt); err != nil {
		s.logger.Error("failed to send account code", slog.String("purpose", purpose), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// FinalizeAuth creates the device session after a non-password flow
func (s *AuthService) FinalizeAuth(ctx context.Context, in PostAuthInput) (*models.AuthResponse, error) {
	switch in.Flow {
	case FlowOAuth:
		return s.finalizeOAuth(ctx, in)
	case FlowOTP:
		return s.finalizeOTP(ctx, in)
	case FlowRecovery:
		return s.CompletePasswordRecovery(ctx, in)
	}
	return nil, models.ErrBadRequest
}

func (s *AuthService) finalizeOAuth(ctx context.Context, in PostAuthInput) (*models.AuthResponse, error) {
	claims, err := s.assertions.Verify(in.Assertion)
	if err != nil {
		if errors.Is(err, auth.ErrOAuthDisabled) {
			return nil, models.ErrMethodNotAvailable
		}
		s.logger.Info("oauth assertion rejected", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	user, err := s.userForIdentity(ctx, claims)
	if err != nil {
		return nil, err
	}
	if err := validateAccountState(user); err != nil {
		return nil, err
	}

	return s.startSession(ctx, user, in.Device, trust.LevelOAuth)
}

// userForIdentity resolves the linked account, links by verified email, or
// creates a password-less account.
func (s *AuthService) userForIdentity(ctx context.Context, claims *auth.ProviderClaims) (*models.User, error) {
	identity, err := s.identities.GetByProvider(ctx, claims.Provider, claims.Subject)
	if err == nil {
		return s.lookupUser(ctx, identity.UserID)
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up identity", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	email := normalizeEmail(claims.Email)
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		// Linking to an existing account requires the provider to vouch for the address.
		if !claims.EmailVerified {
			return nil, models.ErrConflict
		}
	case errors.Is(err, models.ErrNotFound):
		name := strings.TrimSpace(claims.Name)
		if name == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		user, err = s.users.Create(ctx, &models.User{
			Email:         email,
			Name:          name,
			EmailVerified: claims.EmailVerified,
			Status:        models.UserStatusActive,
		})
		if err != nil {
			s.logger.Error("failed to create oauth user", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.events.Record(ctx, EventInput{
			UserID:      user.ID,
			EventType:   models.EventSignup,
			Description: "Account created with " + claims.Provider,
		})
	default:
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.identities.Create(ctx, &models.Identity{
		UserID:         user.ID,
		Provider:       claims.Provider,
		ProviderUserID: claims.Subject,
		Email:          email,
	}); err != nil {
		s.logger.Error("failed to link identity", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return user, nil
}

func (s *AuthService) finalizeOTP(ctx context.Context, in PostAuthInput) (*models.AuthResponse, error) {
	user, err := s.userByEmailForCode(ctx, in.Email)
	if err != nil {
		return nil, err
	}

	if _, err := s.codes.Consume(ctx, user.ID, models.CodePurposeLoginOTP, in.Code); err != nil {
		return nil, err
	}
	if err := validateAccountState(user); err != nil {
		return nil, err
	}

	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			s.logger.Warn("failed to mark email verified", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	return s.startSession(ctx, user, in.Device, trust.LevelEmailLink)
}

// CompletePasswordRecovery sets a new password using the emailed recovery
// code, signs out every other device and starts a trusted session.
func (s *AuthService) CompletePasswordRecovery(ctx context.Context, in PostAuthInput) (*models.AuthResponse, error) {
	if err := pkgauth.ValidatePassword(in.NewPassword); err != nil {
		return nil, err
	}

	user, err := s.userByEmailForCode(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if _, err := s.codes.Consume(ctx, user.ID, models.CodePurposePasswordRecovery, in.Code); err != nil {
		return nil, err
	}
	if err := validateAccountState(user); err != nil {
		return nil, err
	}

	hash, err := pkgauth.HashPassword(in.NewPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			s.logger.Warn("failed to mark email verified", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	now := time.Now()
	user.PasswordHash = &hash
	user.PasswordChangedAt = &now
	user.EmailVerified = true

	if _, err := s.sessions.RevokeAllSessions(ctx, user.ID, ""); err != nil {
		return nil, err
	}

	s.events.Record(ctx, EventInput{
		UserID:      user.ID,
		EventType:   models.EventPasswordRecovered,
		Description: "Password reset by email",
		Device:      &in.Device.Fingerprint,
	})
	s.auditLogger.LogAccountAction(ctx, models.EventPasswordRecovered, user.ID, in.Device.Fingerprint.IPAddress, nil)

	return s.startSession(ctx, user, in.Device, trust.LevelEmailLink)
}

func (s *AuthService) userByEmailForCode(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, models.ErrInvalidCode
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCode
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

// Refresh rotates a refresh token. The old token is revoked and the device
// session must still be alive.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateTokenOfType(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("failed to check refresh token revocation", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "refresh_reuse",
			UserID:        claims.UserID,
			SessionID:     claims.SessionID,
			FailureReason: "revoked_refresh_token",
		})
		return nil, models.ErrUnauthorized
	}

	user, err := s.lookupUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			return nil, err
		}
		return nil, models.ErrInternalServer
	}
	if err := validateAccountState(user); err != nil {
		return nil, models.ErrUnauthorized
	}

	// Tokens minted before a password change are dead. iat has second precision.
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second)) {
		return nil, models.ErrUnauthorized
	}

	session, err := s.sessions.Get(ctx, user.ID, claims.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrInternalServer) {
			return nil, err
		}
		return nil, models.ErrUnauthorized
	}

	// Only the request that inserts the revocation may rotate; a concurrent
	// replay of the same token loses here.
	won, err := s.revoke(ctx, claims)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	if !won {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "refresh_reuse",
			UserID:        claims.UserID,
			SessionID:     claims.SessionID,
			FailureReason: "revoked_refresh_token",
		})
		return nil, models.ErrUnauthorized
	}

	access, refresh, err := s.tm.GenerateTokenPair(user.ID, user.Email, session.ID)
	if err != nil {
		s.logger.Error("failed to generate tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	s.sessions.Touch(ctx, session.ID)

	return s.buildResponse(ctx, user, session, access, refresh)
}

// Logout revokes the presented tokens and deletes the device session
func (s *AuthService) Logout(ctx context.Context, access *models.TokenClaims, refreshToken string) error {
	if _, err := s.revoke(ctx, access); err != nil {
		return models.ErrInternalServer
	}

	if refreshToken != "" {
		if claims, err := s.tm.ValidateTokenOfType(refreshToken, models.TokenTypeRefresh); err == nil &&
			claims.UserID == access.UserID && claims.SessionID == access.SessionID {
			if _, err := s.revoke(ctx, claims); err != nil {
				return models.ErrInternalServer
			}
		}
	}

	if err := s.sessions.EndSession(ctx, access.UserID, access.SessionID); err != nil {
		return err
	}

	s.events.Record(ctx, EventInput{
		UserID:      access.UserID,
		EventType:   models.EventLogout,
		Description: "Signed out",
		Extra:       map[string]interface{}{"session_id": access.SessionID},
	})
	s.logger.Info("user logged out", slog.String("user_id", access.UserID))
	return nil
}

// revoke blacklists the token and reports whether this call inserted it
func (s *AuthService) revoke(ctx context.Context, claims *models.TokenClaims) (bool, error) {
	expiresAt := time.Now().Add(s.tm.RefreshTokenExpiry())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	inserted, err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, expiresAt)
	if err != nil {
		s.logger.Error("failed to revoke token", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return false, err
	}
	return inserted, nil
}

func (s *AuthService) lookupUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

func (s *AuthService) startSession(ctx context.Context, user *models.User, device ClientDevice, level trust.TrustLevel) (*models.AuthResponse, error) {
	session, _, err := s.sessions.CreateSession(ctx, user, device.Fingerprint, device.UserAgent, level)
	if err != nil {
		return nil, err
	}

	access, refresh, err := s.tm.GenerateTokenPair(user.ID, user.Email, session.ID)
	if err != nil {
		s.logger.Error("failed to generate tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return s.buildResponse(ctx, user, session, access, refresh)
}

func (s *AuthService) buildResponse(ctx context.Context, user *models.User, session *models.DeviceSession, access, refresh string) (*models.AuthResponse, error) {
	hasFactors, err := s.mfa.HasVerifiedFactors(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	userResp := user.ToResponse()
	return &models.AuthResponse{
		AccessToken:       access,
		RefreshToken:      refresh,
		User:              &userResp,
		SessionID:         session.ID,
		ConfidenceScore:   session.ConfidenceScore,
		IsTrusted:         session.IsTrusted,
		NeedsVerification: session.NeedsVerification,
		MFARequired:       hasFactors && session.AAL != models.AAL2,
		AAL:               session.AAL,
	}, nil
}

func validateAccountState(user *models.User) error {
	switch user.Status {
	case models.UserStatusDisabled:
		return models.ErrAccountDisabled
	case models.UserStatusSuspended:
		return models.ErrAccountSuspended
	case models.UserStatusActive:
		return nil
	default:
		return fmt.Errorf("unknown account status: %s", user.Status)
	}
}
