package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/BradenHooton/trustgate/internal/models"
	pkgauth "github.com/BradenHooton/trustgate/pkg/auth"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// MaxAvatarBytes caps avatar uploads
const MaxAvatarBytes = 2 << 20

var avatarExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// AccountService performs account changes. Callers gate the sensitive ones
// through StepUpService first.
type AccountService struct {
	users       UserRepository
	identities  IdentityRepository
	sessions    *DeviceSessionService
	codes       *VerificationCodeService
	email       EmailSender
	avatars     ObjectStorage
	exports     ObjectStorage
	events      *EventService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService
func NewAccountService(
	users UserRepository,
	identities IdentityRepository,
	sessions *DeviceSessionService,
	codes *VerificationCodeService,
	email EmailSender,
	avatars ObjectStorage,
	exports ObjectStorage,
	events *EventService,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AccountService {
	return &AccountService{
		users:       users,
		identities:  identities,
		sessions:    sessions,
		codes:       codes,
		email:       email,
		avatars:     avatars,
		exports:     exports,
		events:      events,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// GetUser returns the user or ErrNotFound
func (s *AccountService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

// ChangePassword sets a new password and signs out every other device
func (s *AccountService) ChangePassword(ctx context.Context, userID, sessionID, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	revoked, err := s.sessions.RevokeAllSessions(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   sessionID,
		EventType:   models.EventPasswordChanged,
		Description: "Password changed",
		Extra:       map[string]interface{}{"sessions_revoked": revoked},
	})
	s.auditLogger.LogAccountAction(ctx, models.EventPasswordChanged, userID, "", nil)
	return nil
}

// ChangeEmail sends a confirmation code to the new address
func (s *AccountService) ChangeEmail(ctx context.Context, userID, newEmail string) error {
	newEmail = normalizeEmail(newEmail)
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if newEmail == "" || newEmail == user.Email {
		return models.ErrBadRequest
	}
	if err := s.ensureEmailFree(ctx, newEmail); err != nil {
		return err
	}

	code, expiresAt, err := s.codes.Issue(ctx, userID, models.CodePurposeEmailChange, newEmail)
	if err != nil {
		return err
	}
	if err := s.email.SendVerificationCode(ctx, newEmail, models.CodePurposeEmailChange, code, expiresAt); err != nil {
		s.logger.Error("failed to send email change code", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// ConfirmEmailChange applies the pending address once its code is presented
func (s *AccountService) ConfirmEmailChange(ctx context.Context, userID, sessionID, code string) (*models.User, error) {
	record, err := s.codes.Consume(ctx, userID, models.CodePurposeEmailChange, code)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, record.Target); err != nil {
		return nil, err
	}

	if err := s.users.UpdateEmail(ctx, userID, record.Target); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to update email", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   sessionID,
		EventType:   models.EventEmailChanged,
		Description: "Email address changed",
	})
	s.auditLogger.LogAccountAction(ctx, models.EventEmailChanged, userID, "", map[string]string{
		"new_email": pkglogger.SanitizedEmail(record.Target),
	})

	return s.GetUser(ctx, userID)
}

func (s *AccountService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check email availability", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// DeleteAccount removes the user, their sessions, avatar and export files. Rows
// owned by the user cascade with it, so the deletion is logged rather than
// recorded as an event.
func (s *AccountService) DeleteAccount(ctx context.Context, userID, ipAddress string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.AvatarKey != nil {
		if err := s.avatars.Delete(ctx, *user.AvatarKey); err != nil {
			s.logger.Warn("failed to delete avatar", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	if n, err := s.exports.DeletePrefix(ctx, exportKeyPrefix(userID)); err != nil {
		s.logger.Warn("failed to delete export files", slog.String("user_id", userID), slog.Int("deleted", n), slog.Any("error", err))
	}

	if _, err := s.sessions.RevokeAllSessions(ctx, userID, ""); err != nil {
		return err
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		s.logger.Error("failed to delete user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction(ctx, models.EventAccountDeleted, userID, ipAddress, nil)
	s.logger.Info("account deleted", slog.String("user_id", userID))
	return nil
}

// ListIdentities returns the linked OAuth identities
func (s *AccountService) ListIdentities(ctx context.Context, userID string) ([]models.Identity, error) {
	identities, err := s.identities.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list identities", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if identities == nil {
		identities = []models.Identity{}
	}
	return identities, nil
}

// DisconnectIdentity unlinks an OAuth identity. The last way to sign in
// cannot be removed.
func (s *AccountService) DisconnectIdentity(ctx context.Context, userID, sessionID, identityID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	identities, err := s.ListIdentities(ctx, userID)
	if err != nil {
		return err
	}

	var target *models.Identity
	for i := range identities {
		if identities[i].ID == identityID {
			target = &identities[i]
			break
		}
	}
	if target == nil {
		return models.ErrNotFound
	}

	remaining := len(identities) - 1
	if user.HasPassword() {
		remaining++
	}
	if remaining == 0 {
		return models.ErrLastLoginMethod
	}

	if err := s.identities.Delete(ctx, userID, identityID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to delete identity", slog.String("identity_id", identityID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   sessionID,
		EventType:   models.EventIdentityDisconnected,
		Description: "Disconnected " + target.Provider,
		Extra:       map[string]interface{}{"provider": target.Provider},
	})
	return nil
}

// UploadAvatar stores a new avatar and removes the previous one
func (s *AccountService) UploadAvatar(ctx context.Context, userID, sessionID, contentType string, body io.Reader, size int64) (*models.User, error) {
	ext, ok := avatarExtensions[contentType]
	if !ok || size <= 0 || size > MaxAvatarBytes {
		return nil, models.ErrBadRequest
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("avatars/%s/%s.%s", userID, uuid.New().String(), ext)
	if err := s.avatars.Put(ctx, key, contentType, body, size); err != nil {
		s.logger.Error("failed to upload avatar", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.users.UpdateAvatar(ctx, userID, &key); err != nil {
		s.logger.Error("failed to save avatar key", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.AvatarKey != nil {
		if err := s.avatars.Delete(ctx, *user.AvatarKey); err != nil {
			s.logger.Warn("failed to delete old avatar", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   sessionID,
		EventType:   models.EventAvatarUpdated,
		Description: "Profile picture updated",
	})

	user.AvatarKey = &key
	return user, nil
}
