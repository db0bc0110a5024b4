package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

type sessionContextKey struct{}

// SessionLoader resolves the device session named by the access token
type SessionLoader interface {
	Get(ctx context.Context, userID, sessionID string) (*models.DeviceSession, error)
	Touch(ctx context.Context, sessionID string)
}

// FactorChecker reports whether the user has completed 2FA enrollment
type FactorChecker interface {
	HasVerifiedFactors(ctx context.Context, userID string) (bool, error)
}

// RequireDeviceSession loads the caller's device session. It must run after
// the JWT middleware. Missing or expired sessions are rejected with 401.
func RequireDeviceSession(loader SessionLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.GetUserFromContext(r)
			if claims == nil || claims.SessionID == "" {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			session, err := loader.Get(r.Context(), claims.UserID, claims.SessionID)
			if err != nil {
				switch {
				case errors.Is(err, models.ErrSessionNotFound):
					pkghttp.WriteError(w, http.StatusUnauthorized, "session_not_found", "Session has ended")
				case errors.Is(err, models.ErrSessionExpired):
					pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Session has expired")
				default:
					logger.Error("failed to load device session", slog.String("session_id", claims.SessionID), slog.Any("error", err))
					pkghttp.WriteInternalError(w, "Internal server error")
				}
				return
			}

			loader.Touch(r.Context(), session.ID)
			next.ServeHTTP(w, r.WithContext(WithDeviceSession(r.Context(), session)))
		})
	}
}

// RequireVerifiedDevice rejects sessions still waiting on the emailed device code
func RequireVerifiedDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := GetDeviceSession(r)
		if session == nil {
			pkghttp.WriteUnauthorized(w, "Unauthorized")
			return
		}
		if session.NeedsVerification {
			pkghttp.WriteError(w, http.StatusForbidden, "device_verification_required", "Verify this device with the code we emailed you")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAAL rejects aal1 sessions of users who have 2FA enrolled
func RequireAAL(factors FactorChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetDeviceSession(r)
			if session == nil {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}
			if session.AAL == models.AAL2 {
				next.ServeHTTP(w, r)
				return
			}

			hasFactors, err := factors.HasVerifiedFactors(r.Context(), session.UserID)
			if err != nil {
				logger.Error("failed to check factors for AAL", slog.String("user_id", session.UserID), slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}
			if hasFactors {
				pkghttp.WriteError(w, http.StatusForbidden, "mfa_required", "Complete two-factor authentication to continue")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithDeviceSession stores session in ctx
func WithDeviceSession(ctx context.Context, session *models.DeviceSession) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// GetDeviceSession returns the session loaded by RequireDeviceSession
func GetDeviceSession(r *http.Request) *models.DeviceSession {
	session, _ := r.Context().Value(sessionContextKey{}).(*models.DeviceSession)
	return session
}
