package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/trustgate/internal/auth"
	pkglogger "github.com/BradenHooton/trustgate/pkg/logger"
)

// SecureLogger logs one line per request. Query strings carrying secrets
// are redacted and the caller's user and session ids are attached once known.
func SecureLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// Inner middleware publish claims into this holder so they are
			// visible after the chain returns.
			ids := &requestIdentity{}
			r = r.WithContext(withRequestIdentity(r.Context(), ids))

			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				path += "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path += "?" + r.URL.RawQuery
			}

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("bytes", wrapped.BytesWritten()),
				slog.String("duration", time.Since(start).String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if ids.userID != "" {
				attrs = append(attrs, slog.String("user_id", ids.userID), slog.String("session_id", ids.sessionID))
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}

// TagRequestIdentity copies authenticated claims into the request log line.
// Mount it after the JWT middleware.
func TagRequestIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ids, ok := r.Context().Value(identityContextKey{}).(*requestIdentity); ok {
			if claims := auth.GetUserFromContext(r); claims != nil {
				ids.userID = claims.UserID
				ids.sessionID = claims.SessionID
			}
		}
		next.ServeHTTP(w, r)
	})
}
