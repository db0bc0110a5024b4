package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	SessionID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security audit lines next to the application log
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

func (al *AuditLogger) emit(ctx context.Context, auditType string, success bool, attrs []slog.Attr) {
	attrs = append([]slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}, attrs...)

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogAuthAttempt logs authentication attempts
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(ctx, "auth", event.Success, attrs)
}

// LogTrustDecision records the outcome of scoring a new device session
func (al *AuditLogger) LogTrustDecision(ctx context.Context, userID, sessionID, level string, score int, trusted, needsVerification bool) {
	al.emit(ctx, "device_trust", true, []slog.Attr{
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.String("trust_level", level),
		slog.Int("confidence_score", score),
		slog.Bool("is_trusted", trusted),
		slog.Bool("needs_verification", needsVerification),
	})
}

// LogStepUp records a step-up verification attempt
func (al *AuditLogger) LogStepUp(ctx context.Context, userID, sessionID, method string, success bool, reason string) {
	attrs := []slog.Attr{
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.String("method", method),
		slog.Bool("success", success),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("failure_reason", reason))
	}

	al.emit(ctx, "step_up", success, attrs)
}

// LogAccountAction logs general account actions
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
	}

	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(ctx, "account", true, attrs)
}
