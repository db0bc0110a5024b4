package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceSessionRepository persists device sessions and their trust state
type DeviceSessionRepository struct {
	pool *pgxpool.Pool
}

func NewDeviceSessionRepository(db *database.DB) *DeviceSessionRepository {
	return &DeviceSessionRepository{pool: db.Pool}
}

const sessionColumns = `id, user_id, device_name, browser, os, ip_address, user_agent,
	is_trusted, needs_verification, confidence_score, aal,
	last_verified_at, last_sensitive_verification_at, created_at, last_active_at, expires_at`

func scanSessionRow(row rowScanner) (*models.DeviceSession, error) {
	var s models.DeviceSession

	err := row.Scan(
		&s.ID, &s.UserID, &s.Fingerprint.DeviceName, &s.Fingerprint.Browser,
		&s.Fingerprint.OS, &s.Fingerprint.IPAddress, &s.UserAgent,
		&s.IsTrusted, &s.NeedsVerification, &s.ConfidenceScore, &s.AAL,
		&s.LastVerifiedAt, &s.LastSensitiveVerificationAt,
		&s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]models.DeviceSession, error) {
	defer rows.Close()

	sessions := make([]models.DeviceSession, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device session: %w", err)
		}
		sessions = append(sessions, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device session rows: %w", err)
	}

	return sessions, nil
}

func (r *DeviceSessionRepository) Create(ctx context.Context, s *models.DeviceSession) error {
	query := `
		INSERT INTO device_sessions (
			user_id, device_name, browser, os, ip_address, user_agent,
			is_trusted, needs_verification, confidence_score, aal,
			last_verified_at, last_sensitive_verification_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, last_active_at
	`

	if s.AAL == "" {
		s.AAL = models.AAL1
	}

	err := r.pool.QueryRow(ctx, query,
		s.UserID, s.Fingerprint.DeviceName, s.Fingerprint.Browser, s.Fingerprint.OS,
		s.Fingerprint.IPAddress, s.UserAgent,
		s.IsTrusted, s.NeedsVerification, s.ConfidenceScore, s.AAL,
		s.LastVerifiedAt, s.LastSensitiveVerificationAt, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt, &s.LastActiveAt)
	if err != nil {
		return fmt.Errorf("failed to create device session: %w", database.MapPostgresError(err))
	}

	return nil
}

func (r *DeviceSessionRepository) GetByID(ctx context.Context, id string) (*models.DeviceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM device_sessions WHERE id = $1`

	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

// ListTrustedByUser returns unexpired trusted sessions, the scorer's history
func (r *DeviceSessionRepository) ListTrustedByUser(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE user_id = $1 AND is_trusted AND expires_at > NOW()
		ORDER BY last_active_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trusted sessions: %w", err)
	}

	return scanSessionRows(rows)
}

func (r *DeviceSessionRepository) ListByUser(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM device_sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY last_active_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

// MarkVerified records proof of device ownership and trusts the device.
func (r *DeviceSessionRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE device_sessions
		SET is_trusted = TRUE, needs_verification = FALSE, last_verified_at = $2
		WHERE id = $1
	`

	return r.execOne(ctx, query, id, at)
}

// StampSensitiveVerification moves last_sensitive_verification_at forward in
// a single statement. It never moves the timestamp backwards, so two
// concurrent verifications cannot leave the older one in place. Reports
// whether the row changed.
func (r *DeviceSessionRepository) StampSensitiveVerification(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE device_sessions
		SET last_sensitive_verification_at = $2
		WHERE id = $1
		  AND expires_at > $2
		  AND (last_sensitive_verification_at IS NULL OR last_sensitive_verification_at < $2)
	`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 1, nil
}

// SetAAL updates the assurance level after a second factor is presented.
func (r *DeviceSessionRepository) SetAAL(ctx context.Context, id, aal string) error {
	return r.execOne(ctx, `UPDATE device_sessions SET aal = $2 WHERE id = $1`, id, aal)
}

// Touch records activity on the session.
func (r *DeviceSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE device_sessions SET last_active_at = $2 WHERE id = $1`, id, at)
	return database.MapPostgresError(err)
}

// Delete removes one session owned by userID.
func (r *DeviceSessionRepository) Delete(ctx context.Context, userID, id string) error {
	return r.execOne(ctx, `DELETE FROM device_sessions WHERE id = $1 AND user_id = $2`, id, userID)
}

// DeleteAllForUser removes every session for the user except keepID (which may be empty).
func (r *DeviceSessionRepository) DeleteAllForUser(ctx context.Context, userID, keepID string) (int64, error) {
	query := `DELETE FROM device_sessions WHERE user_id = $1`
	args := []interface{}{userID}
	if keepID != "" {
		query += ` AND id <> $2`
		args = append(args, keepID)
	}

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// DeleteExpired purges sessions past their expiry (call periodically)
func (r *DeviceSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM device_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

func (r *DeviceSessionRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}

	return nil
}
