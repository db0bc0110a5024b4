package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VerificationCodeRepository handles one-time code data access
type VerificationCodeRepository struct {
	pool *pgxpool.Pool
}

func NewVerificationCodeRepository(db *database.DB) *VerificationCodeRepository {
	return &VerificationCodeRepository{pool: db.Pool}
}

func scanCodeRow(row rowScanner) (*models.VerificationCode, error) {
	var c models.VerificationCode

	err := row.Scan(
		&c.ID, &c.UserID, &c.Purpose, &c.Target, &c.CodeHash,
		&c.Attempts, &c.ExpiresAt, &c.ConsumedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

// Create stores a new code and retires any outstanding code for the same purpose.
func (r *VerificationCodeRepository) Create(ctx context.Context, c *models.VerificationCode) error {
	retire := `
		UPDATE verification_codes SET consumed_at = NOW()
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
	`
	if _, err := r.pool.Exec(ctx, retire, c.UserID, c.Purpose); err != nil {
		return fmt.Errorf("failed to retire previous codes: %w", database.MapPostgresError(err))
	}

	query := `
		INSERT INTO verification_codes (user_id, purpose, target, code_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, attempts, created_at
	`

	err := r.pool.QueryRow(ctx, query, c.UserID, c.Purpose, c.Target, c.CodeHash, c.ExpiresAt).
		Scan(&c.ID, &c.Attempts, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create verification code: %w", database.MapPostgresError(err))
	}

	return nil
}

// GetActive returns the newest unconsumed, unexpired code for a purpose.
func (r *VerificationCodeRepository) GetActive(ctx context.Context, userID, purpose string) (*models.VerificationCode, error) {
	query := `
		SELECT id, user_id, purpose, target, code_hash, attempts, expires_at, consumed_at, created_at
		FROM verification_codes
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanCodeRow(r.pool.QueryRow(ctx, query, userID, purpose))
}

// IncrementAttempts bumps the failure counter and returns the new value.
func (r *VerificationCodeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `UPDATE verification_codes SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id).Scan(&attempts)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

// Consume marks a code used. It reports false when the code was already consumed.
func (r *VerificationCodeRepository) Consume(ctx context.Context, id string) (bool, error) {
	result, err := r.pool.Exec(ctx, `UPDATE verification_codes SET consumed_at = NOW() WHERE id = $1 AND consumed_at IS NULL`, id)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

// DeleteExpired removes codes that expired before now (call periodically)
func (r *VerificationCodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM verification_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired codes: %w", err)
	}

	return result.RowsAffected(), nil
}
