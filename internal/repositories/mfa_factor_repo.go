package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MFAFactorRepository handles enrolled factor persistence
type MFAFactorRepository struct {
	pool *pgxpool.Pool
}

func NewMFAFactorRepository(db *database.DB) *MFAFactorRepository {
	return &MFAFactorRepository{pool: db.Pool}
}

const factorColumns = `id, user_id, factor_type, friendly_name, status, totp_secret_encrypted, totp_secret_nonce, phone, last_used_at, created_at, verified_at`

func scanFactorRow(row rowScanner) (*models.MFAFactor, error) {
	var f models.MFAFactor

	err := row.Scan(
		&f.ID, &f.UserID, &f.FactorType, &f.FriendlyName, &f.Status,
		&f.TOTPSecretEncrypted, &f.TOTPSecretNonce, &f.Phone,
		&f.LastUsedAt, &f.CreatedAt, &f.VerifiedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &f, nil
}

func scanFactorRows(rows pgx.Rows) ([]models.MFAFactor, error) {
	defer rows.Close()

	factors := make([]models.MFAFactor, 0)
	for rows.Next() {
		f, err := scanFactorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan factor: %w", err)
		}
		factors = append(factors, *f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating factor rows: %w", err)
	}

	return factors, nil
}

// Create inserts a new unverified factor
func (r *MFAFactorRepository) Create(ctx context.Context, f *models.MFAFactor) error {
	query := `
		INSERT INTO mfa_factors (user_id, factor_type, friendly_name, status, totp_secret_encrypted, totp_secret_nonce, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	if f.Status == "" {
		f.Status = models.FactorStatusUnverified
	}

	err := r.pool.QueryRow(ctx, query,
		f.UserID, f.FactorType, f.FriendlyName, f.Status,
		f.TOTPSecretEncrypted, f.TOTPSecretNonce, f.Phone,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create factor: %w", database.MapPostgresError(err))
	}

	return nil
}

// GetByID returns a factor only if it belongs to userID
func (r *MFAFactorRepository) GetByID(ctx context.Context, userID, id string) (*models.MFAFactor, error) {
	query := `SELECT ` + factorColumns + ` FROM mfa_factors WHERE id = $1 AND user_id = $2`

	return scanFactorRow(r.pool.QueryRow(ctx, query, id, userID))
}

func (r *MFAFactorRepository) ListByUser(ctx context.Context, userID string) ([]models.MFAFactor, error) {
	query := `SELECT ` + factorColumns + ` FROM mfa_factors WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query factors: %w", err)
	}

	return scanFactorRows(rows)
}

func (r *MFAFactorRepository) ListVerifiedByUser(ctx context.Context, userID string) ([]models.MFAFactor, error) {
	query := `SELECT ` + factorColumns + ` FROM mfa_factors WHERE user_id = $1 AND status = 'verified' ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verified factors: %w", err)
	}

	return scanFactorRows(rows)
}

// MarkVerified flips an unverified factor to verified
func (r *MFAFactorRepository) MarkVerified(ctx context.Context, id string) error {
	query := `
		UPDATE mfa_factors SET status = 'verified', verified_at = NOW(), last_used_at = NOW()
		WHERE id = $1 AND status = 'unverified'
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrFactorAlreadyVerified
	}

	return nil
}

func (r *MFAFactorRepository) UpdateLastUsedAt(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE mfa_factors SET last_used_at = NOW() WHERE id = $1`, id)
	return database.MapPostgresError(err)
}

func (r *MFAFactorRepository) Delete(ctx context.Context, userID, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM mfa_factors WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeleteUnverified clears abandoned enrollments of the given type
func (r *MFAFactorRepository) DeleteUnverified(ctx context.Context, userID, factorType string) error {
	query := `DELETE FROM mfa_factors WHERE user_id = $1 AND factor_type = $2 AND status = 'unverified'`

	_, err := r.pool.Exec(ctx, query, userID, factorType)
	return database.MapPostgresError(err)
}
