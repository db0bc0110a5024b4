package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BackupCodeRepository stores hashed single-use backup codes
type BackupCodeRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db, pool: db.Pool}
}

// Replace discards every existing code for the user and stores the new set.
func (r *BackupCodeRepository) Replace(ctx context.Context, userID string, hashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
			return database.MapPostgresError(err)
		}

		batch := &pgx.Batch{}
		for _, h := range hashes {
			batch.Queue(`INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`, userID, h)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to store backup codes: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

func (r *BackupCodeRepository) ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM backup_codes WHERE user_id = $1 AND used_at IS NULL
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup codes: %w", err)
	}
	defer rows.Close()

	codes := make([]models.BackupCode, 0)
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup code rows: %w", err)
	}

	return codes, nil
}

func (r *BackupCodeRepository) CountUnused(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// MarkUsed consumes a code. It reports false when another request already used it.
func (r *BackupCodeRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	result, err := r.pool.Exec(ctx, `UPDATE backup_codes SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`, id)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *BackupCodeRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID)
	return database.MapPostgresError(err)
}
