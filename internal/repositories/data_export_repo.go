package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DataExportRepository struct {
	pool *pgxpool.Pool
}

func NewDataExportRepository(db *database.DB) *DataExportRepository {
	return &DataExportRepository{pool: db.Pool}
}

func (r *DataExportRepository) Create(ctx context.Context, req *models.DataExportRequest) error {
	query := `
		INSERT INTO data_export_requests (user_id, status)
		VALUES ($1, $2)
		RETURNING id, created_at
	`

	req.Status = models.ExportStatusPending
	err := r.pool.QueryRow(ctx, query, req.UserID, req.Status).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create export request: %w", database.MapPostgresError(err))
	}

	return nil
}

func (r *DataExportRepository) GetByID(ctx context.Context, id string) (*models.DataExportRequest, error) {
	query := `
		SELECT id, user_id, status, object_key, error, created_at, completed_at
		FROM data_export_requests WHERE id = $1
	`

	var req models.DataExportRequest
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.UserID, &req.Status, &req.ObjectKey, &req.Error, &req.CreatedAt, &req.CompletedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &req, nil
}

// MarkProcessing claims a pending request. It reports false if another worker got it first.
func (r *DataExportRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result, err := r.pool.Exec(ctx, `UPDATE data_export_requests SET status = 'processing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *DataExportRepository) MarkCompleted(ctx context.Context, id, objectKey string) error {
	query := `
		UPDATE data_export_requests
		SET status = 'completed', object_key = $2, error = NULL, completed_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, objectKey)
	return database.MapPostgresError(err)
}

func (r *DataExportRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE data_export_requests
		SET status = 'failed', error = $2, completed_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, reason)
	return database.MapPostgresError(err)
}
