package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountEventRepository handles the append-only activity feed
type AccountEventRepository struct {
	pool *pgxpool.Pool
}

func NewAccountEventRepository(db *database.DB) *AccountEventRepository {
	return &AccountEventRepository{pool: db.Pool}
}

func scanEventRow(row rowScanner) (*models.AccountEvent, error) {
	var e models.AccountEvent

	err := row.Scan(&e.ID, &e.UserID, &e.DeviceSessionID, &e.EventType, &e.Metadata, &e.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

func scanEventRows(rows pgx.Rows) ([]models.AccountEvent, error) {
	defer rows.Close()

	events := make([]models.AccountEvent, 0)
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account event: %w", err)
		}
		events = append(events, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account event rows: %w", err)
	}

	return events, nil
}

// Create appends an event
func (r *AccountEventRepository) Create(ctx context.Context, e *models.AccountEvent) error {
	query := `
		INSERT INTO account_events (user_id, device_session_id, event_type, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query, e.UserID, e.DeviceSessionID, e.EventType, e.Metadata).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account event: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListByUser returns newest-first events with the total count
func (r *AccountEventRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.AccountEvent, int, error) {
	query := `
		SELECT id, user_id, device_session_id, event_type, metadata, created_at
		FROM account_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query account events: %w", err)
	}

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM account_events WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count account events: %w", err)
	}

	return events, total, nil
}
