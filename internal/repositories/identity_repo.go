package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/trustgate/internal/database"
	"github.com/BradenHooton/trustgate/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdentityRepository stores linked OAuth identities
type IdentityRepository struct {
	pool *pgxpool.Pool
}

func NewIdentityRepository(db *database.DB) *IdentityRepository {
	return &IdentityRepository{pool: db.Pool}
}

func scanIdentityRow(row rowScanner) (*models.Identity, error) {
	var identity models.Identity

	err := row.Scan(
		&identity.ID, &identity.UserID, &identity.Provider,
		&identity.ProviderUserID, &identity.Email, &identity.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &identity, nil
}

func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (user_id, provider, provider_user_id, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		identity.UserID, identity.Provider, identity.ProviderUserID, identity.Email,
	).Scan(&identity.ID, &identity.CreatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// GetByProvider looks up the identity a provider callback refers to.
func (r *IdentityRepository) GetByProvider(ctx context.Context, provider, providerUserID string) (*models.Identity, error) {
	query := `
		SELECT id, user_id, provider, provider_user_id, email, created_at
		FROM identities WHERE provider = $1 AND provider_user_id = $2
	`

	return scanIdentityRow(r.pool.QueryRow(ctx, query, provider, providerUserID))
}

func (r *IdentityRepository) ListByUser(ctx context.Context, userID string) ([]models.Identity, error) {
	query := `
		SELECT id, user_id, provider, provider_user_id, email, created_at
		FROM identities WHERE user_id = $1 ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	identities := make([]models.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identity rows: %w", err)
	}

	return identities, nil
}

// Delete removes an identity owned by userID.
func (r *IdentityRepository) Delete(ctx context.Context, userID, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
