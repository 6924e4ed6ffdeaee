package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prudhvinik1/edgepresence/internal/models"
)

var ErrNotFound = errors.New("not found")

// DefaultHistoryLimit bounds ListByIdentity when the caller passes no limit.
const DefaultHistoryLimit = 50

const historySchema = `CREATE TABLE IF NOT EXISTS presence_history (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	identity    TEXT NOT NULL,
	state       TEXT NOT NULL,
	custom_data JSONB,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS presence_history_identity_idx ON presence_history (identity, recorded_at DESC)`

type PostgresPresenceHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPresenceHistoryRepository(pool *pgxpool.Pool) *PostgresPresenceHistoryRepository {
	return &PostgresPresenceHistoryRepository{pool: pool}
}

// EnsureSchema creates the history table if it does not exist.
func (r *PostgresPresenceHistoryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, historySchema); err != nil {
		return fmt.Errorf("failed to create presence_history: %w", err)
	}
	return nil
}

// Append inserts event and fills in its ID and RecordedAt.
func (r *PostgresPresenceHistoryRepository) Append(ctx context.Context, event *models.PresenceEvent) error {
	query := `INSERT INTO presence_history (identity, state, custom_data)
	          VALUES ($1, $2, $3)
	          RETURNING id, recorded_at`

	err := r.pool.QueryRow(ctx, query, event.Identity, string(event.State), event.CustomData).
		Scan(&event.ID, &event.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append presence event: %w", err)
	}
	return nil
}

// ListByIdentity returns up to limit events for identity, newest first.
func (r *PostgresPresenceHistoryRepository) ListByIdentity(ctx context.Context, identity string, limit int) ([]*models.PresenceEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `SELECT id, identity, state, custom_data, recorded_at
	          FROM presence_history
	          WHERE identity = $1
	          ORDER BY recorded_at DESC, id
	          LIMIT $2`

	rows, err := r.pool.Query(ctx, query, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence history: %w", err)
	}
	defer rows.Close()

	var events []*models.PresenceEvent
	for rows.Next() {
		var event models.PresenceEvent
		var state string
		err := rows.Scan(
			&event.ID,
			&event.Identity,
			&state,
			&event.CustomData,
			&event.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence event: %w", err)
		}
		event.State = models.State(state)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate presence history: %w", err)
	}
	return events, nil
}

// DeleteByIdentity removes every event for identity.
func (r *PostgresPresenceHistoryRepository) DeleteByIdentity(ctx context.Context, identity string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM presence_history WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("failed to delete presence history: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
