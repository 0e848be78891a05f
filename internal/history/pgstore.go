package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
	CREATE TABLE IF NOT EXISTS action_history (
		id            UUID PRIMARY KEY,
		invocation_id TEXT NOT NULL,
		subject_id    TEXT NOT NULL DEFAULT '',
		action_id     TEXT NOT NULL,
		card_id       TEXT NOT NULL DEFAULT '',
		state         TEXT NOT NULL,
		dispatch      TEXT NOT NULL,
		degraded      BOOLEAN NOT NULL DEFAULT FALSE,
		error_code    TEXT NOT NULL DEFAULT '',
		missing_keys  TEXT[] NOT NULL DEFAULT '{}',
		duration_ms   BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS action_history_subject_idx
		ON action_history (subject_id, created_at DESC);`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL history store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the history table if it does not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate action_history: %w", err)
	}
	return nil
}

// Append inserts an entry.
func (s *PgStore) Append(ctx context.Context, e Entry) error {
	missing := e.MissingKeys
	if missing == nil {
		missing = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO action_history (
			id, invocation_id, subject_id, action_id, card_id,
			state, dispatch, degraded, error_code, missing_keys,
			duration_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		)`,
		e.ID, e.InvocationID, e.SubjectID, e.ActionID, e.CardID,
		e.State, e.Dispatch, e.Degraded, e.ErrorCode, missing,
		e.Duration.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *PgStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invocation_id, subject_id, action_id, card_id,
		       state, dispatch, degraded, error_code, missing_keys,
		       duration_ms, created_at
		FROM action_history
		WHERE ($1 = '' OR subject_id = $1)
		  AND ($2 = '' OR action_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		f.SubjectID, f.ActionID, f.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		if err := rows.Scan(
			&e.ID, &e.InvocationID, &e.SubjectID, &e.ActionID, &e.CardID,
			&e.State, &e.Dispatch, &e.Degraded, &e.ErrorCode, &e.MissingKeys,
			&durationMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Duration = millis(durationMs)
		if len(e.MissingKeys) == 0 {
			e.MissingKeys = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Ping checks the pool can reach the database.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
