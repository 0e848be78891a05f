package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTime sorts lexically in time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// it. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; an in-memory database is per connection.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and migrates it.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS action_history (
		id            TEXT PRIMARY KEY,
		invocation_id TEXT NOT NULL,
		subject_id    TEXT NOT NULL DEFAULT '',
		action_id     TEXT NOT NULL,
		card_id       TEXT NOT NULL DEFAULT '',
		state         TEXT NOT NULL,
		dispatch      TEXT NOT NULL,
		degraded      INTEGER NOT NULL DEFAULT 0,
		error_code    TEXT NOT NULL DEFAULT '',
		missing_keys  TEXT NOT NULL DEFAULT '[]',
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		seq           INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS action_history_subject_idx
		ON action_history (subject_id, created_at);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate action_history: %w", err)
	}
	return nil
}

// Append inserts an entry.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	missing := e.MissingKeys
	if missing == nil {
		missing = []string{}
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("marshal missing keys: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_history (
			id, invocation_id, subject_id, action_id, card_id,
			state, dispatch, degraded, error_code, missing_keys,
			duration_ms, created_at, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM action_history))`,
		e.ID, e.InvocationID, e.SubjectID, e.ActionID, e.CardID,
		e.State, e.Dispatch, e.Degraded, e.ErrorCode, string(missingJSON),
		e.Duration.Milliseconds(), e.CreatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invocation_id, subject_id, action_id, card_id,
		       state, dispatch, degraded, error_code, missing_keys,
		       duration_ms, created_at
		FROM action_history
		WHERE (? = '' OR subject_id = ?)
		  AND (? = '' OR action_id = ?)
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`,
		f.SubjectID, f.SubjectID, f.ActionID, f.ActionID, f.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			missingJSON string
			durationMs  int64
			createdAt   string
		)
		if err := rows.Scan(
			&e.ID, &e.InvocationID, &e.SubjectID, &e.ActionID, &e.CardID,
			&e.State, &e.Dispatch, &e.Degraded, &e.ErrorCode, &missingJSON,
			&durationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if err := json.Unmarshal([]byte(missingJSON), &e.MissingKeys); err != nil {
			return nil, fmt.Errorf("decode missing keys: %w", err)
		}
		if len(e.MissingKeys) == 0 {
			e.MissingKeys = nil
		}
		e.Duration = millis(durationMs)
		if e.CreatedAt, err = time.Parse(sqliteTime, createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
