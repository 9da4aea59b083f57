// Package postgres provides a history.Store backed by a PostgreSQL
// command_log table.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/exovoice/exo/pkg/history"
)

// Compile-time interface assertion.
var _ history.Store = (*Store)(nil)

// schema creates the command log table. Idempotent; run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS command_log (
    id         UUID PRIMARY KEY,
    session_id UUID NOT NULL,
    room       TEXT NOT NULL,
    command    TEXT NOT NULL,
    reply      TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS command_log_room_created_at_idx
    ON command_log (room, created_at DESC);
`

// Store is a PostgreSQL-backed command log. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn and ensures the
// command_log table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ensure schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, entry history.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	const q = `
		INSERT INTO command_log (id, session_id, room, command, reply, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		entry.ID,
		entry.SessionID,
		entry.Room,
		entry.Command,
		entry.Reply,
		entry.Confidence,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history store: append: %w", err)
	}
	return nil
}

// Recent implements history.Store. Entries come back in chronological order,
// oldest first.
func (s *Store) Recent(ctx context.Context, room string, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT id, session_id, room, command, reply, confidence, created_at
		FROM (
		    SELECT id, session_id, room, command, reply, confidence, created_at
		    FROM   command_log
		    WHERE  ($1 = '' OR room = $1)
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, room, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var e history.Entry
		err := row.Scan(
			&e.ID,
			&e.SessionID,
			&e.Room,
			&e.Command,
			&e.Reply,
			&e.Confidence,
			&e.CreatedAt,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	return entries, nil
}

// Close implements history.Store, releasing all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
