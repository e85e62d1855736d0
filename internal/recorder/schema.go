package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the events table, one statement per entry.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS codecast_events (
		event_id    UUID PRIMARY KEY,
		room        TEXT NOT NULL,
		topic       TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		sender      TEXT NOT NULL DEFAULT '',
		payload     JSONB NOT NULL,
		fallback    BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at     TIMESTAMPTZ,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS codecast_events_room_received_idx
		ON codecast_events (room, received_at)`,
}

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	for i, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
