// Package recorder persists codecast room traffic to PostgreSQL.
//
// The Writer is a collab.Handler. Deliveries are queued without blocking the
// transport read goroutine and written in batches with append-only semantics:
// rows are inserted with ON CONFLICT (event_id) DO NOTHING and never updated.
package recorder
