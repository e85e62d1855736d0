package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/codecast/internal/collab"
	"github.com/rickgao/codecast/internal/recorder"
)

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthSources gathers what /health reports on.
type healthSources struct {
	db       pinger
	client   func() collab.Stats
	recorder func() recorder.Stats
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(src healthSources, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := src.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check collab connection
		cs := src.client()
		health.Components["collab"] = map[string]any{
			"state":         cs.State.String(),
			"subscriptions": cs.Subscriptions,
			"bound":         cs.Bound,
			"reconnects":    cs.Reconnects,
		}
		if cs.State != collab.StateConnected && health.Status == "healthy" {
			health.Status = "degraded"
		}

		// Recorder counters
		rs := src.recorder()
		health.Components["recorder"] = map[string]any{
			"received":  rs.Received,
			"inserts":   rs.Inserts,
			"conflicts": rs.Conflicts,
			"errors":    rs.Errors,
			"queued":    rs.Queued,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("failed to write health response", "error", err)
		}
	})
}
