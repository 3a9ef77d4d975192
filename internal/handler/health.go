package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable. Both database backends
// implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealthCheck reports OK when the database answers a ping within two
// seconds, 503 otherwise.
//
// HTTP: GET /v1/health-check
func (h *HealthHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("health check: database unreachable", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Message:   "Database unreachable",
				Status:    "UNAVAILABLE",
				Timestamp: time.Now().UTC(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Message:   "Health check successful",
		Status:    "OK",
		Timestamp: time.Now().UTC(),
	})
}
