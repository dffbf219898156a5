package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/mover/internal/logctx"
	"github.com/italolelis/mover/internal/pipeline"
	"github.com/italolelis/mover/internal/telemetry"
)

// StatusSource provides the current run state.
type StatusSource interface {
	Snapshot() pipeline.Snapshot
}

type StatusHandler struct {
	status    StatusSource
	telemetry *telemetry.Telemetry
}

func NewStatusHandler(status StatusSource, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{status: status, telemetry: t}
}

// Routes mounts /status, /healthz and, with telemetry enabled, /metrics.
func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)

	if h.telemetry != nil {
		r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)
		r.Handle("/metrics", h.telemetry.Handler())
	}

	r.Get("/status", h.HandleStatus)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// HandleStatus writes the current snapshot as JSON.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.status.Snapshot()); err != nil {
		logger.Error("failed to encode status", "err", err)
	}
}
