package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kalinplus/WHUCS-Qwen3/internal/adapter/jetstream"
	"github.com/kalinplus/WHUCS-Qwen3/internal/middleware"
	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

type StateReporter interface {
	State() worker.State
}

type StreamStats interface {
	Stats(ctx context.Context) (jetstream.Stats, error)
}

// Counter is implemented by the vector stores and the dead-letter service.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	consumer    StateReporter
	stream      StreamStats
	records     Counter
	deadLetters Counter
}

// NewHandler builds the health and stats endpoints. deadLetters may be nil
// when the dead-letter table is disabled.
func NewHandler(c StateReporter, s StreamStats, records Counter, deadLetters Counter) *Handler {
	return &Handler{consumer: c, stream: s, records: records, deadLetters: deadLetters}
}

type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

type StatsResponse struct {
	Stream      jetstream.Stats `json:"stream"`
	Records     int             `json:"records"`
	DeadLetters *int            `json:"dead_letters,omitempty"`
}

// Health reports the consumer loop state. A stopped loop is unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.consumer.State()
	resp := HealthResponse{Status: "ok", State: state.String()}
	status := http.StatusOK
	if state == worker.StateStopped {
		resp.Status = "stopped"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	streamStats, err := h.stream.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read stream stats", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read stream stats", http.StatusInternalServerError)
		return
	}

	records, err := h.records.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count records", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count records", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Stream: streamStats, Records: records}
	if h.deadLetters != nil {
		n, err := h.deadLetters.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count dead letters", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count dead letters", http.StatusInternalServerError)
			return
		}
		resp.DeadLetters = &n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
