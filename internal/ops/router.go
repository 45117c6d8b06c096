package ops

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalinplus/WHUCS-Qwen3/features/deadletter"
	"github.com/kalinplus/WHUCS-Qwen3/internal/middleware"
)

type Routes struct {
	Ops         *Handler
	DeadLetters *deadletter.Handler
	Gatherer    prometheus.Gatherer
}

// NewRouter mounts the operations endpoints. Dead-letter routes exist only
// when a dead-letter handler is given.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CorrelationID)

	r.Get("/health", rt.Ops.Health)
	r.Get("/stats", rt.Ops.GetStats)
	if rt.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}
	if rt.DeadLetters != nil {
		r.Get("/deadletters", rt.DeadLetters.List)
		r.Post("/deadletters/{id}/retry", rt.DeadLetters.Retry)
	}
	return r
}
