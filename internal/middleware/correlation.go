package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	ConsumerKey
)

const CorrelationHeader = "X-Correlation-ID"

// CorrelationID tags every request with an id, taken from the incoming header
// when present, and logs the request with its final status.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		w.Header().Set(CorrelationHeader, id)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", // #nosec G706 -- r.URL.Path is parsed by Go's net/http
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// WithConsumer records the consumer-group member name for log enrichment.
func WithConsumer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ConsumerKey, name)
}

func GetConsumer(ctx context.Context) string {
	name, _ := ctx.Value(ConsumerKey).(string)
	return name
}
