package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/kalinplus/WHUCS-Qwen3/internal/adapter/gemini"
	js "github.com/kalinplus/WHUCS-Qwen3/internal/adapter/jetstream"
	nsqadapter "github.com/kalinplus/WHUCS-Qwen3/internal/adapter/nsq"
	"github.com/kalinplus/WHUCS-Qwen3/internal/adapter/openai"
	"github.com/kalinplus/WHUCS-Qwen3/internal/adapter/pgvector"
	wstore "github.com/kalinplus/WHUCS-Qwen3/internal/adapter/weaviate"
	"github.com/kalinplus/WHUCS-Qwen3/internal/config"
	"github.com/kalinplus/WHUCS-Qwen3/internal/vector"
	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

// VectorStore is the index the worker writes to.
type VectorStore interface {
	worker.IndexUpserter
	Count(ctx context.Context) (int, error)
}

// SchemaEnsurer prepares the index before the first write.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type SchemaFunc func(ctx context.Context) error

func (f SchemaFunc) EnsureSchema(ctx context.Context) error { return f(ctx) }

// Dependencies holds every external client, created once per process.
type Dependencies struct {
	NATS         *nats.Conn
	JetStream    jetstream.JetStream
	Embedder     worker.Embedder
	VectorStore  VectorStore
	DeadLetterDB *sql.DB
	NSQProducer  *nsq.Producer

	closers []func() error
}

// Bootstrap opens everything the sync worker needs.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	return bootstrap(ctx, cfg, (*Dependencies).open)
}

// BootstrapIndex opens only the embedder and the vector store, for the bulk
// loader.
func BootstrapIndex(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	return bootstrap(ctx, cfg, (*Dependencies).openIndex)
}

func bootstrap(ctx context.Context, cfg *config.Config, open func(*Dependencies, context.Context, *config.Config) error) (*Dependencies, error) {
	deps := &Dependencies{}
	if err := open(deps, ctx, cfg); err != nil {
		if closeErr := deps.Close(); closeErr != nil {
			slog.Warn("failed to release partial dependencies", "error", closeErr)
		}
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) open(ctx context.Context, cfg *config.Config) error {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Stream
	err := Retry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "nats", func(ctx context.Context) error {
		nc, jsCtx, err := js.Connect(cfg.NATSURL, cfg.ConsumerName)
		if err != nil {
			return err
		}
		d.NATS, d.JetStream = nc, jsCtx
		return nil
	})
	if err != nil {
		return fmt.Errorf("nats connect error: %w", err)
	}
	d.closers = append(d.closers, func() error { return d.NATS.Drain() })

	if err := d.openIndex(ctx, cfg); err != nil {
		return err
	}

	// Dead letters
	if cfg.EnableDeadLetterDB {
		if err := d.openDeadLetterDB(ctx, cfg, retryDelay); err != nil {
			return err
		}
	}
	if cfg.NSQDHost != "" {
		producer, err := nsqadapter.NewProducer(cfg.NSQDHost)
		if err != nil {
			return fmt.Errorf("nsq producer error: %w", err)
		}
		d.NSQProducer = producer
		d.closers = append(d.closers, func() error { producer.Stop(); return nil })
	}
	return nil
}

func (d *Dependencies) openIndex(ctx context.Context, cfg *config.Config) error {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Embeddings
	if err := d.openEmbedder(ctx, cfg); err != nil {
		return fmt.Errorf("embedder error: %w", err)
	}

	// Vector store
	schema, err := d.openVectorStore(ctx, cfg, retryDelay)
	if err != nil {
		return err
	}
	if err := EnsureSchemaWithRetry(ctx, schema, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return fmt.Errorf("%s schema error: %w", cfg.VectorStore, err)
	}
	return nil
}

func (d *Dependencies) openEmbedder(ctx context.Context, cfg *config.Config) error {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		e, err := openai.NewEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		d.Embedder = e
	default:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		d.Embedder = e
		d.closers = append(d.closers, e.Close)
	}
	return nil
}

func (d *Dependencies) openVectorStore(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (SchemaEnsurer, error) {
	switch cfg.VectorStore {
	case config.StorePGVector:
		var db *sql.DB
		err := Retry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "pgvector", func(ctx context.Context) error {
			var err error
			db, err = pgvector.Open(ctx, cfg.PGVectorURL)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("pgvector connect error: %w", err)
		}
		d.closers = append(d.closers, db.Close)
		store := pgvector.NewStore(db, cfg.PGVectorTable)
		d.VectorStore = store
		return SchemaFunc(store.EnsureTable), nil
	default:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		d.VectorStore = wstore.NewStore(client, cfg.WeaviateClass)
		adapter := vector.NewWeaviateClientAdapter(client)
		return SchemaFunc(func(ctx context.Context) error {
			ready, err := adapter.Ready(ctx)
			if err != nil {
				return err
			}
			if !ready {
				return errors.New("weaviate not ready")
			}
			return vector.EnsureSchema(ctx, adapter, cfg.WeaviateClass)
		}), nil
	}
}

func (d *Dependencies) openDeadLetterDB(ctx context.Context, cfg *config.Config, retryDelay time.Duration) error {
	db, err := sql.Open("postgres", cfg.DeadLetterDSN())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	d.DeadLetterDB = db
	d.closers = append(d.closers, db.Close)

	err = Retry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "postgres", db.PingContext)
	if err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// Close releases the clients in reverse creation order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Retry runs fn up to attempts times, sleeping delay between failures.
func Retry(ctx context.Context, attempts int, delay time.Duration, what string, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.WarnContext(ctx, "dependency not ready, retrying...", "dependency", what, "attempt", i+1, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// EnsureSchemaWithRetry delegates schema check to a helper with retry logic.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	return Retry(ctx, attempts, delay, "schema", store.EnsureSchema)
}
