package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kalinplus/WHUCS-Qwen3/features/deadletter"
	js "github.com/kalinplus/WHUCS-Qwen3/internal/adapter/jetstream"
	nsqadapter "github.com/kalinplus/WHUCS-Qwen3/internal/adapter/nsq"
	"github.com/kalinplus/WHUCS-Qwen3/internal/config"
	"github.com/kalinplus/WHUCS-Qwen3/internal/ops"
	"github.com/kalinplus/WHUCS-Qwen3/internal/producer"
	"github.com/kalinplus/WHUCS-Qwen3/internal/text"
	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// StreamClient is the JetStream surface the worker and the producer need.
type StreamClient interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Components are the clients New wires together. Nil DeadLetterDB and
// NSQProducer disable the matching dead-letter sink.
type Components struct {
	Stream       StreamClient
	Embedder     worker.Embedder
	VectorStore  VectorStore
	DeadLetterDB *sql.DB
	NSQProducer  nsqadapter.Producer
}

func (d *Dependencies) Components() Components {
	c := Components{
		Stream:       d.JetStream,
		Embedder:     d.Embedder,
		VectorStore:  d.VectorStore,
		DeadLetterDB: d.DeadLetterDB,
	}
	if d.NSQProducer != nil {
		c.NSQProducer = d.NSQProducer
	}
	return c
}

type App struct {
	Consumer    *worker.Consumer
	Publisher   *producer.Publisher
	DeadLetters *deadletter.Service
	Handler     http.Handler
	Registry    *prometheus.Registry
	Shutdown    *worker.Shutdown

	opsPort int
	logger  *slog.Logger
}

func New(cfg *config.Config, c Components, logger *slog.Logger) (*App, error) {
	splitter, err := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	assembler := worker.NewAssembler(splitter, config.NamespaceDynamic)

	stream := js.NewStream(c.Stream, js.Config{
		StreamName: cfg.StreamName,
		Subject:    cfg.StreamSubject,
		Group:      cfg.ConsumerGroup,
		AckWait:    cfg.AckWait,
	})
	publisher := producer.NewPublisher(c.Stream, cfg.StreamSubject)

	// Dead letters
	var sinks worker.MultiSink
	var dlService *deadletter.Service
	var dlHandler *deadletter.Handler
	var dlCounter ops.Counter
	if c.DeadLetterDB != nil {
		dlService = deadletter.NewService(deadletter.NewPostgresRepo(c.DeadLetterDB), publisher, logger)
		dlHandler = deadletter.NewHandler(dlService)
		dlCounter = dlService
		sinks = append(sinks, dlService)
	}
	if c.NSQProducer != nil {
		sinks = append(sinks, nsqadapter.NewDeadLetterPublisher(c.NSQProducer, cfg.DeadLetterTopic))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	shutdown := worker.NewShutdown()
	opts := []worker.ConsumerOption{
		worker.WithMetrics(worker.NewMetrics(reg)),
		worker.WithLogger(logger.With("component", "consumer")),
	}
	if len(sinks) > 0 {
		opts = append(opts, worker.WithDeadLetterSink(sinks))
	}
	consumer := worker.NewConsumer(stream, assembler, c.Embedder, c.VectorStore, shutdown, worker.ConsumerConfig{
		Name:         cfg.ConsumerName,
		BatchSize:    cfg.MessagesPerPull,
		BlockTimeout: cfg.BlockTimeout,
		RetryDelay:   cfg.RetryDelay,
	}, opts...)

	handler := ops.NewRouter(ops.Routes{
		Ops:         ops.NewHandler(consumer, stream, c.VectorStore, dlCounter),
		DeadLetters: dlHandler,
		Gatherer:    reg,
	})

	return &App{
		Consumer:    consumer,
		Publisher:   publisher,
		DeadLetters: dlService,
		Handler:     handler,
		Registry:    reg,
		Shutdown:    shutdown,
		opsPort:     cfg.OpsPort,
		logger:      logger,
	}, nil
}

// Run serves the ops endpoints and runs the consumer until a signal, a
// shutdown request or ctx ends it. The in-flight batch always completes
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	stop := worker.NotifyOnSignals(a.Shutdown)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.opsPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer a.Shutdown.RequestShutdown()
		return a.Consumer.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("ops server starting", "port", a.opsPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Shutdown.RequestShutdown()
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-a.Shutdown.Done():
		case <-gctx.Done():
			a.Shutdown.RequestShutdown()
		}
		a.logger.Info("shutting down ops server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}
