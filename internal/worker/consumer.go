package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalinplus/WHUCS-Qwen3/internal/middleware"
)

type State int32

const (
	StateStarting State = iota
	StateAwaitingBatch
	StateProcessing
	StateAcknowledging
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateAwaitingBatch:
		return "AWAITING_BATCH"
	case StateProcessing:
		return "PROCESSING"
	case StateAcknowledging:
		return "ACKNOWLEDGING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

type ConsumerConfig struct {
	Name         string
	BatchSize    int
	BlockTimeout time.Duration
	RetryDelay   time.Duration
}

// BatchResult tells the loop what to acknowledge after one batch.
type BatchResult struct {
	// Ack lists the ids safe to acknowledge, in delivery order. Parse failures
	// are always included; parsed ids only when the upsert succeeded.
	Ack     []string
	Failed  []ParseFailure
	Records int
	// Err is the embedding or index failure that withheld the parsed ids.
	Err error
}

type ConsumerOption func(*Consumer)

func WithDeadLetterSink(sink DeadLetterSink) ConsumerOption {
	return func(c *Consumer) { c.deadLetters = sink }
}

func WithMetrics(m *Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

func WithLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration)) ConsumerOption {
	return func(c *Consumer) { c.sleep = fn }
}

// Consumer runs the read, assemble, embed, upsert, acknowledge loop for one
// member of a consumer group. It processes one batch at a time.
type Consumer struct {
	stream      Stream
	assembler   *Assembler
	embedder    Embedder
	store       IndexUpserter
	shutdown    *Shutdown
	cfg         ConsumerConfig
	deadLetters DeadLetterSink
	metrics     *Metrics
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration)
	state       atomic.Int32
}

func NewConsumer(
	stream Stream,
	assembler *Assembler,
	embedder Embedder,
	store IndexUpserter,
	shutdown *Shutdown,
	cfg ConsumerConfig,
	opts ...ConsumerOption,
) *Consumer {
	c := &Consumer{
		stream:    stream,
		assembler: assembler,
		embedder:  embedder,
		store:     store,
		shutdown:  shutdown,
		cfg:       cfg,
		logger:    slog.Default().With("component", "consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if c.sleep == nil {
		c.sleep = c.interruptibleSleep
	}
	return c
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Consumer) stopping(ctx context.Context) bool {
	return c.shutdown.ShouldStop() || ctx.Err() != nil
}

// Run blocks until shutdown is requested or ctx is cancelled. Errors inside an
// iteration are logged and followed by the retry delay; they never end the loop.
func (c *Consumer) Run(ctx context.Context) error {
	if c.cfg.Name != "" {
		ctx = middleware.WithConsumer(ctx, c.cfg.Name)
	}

	c.setState(StateStarting)
	if !c.ensureGroup(ctx) {
		c.setState(StateStopped)
		c.logger.InfoContext(ctx, "consumer stopped before joining group")
		return nil
	}
	c.logger.InfoContext(ctx, "consumer started", "batch_size", c.cfg.BatchSize, "block_timeout", c.cfg.BlockTimeout)

	for !c.stopping(ctx) {
		if err := c.iterate(ctx); err != nil {
			c.metrics.LoopErrors.Inc()
			c.logger.ErrorContext(ctx, "consumer iteration failed, backing off", "error", err, "retry_delay", c.cfg.RetryDelay)
			c.sleep(ctx, c.cfg.RetryDelay)
		}
	}

	c.setState(StateDraining)
	c.logger.InfoContext(ctx, "consumer draining")
	c.setState(StateStopped)
	c.logger.InfoContext(ctx, "consumer stopped")
	return nil
}

func (c *Consumer) ensureGroup(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		if c.stopping(ctx) {
			return false
		}
		err := c.stream.EnsureGroup(ctx)
		if err == nil {
			return true
		}
		c.logger.WarnContext(ctx, "failed to ensure consumer group, retrying", "attempt", attempt, "error", err)
		c.sleep(ctx, c.cfg.RetryDelay)
	}
}

func (c *Consumer) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered panic: %v\n%s", r, debug.Stack())
		}
	}()

	c.setState(StateAwaitingBatch)
	deliveries, err := c.stream.Read(ctx, c.cfg.BatchSize, c.cfg.BlockTimeout)
	if err != nil {
		return fmt.Errorf("read batch: %w", err)
	}
	if len(deliveries) == 0 {
		return nil
	}

	start := time.Now()
	batchCtx := middleware.WithCorrelationID(ctx, uuid.New().String())
	c.metrics.MessagesReceived.Add(float64(len(deliveries)))

	c.setState(StateProcessing)
	res := c.ProcessBatch(batchCtx, deliveries)

	c.setState(StateAcknowledging)
	if len(res.Ack) > 0 {
		if err := c.stream.Ack(batchCtx, res.Ack...); err != nil {
			return fmt.Errorf("ack batch: %w", err)
		}
		c.metrics.MessagesAcked.Add(float64(len(res.Ack)))
	}
	c.metrics.BatchDuration.Observe(time.Since(start).Seconds())

	if res.Err != nil {
		return res.Err
	}

	c.logger.InfoContext(batchCtx, "batch indexed",
		"messages", len(deliveries),
		"records", res.Records,
		"poison", len(res.Failed),
		"duration", time.Since(start),
	)
	return nil
}

// ProcessBatch assembles, embeds and upserts one batch, and decides which ids
// may be acknowledged. It never acknowledges anything itself.
func (c *Consumer) ProcessBatch(ctx context.Context, deliveries []Delivery) BatchResult {
	asm := c.assembler.Assemble(deliveries)

	for _, f := range asm.Failed {
		c.quarantine(ctx, f)
	}

	res := BatchResult{Failed: asm.Failed}
	if len(asm.Records) > 0 {
		res.Err = c.index(ctx, asm)
		if res.Err == nil {
			res.Records = len(asm.Records)
		}
	}
	res.Ack = ackOrder(deliveries, asm.Failed, res.Err == nil)
	return res
}

func (c *Consumer) index(ctx context.Context, asm Assembly) error {
	texts := asm.Texts()
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	if err != nil {
		c.metrics.BatchFailures.WithLabelValues("embed").Inc()
		if errors.Is(err, ErrEmbedding) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	records := make([]IndexRecord, len(asm.Records))
	for i, p := range asm.Records {
		records[i] = p.WithVector(vectors[i])
	}

	if err := c.store.Upsert(ctx, records); err != nil {
		c.metrics.BatchFailures.WithLabelValues("upsert").Inc()
		if errors.Is(err, ErrIndex) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}
	c.metrics.RecordsIndexed.Add(float64(len(records)))
	return nil
}

func (c *Consumer) quarantine(ctx context.Context, f ParseFailure) {
	c.metrics.PoisonMessages.Inc()
	c.logger.WarnContext(ctx, "dropping poison message", "message_id", f.MessageID, "source_id", f.SourceID, "error", f.Err)

	if c.deadLetters == nil {
		return
	}
	err := c.deadLetters.Quarantine(ctx, PoisonMessage{
		MessageID: f.MessageID,
		SourceID:  f.SourceID,
		Payload:   f.Payload,
		Reason:    f.Err.Error(),
		Consumer:  c.cfg.Name,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to quarantine poison message", "message_id", f.MessageID, "error", err)
	}
}

func ackOrder(deliveries []Delivery, failed []ParseFailure, indexed bool) []string {
	poison := make(map[string]bool, len(failed))
	for _, f := range failed {
		poison[f.MessageID] = true
	}

	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		if poison[d.ID] || indexed {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (c *Consumer) interruptibleSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.shutdown.Done():
	case <-ctx.Done():
	}
}
