package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

// Config names the stream and the durable consumer that acts as the group.
type Config struct {
	StreamName string
	Subject    string
	Group      string
	AckWait    time.Duration
}

// Stats is a snapshot of the group's backlog.
type Stats struct {
	Stream      string `json:"stream"`
	Group       string `json:"group"`
	Pending     uint64 `json:"pending"`
	AckPending  int    `json:"ack_pending"`
	Redelivered int    `json:"redelivered"`
}

type manager interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// Connect dials NATS and returns the connection with its JetStream context.
// The connection reconnects forever; callers close it on shutdown.
func Connect(url, clientName string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connect %s: %v", worker.ErrTransport, url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("%w: jetstream: %v", worker.ErrTransport, err)
	}
	return nc, js, nil
}

// Stream reads a JetStream stream through a durable pull consumer. All
// worker processes sharing Config.Group split the stream between them, and
// each message is handed to one of them at a time until acknowledged.
//
// Messages delivered but never acknowledged are redelivered by the server
// once AckWait expires.
type Stream struct {
	js  manager
	cfg Config

	mu       sync.Mutex
	consumer jetstream.Consumer
	inflight map[string]jetstream.Msg
}

func NewStream(js manager, cfg Config) *Stream {
	return &Stream{js: js, cfg: cfg, inflight: make(map[string]jetstream.Msg)}
}

// EnsureGroup creates the stream and the durable consumer, or updates them
// to the current configuration.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.StreamName,
		Subjects: []string{s.cfg.Subject},
	})
	if err != nil {
		return fmt.Errorf("%w: create stream %s: %v", worker.ErrTransport, s.cfg.StreamName, err)
	}

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       s.cfg.Group,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: s.cfg.Subject,
	})
	if err != nil {
		return fmt.Errorf("%w: create consumer %s: %v", worker.ErrTransport, s.cfg.Group, err)
	}

	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()
	return nil
}

// Read pulls up to count messages, waiting at most block. Messages left
// unacknowledged from the previous Read are forgotten here and come back
// through redelivery.
func (s *Stream) Read(ctx context.Context, count int, block time.Duration) ([]worker.Delivery, error) {
	s.mu.Lock()
	consumer := s.consumer
	clear(s.inflight)
	s.mu.Unlock()

	if consumer == nil {
		return nil, fmt.Errorf("%w: consumer group not initialized", worker.ErrTransport)
	}

	batch, err := consumer.Fetch(count, jetstream.FetchMaxWait(block))
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetch: %v", worker.ErrTransport, err)
	}

	var out []worker.Delivery
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			// Not a JetStream delivery; nothing can ack it.
			slog.WarnContext(ctx, "skipping message without metadata", "subject", msg.Subject(), "error", err)
			continue
		}
		id := strconv.FormatUint(meta.Sequence.Stream, 10)

		s.mu.Lock()
		s.inflight[id] = msg
		s.mu.Unlock()
		out = append(out, worker.Delivery{ID: id, Data: msg.Data()})
	}

	if err := batch.Error(); err != nil && !isTimeout(err) {
		if len(out) > 0 {
			slog.WarnContext(ctx, "fetch ended early", "received", len(out), "error", err)
			return out, nil
		}
		return nil, fmt.Errorf("%w: fetch: %v", worker.ErrTransport, err)
	}
	return out, nil
}

// Ack acknowledges the given ids of the current batch and waits for the
// server to confirm each one.
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		s.mu.Lock()
		msg, ok := s.inflight[id]
		s.mu.Unlock()
		if !ok {
			errs = append(errs, fmt.Errorf("unknown message id %s", id))
			continue
		}
		if err := msg.DoubleAck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ack %s: %v", id, err))
			continue
		}
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", worker.ErrTransport, errors.Join(errs...))
	}
	return nil
}

// Stats reports the consumer's backlog as seen by the server.
func (s *Stream) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	consumer := s.consumer
	s.mu.Unlock()

	st := Stats{Stream: s.cfg.StreamName, Group: s.cfg.Group}
	if consumer == nil {
		return st, fmt.Errorf("%w: consumer group not initialized", worker.ErrTransport)
	}
	info, err := consumer.Info(ctx)
	if err != nil {
		return st, fmt.Errorf("%w: consumer info: %v", worker.ErrTransport, err)
	}
	st.Pending = info.NumPending
	st.AckPending = info.NumAckPending
	st.Redelivered = info.NumRedelivered
	return st, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
