package nsq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

// Producer is the part of *nsq.Producer the publisher needs.
type Producer interface {
	Publish(topic string, body []byte) error
}

// Event is the body published for each poison message.
type Event struct {
	MessageID     string    `json:"message_id"`
	SourceID      string    `json:"source_id,omitempty"`
	Consumer      string    `json:"consumer,omitempty"`
	Reason        string    `json:"reason"`
	Payload       string    `json:"payload"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// DeadLetterPublisher announces poison messages on an NSQ topic so other
// services can alert on or archive them.
type DeadLetterPublisher struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewDeadLetterPublisher(p Producer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{producer: p, topic: topic, now: time.Now}
}

func (p *DeadLetterPublisher) Quarantine(ctx context.Context, msg worker.PoisonMessage) error {
	body, err := json.Marshal(Event{
		MessageID:     msg.MessageID,
		SourceID:      msg.SourceID,
		Consumer:      msg.Consumer,
		Reason:        msg.Reason,
		Payload:       string(msg.Payload),
		QuarantinedAt: p.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

// NewProducer connects to nsqd and routes the client's log lines to slog.
func NewProducer(addr string) (*nsq.Producer, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	producer.SetLogger(slogAdapter{logger: slog.Default().With("component", "nsq")}, nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("ping nsqd %s: %w", addr, err)
	}
	return producer, nil
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Output(_ int, s string) error {
	level := slog.LevelInfo
	switch {
	case strings.HasPrefix(s, "ERR"):
		level = slog.LevelError
	case strings.HasPrefix(s, "WRN"):
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, s)
	return nil
}
