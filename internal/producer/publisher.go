// Package producer appends documents to the synchronization stream.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Document is the stream payload consumed by the sync worker.
type Document struct {
	SourceID string         `json:"source_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var ErrInvalidDocument = errors.New("invalid document")

type jetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type Publisher struct {
	js      jetStreamPublisher
	subject string
}

func NewPublisher(js jetStreamPublisher, subject string) *Publisher {
	return &Publisher{js: js, subject: subject}
}

// Publish validates and sends doc, returning the stream sequence it was
// stored at.
func (p *Publisher) Publish(ctx context.Context, doc Document) (uint64, error) {
	if strings.TrimSpace(doc.SourceID) == "" {
		return 0, fmt.Errorf("%w: source_id is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return 0, fmt.Errorf("%w: content is required", ErrInvalidDocument)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	return p.publish(ctx, body)
}

// PublishRaw sends payload unchanged.
func (p *Publisher) PublishRaw(ctx context.Context, payload []byte) error {
	_, err := p.publish(ctx, payload)
	return err
}

func (p *Publisher) publish(ctx context.Context, body []byte) (uint64, error) {
	ack, err := p.js.Publish(ctx, p.subject, body)
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return ack.Sequence, nil
}
