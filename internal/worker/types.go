package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalinplus/WHUCS-Qwen3/internal/metadata"
)

var (
	// ErrTransport marks broker connectivity failures. The loop retries them forever.
	ErrTransport = errors.New("stream transport error")

	ErrEmbedding      = errors.New("embedding failed")
	ErrIndex          = errors.New("index upsert failed")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Delivery is a raw entry read from the stream: the broker id and the payload.
type Delivery struct {
	ID   string
	Data []byte
}

// StreamMessage is a successfully parsed Delivery.
type StreamMessage struct {
	ID       string
	SourceID string
	Content  string
	Metadata metadata.Map
}

// Chunk is one segment of a StreamMessage's content. Metadata is shared by
// all chunks of the same source and must not be mutated.
type Chunk struct {
	Text     string
	Ordinal  int
	Metadata metadata.Flat
}

// IndexRecord is what gets written to the vector store.
type IndexRecord struct {
	ID        string
	Vector    []float32
	Text      string
	Metadata  metadata.Flat
	Namespace string
	SourceID  string
	Ordinal   int
}

// RecordID derives the store key of a chunk. Re-processing a document with
// the same chunking parameters yields the same ids, so upserts overwrite.
func RecordID(namespace, sourceID string, ordinal int) string {
	return fmt.Sprintf("%s::%s::chunk::%d", namespace, sourceID, ordinal)
}

// Embedder vectorizes texts in one call. The result has one vector per input,
// in input order; a failure covers the whole call.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexUpserter inserts or replaces records by id, atomically per call.
type IndexUpserter interface {
	Upsert(ctx context.Context, records []IndexRecord) error
}

// Stream is a durable log read through a consumer group.
type Stream interface {
	// EnsureGroup creates the consumer group if it does not exist yet.
	EnsureGroup(ctx context.Context) error
	// Read blocks up to block for at most count never-delivered messages.
	// A timeout with nothing to read returns an empty slice and no error.
	Read(ctx context.Context, count int, block time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, ids ...string) error
}

// PoisonMessage is a delivery that can never be indexed.
type PoisonMessage struct {
	MessageID string
	SourceID  string
	Payload   []byte
	Reason    string
	Consumer  string
}

// DeadLetterSink keeps a copy of poison messages for operators.
type DeadLetterSink interface {
	Quarantine(ctx context.Context, msg PoisonMessage) error
}
