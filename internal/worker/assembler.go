package worker

import (
	"github.com/kalinplus/WHUCS-Qwen3/internal/metadata"
	"github.com/kalinplus/WHUCS-Qwen3/internal/text"
)

// PendingRecord is an IndexRecord waiting for its vector.
type PendingRecord struct {
	ID        string
	Text      string
	Metadata  metadata.Flat
	Namespace string
	SourceID  string
	Ordinal   int
	MessageID string
}

func (p PendingRecord) WithVector(v []float32) IndexRecord {
	return IndexRecord{
		ID:        p.ID,
		Vector:    v,
		Text:      p.Text,
		Metadata:  p.Metadata,
		Namespace: p.Namespace,
		SourceID:  p.SourceID,
		Ordinal:   p.Ordinal,
	}
}

type ParseFailure struct {
	MessageID string
	SourceID  string
	Payload   []byte
	Err       error
}

// Assembly is the result of one Assemble call. Records, Parsed and Failed
// keep delivery order.
type Assembly struct {
	Records []PendingRecord
	Parsed  []string
	Failed  []ParseFailure
}

func (a Assembly) Texts() []string {
	texts := make([]string, len(a.Records))
	for i, r := range a.Records {
		texts[i] = r.Text
	}
	return texts
}

type Assembler struct {
	splitter  *text.Splitter
	namespace string
}

func NewAssembler(splitter *text.Splitter, namespace string) *Assembler {
	return &Assembler{splitter: splitter, namespace: namespace}
}

func (a *Assembler) Namespace() string {
	return a.namespace
}

// Assemble parses every delivery and flattens the valid ones into pending
// records. Invalid deliveries contribute no records and are reported in
// Failed so they can be acknowledged.
func (a *Assembler) Assemble(deliveries []Delivery) Assembly {
	var out Assembly
	for _, d := range deliveries {
		msg, err := ParseMessage(d)
		if err != nil {
			out.Failed = append(out.Failed, ParseFailure{
				MessageID: d.ID,
				SourceID:  sourceHint(d.Data),
				Payload:   d.Data,
				Err:       err,
			})
			continue
		}
		out.Parsed = append(out.Parsed, d.ID)
		out.Records = append(out.Records, a.Expand(msg)...)
	}
	return out
}

// Chunks splits the message content. Metadata is sanitized once and shared.
func (a *Assembler) Chunks(msg StreamMessage) []Chunk {
	meta := metadata.Sanitize(msg.Metadata, msg.SourceID)
	pieces := a.splitter.SplitText(msg.Content)

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{Text: p, Ordinal: i, Metadata: meta}
	}
	return chunks
}

// Expand turns one message into its pending records.
func (a *Assembler) Expand(msg StreamMessage) []PendingRecord {
	chunks := a.Chunks(msg)
	records := make([]PendingRecord, len(chunks))
	for i, c := range chunks {
		records[i] = PendingRecord{
			ID:        RecordID(a.namespace, msg.SourceID, c.Ordinal),
			Text:      c.Text,
			Metadata:  c.Metadata,
			Namespace: a.namespace,
			SourceID:  msg.SourceID,
			Ordinal:   c.Ordinal,
			MessageID: msg.ID,
		}
	}
	return records
}
