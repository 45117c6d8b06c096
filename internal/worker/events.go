package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalinplus/WHUCS-Qwen3/internal/metadata"
)

// DocumentPayload is the JSON body producers append to the stream.
// Metadata is either an object or a string holding a JSON object.
type DocumentPayload struct {
	SourceID string          `json:"source_id"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ParseMessage validates a delivery. All errors wrap ErrInvalidPayload.
func ParseMessage(d Delivery) (StreamMessage, error) {
	var payload DocumentPayload
	if err := json.Unmarshal(d.Data, &payload); err != nil {
		return StreamMessage{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(payload.SourceID) == "" {
		return StreamMessage{}, fmt.Errorf("%w: missing source_id", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.Content) == "" {
		return StreamMessage{}, fmt.Errorf("%w: missing content", ErrInvalidPayload)
	}

	meta, err := parseMetadata(payload.Metadata)
	if err != nil {
		return StreamMessage{}, fmt.Errorf("%w: metadata: %v", ErrInvalidPayload, err)
	}

	return StreamMessage{
		ID:       d.ID,
		SourceID: payload.SourceID,
		Content:  payload.Content,
		Metadata: meta,
	}, nil
}

func parseMetadata(raw json.RawMessage) (metadata.Map, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return metadata.Map{}, nil
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		if strings.TrimSpace(encoded) == "" {
			return metadata.Map{}, nil
		}
		raw = []byte(encoded)
	}

	return metadata.FromJSON(raw)
}

// sourceHint pulls source_id out of a payload that failed validation, for logs.
func sourceHint(data []byte) string {
	var probe struct {
		SourceID any `json:"source_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.SourceID == nil {
		return ""
	}
	return fmt.Sprint(probe.SourceID)
}
