package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder talks to any OpenAI-compatible /embeddings endpoint, such as a
// local vLLM or text-embeddings-inference server.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

func NewEmbedder(baseURL, apiKey, model string) (*Embedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding base url not configured")
	}
	// Local servers usually ignore the token, but the client refuses an empty one.
	if apiKey == "" {
		apiKey = "none"
	}

	opts := []openai.Option{
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
	}
	if model != "" {
		opts = append(opts, openai.WithEmbeddingModel(model))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		model:    model,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

// EmbedBatch returns one vector per text, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.logger.DebugContext(ctx, "generating embeddings for texts", "count", len(texts), "model", e.model)

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to generate embeddings", "count", len(texts), "error", err)
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("openai embed: empty embedding at position %d", i)
		}
	}
	return vectors, nil
}
