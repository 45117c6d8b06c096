package gemini_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/kalinplus/WHUCS-Qwen3/internal/adapter/gemini"
)

// fakeGemini answers batchEmbedContents with one vector per request entry.
// The first value of every vector is the entry's position in its request.
func fakeGemini(t *testing.T, requests *atomic.Int32, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"unavailable","status":"UNAVAILABLE"}}`))
			return
		}

		body, _ := io.ReadAll(r.Body)
		var req struct {
			Requests []json.RawMessage `json:"requests"`
		}
		_ = json.Unmarshal(body, &req)

		embeddings := make([]map[string]any, len(req.Requests))
		for i := range req.Requests {
			embeddings[i] = map[string]any{"values": []float32{float32(i), 0.5, 0.25}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
}

func TestNewEmbedder_RequiresKey(t *testing.T) {
	_, err := gemini.NewEmbedder(context.Background(), "", "")
	assert.ErrorContains(t, err, "api key not configured")
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	var requests atomic.Int32
	ts := fakeGemini(t, &requests, http.StatusOK)
	defer ts.Close()

	ctx := context.Background()
	e, err := gemini.NewEmbedder(ctx, "test-key", "", option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer e.Close()

	t.Run("Single Request", func(t *testing.T) {
		requests.Store(0)
		vecs, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.Equal(t, float32(2), vecs[2][0])
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("Split Across Requests", func(t *testing.T) {
		requests.Store(0)
		texts := make([]string, 250)
		for i := range texts {
			texts[i] = "chunk"
		}
		vecs, err := e.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		require.Len(t, vecs, 250)
		assert.Equal(t, int32(3), requests.Load())
		assert.Equal(t, float32(0), vecs[100][0])
		assert.Equal(t, float32(49), vecs[249][0])
	})

	t.Run("Empty Input", func(t *testing.T) {
		requests.Store(0)
		vecs, err := e.EmbedBatch(ctx, nil)
		assert.NoError(t, err)
		assert.Empty(t, vecs)
		assert.Zero(t, requests.Load())
	})
}

func TestEmbedder_EmbedBatch_ServerError(t *testing.T) {
	var requests atomic.Int32
	ts := fakeGemini(t, &requests, http.StatusServiceUnavailable)
	defer ts.Close()

	ctx := context.Background()
	e, err := gemini.NewEmbedder(ctx, "test-key", "text-embedding-004", option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(ctx, []string{"a"})
	assert.Error(t, err)
	assert.Nil(t, vecs)
}
