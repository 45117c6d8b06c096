package worker_test

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalinplus/WHUCS-Qwen3/internal/metadata"
	"github.com/kalinplus/WHUCS-Qwen3/internal/text"
	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

func newAssembler(t *testing.T, size, overlap int) *worker.Assembler {
	t.Helper()
	s, err := text.NewSplitter(size, overlap)
	require.NoError(t, err)
	return worker.NewAssembler(s, "dynamic")
}

func delivery(t *testing.T, id string, payload map[string]any) worker.Delivery {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return worker.Delivery{ID: id, Data: data}
}

func doc900() string {
	return strings.TrimSuffix(strings.Repeat("words ", 150), " ") + "."
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "dynamic::doc42::chunk::0", worker.RecordID("dynamic", "doc42", 0))
	assert.Equal(t, "static::guide.pdf::chunk::12", worker.RecordID("static", "guide.pdf", 12))
}

func TestAssemble_IdempotentIDs(t *testing.T) {
	a := newAssembler(t, 300, 50)
	d := delivery(t, "1-0", map[string]any{"source_id": "doc42", "content": doc900()})

	first := a.Assemble([]worker.Delivery{d})
	second := a.Assemble([]worker.Delivery{d})

	require.Equal(t, len(first.Records), len(second.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].ID, second.Records[i].ID)
		assert.Equal(t, first.Records[i].Text, second.Records[i].Text)
	}
}

func TestAssemble_PoisonContainment(t *testing.T) {
	a := newAssembler(t, 300, 50)
	batch := []worker.Delivery{
		delivery(t, "1-0", map[string]any{"source_id": "a", "content": "first document"}),
		delivery(t, "2-0", map[string]any{"source_id": "b"}),
		delivery(t, "3-0", map[string]any{"source_id": "c", "content": "third document"}),
	}

	asm := a.Assemble(batch)

	assert.Equal(t, []string{"1-0", "3-0"}, asm.Parsed)
	require.Len(t, asm.Failed, 1)
	assert.Equal(t, "2-0", asm.Failed[0].MessageID)
	assert.Equal(t, "b", asm.Failed[0].SourceID)
	assert.ErrorIs(t, asm.Failed[0].Err, worker.ErrInvalidPayload)

	require.Len(t, asm.Records, 2)
	for _, r := range asm.Records {
		assert.NotEqual(t, "2-0", r.MessageID)
		assert.NotEqual(t, "b", r.SourceID)
	}
	assert.Equal(t, "dynamic::a::chunk::0", asm.Records[0].ID)
	assert.Equal(t, "dynamic::c::chunk::0", asm.Records[1].ID)
}

func TestAssemble_ParseFailures(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"Empty Content", `{"source_id":"a","content":""}`},
		{"Whitespace Content", `{"source_id":"a","content":"  \n "}`},
		{"Missing Source", `{"content":"text"}`},
		{"Empty Source", `{"source_id":" ","content":"text"}`},
		{"Invalid JSON", `not json`},
		{"Metadata Not An Object", `{"source_id":"a","content":"text","metadata":42}`},
		{"Metadata List", `{"source_id":"a","content":"text","metadata":["x"]}`},
		{"Metadata Bad String", `{"source_id":"a","content":"text","metadata":"{broken"}`},
		{"Source Not A String", `{"source_id":7,"content":"text"}`},
	}

	a := newAssembler(t, 300, 50)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm := a.Assemble([]worker.Delivery{{ID: "9-0", Data: []byte(tt.data)}})

			assert.Empty(t, asm.Records)
			assert.Empty(t, asm.Parsed)
			require.Len(t, asm.Failed, 1)
			assert.Equal(t, "9-0", asm.Failed[0].MessageID)
			assert.Equal(t, []byte(tt.data), asm.Failed[0].Payload)
		})
	}
}

func TestAssemble_Doc42(t *testing.T) {
	a := newAssembler(t, 300, 50)
	d := delivery(t, "1700000000000-0", map[string]any{
		"source_id": "doc42",
		"content":   doc900(),
		"metadata":  map[string]any{},
	})

	asm := a.Assemble([]worker.Delivery{d})

	assert.Empty(t, asm.Failed)
	assert.Equal(t, []string{"1700000000000-0"}, asm.Parsed)
	require.GreaterOrEqual(t, len(asm.Records), 3)
	require.LessOrEqual(t, len(asm.Records), 4)

	for i, r := range asm.Records {
		assert.Equal(t, worker.RecordID("dynamic", "doc42", i), r.ID)
		assert.Equal(t, i, r.Ordinal)
		assert.Equal(t, metadata.Flat{"source": "doc42"}, r.Metadata)
		assert.Equal(t, "1700000000000-0", r.MessageID)
		assert.LessOrEqual(t, len([]rune(r.Text)), 300)
	}
}

func TestAssemble_MetadataForms(t *testing.T) {
	a := newAssembler(t, 300, 50)

	t.Run("Object", func(t *testing.T) {
		asm := a.Assemble([]worker.Delivery{{ID: "1", Data: []byte(
			`{"source_id":"n1","content":"body","metadata":{"author":"张三","tags":["a","b"],"views":3,"extra":null}}`,
		)}})
		require.Len(t, asm.Records, 1)
		m := asm.Records[0].Metadata
		assert.Equal(t, "张三", m["author"])
		assert.Equal(t, `["a","b"]`, m["tags"])
		assert.Equal(t, int64(3), m["views"])
		assert.NotContains(t, m, "extra")
		assert.NotContains(t, m, "source")
	})

	t.Run("JSON String", func(t *testing.T) {
		asm := a.Assemble([]worker.Delivery{{ID: "2", Data: []byte(
			`{"source_id":"n2","content":"body","metadata":"{\"type\":\"notice\"}"}`,
		)}})
		require.Len(t, asm.Records, 1)
		assert.Equal(t, "notice", asm.Records[0].Metadata["type"])
	})

	t.Run("Absent", func(t *testing.T) {
		asm := a.Assemble([]worker.Delivery{{ID: "3", Data: []byte(`{"source_id":"n3","content":"body"}`)}})
		require.Len(t, asm.Records, 1)
		assert.Equal(t, metadata.Flat{"source": "n3"}, asm.Records[0].Metadata)
	})
}

func TestAssemble_ChunksShareMetadata(t *testing.T) {
	a := newAssembler(t, 300, 50)
	asm := a.Assemble([]worker.Delivery{
		delivery(t, "1", map[string]any{"source_id": "doc", "content": doc900(), "metadata": map[string]any{"k": "v"}}),
	})

	require.Greater(t, len(asm.Records), 1)
	first := reflect.ValueOf(asm.Records[0].Metadata).Pointer()
	for _, r := range asm.Records[1:] {
		assert.Equal(t, first, reflect.ValueOf(r.Metadata).Pointer())
	}
}

func TestAssembly_Texts(t *testing.T) {
	asm := worker.Assembly{Records: []worker.PendingRecord{{Text: "a"}, {Text: "b"}}}
	assert.Equal(t, []string{"a", "b"}, asm.Texts())
}

func TestPendingRecord_WithVector(t *testing.T) {
	p := worker.PendingRecord{ID: "dynamic::d::chunk::1", Text: "t", Namespace: "dynamic", SourceID: "d", Ordinal: 1, MessageID: "m"}
	rec := p.WithVector([]float32{1, 2})

	assert.Equal(t, "dynamic::d::chunk::1", rec.ID)
	assert.Equal(t, []float32{1, 2}, rec.Vector)
	assert.Equal(t, "d", rec.SourceID)
	assert.Equal(t, 1, rec.Ordinal)
}
