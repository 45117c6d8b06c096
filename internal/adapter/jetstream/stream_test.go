package jetstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

type fakeMsg struct {
	jetstream.Msg
	seq    uint64
	data   []byte
	acked  bool
	ackErr error
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{Sequence: jetstream.SequencePair{Stream: m.seq, Consumer: m.seq}}, nil
}
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "rag.sync.documents" }
func (m *fakeMsg) DoubleAck(ctx context.Context) error {
	if m.ackErr != nil {
		return m.ackErr
	}
	m.acked = true
	return nil
}

type fakeBatch struct {
	msgs []jetstream.Msg
	err  error
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg {
	ch := make(chan jetstream.Msg, len(b.msgs))
	for _, m := range b.msgs {
		ch <- m
	}
	close(ch)
	return ch
}
func (b *fakeBatch) Error() error { return b.err }

type fakeConsumer struct {
	jetstream.Consumer
	batches  []jetstream.MessageBatch
	fetchErr error
	gotCount int
	gotOpts  int
	info     *jetstream.ConsumerInfo
}

func (c *fakeConsumer) Fetch(n int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error) {
	c.gotCount = n
	c.gotOpts = len(opts)
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	if len(c.batches) == 0 {
		return &fakeBatch{}, nil
	}
	b := c.batches[0]
	c.batches = c.batches[1:]
	return b, nil
}

func (c *fakeConsumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	if c.info == nil {
		return nil, errors.New("no info")
	}
	return c.info, nil
}

type fakeManager struct {
	streamCfg   jetstream.StreamConfig
	consumerCfg jetstream.ConsumerConfig
	streamErr   error
	consumerErr error
	consumer    *fakeConsumer
}

func (m *fakeManager) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.streamCfg = cfg
	return nil, m.streamErr
}

func (m *fakeManager) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	m.consumerCfg = cfg
	if m.consumerErr != nil {
		return nil, m.consumerErr
	}
	return m.consumer, nil
}

func testConfig() Config {
	return Config{
		StreamName: "rag_sync_stream",
		Subject:    "rag.sync.documents",
		Group:      "rag_sync_consumer_group0",
		AckWait:    time.Minute,
	}
}

func ready(t *testing.T, c *fakeConsumer) *Stream {
	t.Helper()
	s := NewStream(&fakeManager{consumer: c}, testConfig())
	require.NoError(t, s.EnsureGroup(context.Background()))
	return s
}

func TestStream_EnsureGroup(t *testing.T) {
	m := &fakeManager{consumer: &fakeConsumer{}}
	s := NewStream(m, testConfig())

	require.NoError(t, s.EnsureGroup(context.Background()))
	assert.Equal(t, "rag_sync_stream", m.streamCfg.Name)
	assert.Equal(t, []string{"rag.sync.documents"}, m.streamCfg.Subjects)
	assert.Equal(t, "rag_sync_consumer_group0", m.consumerCfg.Durable)
	assert.Equal(t, jetstream.AckExplicitPolicy, m.consumerCfg.AckPolicy)
	assert.Equal(t, time.Minute, m.consumerCfg.AckWait)
}

func TestStream_EnsureGroup_Errors(t *testing.T) {
	s := NewStream(&fakeManager{streamErr: errors.New("no responders")}, testConfig())
	assert.ErrorIs(t, s.EnsureGroup(context.Background()), worker.ErrTransport)

	s = NewStream(&fakeManager{consumerErr: errors.New("denied")}, testConfig())
	assert.ErrorIs(t, s.EnsureGroup(context.Background()), worker.ErrTransport)
}

func TestStream_ReadBeforeEnsureGroup(t *testing.T) {
	s := NewStream(&fakeManager{}, testConfig())
	_, err := s.Read(context.Background(), 10, time.Second)
	assert.ErrorIs(t, err, worker.ErrTransport)
}

func TestStream_ReadAndAck(t *testing.T) {
	m1 := &fakeMsg{seq: 7, data: []byte(`{"a":1}`)}
	m2 := &fakeMsg{seq: 8, data: []byte(`{"a":2}`)}
	c := &fakeConsumer{batches: []jetstream.MessageBatch{&fakeBatch{msgs: []jetstream.Msg{m1, m2}}}}
	s := ready(t, c)

	deliveries, err := s.Read(context.Background(), 64, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 64, c.gotCount)
	assert.Equal(t, 1, c.gotOpts)
	assert.Equal(t, []worker.Delivery{
		{ID: "7", Data: []byte(`{"a":1}`)},
		{ID: "8", Data: []byte(`{"a":2}`)},
	}, deliveries)

	require.NoError(t, s.Ack(context.Background(), "8"))
	assert.False(t, m1.acked)
	assert.True(t, m2.acked)
}

func TestStream_Read_Timeout(t *testing.T) {
	c := &fakeConsumer{batches: []jetstream.MessageBatch{&fakeBatch{err: nats.ErrTimeout}}}
	s := ready(t, c)

	deliveries, err := s.Read(context.Background(), 10, time.Second)
	assert.NoError(t, err)
	assert.Empty(t, deliveries)

	c.fetchErr = nats.ErrTimeout
	deliveries, err = s.Read(context.Background(), 10, time.Second)
	assert.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestStream_Read_TransportError(t *testing.T) {
	c := &fakeConsumer{fetchErr: nats.ErrConnectionClosed}
	s := ready(t, c)

	_, err := s.Read(context.Background(), 10, time.Second)
	assert.ErrorIs(t, err, worker.ErrTransport)
}

func TestStream_Read_PartialBatchKeepsMessages(t *testing.T) {
	m := &fakeMsg{seq: 3, data: []byte("x")}
	c := &fakeConsumer{batches: []jetstream.MessageBatch{&fakeBatch{msgs: []jetstream.Msg{m}, err: nats.ErrConnectionClosed}}}
	s := ready(t, c)

	deliveries, err := s.Read(context.Background(), 10, time.Second)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestStream_Ack_UnknownAndStale(t *testing.T) {
	m := &fakeMsg{seq: 1}
	c := &fakeConsumer{batches: []jetstream.MessageBatch{&fakeBatch{msgs: []jetstream.Msg{m}}}}
	s := ready(t, c)

	_, err := s.Read(context.Background(), 10, time.Second)
	require.NoError(t, err)

	err = s.Ack(context.Background(), "99")
	assert.ErrorIs(t, err, worker.ErrTransport)

	// the next read forgets unacknowledged messages
	_, err = s.Read(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Ack(context.Background(), "1"), worker.ErrTransport)
	assert.False(t, m.acked)
}

func TestStream_Ack_ServerError(t *testing.T) {
	m := &fakeMsg{seq: 1, ackErr: nats.ErrTimeout}
	c := &fakeConsumer{batches: []jetstream.MessageBatch{&fakeBatch{msgs: []jetstream.Msg{m}}}}
	s := ready(t, c)

	_, err := s.Read(context.Background(), 10, time.Second)
	require.NoError(t, err)

	err = s.Ack(context.Background(), "1")
	assert.ErrorIs(t, err, worker.ErrTransport)
	assert.ErrorContains(t, err, "ack 1")
}

func TestStream_Stats(t *testing.T) {
	c := &fakeConsumer{info: &jetstream.ConsumerInfo{NumPending: 12, NumAckPending: 3, NumRedelivered: 1}}
	s := ready(t, c)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Stream:      "rag_sync_stream",
		Group:       "rag_sync_consumer_group0",
		Pending:     12,
		AckPending:  3,
		Redelivered: 1,
	}, st)
}
