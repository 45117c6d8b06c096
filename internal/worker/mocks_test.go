package worker_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

// Mocks

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

type MockIndexUpserter struct{ mock.Mock }

func (m *MockIndexUpserter) Upsert(ctx context.Context, records []worker.IndexRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

type MockDeadLetterSink struct{ mock.Mock }

func (m *MockDeadLetterSink) Quarantine(ctx context.Context, msg worker.PoisonMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// fakeEmbedder returns one small vector per text.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	log   *eventLog
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.log.add("embed")
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

// recordingStore keeps every upserted record.
type recordingStore struct {
	mu      sync.Mutex
	records []worker.IndexRecord
	err     error
	log     *eventLog
}

func (s *recordingStore) Upsert(ctx context.Context, records []worker.IndexRecord) error {
	s.log.add("upsert")
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// scriptedStream hands out queued read results and records acknowledgments.
// When the script runs out it requests shutdown so Run returns.
type scriptedStream struct {
	mu        sync.Mutex
	ensure    []error
	reads     []readResult
	acked     []string
	ackErr    error
	shutdown  *worker.Shutdown
	log       *eventLog
	ensureHit int
}

type readResult struct {
	deliveries []worker.Delivery
	err        error
	onRead     func()
}

func (s *scriptedStream) EnsureGroup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureHit++
	if len(s.ensure) == 0 {
		return nil
	}
	err := s.ensure[0]
	s.ensure = s.ensure[1:]
	return err
}

func (s *scriptedStream) Read(ctx context.Context, count int, block time.Duration) ([]worker.Delivery, error) {
	s.mu.Lock()
	if len(s.reads) == 0 {
		s.mu.Unlock()
		s.shutdown.RequestShutdown()
		return nil, nil
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	s.mu.Unlock()

	if r.onRead != nil {
		r.onRead()
	}
	if len(r.deliveries) > count {
		r.deliveries = r.deliveries[:count]
	}
	return r.deliveries, r.err
}

func (s *scriptedStream) Ack(ctx context.Context, ids ...string) error {
	s.log.add("ack")
	if s.ackErr != nil {
		return s.ackErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, ids...)
	return nil
}

func (s *scriptedStream) ensureCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureHit
}

func (s *scriptedStream) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// noSleep records requested backoff delays without waiting.
type noSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delays = append(n.delays, d)
}

func (n *noSleep) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.delays)
}
