package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyPublisher fails its first `failures` publishes, then records bodies.
type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	published [][]byte
}

func (p *flakyPublisher) Publish(_ context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, body)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func (p *flakyPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestQueue(t *testing.T) *events.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return events.NewQueue(rdb)
}

func TestFlushSafeRequeuesFailures(t *testing.T) {
	q := newTestQueue(t)
	pub := &flakyPublisher{failures: 1}
	w := NewAttemptEventWorker(q, pub, zerolog.Nop())
	ctx := context.Background()

	w.flushSafe(ctx, [][]byte{[]byte(`{"n":1}`), []byte(`{"n":2}`)})
	assert.Equal(t, 1, pub.count())

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	raw, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(raw))
}

func TestWorkerRelaysQueuedEvents(t *testing.T) {
	q := newTestQueue(t)
	pub := &flakyPublisher{}
	w := NewAttemptEventWorker(q, pub, zerolog.Nop())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(context.Background(), events.AttemptRecorded{AttemptID: uuid.New()}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// The loop holds the batch until the batch timeout or shutdown.
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, 3, pub.count())
	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
