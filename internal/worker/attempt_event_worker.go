package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/events"
)

const (
	EventBatchSize    = 50
	EventBatchTimeout = 2 * time.Second
	EventPollTimeout  = 1 * time.Second
)

// AttemptEventWorker relays queued attempt events to the broker in batches.
type AttemptEventWorker struct {
	queue     *events.Queue
	publisher events.Publisher
	log       zerolog.Logger
}

func NewAttemptEventWorker(queue *events.Queue, publisher events.Publisher, log zerolog.Logger) *AttemptEventWorker {
	return &AttemptEventWorker{
		queue:     queue,
		publisher: publisher,
		log:       log.With().Str("component", "attempt_event_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start drains the queue until ctx is cancelled, then flushes what it holds.
func (w *AttemptEventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptEventWorker started")

	batch := make([][]byte, 0, EventBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= EventBatchSize || time.Since(lastFlush) >= EventBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			raw, err := w.queue.Pop(ctx, EventPollTimeout)
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					sleepCtx(ctx, EventPollTimeout)
				}
				continue
			}
			batch = append(batch, raw)
		}
	}
}

// ----------------------------------------------------------------
// Publish with requeue fallback
// ----------------------------------------------------------------

// flushSafe publishes every event of the batch. Events that fail are pushed
// back onto the queue so a later pass retries them.
func (w *AttemptEventWorker) flushSafe(ctx context.Context, batch [][]byte) {
	if len(batch) == 0 {
		return
	}

	var failed [][]byte
	for _, raw := range batch {
		if err := w.publisher.Publish(ctx, raw); err != nil {
			w.log.Warn().Err(err).Msg("Publish failed, requeueing")
			failed = append(failed, raw)
		}
	}

	if len(failed) > 0 {
		if err := w.queue.Requeue(context.Background(), failed...); err != nil {
			w.log.Error().Err(err).Int("lost", len(failed)).Msg("Requeue failed")
		}
	}

	w.log.Debug().
		Int("published", len(batch)-len(failed)).
		Int("requeued", len(failed)).
		Msg("Event batch flushed")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
