package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQueue(rdb)
}

func TestNewAttemptRecorded(t *testing.T) {
	a := &model.AttemptResult{
		ID:                uuid.New(),
		ExamID:            uuid.New(),
		UserID:            5,
		Score:             7,
		TotalMarks:        10,
		Percentage:        70,
		CompletedDuration: 95,
		Trigger:           model.TriggerTimeout,
		SubmittedAt:       time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		Answers:           []model.AnswerResult{{QuestionID: uuid.New()}},
	}
	evt := NewAttemptRecorded(a)

	assert.Equal(t, a.ID, evt.AttemptID)
	assert.Equal(t, a.ExamID, evt.ExamID)
	assert.Equal(t, 70.0, evt.Percentage)
	assert.Equal(t, model.TriggerTimeout, evt.Trigger)
}

func TestQueuePushPop(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first := AttemptRecorded{AttemptID: uuid.New(), Score: 1}
	second := AttemptRecorded{AttemptID: uuid.New(), Score: 2}
	require.NoError(t, q.Push(ctx, first))
	require.NoError(t, q.Push(ctx, second))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	var got AttemptRecorded
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, first.AttemptID, got.AttemptID)

	// Requeued payloads go to the tail.
	require.NoError(t, q.Requeue(ctx, raw))
	raw, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, second.AttemptID, got.AttemptID)

	require.NoError(t, q.Requeue(ctx))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQueuePopTimesOut(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Pop(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(zerolog.Nop())
	assert.NoError(t, p.Publish(context.Background(), []byte(`{"score":1}`)))
	assert.NoError(t, p.Close())
}
