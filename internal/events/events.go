// Package events carries attempt notifications from the grading API to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
)

// AttemptRecorded is emitted once per newly graded attempt. Replays are not re-emitted.
type AttemptRecorded struct {
	AttemptID         uuid.UUID           `json:"attempt_id"`
	ExamID            uuid.UUID           `json:"exam_id"`
	UserID            int                 `json:"user_id"`
	Score             float64             `json:"score"`
	TotalMarks        float64             `json:"total_marks"`
	Percentage        float64             `json:"percentage"`
	CompletedDuration int                 `json:"completed_duration"`
	Trigger           model.SubmitTrigger `json:"trigger"`
	SubmittedAt       time.Time           `json:"submitted_at"`
}

// NewAttemptRecorded builds the event for a stored attempt.
func NewAttemptRecorded(a *model.AttemptResult) AttemptRecorded {
	return AttemptRecorded{
		AttemptID:         a.ID,
		ExamID:            a.ExamID,
		UserID:            a.UserID,
		Score:             a.Score,
		TotalMarks:        a.TotalMarks,
		Percentage:        a.Percentage,
		CompletedDuration: a.CompletedDuration,
		Trigger:           a.Trigger,
		SubmittedAt:       a.SubmittedAt,
	}
}

// Queue buffers events in a Redis list until the relay worker publishes them.
type Queue struct {
	rdb  *redis.Client
	name string
}

// NewQueue creates a Queue on the attempt events list.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, name: config.WorkerKey.AttemptEventsQueue}
}

// Push appends an event to the queue.
func (q *Queue) Push(ctx context.Context, evt AttemptRecorded) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.rdb.RPush(ctx, q.name, raw).Err()
}

// Requeue puts raw payloads back at the tail after a failed publish.
func (q *Queue) Requeue(ctx context.Context, raws ...[]byte) error {
	if len(raws) == 0 {
		return nil
	}
	vals := make([]any, len(raws))
	for i, r := range raws {
		vals[i] = r
	}
	return q.rdb.RPush(ctx, q.name, vals...).Err()
}

// Pop blocks up to timeout for the next raw payload. It returns redis.Nil on timeout.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	item, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if err != nil {
		return nil, err
	}
	if len(item) < 2 {
		return nil, redis.Nil
	}
	return []byte(item[1]), nil
}

// Len reports the queue depth.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
