package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/model"
)

// ErrCacheMiss is returned when an exam is not in Redis.
var ErrCacheMiss = errors.New("exam not cached")

// ExamCache keeps the public payload and answer key of published exams in Redis.
type ExamCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewExamCache creates an ExamCache. A zero ttl means entries never expire.
func NewExamCache(rdb *redis.Client, ttl time.Duration) *ExamCache {
	return &ExamCache{rdb: rdb, ttl: ttl}
}

// Store caches the public payload and the answer key in one transaction.
func (c *ExamCache) Store(ctx context.Context, e *model.Exam, questions []model.GradedQuestion) error {
	public := *e
	public.Questions = make([]model.Question, len(questions))
	answerKey := make(map[string]any, len(questions))
	for i, q := range questions {
		public.Questions[i] = q.Question
		answerKey[q.ID.String()] = q.CorrectOption
	}

	payload, err := json.Marshal(&public)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	id := e.ID.String()
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(id), payload, c.ttl)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(id))
	if len(answerKey) > 0 {
		pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(id), answerKey)
		if c.ttl > 0 {
			pipe.Expire(ctx, config.CacheKey.ExamAnswerKey(id), c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}

// Exam returns the cached public payload.
func (c *ExamCache) Exam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var e model.Exam
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &e, nil
}

// AnswerKey returns question id to correct option key.
func (c *ExamCache) AnswerKey(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]string, error) {
	raw, err := c.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrCacheMiss
	}

	key := make(map[uuid.UUID]string, len(raw))
	for qid, opt := range raw {
		id, err := uuid.Parse(qid)
		if err != nil {
			return nil, fmt.Errorf("parse question id %q: %w", qid, err)
		}
		key[id] = opt
	}
	return key, nil
}

// Grading returns the cached payload together with its answer key. A payload
// whose answer key has gone is dropped so both are rewarmed together.
func (c *ExamCache) Grading(ctx context.Context, examID uuid.UUID) (*model.Exam, map[uuid.UUID]string, error) {
	e, err := c.Exam(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	key, err := c.AnswerKey(ctx, examID)
	if errors.Is(err, ErrCacheMiss) {
		if err := c.Invalidate(ctx, examID); err != nil {
			return nil, nil, fmt.Errorf("drop partial entry: %w", err)
		}
		return nil, nil, ErrCacheMiss
	}
	if err != nil {
		return nil, nil, err
	}
	return e, key, nil
}

// Invalidate drops both entries of an exam.
func (c *ExamCache) Invalidate(ctx context.Context, examID uuid.UUID) error {
	id := examID.String()
	return c.rdb.Del(ctx, config.CacheKey.ExamPayloadKey(id), config.CacheKey.ExamAnswerKey(id)).Err()
}
