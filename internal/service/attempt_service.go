package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/events"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
)

// ErrNoAttempts is returned when a review is requested before any attempt.
var ErrNoAttempts = errors.New("no attempts recorded for this exam")

// AttemptService grades submissions and serves attempt history.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	examService *ExamService
	queue       *events.Queue
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	examService *ExamService,
	queue *events.Queue,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		examService: examService,
		queue:       queue,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// Submit grades and records one attempt. A repeated idempotency key returns
// the attempt already recorded under it with Replayed set, and records nothing.
func (s *AttemptService) Submit(ctx context.Context, userID int, examID, key uuid.UUID, rec *model.SubmissionRecord) (*model.AttemptResult, error) {
	e, answerKey, err := s.examService.GradingKey(ctx, examID)
	if err != nil {
		return nil, err
	}

	answers, score, err := Grade(e, answerKey, rec.Answers)
	if err != nil {
		return nil, err
	}

	trigger := rec.Trigger
	if trigger == "" {
		trigger = model.TriggerManual
	}
	total := e.TotalMarks()
	attempt := &model.AttemptResult{
		ExamID:            examID,
		UserID:            userID,
		Score:             score,
		TotalMarks:        total,
		Percentage:        exam.Percent(score, total),
		Answers:           answers,
		CompletedDuration: min(rec.CompletedDuration, e.DurationSeconds),
		Trigger:           trigger,
	}

	var replayed *model.AttemptResult
	err = s.attemptRepo.RunLocked(ctx, userID, examID, func(tx *repository.AttemptRepository) error {
		prior, err := tx.GetByIdempotencyKey(ctx, userID, examID, key)
		if err == nil {
			replayed = prior
			best, _, err := tx.BestScore(ctx, userID, examID)
			if err != nil {
				return fmt.Errorf("best score: %w", err)
			}
			replayed.BestScore = best
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		count, err := tx.CountByUserExam(ctx, userID, examID)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if count >= exam.MaxAttempts {
			return exam.ErrAttemptLimitReached
		}

		if err := tx.Create(ctx, attempt, key); err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}

		best, _, err := tx.BestScore(ctx, userID, examID)
		if err != nil {
			return fmt.Errorf("best score: %w", err)
		}
		attempt.BestScore = best
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replayed != nil {
		replayed.Replayed = true
		s.log.Info().
			Str("attempt_id", replayed.ID.String()).
			Int("user_id", userID).
			Msg("Replayed submission")
		return replayed, nil
	}

	if err := s.queue.Push(ctx, events.NewAttemptRecorded(attempt)); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to queue attempt event")
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("user_id", userID).
		Float64("score", attempt.Score).
		Str("trigger", string(attempt.Trigger)).
		Msg("Attempt recorded")
	return attempt, nil
}

// Results returns a user's attempt history for an exam, newest first.
func (s *AttemptService) Results(ctx context.Context, userID int, examID uuid.UUID) (*model.ExamResults, error) {
	attempts, err := s.attemptRepo.ListByUserExam(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	res := &model.ExamResults{Attempts: attempts}
	for _, a := range attempts {
		res.BestScore = max(res.BestScore, a.Score)
		res.BestPercentage = max(res.BestPercentage, a.Percentage)
		res.TotalMarks = a.TotalMarks
	}

	if len(attempts) > 0 {
		rank, err := s.attemptRepo.Rank(ctx, userID, examID)
		if err != nil {
			return nil, fmt.Errorf("rank: %w", err)
		}
		res.Rank = rank
	}
	return res, nil
}

// Review returns the graded questions and the user's latest attempt.
// The answer key is only released after at least one attempt.
func (s *AttemptService) Review(ctx context.Context, userID int, examID uuid.UUID) (*exam.Review, error) {
	attempts, err := s.attemptRepo.ListByUserExam(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil, ErrNoAttempts
	}

	e, err := s.examService.GetByID(ctx, examID, true)
	if err != nil {
		return nil, err
	}
	questions, err := s.examService.GradedQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}

	latest := attempts[0]
	public := make([]model.Question, len(questions))
	for i, q := range questions {
		public[i] = q.Question
	}

	return &exam.Review{
		Exam:      e,
		Questions: questions,
		Attempt:   latest,
		Stats:     exam.ComputeReview(public, &latest),
		Items:     exam.BuildReviewItems(questions, &latest),
	}, nil
}
