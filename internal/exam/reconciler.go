package exam

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/model"
)

// Grader is the write side of the grading API. The record's IdempotencyKey
// must travel with every try so the server can collapse repeats.
type Grader interface {
	SubmitExamAnswers(ctx context.Context, rec *model.SubmissionRecord) (*model.AttemptResult, error)
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithRetries sets how many extra automatic tries follow a failed one.
func WithRetries(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithBackoff sets the pause before retry i (1-based) as i*d.
func WithBackoff(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.backoff = d }
}

// Reconciler delivers frozen records to the grader and completes the session.
type Reconciler struct {
	grader  Grader
	log     zerolog.Logger
	retries int
	backoff time.Duration
}

// NewReconciler creates a Reconciler.
func NewReconciler(grader Grader, log zerolog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		grader:  grader,
		log:     log.With().Str("component", "submission_reconciler").Logger(),
		backoff: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Submit sends the session's frozen record. On failure the session stays
// Submitting and calling Submit again resends the very same record.
// A completed session returns its stored result without a new request.
func (r *Reconciler) Submit(ctx context.Context, eng *Engine) (*model.AttemptResult, error) {
	rec, state := eng.frozenRecord()
	switch state {
	case StateCompleted:
		res, _ := eng.Result()
		return res, nil
	case StateSubmitting:
	default:
		return nil, ErrNotSubmitting
	}

	log := r.log.With().
		Str("exam_id", rec.ExamID.String()).
		Str("idempotency_key", rec.IdempotencyKey).
		Logger()

	var (
		lastErr  error
		reached  bool
		attempts int
	)
	for i := 0; i <= r.retries; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, time.Duration(i)*r.backoff); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		res, err := r.grader.SubmitExamAnswers(ctx, cloneRecord(rec))
		if err == nil && res == nil {
			err = errNoResult
		}
		if err == nil {
			if res.Replayed {
				log.Warn().Str("attempt_id", res.ID.String()).Msg("Server returned an already recorded attempt")
			}
			if err := eng.complete(res); err != nil {
				return nil, err
			}
			log.Info().
				Str("attempt_id", res.ID.String()).
				Float64("score", res.Score).
				Int("tries", attempts).
				Msg("Submission graded")
			return res, nil
		}

		if isFinal(err) {
			log.Warn().Err(err).Int("try", attempts).Msg("Submission rejected")
			return nil, err
		}

		lastErr = err
		if mayHaveReached(err) {
			reached = true
		}
		log.Warn().Err(err).Int("try", attempts).Msg("Submission failed")
	}

	return nil, &SubmissionError{Err: lastErr, Attempts: attempts, MayBeRecorded: reached}
}

// BuildRecord resolves every selected option to its text, in exam order.
// Text is what the server compares, so option reordering is tolerated; two
// options with identical text are indistinguishable.
func BuildRecord(e *model.Exam, selected map[uuid.UUID]string, elapsed int, trigger model.SubmitTrigger, key string) *model.SubmissionRecord {
	rec := &model.SubmissionRecord{
		ExamID:            e.ID,
		IdempotencyKey:    key,
		Answers:           make([]model.SubmittedAnswer, 0, len(selected)),
		CompletedDuration: elapsed,
		Trigger:           trigger,
	}
	for _, q := range e.Questions {
		optID, ok := selected[q.ID]
		if !ok {
			continue
		}
		opt, ok := q.OptionByID(optID)
		if !ok {
			continue
		}
		rec.Answers = append(rec.Answers, model.SubmittedAnswer{
			QuestionID: q.ID,
			Question:   q.Text,
			Selected:   opt.Text,
		})
	}
	return rec
}

// TransportError marks a failure whose request may have been processed by the server.
type TransportError struct {
	Err error
	// Delivered is false only when the request certainly never left the client.
	Delivered bool
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

var errNoResult = errors.New("grader returned no result")

// isFinal reports verdicts that retrying the same record cannot change.
func isFinal(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej) ||
		errors.Is(err, ErrAttemptLimitReached) ||
		errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrExamNotPublished)
}

func mayHaveReached(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Delivered
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
