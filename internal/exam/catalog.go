package exam

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/model"
)

// Catalog is the read side of the grading API as seen by one authenticated user.
// GetExamByID must return ErrExamNotFound for an unknown id.
type Catalog interface {
	GetExamByID(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	GetUserExamResults(ctx context.Context, examID uuid.UUID) (*model.ExamResults, error)
}

// Loader fetches exams and attempt history and remembers the last response per exam.
type Loader struct {
	catalog Catalog
	log     zerolog.Logger

	mu      sync.RWMutex
	exams   map[uuid.UUID]*model.Exam
	history map[uuid.UUID][]model.AttemptResult
}

// NewLoader creates a Loader backed by catalog.
func NewLoader(catalog Catalog, log zerolog.Logger) *Loader {
	return &Loader{
		catalog: catalog,
		log:     log.With().Str("component", "catalog_loader").Logger(),
		exams:   make(map[uuid.UUID]*model.Exam),
		history: make(map[uuid.UUID][]model.AttemptResult),
	}
}

// LoadExam fetches an exam that is open for attempts.
func (l *Loader) LoadExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	e, err := l.catalog.GetExamByID(ctx, examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if e == nil {
		return nil, ErrExamNotFound
	}
	if !e.IsPublished {
		return nil, ErrExamNotPublished
	}
	if err := Validate(e); err != nil {
		l.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Rejected malformed exam")
		return nil, err
	}

	l.mu.Lock()
	l.exams[examID] = e
	l.mu.Unlock()

	return e, nil
}

// LoadAttemptHistory returns the user's attempts for an exam, newest first.
// No attempts yields an empty slice, not an error.
func (l *Loader) LoadAttemptHistory(ctx context.Context, examID uuid.UUID) ([]model.AttemptResult, error) {
	res, err := l.catalog.GetUserExamResults(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam results: %w", err)
	}

	attempts := []model.AttemptResult{}
	if res != nil {
		attempts = append(attempts, res.Attempts...)
	}
	slices.SortStableFunc(attempts, func(a, b model.AttemptResult) int {
		return b.SubmittedAt.Compare(a.SubmittedAt)
	})

	l.mu.Lock()
	l.history[examID] = attempts
	l.mu.Unlock()

	return attempts, nil
}

// Cached returns the last exam and history fetched for examID.
// Callers must treat both as read-only.
func (l *Loader) Cached(examID uuid.UUID) (*model.Exam, []model.AttemptResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.exams[examID]
	return e, l.history[examID], ok
}

// Validate checks the structural invariants the session engine relies on.
func Validate(e *model.Exam) error {
	if e.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrMalformedExam)
	}
	if len(e.Questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrMalformedExam)
	}

	seen := make(map[uuid.UUID]struct{}, len(e.Questions))
	for i, q := range e.Questions {
		if q.ID == uuid.Nil {
			return fmt.Errorf("%w: question %d has no id", ErrMalformedExam, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question %s", ErrMalformedExam, q.ID)
		}
		seen[q.ID] = struct{}{}

		if len(q.Options) != model.OptionsPerQuestion {
			return fmt.Errorf("%w: question %s has %d options", ErrMalformedExam, q.ID, len(q.Options))
		}
		optIDs := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			if _, dup := optIDs[o.ID]; dup {
				return fmt.Errorf("%w: question %s repeats option %q", ErrMalformedExam, q.ID, o.ID)
			}
			optIDs[o.ID] = struct{}{}
		}
	}
	return nil
}

// Begin runs the session-start flow: attempt history, attempt limit, then the exam.
// The limit is checked first so it is reported regardless of publication state.
func Begin(ctx context.Context, loader *Loader, examID uuid.UUID, opts ...Option) (*Engine, error) {
	history, err := loader.LoadAttemptHistory(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := CheckAttemptLimit(history); err != nil {
		return nil, err
	}

	e, err := loader.LoadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	return NewEngine(e, opts...), nil
}
