package exam

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam/internal/model"
)

func newTestExam(questions, duration int) *model.Exam {
	e := &model.Exam{
		ID:              uuid.New(),
		Title:           "Physics midterm",
		DurationSeconds: duration,
		IsPublished:     true,
	}
	for i := 0; i < questions; i++ {
		q := model.Question{
			ID:       uuid.New(),
			Text:     fmt.Sprintf("Question %d", i+1),
			Marks:    2,
			OrderNum: i,
		}
		for j, id := range model.OptionIDs {
			q.Options = append(q.Options, model.Option{ID: id, Text: fmt.Sprintf("q%d option %d", i+1, j+1)})
		}
		e.Questions = append(e.Questions, q)
	}
	return e
}

type submitRecorder struct {
	mu      sync.Mutex
	records []*model.SubmissionRecord
}

func (r *submitRecorder) handle(rec *model.SubmissionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *submitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *submitRecorder) last() *model.SubmissionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

func startedEngine(e *model.Exam, opts ...Option) (*Engine, *ManualClock, *submitRecorder) {
	clock := NewManualClock()
	rec := &submitRecorder{}
	opts = append([]Option{WithClock(clock), WithSubmitHandler(rec.handle)}, opts...)
	eng := NewEngine(e, opts...)
	if err := eng.Start(); err != nil {
		panic(err)
	}
	return eng, clock, rec
}

type fakeCatalog struct {
	exams   map[uuid.UUID]*model.Exam
	results map[uuid.UUID]*model.ExamResults
	err     error
}

func (f *fakeCatalog) GetExamByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.exams[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	return e, nil
}

func (f *fakeCatalog) GetUserExamResults(_ context.Context, id uuid.UUID) (*model.ExamResults, error) {
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[id]; ok {
		return r, nil
	}
	return &model.ExamResults{}, nil
}
