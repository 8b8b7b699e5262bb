package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/model"
)

// StudentViews hands out per-user views of the catalog and grader, so the
// session engine can run server-side over the same services the REST API uses.
type StudentViews struct {
	exams    *ExamService
	attempts *AttemptService
}

// NewStudentViews creates a new StudentViews.
func NewStudentViews(exams *ExamService, attempts *AttemptService) *StudentViews {
	return &StudentViews{exams: exams, attempts: attempts}
}

// Catalog returns the exam catalog as seen by userID.
func (v *StudentViews) Catalog(userID int) exam.Catalog {
	return &StudentView{views: v, userID: userID}
}

// Grader returns a grader that records attempts for userID.
func (v *StudentViews) Grader(userID int) exam.Grader {
	return &StudentView{views: v, userID: userID}
}

// StudentView implements exam.Catalog and exam.Grader for a single user.
type StudentView struct {
	views  *StudentViews
	userID int
}

var (
	_ exam.Catalog = (*StudentView)(nil)
	_ exam.Grader  = (*StudentView)(nil)
)

func (sv *StudentView) GetExamByID(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	return sv.views.exams.GetByID(ctx, examID, false)
}

func (sv *StudentView) GetUserExamResults(ctx context.Context, examID uuid.UUID) (*model.ExamResults, error) {
	return sv.views.attempts.Results(ctx, sv.userID, examID)
}

func (sv *StudentView) SubmitExamAnswers(ctx context.Context, rec *model.SubmissionRecord) (*model.AttemptResult, error) {
	key, err := uuid.Parse(rec.IdempotencyKey)
	if err != nil {
		return nil, &exam.RejectedError{Err: fmt.Errorf("parse idempotency key: %w", err)}
	}
	res, err := sv.views.attempts.Submit(ctx, sv.userID, rec.ExamID, key, rec)
	if err != nil && isInvalidSubmission(err) {
		return nil, &exam.RejectedError{Err: err}
	}
	return res, err
}

func isInvalidSubmission(err error) bool {
	return errors.Is(err, exam.ErrUnknownQuestion) ||
		errors.Is(err, exam.ErrIncompleteAnswers) ||
		errors.Is(err, ErrDuplicateAnswer)
}
