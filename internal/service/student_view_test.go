package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentViewRejectsMalformedKey(t *testing.T) {
	grader := NewStudentViews(nil, nil).Grader(7)

	_, err := grader.SubmitExamAnswers(context.Background(), &model.SubmissionRecord{
		ExamID:         uuid.New(),
		IdempotencyKey: "not-a-uuid",
	})
	var rej *exam.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.False(t, exam.IsRetryable(err))
}

func TestInvalidSubmissionErrors(t *testing.T) {
	assert.True(t, isInvalidSubmission(fmt.Errorf("%w: %s", exam.ErrUnknownQuestion, uuid.New())))
	assert.True(t, isInvalidSubmission(fmt.Errorf("%w: %s", ErrDuplicateAnswer, uuid.New())))
	assert.True(t, isInvalidSubmission(exam.ErrIncompleteAnswers))
	assert.False(t, isInvalidSubmission(exam.ErrAttemptLimitReached))
	assert.False(t, isInvalidSubmission(fmt.Errorf("insert attempt: %w", context.DeadlineExceeded)))
}
