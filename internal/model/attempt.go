package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmitTrigger records what froze a session.
type SubmitTrigger string

const (
	TriggerManual  SubmitTrigger = "manual"
	TriggerTimeout SubmitTrigger = "timeout"
)

// SubmittedAnswer pairs a question with the text of the selected option.
type SubmittedAnswer struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Question   string    `json:"question"`
	Selected   string    `json:"selected" binding:"required,max=500"`
}

// SubmissionRecord is the write-once wire payload of a frozen session.
// The idempotency key travels in the Idempotency-Key header.
type SubmissionRecord struct {
	ExamID            uuid.UUID         `json:"-"`
	IdempotencyKey    string            `json:"-"`
	Answers           []SubmittedAnswer `json:"answers" binding:"dive"`
	CompletedDuration int               `json:"completedDuration" binding:"gte=0"`
	Trigger           SubmitTrigger     `json:"trigger" binding:"omitempty,oneof=manual timeout"`
}

// AnswerResult is the server's verdict on one submitted answer.
type AnswerResult struct {
	QuestionID uuid.UUID `json:"question_id"`
	Question   string    `json:"question"`
	Selected   string    `json:"selected"`
	IsCorrect  bool      `json:"is_correct"`
}

// AttemptResult is the authoritative outcome of one submission.
type AttemptResult struct {
	ID                uuid.UUID      `json:"id"`
	ExamID            uuid.UUID      `json:"exam_id"`
	UserID            int            `json:"user_id"`
	Score             float64        `json:"score"`
	TotalMarks        float64        `json:"total_marks"`
	Percentage        float64        `json:"percentage"`
	BestScore         float64        `json:"best_score"`
	Answers           []AnswerResult `json:"answers"`
	CompletedDuration int            `json:"completed_duration"`
	Trigger           SubmitTrigger  `json:"trigger"`
	SubmittedAt       time.Time      `json:"submitted_at"`
	Replayed          bool           `json:"replayed,omitempty"`
}

// AnswerFor returns the verdict for a question, if it was attempted.
func (a *AttemptResult) AnswerFor(questionID uuid.UUID) (*AnswerResult, bool) {
	for i := range a.Answers {
		if a.Answers[i].QuestionID == questionID {
			return &a.Answers[i], true
		}
	}
	return nil, false
}

// ExamResults is a user's attempt history for one exam.
type ExamResults struct {
	Attempts       []AttemptResult `json:"attempts"`
	BestScore      float64         `json:"bestScore"`
	BestPercentage float64         `json:"bestPercentage"`
	TotalMarks     float64         `json:"totalMarks"`
	Rank           *int            `json:"rank,omitempty"`
}
