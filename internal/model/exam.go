package model

import (
	"time"

	"github.com/google/uuid"
)

// OptionsPerQuestion is the fixed number of options every question carries.
const OptionsPerQuestion = 4

// Exam is the exam-taking shape of an exam. Its questions never carry the answer key.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration"`
	IsPublished     bool       `json:"is_published"`
	AuthorID        int        `json:"author_id,omitempty"`
	Questions       []Question `json:"questions"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// QuestionCount returns the number of questions in the exam.
func (e *Exam) QuestionCount() int {
	return len(e.Questions)
}

// TotalMarks sums the marks of every question.
func (e *Exam) TotalMarks() float64 {
	var total float64
	for _, q := range e.Questions {
		total += q.Marks
	}
	return total
}

// QuestionByID looks up a question by its id.
func (e *Exam) QuestionByID(id uuid.UUID) (*Question, bool) {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i], true
		}
	}
	return nil, false
}

// CreateExamRequest is the payload for creating a new exam with its questions.
type CreateExamRequest struct {
	Title           string                  `json:"title" binding:"required,min=3,max=255"`
	DurationSeconds int                     `json:"duration" binding:"required,min=1,max=28800"`
	Questions       []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}
