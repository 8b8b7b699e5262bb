package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/model"
)

// ErrDuplicateAnswer is returned when a submission answers a question twice.
var ErrDuplicateAnswer = errors.New("question answered more than once")

// Grade scores answers against the answer key (question id to option key).
// An answer is correct iff its selected text equals the text of the keyed option.
func Grade(e *model.Exam, key map[uuid.UUID]string, answers []model.SubmittedAnswer) ([]model.AnswerResult, float64, error) {
	results := make([]model.AnswerResult, 0, len(answers))
	seen := make(map[uuid.UUID]struct{}, len(answers))
	var score float64

	for _, a := range answers {
		q, ok := e.QuestionByID(a.QuestionID)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", exam.ErrUnknownQuestion, a.QuestionID)
		}
		if _, dup := seen[a.QuestionID]; dup {
			return nil, 0, fmt.Errorf("%w: %s", ErrDuplicateAnswer, a.QuestionID)
		}
		seen[a.QuestionID] = struct{}{}

		correct := false
		if opt, ok := q.OptionByID(key[q.ID]); ok {
			correct = opt.Text == a.Selected
		}
		if correct {
			score += q.Marks
		}

		results = append(results, model.AnswerResult{
			QuestionID: q.ID,
			Question:   q.Text,
			Selected:   a.Selected,
			IsCorrect:  correct,
		})
	}
	return results, score, nil
}
