package exam

import (
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam/internal/model"
)

// MaxAttempts is the number of attempts a user may record per exam.
const MaxAttempts = 5

// ReviewStats are the aggregate figures of one graded attempt.
//
// Percentage is conditioned on the marks of every question, Accuracy only on
// the questions that were attempted.
type ReviewStats struct {
	TotalMarks         float64 `json:"total_marks"`
	TotalPossible      float64 `json:"total_possible"`
	Percentage         float64 `json:"percentage"`
	Accuracy           float64 `json:"accuracy"`
	AnsweredCorrect    int     `json:"answered_correct"`
	AnsweredWrong      int     `json:"answered_wrong"`
	QuestionsAttempted int     `json:"questions_attempted"`
	QuestionsSkipped   int     `json:"questions_skipped"`
}

// ComputeReview reconciles the question set with the server's per-answer verdicts.
func ComputeReview(questions []model.Question, result *model.AttemptResult) ReviewStats {
	var s ReviewStats
	verdicts := verdictIndex(result)

	for _, q := range questions {
		s.TotalPossible += q.Marks

		correct, attempted := verdicts[q.ID]
		if !attempted {
			continue
		}
		s.QuestionsAttempted++
		if correct {
			s.AnsweredCorrect++
			s.TotalMarks += q.Marks
		} else {
			s.AnsweredWrong++
		}
	}

	s.QuestionsSkipped = len(questions) - s.QuestionsAttempted
	s.Percentage = Percent(s.TotalMarks, s.TotalPossible)
	s.Accuracy = Percent(float64(s.AnsweredCorrect), float64(s.QuestionsAttempted))
	return s
}

// Percent is part/whole*100 rounded to two decimals, or 0 when whole is 0.
func Percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return round2(part / whole * 100)
}

// Review is the post-submission view of a user's latest attempt.
type Review struct {
	Exam      *model.Exam            `json:"exam"`
	Questions []model.GradedQuestion `json:"questions"`
	Attempt   model.AttemptResult    `json:"attempt"`
	Stats     ReviewStats            `json:"stats"`
	Items     []ReviewItem           `json:"items"`
}

// ReviewItem is one row of the post-submission review screen.
type ReviewItem struct {
	Index         int       `json:"index"`
	QuestionID    uuid.UUID `json:"question_id"`
	Question      string    `json:"question"`
	Selected      string    `json:"selected,omitempty"`
	CorrectAnswer string    `json:"correct_answer"`
	Explanation   string    `json:"explanation,omitempty"`
	Marks         float64   `json:"marks"`
	Attempted     bool      `json:"attempted"`
	Correct       bool      `json:"correct"`
}

// BuildReviewItems pairs the graded question set with the attempt's answers.
func BuildReviewItems(questions []model.GradedQuestion, result *model.AttemptResult) []ReviewItem {
	items := make([]ReviewItem, 0, len(questions))
	for i, q := range questions {
		item := ReviewItem{
			Index:         i,
			QuestionID:    q.ID,
			Question:      q.Text,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			Marks:         q.Marks,
		}
		if result != nil {
			if a, ok := result.AnswerFor(q.ID); ok {
				item.Attempted = true
				item.Selected = a.Selected
				item.Correct = a.IsCorrect
			}
		}
		items = append(items, item)
	}
	return items
}

// CheckAttemptLimit blocks a new attempt once MaxAttempts are recorded.
func CheckAttemptLimit(history []model.AttemptResult) error {
	if len(history) >= MaxAttempts {
		return ErrAttemptLimitReached
	}
	return nil
}

// AttemptsLeft is how many more attempts the history allows.
func AttemptsLeft(history []model.AttemptResult) int {
	return max(MaxAttempts-len(history), 0)
}

func verdictIndex(result *model.AttemptResult) map[uuid.UUID]bool {
	idx := make(map[uuid.UUID]bool)
	if result == nil {
		return idx
	}
	for _, a := range result.Answers {
		idx[a.QuestionID] = a.IsCorrect
	}
	return idx
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
