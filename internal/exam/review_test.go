package exam

import (
	"testing"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradedExam(marks ...float64) []model.Question {
	e := newTestExam(len(marks), 60)
	for i := range e.Questions {
		e.Questions[i].Marks = marks[i]
	}
	return e.Questions
}

func verdicts(questions []model.Question, correct ...bool) *model.AttemptResult {
	res := &model.AttemptResult{}
	for i, ok := range correct {
		res.Answers = append(res.Answers, model.AnswerResult{QuestionID: questions[i].ID, IsCorrect: ok})
	}
	return res
}

func TestComputeReviewAccuracyOverAttempted(t *testing.T) {
	qs := gradedExam(1, 1, 1, 1, 1)
	stats := ComputeReview(qs, verdicts(qs, true, true, false))

	assert.Equal(t, 3, stats.QuestionsAttempted)
	assert.Equal(t, 2, stats.QuestionsSkipped)
	assert.Equal(t, 2, stats.AnsweredCorrect)
	assert.Equal(t, 1, stats.AnsweredWrong)
	assert.Equal(t, 66.67, stats.Accuracy)
	assert.Equal(t, 40.0, stats.Percentage)
}

func TestComputeReviewPercentageOverAllMarks(t *testing.T) {
	qs := gradedExam(3, 4, 3)
	stats := ComputeReview(qs, verdicts(qs, true, true, false))

	assert.Equal(t, 7.0, stats.TotalMarks)
	assert.Equal(t, 10.0, stats.TotalPossible)
	assert.Equal(t, 70.0, stats.Percentage)
}

func TestComputeReviewZeroGuards(t *testing.T) {
	qs := gradedExam(0, 0)
	stats := ComputeReview(qs, nil)

	assert.Equal(t, 0.0, stats.Percentage)
	assert.Equal(t, 0.0, stats.Accuracy)
	assert.Equal(t, 0, stats.QuestionsAttempted)
	assert.Equal(t, 2, stats.QuestionsSkipped)
}

func TestComputeReviewCountsAddUp(t *testing.T) {
	qs := gradedExam(1, 2, 3, 4, 5, 6)
	cases := [][]bool{
		{},
		{false},
		{true, false, true},
		{true, true, true, true, true, true},
	}
	for _, c := range cases {
		s := ComputeReview(qs, verdicts(qs, c...))
		assert.Equal(t, s.QuestionsAttempted, s.AnsweredCorrect+s.AnsweredWrong)
		assert.Equal(t, len(qs), s.QuestionsAttempted+s.QuestionsSkipped)
		assert.LessOrEqual(t, s.Percentage, 100.0)
	}
}

func TestBuildReviewItems(t *testing.T) {
	qs := gradedExam(2, 2)
	graded := []model.GradedQuestion{
		{Question: qs[0], CorrectAnswer: "q1 option 1", Explanation: "Newton's second law"},
		{Question: qs[1], CorrectAnswer: "q2 option 3"},
	}
	res := &model.AttemptResult{Answers: []model.AnswerResult{
		{QuestionID: qs[0].ID, Selected: "q1 option 2", IsCorrect: false},
	}}

	items := BuildReviewItems(graded, res)
	require.Len(t, items, 2)

	assert.True(t, items[0].Attempted)
	assert.False(t, items[0].Correct)
	assert.Equal(t, "q1 option 2", items[0].Selected)
	assert.Equal(t, "Newton's second law", items[0].Explanation)

	assert.False(t, items[1].Attempted)
	assert.Empty(t, items[1].Selected)
	assert.Equal(t, 1, items[1].Index)
}

func TestAttemptLimit(t *testing.T) {
	history := make([]model.AttemptResult, 0, MaxAttempts)
	for i := 0; i < MaxAttempts; i++ {
		assert.NoError(t, CheckAttemptLimit(history))
		assert.Equal(t, MaxAttempts-i, AttemptsLeft(history))
		history = append(history, model.AttemptResult{})
	}
	assert.ErrorIs(t, CheckAttemptLimit(history), ErrAttemptLimitReached)
	assert.Equal(t, 0, AttemptsLeft(history))
	assert.Equal(t, 0, AttemptsLeft(append(history, model.AttemptResult{})))
}
