package service

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-exam/internal/model"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// gradedFixture builds a published exam whose correct answer is option
// (i mod 4) of question i, with question i worth i+1 marks.
func gradedFixture(n int) (*model.Exam, []model.GradedQuestion) {
	e := &model.Exam{ID: uuid.New(), Title: "Mechanics", DurationSeconds: 120, IsPublished: true}
	questions := make([]model.GradedQuestion, n)
	for i := range questions {
		q := model.GradedQuestion{Question: model.Question{
			ID:       uuid.New(),
			Text:     fmt.Sprintf("question %d", i+1),
			Marks:    float64(i + 1),
			OrderNum: i,
		}}
		for j, id := range model.OptionIDs {
			q.Options = append(q.Options, model.Option{ID: id, Text: q.Text + " option " + id})
			if j == i%4 {
				q.CorrectOption = id
				q.CorrectAnswer = q.Text + " option " + id
			}
		}
		questions[i] = q
		e.Questions = append(e.Questions, q.Question)
	}
	return e, questions
}

func answerKeyOf(questions []model.GradedQuestion) map[uuid.UUID]string {
	key := make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		key[q.ID] = q.CorrectOption
	}
	return key
}
