package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all questions for a given exam with their answer key, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.GradedQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, options, correct_option, marks::float8, explanation, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.GradedQuestion
	for rows.Next() {
		var (
			q       model.GradedQuestion
			options []string
		)
		if err := rows.Scan(&q.ID, &q.Text, &options, &q.CorrectOption, &q.Marks, &q.Explanation, &q.OrderNum); err != nil {
			return nil, err
		}
		q.Options = optionsFromTexts(options)
		if opt, ok := q.OptionByID(q.CorrectOption); ok {
			q.CorrectAnswer = opt.Text
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
