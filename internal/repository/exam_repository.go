package repository

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, duration_seconds, is_published, COALESCE(author_id, 0), created_at, updated_at`

func scanExam(row pgx.Row, e *model.Exam) error {
	return row.Scan(&e.ID, &e.Title, &e.DurationSeconds, &e.IsPublished, &e.AuthorID, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID retrieves an exam by its UUID. Questions are not loaded.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	if err := scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id), e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListPaginated retrieves exams newest first. publishedOnly hides drafts.
func (r *ExamRepository) ListPaginated(ctx context.Context, publishedOnly bool, limit, offset int) ([]model.Exam, int, error) {
	where := ``
	if publishedOnly {
		where = ` WHERE is_published = TRUE`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams`+where+
			` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []model.Exam{}
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// ListPublished returns all published exams.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE is_published = TRUE ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// CreateWithQuestions inserts a draft exam and its questions in one transaction.
// Question ids are generated here and written back into questions.
func (r *ExamRepository) CreateWithQuestions(ctx context.Context, e *model.Exam, questions []model.GradedQuestion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var authorID *int
	if e.AuthorID > 0 {
		authorID = &e.AuthorID
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO exams (title, duration_seconds, is_published, author_id)
		 VALUES ($1, $2, FALSE, $3)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.DurationSeconds, authorID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return err
	}

	for i := range questions {
		questions[i].ID = uuid.New()
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"questions"},
		[]string{"id", "exam_id", "question_text", "options", "correct_option", "marks", "explanation", "order_num"},
		pgx.CopyFromSlice(len(questions), func(i int) ([]any, error) {
			q := questions[i]
			return []any{q.ID, e.ID, q.Text, optionTexts(q.Options), q.CorrectOption, q.Marks, q.Explanation, q.OrderNum}, nil
		}),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Publish flips a draft to published. It reports false if the exam was
// missing or already published.
func (r *ExamRepository) Publish(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET is_published = TRUE, updated_at = NOW()
		 WHERE id = $1 AND is_published = FALSE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func optionTexts(opts []model.Option) []string {
	texts := make([]string, len(opts))
	for i, o := range opts {
		texts[i] = o.Text
	}
	return texts
}

func optionsFromTexts(texts []string) []model.Option {
	opts := make([]model.Option, 0, len(texts))
	for i, t := range texts {
		id := strconv.Itoa(i + 1)
		if i < len(model.OptionIDs) {
			id = model.OptionIDs[i]
		}
		opts = append(opts, model.Option{ID: id, Text: t})
	}
	return opts
}
