package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam/internal/model"
)

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool, db: pool}
}

// RunLocked runs fn in a transaction that holds an advisory lock on the
// (user, exam) pair, so concurrent submissions by one user are serialised.
func (r *AttemptRepository) RunLocked(ctx context.Context, userID int, examID uuid.UUID, fn func(tx *AttemptRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	lockKey := fmt.Sprintf("attempt:%d:%s", userID, examID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if err := fn(&AttemptRepository{pool: r.pool, db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const attemptColumns = `id, exam_id, user_id, score::float8, total_marks::float8, percentage::float8,
	completed_duration, submit_trigger, submitted_at`

func scanAttempt(row pgx.Row, a *model.AttemptResult) error {
	return row.Scan(&a.ID, &a.ExamID, &a.UserID, &a.Score, &a.TotalMarks, &a.Percentage,
		&a.CompletedDuration, &a.Trigger, &a.SubmittedAt)
}

// GetByIdempotencyKey returns the attempt recorded under key, or pgx.ErrNoRows.
func (r *AttemptRepository) GetByIdempotencyKey(ctx context.Context, userID int, examID, key uuid.UUID) (*model.AttemptResult, error) {
	a := &model.AttemptResult{}
	err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE user_id = $1 AND exam_id = $2 AND idempotency_key = $3`,
		userID, examID, key), a)
	if err != nil {
		return nil, err
	}

	answers, err := r.listAnswers(ctx, []uuid.UUID{a.ID})
	if err != nil {
		return nil, err
	}
	a.Answers = answers[a.ID]
	return a, nil
}

// CountByUserExam returns how many attempts a user has recorded for an exam.
func (r *AttemptRepository) CountByUserExam(ctx context.Context, userID int, examID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE user_id = $1 AND exam_id = $2`,
		userID, examID).Scan(&n)
	return n, err
}

// Create inserts an attempt with its answers. ID and SubmittedAt are filled in.
func (r *AttemptRepository) Create(ctx context.Context, a *model.AttemptResult, key uuid.UUID) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO exam_attempts
		     (exam_id, user_id, idempotency_key, score, total_marks, percentage, completed_duration, submit_trigger)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, submitted_at`,
		a.ExamID, a.UserID, key, a.Score, a.TotalMarks, a.Percentage, a.CompletedDuration, a.Trigger,
	).Scan(&a.ID, &a.SubmittedAt)
	if err != nil {
		return err
	}

	if len(a.Answers) == 0 {
		return nil
	}
	_, err = r.db.CopyFrom(ctx,
		pgx.Identifier{"attempt_answers"},
		[]string{"attempt_id", "question_id", "selected", "is_correct"},
		pgx.CopyFromSlice(len(a.Answers), func(i int) ([]any, error) {
			ans := a.Answers[i]
			return []any{a.ID, ans.QuestionID, ans.Selected, ans.IsCorrect}, nil
		}),
	)
	return err
}

// BestScore returns the user's best score and percentage for an exam.
func (r *AttemptRepository) BestScore(ctx context.Context, userID int, examID uuid.UUID) (float64, float64, error) {
	var score, pct float64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(score), 0)::float8, COALESCE(MAX(percentage), 0)::float8
		 FROM exam_attempts WHERE user_id = $1 AND exam_id = $2`,
		userID, examID).Scan(&score, &pct)
	return score, pct, err
}

// ListByUserExam returns a user's attempts for an exam, newest first, with answers.
func (r *AttemptRepository) ListByUserExam(ctx context.Context, userID int, examID uuid.UUID) ([]model.AttemptResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE user_id = $1 AND exam_id = $2
		 ORDER BY submitted_at DESC`, userID, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.AttemptResult{}
	ids := []uuid.UUID{}
	for rows.Next() {
		var a model.AttemptResult
		if err := scanAttempt(rows, &a); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
		ids = append(ids, a.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return attempts, nil
	}

	answers, err := r.listAnswers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range attempts {
		attempts[i].Answers = answers[attempts[i].ID]
	}
	return attempts, nil
}

// Rank returns the 1-based position of the user's best percentage among all
// users who attempted the exam, or nil if the user has no attempt.
func (r *AttemptRepository) Rank(ctx context.Context, userID int, examID uuid.UUID) (*int, error) {
	var rank int
	err := r.db.QueryRow(ctx,
		`WITH best AS (
			SELECT user_id, MAX(percentage) AS pct
			FROM exam_attempts WHERE exam_id = $1
			GROUP BY user_id
		)
		SELECT rnk FROM (
			SELECT user_id, RANK() OVER (ORDER BY pct DESC) AS rnk FROM best
		) ranked WHERE user_id = $2`,
		examID, userID).Scan(&rank)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rank, nil
}

func (r *AttemptRepository) listAnswers(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID][]model.AnswerResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT aa.attempt_id, aa.question_id, q.question_text, aa.selected, aa.is_correct
		 FROM attempt_answers aa
		 JOIN questions q ON q.id = aa.question_id
		 WHERE aa.attempt_id = ANY($1::uuid[])
		 ORDER BY q.order_num`, attemptIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.AnswerResult, len(attemptIDs))
	for rows.Next() {
		var (
			attemptID uuid.UUID
			ans       model.AnswerResult
		)
		if err := rows.Scan(&attemptID, &ans.QuestionID, &ans.Question, &ans.Selected, &ans.IsCorrect); err != nil {
			return nil, err
		}
		out[attemptID] = append(out[attemptID], ans)
	}
	return out, rows.Err()
}
