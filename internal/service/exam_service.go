package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
	"github.com/stemsi/exstem-exam/internal/response"
)

// ErrExamAlreadyPublished is returned when publishing a live exam.
var ErrExamAlreadyPublished = errors.New("exam is already published")

// ExamService handles the exam catalog and its Redis cache.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	cache        *ExamCache
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	cache *ExamCache,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		cache:        cache,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID returns the public shape of an exam. Drafts are only returned when
// includeDrafts is set; otherwise they yield exam.ErrExamNotPublished.
func (s *ExamService) GetByID(ctx context.Context, examID uuid.UUID, includeDrafts bool) (*model.Exam, error) {
	cached, err := s.cache.Exam(ctx, examID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam cache read failed")
	}

	e, questions, err := s.loadGraded(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !e.IsPublished && !includeDrafts {
		return nil, exam.ErrExamNotPublished
	}

	e.Questions = publicQuestions(questions)
	if e.IsPublished {
		s.warm(ctx, e, questions)
	}
	return e, nil
}

// GradingKey returns a published exam with its answer key, question id to option key.
func (s *ExamService) GradingKey(ctx context.Context, examID uuid.UUID) (*model.Exam, map[uuid.UUID]string, error) {
	e, key, err := s.cache.Grading(ctx, examID)
	if err == nil {
		return e, key, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Grading cache read failed")
	}

	e, questions, err := s.loadGraded(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	if !e.IsPublished {
		return nil, nil, exam.ErrExamNotPublished
	}

	s.warm(ctx, e, questions)
	e.Questions = publicQuestions(questions)
	key = make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		key[q.ID] = q.CorrectOption
	}
	return e, key, nil
}

// GradedQuestions returns the questions with answers and explanations.
func (s *ExamService) GradedQuestions(ctx context.Context, examID uuid.UUID) ([]model.GradedQuestion, error) {
	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}

// List returns a page of exams without their questions.
func (s *ExamService) List(ctx context.Context, publishedOnly bool, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	exams, total, err := s.examRepo.ListPaginated(ctx, publishedOnly, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, response.NewPagination(page, perPage, total), nil
}

// Create stores a draft exam authored by authorID.
func (s *ExamService) Create(ctx context.Context, authorID int, req *model.CreateExamRequest) (*model.Exam, error) {
	e := &model.Exam{
		Title:           req.Title,
		DurationSeconds: req.DurationSeconds,
		AuthorID:        authorID,
	}

	questions := make([]model.GradedQuestion, len(req.Questions))
	for i, qr := range req.Questions {
		q := model.GradedQuestion{
			Question: model.Question{
				Text:     qr.Text,
				Marks:    qr.Marks,
				OrderNum: i,
			},
			CorrectOption: qr.CorrectAnswer,
			Explanation:   qr.Explanation,
		}
		for j, text := range qr.Options {
			q.Options = append(q.Options, model.Option{ID: model.OptionIDs[j], Text: text})
		}
		if opt, ok := q.OptionByID(q.CorrectOption); ok {
			q.CorrectAnswer = opt.Text
		}
		questions[i] = q
	}

	if err := s.examRepo.CreateWithQuestions(ctx, e, questions); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	e.Questions = publicQuestions(questions)

	if err := exam.Validate(e); err != nil {
		s.log.Warn().Err(err).Str("exam_id", e.ID.String()).Msg("Created exam will not pass validation")
	}

	s.log.Info().
		Str("exam_id", e.ID.String()).
		Int("author_id", authorID).
		Int("questions", len(questions)).
		Msg("Exam created")
	return e, nil
}

// Publish makes a draft available for attempts and warms its cache.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	e, questions, err := s.loadGraded(ctx, examID)
	if err != nil {
		return err
	}
	if e.IsPublished {
		return ErrExamAlreadyPublished
	}

	e.Questions = publicQuestions(questions)
	if err := exam.Validate(e); err != nil {
		return err
	}

	ok, err := s.examRepo.Publish(ctx, examID)
	if err != nil {
		return fmt.Errorf("publish exam: %w", err)
	}
	if !ok {
		return ErrExamAlreadyPublished
	}
	e.IsPublished = true

	if err := s.WarmExamCache(ctx, e, questions); err != nil {
		return err
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// WarmExamCache loads an exam's payload and answer key into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, e *model.Exam, questions []model.GradedQuestion) error {
	if err := s.cache.Store(ctx, e, questions); err != nil {
		return err
	}

	s.log.Debug().
		Str("exam_id", e.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		questions, err := s.questionRepo.ListByExam(ctx, exams[i].ID)
		if err == nil {
			err = s.WarmExamCache(ctx, &exams[i], questions)
		}
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(exams)).Msg("Exam cache prewarmed")
	return nil
}

func (s *ExamService) loadGraded(ctx context.Context, examID uuid.UUID) (*model.Exam, []model.GradedQuestion, error) {
	e, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, exam.ErrExamNotFound
		}
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}

	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	return e, questions, nil
}

func (s *ExamService) warm(ctx context.Context, e *model.Exam, questions []model.GradedQuestion) {
	if err := s.WarmExamCache(ctx, e, questions); err != nil {
		s.log.Warn().Err(err).Str("exam_id", e.ID.String()).Msg("Failed to warm exam cache")
	}
}

func publicQuestions(questions []model.GradedQuestion) []model.Question {
	out := make([]model.Question, len(questions))
	for i, q := range questions {
		out[i] = q.Question
	}
	return out
}
