package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/validator"
)

// IdempotencyKeyHeader carries the key minted when a session was frozen.
const IdempotencyKeyHeader = "Idempotency-Key"

// ExamHandler handles the exam catalog, submissions and reviews.
type ExamHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, attemptService *service.AttemptService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService:    examService,
		attemptService: attemptService,
		log:            log.With().Str("component", "exam_handler").Logger(),
	}
}

// ─── Student Endpoints ──────────────────────────────────────────────

// ListExams godoc
// GET /api/v1/exams
// Lists exams with pagination. Students only see published exams.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	exams, pagination, err := h.examService.List(c.Request.Context(), claims.Role != model.RoleAdmin, page, perPage)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// GetExam godoc
// GET /api/v1/exams/:exam_id
// Returns an exam with its questions, never with the answer key.
func (h *ExamHandler) GetExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	e, err := h.examService.GetByID(c.Request.Context(), examID, claims.Role == model.RoleAdmin)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": e})
}

// GetResults godoc
// GET /api/v1/exams/:exam_id/results
// Returns the caller's attempts for an exam, newest first, with best score and rank.
func (h *ExamHandler) GetResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	res, err := h.attemptService.Results(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// SubmitAnswers godoc
// POST /api/v1/exams/:exam_id/submit
// Grades and records one attempt. Repeating an Idempotency-Key returns the
// attempt already recorded under it.
func (h *ExamHandler) SubmitAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	rawKey := c.GetHeader(IdempotencyKeyHeader)
	if fields := validator.Var(IdempotencyKeyHeader, rawKey, "required,uuid"); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	key := uuid.MustParse(rawKey)

	var rec model.SubmissionRecord
	if fields := validator.Bind(c, &rec); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	rec.ExamID = examID
	rec.IdempotencyKey = key.String()

	res, err := h.attemptService.Submit(c.Request.Context(), claims.UserID, examID, key, &rec)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

// GetReview godoc
// GET /api/v1/exams/:exam_id/review
// Returns the graded questions with the caller's latest attempt. Only
// available once the caller has submitted at least one attempt.
func (h *ExamHandler) GetReview(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	review, err := h.attemptService.Review(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, review)
}

// ─── Admin Endpoints ────────────────────────────────────────────────

// CreateExam godoc
// POST /api/v1/admin/exams
// Creates a draft exam with its questions.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	e, err := h.examService.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": e})
}

// PublishExam godoc
// POST /api/v1/admin/exams/:exam_id/publish
// Opens a draft for attempts and warms its Redis cache.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	if err := h.examService.Publish(c.Request.Context(), examID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "is_published": true})
}

func parseExamID(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return examID, true
}
