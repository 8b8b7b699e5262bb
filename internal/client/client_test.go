package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, setup func(r *gin.Engine)) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.Use(middleware.Brotli())
	setup(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginKeepsToken(t *testing.T) {
	srv := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/auth/login", func(c *gin.Context) {
			response.Success(c, http.StatusOK, model.LoginResponse{Token: "jwt-abc", User: model.User{ID: 2}})
		})
		r.GET("/api/v1/exams", func(c *gin.Context) {
			if c.GetHeader("Authorization") != "Bearer jwt-abc" {
				response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
				return
			}
			response.Success(c, http.StatusOK, gin.H{"exams": []model.Exam{{Title: "Waves"}}})
		})
	})
	api := New(srv.URL + "/")
	ctx := context.Background()

	_, err := api.ListExams(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	res, err := api.Login(ctx, "student@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "jwt-abc", api.Token())
	assert.Equal(t, 2, res.User.ID)

	exams, err := api.ListExams(ctx)
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, "Waves", exams[0].Title)
}

func TestOptionsSupplyTokenAndHTTPClient(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/exams", func(c *gin.Context) {
			calls.Add(1)
			if c.GetHeader("Authorization") != "Bearer preset" {
				response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
				return
			}
			response.Success(c, http.StatusOK, gin.H{"exams": []model.Exam{}})
		})
	})
	api := New(srv.URL, WithToken("preset"), WithHTTPClient(srv.Client()))

	exams, err := api.ListExams(context.Background())
	require.NoError(t, err)
	assert.Empty(t, exams)
	assert.Equal(t, "preset", api.Token())
	assert.Equal(t, int32(1), calls.Load())
}

func TestErrorCodesMapToSessionErrors(t *testing.T) {
	codes := map[response.ErrCode]error{
		response.ErrExamNotFound:        exam.ErrExamNotFound,
		response.ErrExamNotPublished:    exam.ErrExamNotPublished,
		response.ErrAttemptLimitReached: exam.ErrAttemptLimitReached,
	}
	for code, want := range codes {
		srv := newTestServer(t, func(r *gin.Engine) {
			r.GET("/api/v1/exams/:exam_id", func(c *gin.Context) {
				response.Fail(c, http.StatusConflict, code)
			})
		})

		_, err := New(srv.URL).GetExamByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, want)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, code, apiErr.Code)
	}
}

func TestSubmitSendsIdempotencyKey(t *testing.T) {
	var seen atomic.Value
	examID := uuid.New()
	srv := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/exams/:exam_id/submit", func(c *gin.Context) {
			seen.Store(c.GetHeader(idempotencyKeyHeader))
			var rec model.SubmissionRecord
			if err := c.ShouldBindJSON(&rec); err != nil {
				response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
				return
			}
			response.Success(c, http.StatusCreated, model.AttemptResult{
				ExamID:            uuid.MustParse(c.Param("exam_id")),
				Score:             float64(len(rec.Answers)),
				CompletedDuration: rec.CompletedDuration,
			})
		})
	})

	key := uuid.NewString()
	res, err := New(srv.URL).SubmitExamAnswers(context.Background(), &model.SubmissionRecord{
		ExamID:            examID,
		IdempotencyKey:    key,
		Answers:           []model.SubmittedAnswer{{QuestionID: uuid.New(), Selected: "x"}},
		CompletedDuration: 40,
		Trigger:           model.TriggerManual,
	})
	require.NoError(t, err)
	assert.Equal(t, key, seen.Load())
	assert.Equal(t, examID, res.ExamID)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, 40, res.CompletedDuration)
}

func TestSubmitServerErrorIsDeliveredTransportError(t *testing.T) {
	srv := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/exams/:exam_id/submit", func(c *gin.Context) {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		})
	})

	_, err := New(srv.URL).SubmitExamAnswers(context.Background(), &model.SubmissionRecord{ExamID: uuid.New()})
	var te *exam.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Delivered)
}

func TestSubmitClientErrorIsRejectedWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/exams/:exam_id/submit", func(c *gin.Context) {
			hits.Add(1)
			response.Fail(c, http.StatusUnauthorized, response.ErrTokenExpired)
		})
	})

	e := &model.Exam{ID: uuid.New(), Title: "Optics", DurationSeconds: 60, IsPublished: true, Questions: []model.Question{{
		ID:   uuid.New(),
		Text: "Focal length of a plane mirror",
		Options: []model.Option{
			{ID: "A", Text: "infinite"}, {ID: "B", Text: "zero"}, {ID: "C", Text: "1 m"}, {ID: "D", Text: "-1 m"},
		},
		Marks: 1,
	}}}
	eng := exam.NewEngine(e, exam.WithClock(exam.NewManualClock()))
	require.NoError(t, eng.Start())
	require.NoError(t, eng.SelectOption(e.Questions[0].ID, "A"))
	_, err := eng.RequestSubmit()
	require.NoError(t, err)

	r := exam.NewReconciler(New(srv.URL, WithToken("stale")), zerolog.Nop(),
		exam.WithRetries(2), exam.WithBackoff(time.Millisecond))
	_, err = r.Submit(context.Background(), eng)

	var rej *exam.RejectedError
	require.ErrorAs(t, err, &rej)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, response.ErrTokenExpired, apiErr.Code)
	assert.False(t, exam.IsRetryable(err))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, exam.StateSubmitting, eng.State())
}

func TestDialFailureIsNotDelivered(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).SubmitExamAnswers(context.Background(), &model.SubmissionRecord{ExamID: uuid.New()})
	var te *exam.TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Delivered)
}

func TestDecodesBrotliBodies(t *testing.T) {
	var hits atomic.Int32
	long := strings.Repeat("A long question stem. ", 100)
	srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/exams/:exam_id", func(c *gin.Context) {
			hits.Add(1)
			response.Success(c, http.StatusOK, gin.H{"exam": model.Exam{
				ID:        uuid.MustParse(c.Param("exam_id")),
				Questions: []model.Question{{Text: long}},
			}})
		})
	})

	id := uuid.New()
	e, err := New(srv.URL).GetExamByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, long, e.Questions[0].Text)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCancelledContextIsNotDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("http://127.0.0.1:1").GetUserExamResults(ctx, uuid.New())
	var te *exam.TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Delivered)
	assert.True(t, errors.Is(err, context.Canceled))
}
