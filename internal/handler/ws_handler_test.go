package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBackend serves one exam and records every submission it grades.
type fakeBackend struct {
	mu       sync.Mutex
	exams    map[uuid.UUID]*model.Exam
	attempts int
	received []*model.SubmissionRecord
}

func (b *fakeBackend) Catalog(int) exam.Catalog { return b }
func (b *fakeBackend) Grader(int) exam.Grader   { return b }

func (b *fakeBackend) GetExamByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := b.exams[id]
	if !ok {
		return nil, exam.ErrExamNotFound
	}
	return e, nil
}

func (b *fakeBackend) GetUserExamResults(context.Context, uuid.UUID) (*model.ExamResults, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &model.ExamResults{Attempts: make([]model.AttemptResult, b.attempts)}, nil
}

func (b *fakeBackend) SubmitExamAnswers(_ context.Context, rec *model.SubmissionRecord) (*model.AttemptResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = append(b.received, rec)
	b.attempts++
	return &model.AttemptResult{
		ID:                uuid.New(),
		ExamID:            rec.ExamID,
		Score:             float64(len(rec.Answers)),
		TotalMarks:        2,
		CompletedDuration: rec.CompletedDuration,
		Trigger:           rec.Trigger,
		SubmittedAt:       time.Now(),
	}, nil
}

func (b *fakeBackend) submissions() []*model.SubmissionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.SubmissionRecord(nil), b.received...)
}

func newWSExam(duration int) *model.Exam {
	e := &model.Exam{ID: uuid.New(), Title: "Optics quiz", DurationSeconds: duration, IsPublished: true}
	for i := 0; i < 2; i++ {
		q := model.Question{ID: uuid.New(), Text: "question", Marks: 1, OrderNum: i}
		for _, id := range model.OptionIDs {
			q.Options = append(q.Options, model.Option{ID: id, Text: "option " + id})
		}
		e.Questions = append(e.Questions, q)
	}
	return e
}

func newWSServer(t *testing.T, backend *fakeBackend, tick time.Duration) *httptest.Server {
	t.Helper()
	cfg := &config.Config{TickInterval: tick}
	h := NewWSHandler(backend, cfg, zerolog.Nop())

	r := gin.New()
	r.GET("/ws/v1/exams/:exam_id/take", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: 1, Role: model.RoleStudent})
		c.Next()
	}, h.TakeExam)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialExam(t *testing.T, srv *httptest.Server, examID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/exams/" + examID.String() + "/take"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent returns the next message whose event is want, skipping ticks.
func readEvent(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["event"] == want {
			return msg
		}
		if msg["event"] != "tick" && msg["event"] != "state" {
			t.Fatalf("expected %q event, got %v", want, msg)
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestTakeExamRejectsBeforeUpgrade(t *testing.T) {
	srv := newWSServer(t, &fakeBackend{exams: map[uuid.UUID]*model.Exam{}}, time.Hour)

	res, err := http.Get(srv.URL + "/ws/v1/exams/" + uuid.NewString() + "/take")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res2, err := http.Get(srv.URL + "/ws/v1/exams/not-a-uuid/take")
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res2.StatusCode)
}

func TestTakeExamRejectsExhaustedAttempts(t *testing.T) {
	e := newWSExam(60)
	backend := &fakeBackend{exams: map[uuid.UUID]*model.Exam{e.ID: e}, attempts: exam.MaxAttempts}
	srv := newWSServer(t, backend, time.Hour)

	res, err := http.Get(srv.URL + "/ws/v1/exams/" + e.ID.String() + "/take")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestTakeExamManualSubmit(t *testing.T) {
	e := newWSExam(600)
	backend := &fakeBackend{exams: map[uuid.UUID]*model.Exam{e.ID: e}}
	conn := dialExam(t, newWSServer(t, backend, time.Hour), e.ID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first["event"])
	assert.NotNil(t, first["exam"])
	assert.EqualValues(t, exam.MaxAttempts, first["attempts_left"])

	started := readEvent(t, conn, "state")
	assert.Equal(t, "IN_PROGRESS", started["session"].(map[string]any)["state"])

	// Submitting early is refused.
	send(t, conn, map[string]any{"action": "submit"})
	errEvt := readEvent(t, conn, "error")
	assert.Equal(t, "INCOMPLETE_ANSWERS", errEvt["code"])

	for _, q := range e.Questions {
		send(t, conn, map[string]any{"action": "select", "q_id": q.ID.String(), "option": "B"})
		readEvent(t, conn, "state")
	}

	send(t, conn, map[string]any{"action": "flag", "q_id": e.Questions[0].ID.String()})
	flagged := readEvent(t, conn, "flagged")
	assert.Equal(t, true, flagged["marked"])

	send(t, conn, map[string]any{"action": "submit"})
	submitting := readEvent(t, conn, "submitting")
	assert.Equal(t, "manual", submitting["trigger"])
	assert.EqualValues(t, 2, submitting["answers"])

	graded := readEvent(t, conn, "graded")
	assert.EqualValues(t, 2, graded["result"].(map[string]any)["score"])
	review := readEvent(t, conn, "review")
	assert.Equal(t, e.ID.String(), review["exam_id"])

	subs := backend.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, e.ID, subs[0].ExamID)
	assert.Equal(t, "option B", subs[0].Answers[0].Selected)
	assert.NotEmpty(t, subs[0].IdempotencyKey)
}

func TestTakeExamTimeoutSubmitsOnce(t *testing.T) {
	e := newWSExam(3)
	backend := &fakeBackend{exams: map[uuid.UUID]*model.Exam{e.ID: e}}
	conn := dialExam(t, newWSServer(t, backend, 50*time.Millisecond), e.ID)

	send(t, conn, map[string]any{"action": "select", "q_id": e.Questions[1].ID.String(), "option": "D"})

	submitting := readEvent(t, conn, "submitting")
	assert.Equal(t, "timeout", submitting["trigger"])
	readEvent(t, conn, "graded")
	readEvent(t, conn, "review")

	// A late retry does not grade the session again.
	send(t, conn, map[string]any{"action": "retry"})
	late := readEvent(t, conn, "error")
	assert.Equal(t, "NOT_IN_PROGRESS", late["code"])
	assert.NotContains(t, late, "retryable")

	time.Sleep(50 * time.Millisecond)
	subs := backend.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, model.TriggerTimeout, subs[0].Trigger)
	assert.Equal(t, 3, subs[0].CompletedDuration)
}

func TestTakeExamDisconnectAbandons(t *testing.T) {
	e := newWSExam(3)
	backend := &fakeBackend{exams: map[uuid.UUID]*model.Exam{e.ID: e}}
	conn := dialExam(t, newWSServer(t, backend, 50*time.Millisecond), e.ID)

	readEvent(t, conn, "state")
	send(t, conn, map[string]any{"action": "select", "q_id": e.Questions[0].ID.String(), "option": "A"})
	require.NoError(t, conn.Close())

	// Well past the exam's duration.
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, backend.submissions())
}

func TestTakeExamRejectsBadMessages(t *testing.T) {
	e := newWSExam(600)
	backend := &fakeBackend{exams: map[uuid.UUID]*model.Exam{e.ID: e}}
	conn := dialExam(t, newWSServer(t, backend, time.Hour), e.ID)
	readEvent(t, conn, "state")
	readEvent(t, conn, "state")

	send(t, conn, map[string]any{"action": "select", "q_id": "nope", "option": "A"})
	assert.Equal(t, "VALIDATION_ERROR", readEvent(t, conn, "error")["code"])

	send(t, conn, map[string]any{"action": "select", "q_id": e.Questions[0].ID.String(), "option": "E"})
	assert.Equal(t, "VALIDATION_ERROR", readEvent(t, conn, "error")["code"])

	send(t, conn, map[string]any{"action": "goto"})
	assert.Equal(t, "VALIDATION_ERROR", readEvent(t, conn, "error")["code"])

	send(t, conn, map[string]any{"action": "dance"})
	unknown := readEvent(t, conn, "error")
	assert.Equal(t, "UNKNOWN_ACTION", unknown["code"])
	assert.NotContains(t, unknown, "retryable")

	send(t, conn, map[string]any{"action": "ping"})
	readEvent(t, conn, "pong")
}
