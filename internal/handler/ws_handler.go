package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	ws "github.com/stemsi/exstem-exam/internal/websocket"
)

const submitTimeout = 30 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ExamBackend is the per-user catalog and grader a streamed session runs against.
type ExamBackend interface {
	Catalog(userID int) exam.Catalog
	Grader(userID int) exam.Grader
}

// WSHandler streams exam-taking sessions. Each connection owns one session engine.
type WSHandler struct {
	backend      ExamBackend
	tickInterval time.Duration
	retries      int
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(backend ExamBackend, cfg *config.Config, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		backend:      backend,
		tickInterval: cfg.TickInterval,
		retries:      cfg.SubmitRetries,
		log:          log.With().Str("component", "ws_handler").Logger(),
		upgrader:     buildUpgrader(cfg.AllowedOrigins),
	}
}

// TakeExam godoc
// WS /ws/v1/exams/:exam_id/take
// Runs the session-start flow, then upgrades and streams one attempt.
// Closing the connection before submission abandons the attempt.
func (h *WSHandler) TakeExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()

	sess := &examSession{
		log:        wsLog,
		reconciler: exam.NewReconciler(h.backend.Grader(claims.UserID), wsLog, exam.WithRetries(h.retries)),
	}
	clock := &exam.RealClock{}
	loader := exam.NewLoader(h.backend.Catalog(claims.UserID), wsLog)

	// Start errors go out as plain HTTP responses, before the upgrade.
	eng, err := exam.Begin(c.Request.Context(), loader, examID,
		exam.WithClock(clock),
		exam.WithTickInterval(h.tickInterval),
		exam.WithLogger(wsLog),
		exam.WithSubmitHandler(sess.onSubmit),
		exam.WithTickObserver(sess.onTick),
	)
	if err != nil {
		failFromError(c, wsLog, err)
		return
	}
	_, history, _ := loader.Cached(examID)

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wsLog.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	sess.conn = conn
	sess.eng = eng

	ctx, cancel := context.WithCancel(context.Background())
	go conn.KeepAlive(ctx)

	defer func() {
		cancel()
		if err := eng.Abandon(); err == nil {
			wsLog.Info().Msg("Session abandoned on disconnect")
		} else if eng.State() == exam.StateSubmitting {
			wsLog.Warn().Msg("Disconnected with an undelivered submission")
		}
		// A timeout submission may still be running on the clock goroutine.
		clock.Wait()
		_ = conn.Close("session closed")
	}()

	_ = conn.WriteTyped(ws.StateResponse{
		Event:        ws.EventState,
		Session:      eng.Snapshot(),
		Exam:         eng.Exam(),
		AttemptsLeft: exam.AttemptsLeft(history),
	})
	if err := eng.Start(); err != nil {
		sess.fail(err)
		return
	}
	sess.sendState()

	wsLog.Info().Msg("Session started")

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		sess.handle(&msg)
	}
}

// examSession binds one engine to one connection.
type examSession struct {
	conn       *ws.Conn
	eng        *exam.Engine
	reconciler *exam.Reconciler
	log        zerolog.Logger

	// submitMu keeps a retry from racing a delivery already in flight.
	submitMu sync.Mutex
}

func (s *examSession) handle(msg *ws.Request) {
	switch msg.Action {
	case ws.ActionSelect:
		qid, err := uuid.Parse(msg.QID)
		if err != nil {
			s.invalid("q_id must be a UUID")
			return
		}
		if err := s.eng.SelectOption(qid, msg.Option); err != nil {
			s.fail(err)
			return
		}
		s.sendState()

	case ws.ActionFlag:
		qid, err := uuid.Parse(msg.QID)
		if err != nil {
			s.invalid("q_id must be a UUID")
			return
		}
		marked, err := s.eng.ToggleReviewFlag(qid)
		if err != nil {
			s.fail(err)
			return
		}
		_ = s.conn.WriteTyped(ws.FlaggedResponse{Event: ws.EventFlagged, QID: qid, Marked: marked})

	case ws.ActionGoto:
		if msg.Index == nil {
			s.invalid("index is required")
			return
		}
		if err := s.eng.GoToQuestion(*msg.Index); err != nil {
			s.fail(err)
			return
		}
		s.sendState()

	case ws.ActionNext:
		rec, err := s.eng.Next()
		if err != nil {
			s.fail(err)
			return
		}
		if rec == nil {
			s.sendState()
		}

	case ws.ActionPrev:
		if err := s.eng.Previous(); err != nil {
			s.fail(err)
			return
		}
		s.sendState()

	case ws.ActionSubmit:
		if _, err := s.eng.RequestSubmit(); err != nil {
			s.fail(err)
		}

	case ws.ActionRetry:
		s.deliver(true)

	case ws.ActionState:
		s.sendState()

	case ws.ActionPing:
		_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	default:
		s.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		_ = s.conn.WriteError(string(response.ErrUnknownAction), "unknown action: "+string(msg.Action), false)
	}
}

// onTick runs on the clock goroutine, outside the engine lock.
func (s *examSession) onTick(remaining int) {
	_ = s.conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, Remaining: remaining})
}

// onSubmit receives the frozen record once, from a manual submit or the timer.
func (s *examSession) onSubmit(rec *model.SubmissionRecord) {
	_ = s.conn.WriteTyped(ws.SubmittingResponse{
		Event:   ws.EventSubmitting,
		Trigger: rec.Trigger,
		Answers: len(rec.Answers),
	})
	s.deliver(false)
}

// deliver sends the frozen record. It is detached from the connection so a
// submission in flight still lands if the client goes away. A retry only
// applies to a session still waiting on its submission.
func (s *examSession) deliver(retry bool) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if retry && s.eng.State() != exam.StateSubmitting {
		s.fail(exam.ErrNotSubmitting)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	res, err := s.reconciler.Submit(ctx, s.eng)
	if err != nil {
		s.fail(err)
		return
	}

	_ = s.conn.WriteTyped(ws.GradedResponse{
		Event:  ws.EventGraded,
		Result: res,
		Stats:  exam.ComputeReview(s.eng.Exam().Questions, res),
	})
	_ = s.conn.WriteTyped(ws.ReviewResponse{
		Event:     ws.EventReview,
		ExamID:    res.ExamID,
		AttemptID: res.ID,
	})
}

func (s *examSession) sendState() {
	_ = s.conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Session: s.eng.Snapshot()})
}

func (s *examSession) fail(err error) {
	_, code := errorCode(err)
	msg := err.Error()
	if code == response.ErrInternal {
		s.log.Error().Err(err).Msg("Session operation failed")
		msg = response.GetMessage(code)
	}
	var se *exam.SubmissionError
	if errors.As(err, &se) {
		s.log.Warn().Err(err).Bool("may_be_recorded", se.MayBeRecorded).Msg("Submission pending retry")
	}
	_ = s.conn.WriteError(string(code), msg, exam.IsRetryable(err))
}

func (s *examSession) invalid(msg string) {
	_ = s.conn.WriteError(string(response.ErrValidation), msg, false)
}
