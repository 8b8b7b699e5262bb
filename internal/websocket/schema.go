package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect Action = "select"
	ActionFlag   Action = "flag"
	ActionGoto   Action = "goto"
	ActionNext   Action = "next"
	ActionPrev   Action = "prev"
	ActionSubmit Action = "submit"
	ActionRetry  Action = "retry"
	ActionState  Action = "state"
	ActionPing   Action = "ping"
)

// Request is every client message. Fields not used by an action are ignored.
type Request struct {
	Action Action `json:"action"`
	QID    string `json:"q_id,omitempty"`
	Option string `json:"option,omitempty"`
	Index  *int   `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState      Event = "state"
	EventTick       Event = "tick"
	EventFlagged    Event = "flagged"
	EventSubmitting Event = "submitting"
	EventGraded     Event = "graded"
	EventReview     Event = "review"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// StateResponse carries the full session snapshot. Exam is only sent once,
// right after the connection opens.
type StateResponse struct {
	Event        Event         `json:"event"`
	Session      exam.Snapshot `json:"session"`
	Exam         *model.Exam   `json:"exam,omitempty"`
	AttemptsLeft int           `json:"attempts_left"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

type FlaggedResponse struct {
	Event  Event     `json:"event"`
	QID    uuid.UUID `json:"q_id"`
	Marked bool      `json:"marked"`
}

type SubmittingResponse struct {
	Event   Event               `json:"event"`
	Trigger model.SubmitTrigger `json:"trigger"`
	Answers int                 `json:"answers"`
}

type GradedResponse struct {
	Event  Event                `json:"event"`
	Result *model.AttemptResult `json:"result"`
	Stats  exam.ReviewStats     `json:"stats"`
}

// ReviewResponse tells the client to navigate to the review of an attempt.
type ReviewResponse struct {
	Event     Event     `json:"event"`
	ExamID    uuid.UUID `json:"exam_id"`
	AttemptID uuid.UUID `json:"attempt_id"`
}

type ErrorResponse struct {
	Event     Event  `json:"event"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
