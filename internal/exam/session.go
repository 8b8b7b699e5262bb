package exam

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/model"
)

// DefaultTickInterval is the wall-clock length of one countdown second.
const DefaultTickInterval = time.Second

// State is the lifecycle position of a session.
type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateSubmitting
	StateCompleted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateSubmitting:
		return "SUBMITTING"
	case StateCompleted:
		return "COMPLETED"
	case StateAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// Counters are the live sidebar figures. They are derived on every call.
type Counters struct {
	Answered        int `json:"answered"`
	NotAnswered     int `json:"not_answered"`
	MarkedForReview int `json:"marked_for_review"`
	NotVisited      int `json:"not_visited"`
}

// Snapshot is a read-only copy of a session for display.
type Snapshot struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	State           string               `json:"state"`
	CurrentIndex    int                  `json:"current_index"`
	CurrentQuestion uuid.UUID            `json:"current_question"`
	QuestionCount   int                  `json:"question_count"`
	TimeRemaining   int                  `json:"time_remaining"`
	Selected        map[uuid.UUID]string `json:"selected"`
	MarkedForReview []uuid.UUID          `json:"marked_for_review"`
	Counters        Counters             `json:"counters"`
}

// SubmitHandler receives the frozen record when a session leaves InProgress.
// It runs outside the engine's lock, exactly once per session.
type SubmitHandler func(rec *model.SubmissionRecord)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall-clock countdown.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTickInterval sets the wall-clock length of one countdown second.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log.With().Str("component", "session_engine").Logger() }
}

// WithSubmitHandler sets the hand-off to the submission reconciler.
func WithSubmitHandler(h SubmitHandler) Option {
	return func(e *Engine) { e.onSubmit = h }
}

// WithTickObserver is called after every countdown tick with the time left.
func WithTickObserver(fn func(remaining int)) Option {
	return func(e *Engine) { e.onTick = fn }
}

// WithKeyFunc overrides how idempotency keys are minted.
func WithKeyFunc(fn func() string) Option {
	return func(e *Engine) { e.newKey = fn }
}

// Engine owns one in-progress exam attempt. All mutations are serialised by
// a single mutex, so UI events and clock ticks never interleave.
type Engine struct {
	exam     *model.Exam
	clock    Clock
	interval time.Duration
	log      zerolog.Logger
	onSubmit SubmitHandler
	onTick   func(remaining int)
	newKey   func() string

	mu        sync.Mutex
	state     State
	current   int
	selected  map[uuid.UUID]string
	flagged   map[uuid.UUID]struct{}
	visited   map[uuid.UUID]struct{}
	remaining int
	stopClock func()
	record    *model.SubmissionRecord
	result    *model.AttemptResult
}

// NewEngine creates a session for exam in NotStarted. The exam must have passed Validate.
func NewEngine(exam *model.Exam, opts ...Option) *Engine {
	e := &Engine{
		exam:     exam,
		clock:    &RealClock{},
		interval: DefaultTickInterval,
		log:      zerolog.Nop(),
		newKey:   uuid.NewString,
		state:    StateNotStarted,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Exam returns the exam this session runs. It must not be modified.
func (e *Engine) Exam() *model.Exam {
	return e.exam
}

// Start enters InProgress and starts the countdown.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateNotStarted {
		return ErrAlreadyStarted
	}

	e.state = StateInProgress
	e.current = 0
	e.selected = make(map[uuid.UUID]string)
	e.flagged = make(map[uuid.UUID]struct{})
	e.visited = make(map[uuid.UUID]struct{})
	e.remaining = e.exam.DurationSeconds
	e.markVisitedLocked()
	e.stopClock = e.clock.Every(e.interval, e.clockTick)

	e.log.Debug().
		Str("exam_id", e.exam.ID.String()).
		Int("duration", e.exam.DurationSeconds).
		Int("questions", e.exam.QuestionCount()).
		Msg("Session started")
	return nil
}

// SelectOption records the answer for a question. Selecting the current
// answer again changes nothing. The question pointer does not move.
func (e *Engine) SelectOption(questionID uuid.UUID, optionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return ErrNotInProgress
	}
	q, ok := e.exam.QuestionByID(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if _, ok := q.OptionByID(optionID); !ok {
		return ErrUnknownOption
	}

	e.selected[questionID] = optionID
	return nil
}

// ToggleReviewFlag flips the review mark of a question and returns the new mark.
func (e *Engine) ToggleReviewFlag(questionID uuid.UUID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return false, ErrNotInProgress
	}
	if _, ok := e.exam.QuestionByID(questionID); !ok {
		return false, ErrUnknownQuestion
	}

	if _, marked := e.flagged[questionID]; marked {
		delete(e.flagged, questionID)
		return false, nil
	}
	e.flagged[questionID] = struct{}{}
	return true, nil
}

// GoToQuestion jumps to index. An out-of-range index leaves the pointer alone.
func (e *Engine) GoToQuestion(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return ErrNotInProgress
	}
	if index < 0 || index >= e.exam.QuestionCount() {
		return ErrQuestionIndex
	}
	e.current = index
	e.markVisitedLocked()
	return nil
}

// Previous moves back one question, staying on the first.
func (e *Engine) Previous() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return ErrNotInProgress
	}
	if e.current > 0 {
		e.current--
	}
	e.markVisitedLocked()
	return nil
}

// Next moves forward one question. On the last question it requests a manual
// submission instead and returns the frozen record on success.
func (e *Engine) Next() (*model.SubmissionRecord, error) {
	e.mu.Lock()
	if e.state != StateInProgress {
		e.mu.Unlock()
		return nil, ErrNotInProgress
	}
	if e.current < e.exam.QuestionCount()-1 {
		e.current++
		e.markVisitedLocked()
		e.mu.Unlock()
		return nil, nil
	}

	rec, err := e.requestSubmitLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.handoff(rec)
	return cloneRecord(rec), nil
}

// Tick advances the countdown by one second. Reaching zero freezes the
// session and submits whatever is answered.
func (e *Engine) Tick() error {
	e.mu.Lock()
	if e.state != StateInProgress {
		e.mu.Unlock()
		return ErrNotInProgress
	}

	e.remaining--
	if e.remaining > 0 {
		remaining := e.remaining
		e.mu.Unlock()
		if e.onTick != nil {
			e.onTick(remaining)
		}
		return nil
	}

	e.remaining = 0
	rec := e.freezeLocked(model.TriggerTimeout)
	e.mu.Unlock()

	if e.onTick != nil {
		e.onTick(0)
	}
	e.handoff(rec)
	return nil
}

// RequestSubmit freezes the session on user request. Every question must be answered.
func (e *Engine) RequestSubmit() (*model.SubmissionRecord, error) {
	e.mu.Lock()
	rec, err := e.requestSubmitLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.handoff(rec)
	return cloneRecord(rec), nil
}

// requestSubmitLocked freezes a complete in-progress session for a manual submit.
func (e *Engine) requestSubmitLocked() (*model.SubmissionRecord, error) {
	if e.state != StateInProgress {
		return nil, ErrNotInProgress
	}
	if len(e.selected) < e.exam.QuestionCount() {
		return nil, ErrIncompleteAnswers
	}
	return e.freezeLocked(model.TriggerManual), nil
}

// Abandon stops the countdown and discards the session without submitting.
func (e *Engine) Abandon() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress && e.state != StateNotStarted {
		return ErrNotInProgress
	}

	e.stopClockLocked()
	e.state = StateAbandoned
	e.selected = nil
	e.flagged = nil
	e.visited = nil

	e.log.Debug().
		Str("exam_id", e.exam.ID.String()).
		Int("time_remaining", e.remaining).
		Msg("Session abandoned")
	return nil
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentIndex returns the question pointer.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// TimeRemaining returns the seconds left on the countdown.
func (e *Engine) TimeRemaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// Selected returns the chosen option for a question.
func (e *Engine) Selected(questionID uuid.UUID) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	opt, ok := e.selected[questionID]
	return opt, ok
}

// Counters derives the sidebar figures from the current maps.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countersLocked()
}

// Snapshot copies the session for display.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		ExamID:          e.exam.ID,
		State:           e.state.String(),
		CurrentIndex:    e.current,
		QuestionCount:   e.exam.QuestionCount(),
		TimeRemaining:   e.remaining,
		Selected:        make(map[uuid.UUID]string, len(e.selected)),
		MarkedForReview: make([]uuid.UUID, 0, len(e.flagged)),
		Counters:        e.countersLocked(),
	}
	if e.current < len(e.exam.Questions) {
		s.CurrentQuestion = e.exam.Questions[e.current].ID
	}
	for k, v := range e.selected {
		s.Selected[k] = v
	}
	// Keep exam order so the palette renders stably.
	for _, q := range e.exam.Questions {
		if _, ok := e.flagged[q.ID]; ok {
			s.MarkedForReview = append(s.MarkedForReview, q.ID)
		}
	}
	return s
}

// Record returns a copy of the frozen submission record.
func (e *Engine) Record() (*model.SubmissionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		return nil, ErrNotSubmitting
	}
	return cloneRecord(e.record), nil
}

// Result returns the graded attempt once the session is Completed.
func (e *Engine) Result() (*model.AttemptResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.result != nil
}

// complete moves a frozen session to Completed with the server's verdict.
func (e *Engine) complete(res *model.AttemptResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateSubmitting {
		return ErrNotSubmitting
	}
	e.state = StateCompleted
	e.result = res

	e.log.Debug().
		Str("exam_id", e.exam.ID.String()).
		Str("attempt_id", res.ID.String()).
		Float64("score", res.Score).
		Msg("Session completed")
	return nil
}

// frozenRecord returns the shared record for the reconciler.
func (e *Engine) frozenRecord() (*model.SubmissionRecord, State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, e.state
}

func (e *Engine) clockTick() {
	_ = e.Tick()
}

func (e *Engine) freezeLocked(trigger model.SubmitTrigger) *model.SubmissionRecord {
	e.stopClockLocked()
	e.state = StateSubmitting

	elapsed := e.exam.DurationSeconds - e.remaining
	e.record = BuildRecord(e.exam, e.selected, elapsed, trigger, e.newKey())

	e.log.Debug().
		Str("exam_id", e.exam.ID.String()).
		Str("trigger", string(trigger)).
		Int("answered", len(e.selected)).
		Int("elapsed", elapsed).
		Msg("Session frozen")
	return e.record
}

func (e *Engine) handoff(rec *model.SubmissionRecord) {
	if e.onSubmit != nil {
		e.onSubmit(cloneRecord(rec))
	}
}

func (e *Engine) stopClockLocked() {
	if e.stopClock != nil {
		e.stopClock()
		e.stopClock = nil
	}
}

func (e *Engine) markVisitedLocked() {
	if e.current < len(e.exam.Questions) {
		e.visited[e.exam.Questions[e.current].ID] = struct{}{}
	}
}

func (e *Engine) countersLocked() Counters {
	total := e.exam.QuestionCount()
	answered := len(e.selected)
	return Counters{
		Answered:        answered,
		NotAnswered:     total - answered,
		MarkedForReview: len(e.flagged),
		NotVisited:      total - len(e.visited),
	}
}

func cloneRecord(rec *model.SubmissionRecord) *model.SubmissionRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	c.Answers = append([]model.SubmittedAnswer(nil), rec.Answers...)
	return &c
}
