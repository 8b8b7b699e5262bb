package exam

import (
	"errors"
	"fmt"
)

// Catalog errors. Both terminate the session-start flow.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotPublished = errors.New("exam is not published")
	ErrMalformedExam    = errors.New("exam data is malformed")
)

// Session errors.
var (
	ErrIncompleteAnswers   = errors.New("every question must be answered before submitting")
	ErrAttemptLimitReached = errors.New("attempt limit reached for this exam")
	ErrAlreadyStarted      = errors.New("session has already been started")
	ErrNotInProgress       = errors.New("session is not in progress")
	ErrNotSubmitting       = errors.New("session is not awaiting submission")
	ErrUnknownQuestion     = errors.New("question does not belong to this exam")
	ErrUnknownOption       = errors.New("option does not belong to this question")
	ErrQuestionIndex       = errors.New("question index out of range")
)

// SubmissionError reports a failed delivery of a frozen submission record.
// The session stays frozen and the same record can be retried.
type SubmissionError struct {
	Err      error
	Attempts int
	// MayBeRecorded is set when a failed try may have reached the server,
	// so the attempt could already exist there.
	MayBeRecorded bool
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// RejectedError marks a submission the server refused outright, such as a
// validation failure or an expired token. Nothing was recorded and resending
// the same record gets the same answer.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return "submission rejected: " + e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transport or server failure that
// a retry of the same record may fix.
func IsRetryable(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
