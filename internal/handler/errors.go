package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
)

// errorCode maps service and session errors to an HTTP status and API code.
// Anything unrecognised is an internal error.
func errorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, exam.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, exam.ErrExamNotPublished):
		return http.StatusForbidden, response.ErrExamNotPublished
	case errors.Is(err, exam.ErrMalformedExam):
		return http.StatusUnprocessableEntity, response.ErrMalformedExam
	case errors.Is(err, exam.ErrAttemptLimitReached):
		return http.StatusConflict, response.ErrAttemptLimitReached
	case errors.Is(err, exam.ErrIncompleteAnswers):
		return http.StatusUnprocessableEntity, response.ErrIncompleteAnswers
	case errors.Is(err, exam.ErrNotInProgress), errors.Is(err, exam.ErrNotSubmitting):
		return http.StatusConflict, response.ErrNotInProgress
	case errors.Is(err, exam.ErrUnknownQuestion),
		errors.Is(err, exam.ErrUnknownOption),
		errors.Is(err, exam.ErrQuestionIndex),
		errors.Is(err, service.ErrDuplicateAnswer):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrNoAttempts):
		return http.StatusForbidden, response.ErrNoAttempts
	case errors.Is(err, service.ErrExamAlreadyPublished):
		return http.StatusConflict, response.ErrExamAlreadyLive
	case exam.IsRetryable(err):
		return http.StatusBadGateway, response.ErrSubmissionFailed
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failFromError writes the error envelope for err. Internal errors are logged.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := errorCode(err)
	if code == response.ErrInternal {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, status, code)
		return
	}
	if code == response.ErrValidation {
		response.FailWithMessage(c, status, code, err.Error())
		return
	}
	response.Fail(c, status, code)
}
