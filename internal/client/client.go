// Package client talks to the grading API over REST. It implements the
// catalog and grader ports of the session engine for a logged-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
)

const idempotencyKeyHeader = "Idempotency-Key"

// APIError is an error envelope the server answered with.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Code, e.Message)
}

// Client is a REST client for one user of the grading API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates requests with an existing JWT.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log.With().Str("component", "api_client").Logger() }
}

// New creates a client for the API rooted at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var (
	_ exam.Catalog = (*Client)(nil)
	_ exam.Grader  = (*Client)(nil)
)

// Token returns the JWT in use.
func (c *Client) Token() string {
	return c.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var res model.LoginResponse
	req := model.LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", req, nil, &res); err != nil {
		return nil, err
	}
	c.token = res.Token
	return &res, nil
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// ListExams returns the first page of exams visible to the user.
func (c *Client) ListExams(ctx context.Context) ([]model.Exam, error) {
	var res struct {
		Exams []model.Exam `json:"exams"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/exams?per_page=100", nil, nil, &res); err != nil {
		return nil, err
	}
	return res.Exams, nil
}

// GetExamByID fetches the public shape of an exam.
func (c *Client) GetExamByID(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	var res struct {
		Exam *model.Exam `json:"exam"`
	}
	if err := c.do(ctx, http.MethodGet, examPath(examID, ""), nil, nil, &res); err != nil {
		return nil, err
	}
	if res.Exam == nil {
		return nil, exam.ErrExamNotFound
	}
	return res.Exam, nil
}

// GetUserExamResults fetches the user's attempt history for an exam.
func (c *Client) GetUserExamResults(ctx context.Context, examID uuid.UUID) (*model.ExamResults, error) {
	var res model.ExamResults
	if err := c.do(ctx, http.MethodGet, examPath(examID, "/results"), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitExamAnswers sends a frozen record. Failures that may have reached the
// server come back as *exam.TransportError with Delivered set; 4xx answers
// come back as *exam.RejectedError.
func (c *Client) SubmitExamAnswers(ctx context.Context, rec *model.SubmissionRecord) (*model.AttemptResult, error) {
	headers := http.Header{}
	headers.Set(idempotencyKeyHeader, rec.IdempotencyKey)

	var res model.AttemptResult
	err := c.do(ctx, http.MethodPost, examPath(rec.ExamID, "/submit"), rec, headers, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Status >= http.StatusInternalServerError {
				return nil, &exam.TransportError{Err: err, Delivered: true}
			}
			return nil, &exam.RejectedError{Err: err}
		}
		return nil, err
	}
	return &res, nil
}

// Review fetches the graded questions with the user's latest attempt.
func (c *Client) Review(ctx context.Context, examID uuid.UUID) (*exam.Review, error) {
	var res exam.Review
	if err := c.do(ctx, http.MethodGet, examPath(examID, "/review"), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ─── Transport ──────────────────────────────────────────────────────

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &exam.TransportError{Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &exam.TransportError{Err: fmt.Errorf("build request: %w", err)}
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept-Encoding", "br")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if err := ctx.Err(); err != nil {
		return &exam.TransportError{Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &exam.TransportError{Err: err, Delivered: !neverSent(err)}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("API call")

	var bodyReader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		bodyReader = brotli.NewReader(resp.Body)
	}

	var env envelope
	if err := json.NewDecoder(bodyReader).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode, Code: response.ErrInternal, Message: http.StatusText(resp.StatusCode)}
		}
		return &exam.TransportError{Err: fmt.Errorf("decode response: %w", err), Delivered: true}
	}

	if resp.StatusCode >= http.StatusBadRequest || env.Error != nil {
		return apiError(resp.StatusCode, env.Error)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &exam.TransportError{Err: fmt.Errorf("decode data: %w", err), Delivered: true}
	}
	return nil
}

// apiError turns an error envelope into the matching session error where one
// exists, so callers can use errors.Is.
func apiError(status int, body *response.ErrorBody) error {
	apiErr := &APIError{Status: status}
	if body != nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		apiErr.Fields = body.Fields
	}

	var sentinel error
	switch apiErr.Code {
	case response.ErrExamNotFound:
		sentinel = exam.ErrExamNotFound
	case response.ErrExamNotPublished:
		sentinel = exam.ErrExamNotPublished
	case response.ErrMalformedExam:
		sentinel = exam.ErrMalformedExam
	case response.ErrAttemptLimitReached:
		sentinel = exam.ErrAttemptLimitReached
	case response.ErrIncompleteAnswers:
		sentinel = exam.ErrIncompleteAnswers
	}
	if sentinel != nil {
		return fmt.Errorf("%w (%w)", sentinel, apiErr)
	}
	return apiErr
}

// neverSent reports dial failures, where no byte of the request left the client.
func neverSent(err error) bool {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return false
	}
	var opErr *net.OpError
	if errors.As(urlErr.Err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(urlErr.Err, &dnsErr)
}

func examPath(examID uuid.UUID, suffix string) string {
	return "/api/v1/exams/" + url.PathEscape(examID.String()) + suffix
}
