package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/response"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// QueueDepth reports the backlog of a worker queue.
type QueueDepth func(ctx context.Context) (int64, error)

// HealthHandler reports liveness, dependency status and queue backlog.
type HealthHandler struct {
	startTime time.Time
	checks    map[string]HealthCheck
	queue     QueueDepth
	log       zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checks map[string]HealthCheck, queue QueueDepth, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		checks:    checks,
		queue:     queue,
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthStatus struct {
	Status      string            `json:"status"`
	Uptime      string            `json:"uptime"`
	Checks      map[string]string `json:"checks"`
	QueueEvents int64             `json:"queue_attempt_events"`
	Goroutines  int               `json:"goroutines"`
	GoVersion   string            `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 200 when every dependency answers, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	st := healthStatus{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		Checks:     make(map[string]string, len(h.checks)),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			st.Checks[name] = "down"
			st.Status = "degraded"
			continue
		}
		st.Checks[name] = "up"
	}

	if h.queue != nil {
		if n, err := h.queue(ctx); err == nil {
			st.QueueEvents = n
		}
	}

	if st.Status != "ok" {
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrServiceUnavailable, st)
		return
	}
	response.Success(c, http.StatusOK, st)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
