package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	rdb, _ := newTestRedis(t)
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rdb, "login", 2, time.Minute, zerolog.Nop())
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	get := func() *httptest.ResponseRecorder {
		return serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	}

	w := get()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusNoContent, get().Code)

	w = get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	// Next window starts fresh.
	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusNoContent, get().Code)
}

func TestRateLimiterScopesAreIndependent(t *testing.T) {
	rdb, _ := newTestRedis(t)
	login := NewRateLimiter(rdb, "login", 1, time.Minute, zerolog.Nop())
	submit := NewRateLimiter(rdb, "submit", 1, time.Minute, zerolog.Nop())

	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.GET("/login", login.Middleware(), ok)
	r.GET("/submit", submit.Middleware(), ok)

	assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/login", nil)).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/submit", nil)).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, httptest.NewRequest(http.MethodGet, "/login", nil)).Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rdb, mr := newTestRedis(t)
	rl := NewRateLimiter(rdb, "login", 1, time.Minute, zerolog.Nop())
	mr.Close()

	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}
