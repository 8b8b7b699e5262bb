package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/handler"
	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *service.AuthService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{GinMode: gin.TestMode, JWTSecret: "router-secret", JWTExpiry: time.Hour, BcryptCost: 4}
	auth := service.NewAuthService(cfg, nil, rdb, zerolog.Nop())

	up := func(context.Context) error { return nil }
	handlers := &Handlers{
		Auth:   handler.NewAuthHandler(auth, zerolog.Nop()),
		Exam:   handler.NewExamHandler(nil, nil, zerolog.Nop()),
		WS:     handler.NewWSHandler(nil, cfg, zerolog.Nop()),
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{"redis": up}, nil, zerolog.Nop()),
	}
	limits := &RateLimits{
		Login: middleware.NewRateLimiter(rdb, "login", 1, time.Minute, zerolog.Nop()),
	}
	return SetupRouter(auth, handlers, limits, cfg), auth
}

func TestHealthRoute(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestExamRoutesRequireToken(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{
		"/api/v1/exams",
		"/api/v1/exams/0b7e1a5e-3c52-4d1f-8f7e-2c1f1f0f6a11/results",
		"/ws/v1/exams/0b7e1a5e-3c52-4d1f-8f7e-2c1f1f0f6a11/take",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	r, auth := newTestRouter(t)
	token, err := auth.GenerateToken(&model.User{ID: 4, Role: model.RoleStudent})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/exams", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitRejectsMissingIdempotencyKey(t *testing.T) {
	r, auth := newTestRouter(t)
	token, err := auth.GenerateToken(&model.User{ID: 4, Role: model.RoleStudent})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/0b7e1a5e-3c52-4d1f-8f7e-2c1f1f0f6a11/submit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Idempotency-Key")
}

func TestLoginIsRateLimited(t *testing.T) {
	r, _ := newTestRouter(t)

	// The first request fails validation, but still counts.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCORSPreflightAllowsIdempotencyKey(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/exams/x/submit", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}
