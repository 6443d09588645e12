package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tablesense/internal/observability"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst exhausted")
	assert.True(t, rl.Allow("b"), "keys are limited independently")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "a"))
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.EqualValues(t, DefaultRequestsPerSecond, rl.rps)
	assert.Equal(t, DefaultBurst, rl.burst)
}

func TestRateLimitMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(NewRateLimiter(1, 1)))
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestTurnContextMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		requestID bool
	}{
		{name: "with request id", requestID: true},
		{name: "without request id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			if tt.requestID {
				e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
					Generator: func() string { return "req-42" },
				}))
			}
			e.Use(TurnContext(nil))

			var got *observability.TurnContext
			e.GET("/", func(c echo.Context) error {
				tc, ok := observability.FromContext(c.Request().Context())
				require.True(t, ok)
				got = tc
				return c.NoContent(http.StatusNoContent)
			})

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			require.NotNil(t, got)
			if tt.requestID {
				assert.Equal(t, "req-42", got.RequestID)
			} else {
				assert.NotEmpty(t, got.RequestID)
			}
		})
	}
}
