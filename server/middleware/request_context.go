package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/tablesense/internal/observability"
)

// TurnContext attaches an observability.TurnContext to every request so that
// analyst logs share the request id. It reuses the id set by echo's RequestID
// middleware when present.
func TurnContext(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			var tc *observability.TurnContext
			if requestID == "" {
				tc = observability.NewTurnContext(logger, "")
			} else {
				tc = observability.NewTurnContextWithID(logger, requestID, "")
			}
			req := c.Request()
			c.SetRequest(req.WithContext(observability.WithTurnContext(req.Context(), tc)))
			return next(c)
		}
	}
}
