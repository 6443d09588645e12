package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/tablesense/internal/observability"
)

// MetricsOverviewResponse represents the overview response of analyst metrics.
type MetricsOverviewResponse struct {
	*observability.MetricsSnapshot
	Sessions int `json:"sessions"`
}

// GetMetricsOverview returns turn counters and latency percentiles.
// GET /api/metrics
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, MetricsOverviewResponse{
		MetricsSnapshot: s.Metrics.Snapshot(),
		Sessions:        s.Registry.Len(),
	})
}
