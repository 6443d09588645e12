// Package v1 serves the dataset question-answering HTTP API.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/tablesense/internal/observability"
	"github.com/hrygo/tablesense/internal/profile"
	"github.com/hrygo/tablesense/plugin/ai/dataset"
	"github.com/hrygo/tablesense/plugin/ai/session"
	apierrors "github.com/hrygo/tablesense/server/internal/errors"
	"github.com/hrygo/tablesense/store"
)

type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store // nil disables history
	Registry *session.Registry
	Metrics  *observability.Metrics

	statusHub *statusHub
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, registry *session.Registry) *APIV1Service {
	s := &APIV1Service{
		Profile:   profile,
		Store:     store,
		Registry:  registry,
		Metrics:   observability.GlobalMetrics(),
		statusHub: newStatusHub(),
	}
	registry.OnStatusChange(s.statusHub.publish)
	return s
}

// RegisterRoutes registers the API handlers with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(g *echo.Group) {
	g.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
	}))

	data := g.Group("/data")
	data.POST("/upload", s.UploadDataset)
	data.POST("/query", s.QueryDataset)
	data.POST("/ask-followup", s.AskFollowup)
	data.GET("/status/ws", s.StreamStatus)
	data.GET("/status/:file", s.GetStatus)
	data.GET("/summary/:file", s.GetSummary)

	g.GET("/metrics", s.GetMetricsOverview)
	g.GET("/history/:file", s.ListHistory)
	g.DELETE("/history/:file", s.DeleteHistory)
}

// datasetPath resolves an uploaded file name inside the upload directory.
func (s *APIV1Service) datasetPath(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", apierrors.InvalidArgument("filename is required")
	}
	return filepath.Join(s.Profile.UploadDir(), base), nil
}

func (s *APIV1Service) loadDataset(name string) (*dataset.Dataset, error) {
	path, err := s.datasetPath(name)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apierrors.NotFound("File not found")
		}
		return nil, apierrors.Wrap(err, apierrors.ErrCodeInvalidArgument, "failed to read dataset")
	}
	return ds, nil
}

// respondError writes err as {"error", "code"} with the status its code maps to.
func respondError(c echo.Context, err error) error {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apierrors.Wrap(err, apierrors.ErrCodeInternal, "internal error")
	}
	if apiErr.HTTPStatus() >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", c.Path()),
			slog.String("code", string(apiErr.Code)),
			slog.String("error", apiErr.Error()),
		)
	}
	return c.JSON(apiErr.HTTPStatus(), map[string]string{
		"error": apiErr.Message,
		"code":  string(apiErr.Code),
	})
}
