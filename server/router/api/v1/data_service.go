package v1

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/tablesense/plugin/ai/agent"
	"github.com/hrygo/tablesense/plugin/ai/dataset"
	apierrors "github.com/hrygo/tablesense/server/internal/errors"
)

const uploadPreviewRows = 5

var uploadExtensions = map[string]bool{".csv": true, ".xlsx": true, ".xlsm": true}

// UploadResponse describes a stored dataset.
type UploadResponse struct {
	Filename string           `json:"filename"`
	Columns  []string         `json:"columns"`
	Rows     int              `json:"rows"`
	Preview  []map[string]any `json:"preview"`
}

// AnswerResponse carries the analyst's reply.
type AnswerResponse struct {
	Answer string `json:"answer"`
}

// StatusResponse reports a session's analyst state.
type StatusResponse struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Active   bool   `json:"active"`
}

// SummaryResponse is the dataset overview.
type SummaryResponse struct {
	Filename string `json:"filename"`
	dataset.Summary
}

// UploadDataset stores a CSV or Excel file and returns its preview.
// POST /api/data/upload (multipart field "file")
func (s *APIV1Service) UploadDataset(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return respondError(c, apierrors.InvalidArgument("file is required"))
	}
	if !uploadExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		return respondError(c, apierrors.InvalidArgument("only .csv, .xlsx and .xlsm files are supported"))
	}
	path, err := s.datasetPath(fh.Filename)
	if err != nil {
		return respondError(c, err)
	}
	name := filepath.Base(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return respondError(c, apierrors.Wrap(err, apierrors.ErrCodeInternal, "failed to create upload directory"))
	}
	if err := saveUpload(fh, path); err != nil {
		return respondError(c, apierrors.Wrap(err, apierrors.ErrCodeInternal, "failed to store upload"))
	}

	ds, err := dataset.Load(path)
	if err != nil {
		_ = os.Remove(path)
		return respondError(c, apierrors.Wrap(err, apierrors.ErrCodeInvalidArgument, "failed to read dataset"))
	}

	// New content invalidates rows carried over from the previous upload.
	if err := s.Registry.Remove(c.Request().Context(), name); err != nil {
		slog.Warn("failed to reset session after upload", slog.String("file", name), slog.String("error", err.Error()))
	}

	slog.Info("dataset uploaded", slog.String("file", name), slog.Int("rows", ds.Len()))
	return c.JSON(http.StatusOK, UploadResponse{
		Filename: name,
		Columns:  ds.Columns(),
		Rows:     ds.Len(),
		Preview:  ds.Normalize().Head(uploadPreviewRows).Records(),
	})
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// QueryDataset answers a question about an uploaded dataset.
// POST /api/data/query (form fields "filename", "question", optional "use_memory")
func (s *APIV1Service) QueryDataset(c echo.Context) error {
	useMemory := true
	if raw := c.FormValue("use_memory"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return respondError(c, apierrors.InvalidArgument("use_memory must be a boolean"))
		}
		useMemory = v
	}
	return s.answer(c, func(ctx context.Context, a *agent.Analyst, ds *dataset.Dataset, q string) string {
		return a.Analyze(ctx, ds, q, useMemory)
	})
}

// AskFollowup continues the conversation about a dataset with memory enabled.
// POST /api/data/ask-followup
func (s *APIV1Service) AskFollowup(c echo.Context) error {
	return s.answer(c, func(ctx context.Context, a *agent.Analyst, ds *dataset.Dataset, q string) string {
		return a.AskFollowup(ctx, ds, q)
	})
}

func (s *APIV1Service) answer(c echo.Context, ask func(context.Context, *agent.Analyst, *dataset.Dataset, string) string) error {
	filename := c.FormValue("filename")
	question := strings.TrimSpace(c.FormValue("question"))
	if question == "" {
		return respondError(c, apierrors.InvalidArgument("question is required"))
	}
	ds, err := s.loadDataset(filename)
	if err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	analyst, err := s.Registry.Get(ctx, filepath.Base(filename))
	if err != nil {
		return respondError(c, apierrors.Wrap(err, apierrors.ErrCodeServiceUnavailable, "analyst unavailable"))
	}
	return c.JSON(http.StatusOK, AnswerResponse{Answer: ask(ctx, analyst, ds, question)})
}

// GetStatus reports the analyst state for a dataset.
// GET /api/data/status/:file
func (s *APIV1Service) GetStatus(c echo.Context) error {
	name := filepath.Base(c.Param("file"))
	status, ok := s.Registry.Status(name)
	return c.JSON(http.StatusOK, StatusResponse{Filename: name, Status: status.String(), Active: ok})
}

// GetSummary describes the columns of an uploaded dataset.
// GET /api/data/summary/:file
func (s *APIV1Service) GetSummary(c echo.Context) error {
	ds, err := s.loadDataset(c.Param("file"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, SummaryResponse{
		Filename: filepath.Base(c.Param("file")),
		Summary:  ds.Normalize().Describe(),
	})
}
