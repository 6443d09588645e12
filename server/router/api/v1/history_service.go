package v1

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"

	apierrors "github.com/hrygo/tablesense/server/internal/errors"
	"github.com/hrygo/tablesense/store"
)

const maxHistoryLimit = 500

// HistoryItem is one answered question.
type HistoryItem struct {
	UID       string `json:"uid"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	CreatedTs int64  `json:"created_ts"`
}

// HistoryResponse lists a dataset's history, oldest first.
type HistoryResponse struct {
	Filename string        `json:"filename"`
	Items    []HistoryItem `json:"items"`
}

// ListHistory returns the questions asked about a dataset.
// GET /api/history/:file?limit=N
func (s *APIV1Service) ListHistory(c echo.Context) error {
	if s.Store == nil {
		return respondError(c, apierrors.ServiceUnavailable("history is not configured"))
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return respondError(c, apierrors.InvalidArgument("limit must be a non-negative integer"))
		}
		limit = min(v, maxHistoryLimit)
	}

	name := filepath.Base(c.Param("file"))
	list, err := s.Store.ListHistories(c.Request().Context(), &store.FindHistory{SessionID: &name, Limit: limit})
	if err != nil {
		return respondError(c, apierrors.Wrap(err, apierrors.ErrCodeInternal, "failed to list history"))
	}

	items := make([]HistoryItem, 0, len(list))
	for _, h := range list {
		items = append(items, HistoryItem{
			UID:       h.UID,
			Question:  h.Question,
			Answer:    h.Answer,
			CreatedTs: h.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, HistoryResponse{Filename: name, Items: items})
}

// DeleteHistory clears the history of a dataset.
// DELETE /api/history/:file
func (s *APIV1Service) DeleteHistory(c echo.Context) error {
	if s.Store == nil {
		return respondError(c, apierrors.ServiceUnavailable("history is not configured"))
	}
	name := filepath.Base(c.Param("file"))
	if err := s.Store.DeleteHistories(c.Request().Context(), &store.DeleteHistory{SessionID: &name}); err != nil {
		return respondError(c, apierrors.Wrap(err, apierrors.ErrCodeInternal, "failed to delete history"))
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "History cleared"})
}
