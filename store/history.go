package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// History is one answered question, persisted for the history view.
type History struct {
	ID        int64
	UID       string
	SessionID string // dataset file name
	Question  string
	Answer    string
	CreatedTs int64
}

type FindHistory struct {
	SessionID *string
	Limit     int
}

type DeleteHistory struct {
	SessionID *string
}

func (s *Store) CreateHistory(ctx context.Context, create *History) (*History, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateHistory(ctx, create)
}

// ListHistories returns history oldest first.
func (s *Store) ListHistories(ctx context.Context, find *FindHistory) ([]*History, error) {
	return s.driver.ListHistories(ctx, find)
}

func (s *Store) DeleteHistories(ctx context.Context, delete *DeleteHistory) error {
	return s.driver.DeleteHistories(ctx, delete)
}

// AppendHistory records a finished turn.
func (s *Store) AppendHistory(ctx context.Context, sessionID, question, answer string, ts time.Time) error {
	_, err := s.CreateHistory(ctx, &History{
		SessionID: sessionID,
		Question:  question,
		Answer:    answer,
		CreatedTs: ts.Unix(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to append history")
	}
	return nil
}
