package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/tablesense/store"
)

func (d *DB) CreateHistory(ctx context.Context, create *store.History) (*store.History, error) {
	fields := []string{"`uid`", "`session_id`", "`question`", "`answer`", "`created_ts`"}
	args := []any{create.UID, create.SessionID, create.Question, create.Answer, create.CreatedTs}

	stmt := "INSERT INTO `history` (" + strings.Join(fields, ", ") + ") VALUES (" + placeholders(len(args)) + ") RETURNING `id`"
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create history")
	}
	return create, nil
}

func (d *DB) ListHistories(ctx context.Context, find *store.FindHistory) ([]*store.History, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.SessionID != nil {
		where, args = append(where, "`session_id` = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}

	query := "SELECT `id`, `uid`, `session_id`, `question`, `answer`, `created_ts` FROM `history` WHERE " +
		strings.Join(where, " AND ") + " ORDER BY `created_ts` ASC, `id` ASC"
	if find.Limit > 0 {
		// Latest N, still returned oldest first.
		query = "SELECT * FROM (SELECT `id`, `uid`, `session_id`, `question`, `answer`, `created_ts` FROM `history` WHERE " +
			strings.Join(where, " AND ") + " ORDER BY `created_ts` DESC, `id` DESC LIMIT " + placeholder(len(args)+1) +
			") ORDER BY `created_ts` ASC, `id` ASC"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list histories")
	}
	defer rows.Close()

	list := []*store.History{}
	for rows.Next() {
		var h store.History
		if err := rows.Scan(&h.ID, &h.UID, &h.SessionID, &h.Question, &h.Answer, &h.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan history")
		}
		list = append(list, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteHistories(ctx context.Context, delete *store.DeleteHistory) error {
	where, args := []string{"1 = 1"}, []any{}
	if delete.SessionID != nil {
		where, args = append(where, "`session_id` = "+placeholder(len(args)+1)), append(args, *delete.SessionID)
	}
	stmt := "DELETE FROM `history` WHERE " + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete histories")
	}
	return nil
}
