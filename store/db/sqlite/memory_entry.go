package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/tablesense/store"
)

const memoryEntryColumns = "`id`, `uid`, `namespace`, `content`, `file_name`, `tags`, `embedding`, `created_ts`"

func (d *DB) CreateMemoryEntry(ctx context.Context, create *store.MemoryEntry) (*store.MemoryEntry, error) {
	tags, err := encodeTags(create.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tags")
	}

	fields := []string{"`uid`", "`namespace`", "`content`", "`file_name`", "`tags`", "`embedding`", "`created_ts`"}
	args := []any{create.UID, create.Namespace, create.Content, create.FileName, tags, encodeVector(create.Embedding), create.CreatedTs}

	stmt := "INSERT INTO `memory_entry` (" + strings.Join(fields, ", ") + ") VALUES (" + placeholders(len(args)) + ") RETURNING `id`"
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create memory entry")
	}
	return create, nil
}

func (d *DB) ListMemoryEntries(ctx context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.Namespace != nil {
		where, args = append(where, "`namespace` = "+placeholder(len(args)+1)), append(args, *find.Namespace)
	}

	query := "SELECT " + memoryEntryColumns + " FROM `memory_entry` WHERE " + strings.Join(where, " AND ") + " ORDER BY `id` ASC"
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory entries")
	}
	defer rows.Close()

	list := []*store.MemoryEntry{}
	for rows.Next() {
		entry, err := scanMemoryEntry(rows, nil)
		if err != nil {
			return nil, err
		}
		list = append(list, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) DeleteMemoryEntries(ctx context.Context, delete *store.DeleteMemoryEntry) error {
	where, args := []string{"1 = 1"}, []any{}
	if delete.Namespace != nil {
		where, args = append(where, "`namespace` = "+placeholder(len(args)+1)), append(args, *delete.Namespace)
	}
	stmt := "DELETE FROM `memory_entry` WHERE " + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete memory entries")
	}
	return nil
}

// SearchMemoryEntries ranks entries with the vector_distance_cos function
// registered on the driver.
func (d *DB) SearchMemoryEntries(ctx context.Context, opts *store.MemorySearchOptions) ([]*store.MemoryEntryWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := "SELECT " + memoryEntryColumns + ", 1 - vector_distance_cos(`embedding`, " + placeholder(1) + ") AS `score`" +
		" FROM `memory_entry` WHERE `namespace` = " + placeholder(2) +
		" ORDER BY `score` DESC, `id` ASC LIMIT " + placeholder(3)

	rows, err := d.db.QueryContext(ctx, query, encodeVector(opts.Vector), opts.Namespace, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search memory entries")
	}
	defer rows.Close()

	results := []*store.MemoryEntryWithScore{}
	for rows.Next() {
		var score float64
		entry, err := scanMemoryEntry(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.MemoryEntryWithScore{Entry: entry, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanMemoryEntry(rows *sql.Rows, score *float64) (*store.MemoryEntry, error) {
	var entry store.MemoryEntry
	var tags string
	var blob []byte
	dest := []any{&entry.ID, &entry.UID, &entry.Namespace, &entry.Content, &entry.FileName, &tags, &blob, &entry.CreatedTs}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory entry")
	}

	var err error
	if entry.Tags, err = decodeTags(tags); err != nil {
		return nil, errors.Wrap(err, "failed to decode tags")
	}
	if entry.Embedding, err = decodeVector(blob); err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding")
	}
	return &entry, nil
}
