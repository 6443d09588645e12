// Package dataset provides the rectangular, column-named tables the analyst works on.
//
// Cell values are one of nil, int64, float64, bool or string. A Dataset is never
// mutated after construction; every transformation returns a new Dataset.
package dataset

import (
	"fmt"
	"sort"
	"strconv"
)

// Dataset is an immutable table with named columns.
type Dataset struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// New creates a dataset, copying the given rows. Short rows are padded with nil and
// long rows are truncated to the column count.
func New(columns []string, rows [][]any) *Dataset {
	cols := make([]string, len(columns))
	copy(cols, columns)

	copied := make([][]any, len(rows))
	for i, row := range rows {
		r := make([]any, len(cols))
		copy(r, row)
		copied[i] = r
	}
	return newOwned(cols, copied)
}

// newOwned builds a dataset that takes ownership of columns and rows.
func newOwned(columns []string, rows [][]any) *Dataset {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}
	return &Dataset{columns: columns, index: index, rows: rows}
}

// Columns returns a copy of the column names in order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// HasColumn reports whether the dataset has a column with the given name.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Row returns a copy of the i-th row.
func (d *Dataset) Row(i int) []any {
	out := make([]any, len(d.columns))
	copy(out, d.rows[i])
	return out
}

// Value returns a single cell.
func (d *Dataset) Value(row int, column string) (any, error) {
	ci, ok := d.index[column]
	if !ok {
		return nil, &ColumnError{Column: column}
	}
	if row < 0 || row >= len(d.rows) {
		return nil, fmt.Errorf("row %d out of range [0, %d)", row, len(d.rows))
	}
	return d.rows[row][ci], nil
}

// Column returns the values of one column.
func (d *Dataset) Column(name string) ([]any, error) {
	ci, ok := d.index[name]
	if !ok {
		return nil, &ColumnError{Column: name}
	}
	out := make([]any, len(d.rows))
	for i, row := range d.rows {
		out[i] = row[ci]
	}
	return out, nil
}

// Records returns the rows as column-name keyed maps.
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, len(d.rows))
	for r, row := range d.rows {
		rec := make(map[string]any, len(d.columns))
		for ci, c := range d.columns {
			rec[c] = row[ci]
		}
		out[r] = rec
	}
	return out
}

// Head returns the first n rows.
func (d *Dataset) Head(n int) *Dataset {
	if n < 0 {
		n = 0
	}
	if n > len(d.rows) {
		n = len(d.rows)
	}
	return New(d.columns, d.rows[:n])
}

// Clone returns an independent copy.
func (d *Dataset) Clone() *Dataset {
	return New(d.columns, d.rows)
}

// Select projects the dataset onto the given columns, in the given order.
func (d *Dataset) Select(columns []string) (*Dataset, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		ci, ok := d.index[c]
		if !ok {
			return nil, &ColumnError{Column: c}
		}
		idx[i] = ci
	}
	rows := make([][]any, len(d.rows))
	for r, row := range d.rows {
		out := make([]any, len(idx))
		for i, ci := range idx {
			out[i] = row[ci]
		}
		rows[r] = out
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return newOwned(cols, rows), nil
}

// SortBy returns the rows ordered by one column. Nil values sort last.
func (d *Dataset) SortBy(column string, descending bool) (*Dataset, error) {
	ci, ok := d.index[column]
	if !ok {
		return nil, &ColumnError{Column: column}
	}
	rows := make([][]any, len(d.rows))
	for i, row := range d.rows {
		r := make([]any, len(row))
		copy(r, row)
		rows[i] = r
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][ci], rows[j][ci]
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		c := Compare(a, b)
		if descending {
			return c > 0
		}
		return c < 0
	})
	return newOwned(d.Columns(), rows), nil
}

// Where returns the rows for which keep returns true.
func (d *Dataset) Where(keep func(row []any) bool) *Dataset {
	var rows [][]any
	for _, row := range d.rows {
		if keep(row) {
			r := make([]any, len(row))
			copy(r, row)
			rows = append(rows, r)
		}
	}
	return newOwned(d.Columns(), rows)
}

// Equal reports whether two datasets have the same columns and cells.
func (d *Dataset) Equal(other *Dataset) bool {
	if other == nil || len(d.columns) != len(other.columns) || len(d.rows) != len(other.rows) {
		return false
	}
	for i, c := range d.columns {
		if other.columns[i] != c {
			return false
		}
	}
	for i, row := range d.rows {
		for j, v := range row {
			if v != other.rows[i][j] {
				return false
			}
		}
	}
	return true
}

// Compare orders two non-nil cell values. Numbers compare numerically, everything
// else by its formatted text.
func Compare(a, b any) int {
	fa, aNum := ToFloat(a)
	fb, bNum := ToFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := FormatValue(a), FormatValue(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// ToFloat converts numeric cells to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// FormatValue renders a cell the way it appears in CSV output.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}

// ColumnError reports a reference to a column the dataset does not have.
type ColumnError struct {
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q not found", e.Column)
}
