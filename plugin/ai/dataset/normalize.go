package dataset

import (
	"strconv"
	"strings"
	"time"
)

// Kind is the inferred type of a column.
type Kind string

const (
	KindInt   Kind = "int"
	KindFloat Kind = "float"
	KindBool  Kind = "bool"
	KindDate  Kind = "date"
	KindText  Kind = "text"
	KindEmpty Kind = "empty"
)

// inferSampleSize is how many non-null values decide a column's type.
const inferSampleSize = 10

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"2006.01.02",
	"02.01.2006",
}

// Normalize cleans string cells and infers column types.
//
// Whitespace is trimmed and blank cells become nil. A column whose first
// non-null values all parse as integers (thousands separators allowed) becomes
// int64, otherwise as numbers becomes float64, otherwise as dates becomes
// ISO-8601 date strings. Anything else stays text.
func (d *Dataset) Normalize() *Dataset {
	rows := make([][]any, len(d.rows))
	for i, row := range d.rows {
		r := make([]any, len(row))
		for j, v := range row {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s == "" {
					r[j] = nil
					continue
				}
				r[j] = s
				continue
			}
			r[j] = v
		}
		rows[i] = r
	}

	for ci := range d.columns {
		switch inferKind(rows, ci) {
		case KindInt:
			convertColumn(rows, ci, func(s string) any {
				n, err := strconv.ParseInt(stripThousands(s), 10, 64)
				if err != nil {
					return nil
				}
				return n
			})
		case KindFloat:
			convertColumn(rows, ci, func(s string) any {
				f, err := strconv.ParseFloat(stripThousands(s), 64)
				if err != nil {
					return nil
				}
				return f
			})
		case KindDate:
			convertColumn(rows, ci, func(s string) any {
				if t, ok := parseDate(s); ok {
					return t.Format("2006-01-02")
				}
				return nil
			})
		}
	}
	return newOwned(d.Columns(), rows)
}

// Kinds reports the type of every column based on its current values.
func (d *Dataset) Kinds() []Kind {
	out := make([]Kind, len(d.columns))
	for ci := range d.columns {
		out[ci] = columnKind(d.rows, ci)
	}
	return out
}

func inferKind(rows [][]any, ci int) Kind {
	var sample []string
	for _, row := range rows {
		switch v := row[ci].(type) {
		case nil:
			continue
		case string:
			sample = append(sample, v)
		default:
			// Already typed; leave the column as is.
			return KindText
		}
		if len(sample) == inferSampleSize {
			break
		}
	}
	if len(sample) == 0 {
		return KindEmpty
	}
	if all(sample, isInt) {
		return KindInt
	}
	if all(sample, isFloat) {
		return KindFloat
	}
	if all(sample, isDate) {
		return KindDate
	}
	return KindText
}

func columnKind(rows [][]any, ci int) Kind {
	kind := KindEmpty
	for _, row := range rows {
		var k Kind
		switch v := row[ci].(type) {
		case nil:
			continue
		case int64, int:
			k = KindInt
		case float64:
			k = KindFloat
		case bool:
			k = KindBool
		case string:
			k = KindText
			if _, ok := parseDate(v); ok {
				k = KindDate
			}
		default:
			k = KindText
		}
		switch {
		case kind == KindEmpty:
			kind = k
		case kind == k:
		case (kind == KindInt && k == KindFloat) || (kind == KindFloat && k == KindInt):
			kind = KindFloat
		default:
			return KindText
		}
	}
	return kind
}

func convertColumn(rows [][]any, ci int, conv func(string) any) {
	for _, row := range rows {
		if s, ok := row[ci].(string); ok {
			row[ci] = conv(s)
		}
	}
}

func all(values []string, pred func(string) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(stripThousands(s), 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(stripThousands(s), 64)
	return err == nil
}

func isDate(s string) bool {
	_, ok := parseDate(s)
	return ok
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
