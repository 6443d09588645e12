package dataset

import "math"

// Summary is the dataset overview served to clients.
type Summary struct {
	Rows    int             `json:"rows"`
	Columns int             `json:"columns"`
	Fields  []ColumnSummary `json:"fields"`
}

// ColumnSummary describes one column.
type ColumnSummary struct {
	Name    string   `json:"name"`
	Kind    Kind     `json:"kind"`
	NonNull int      `json:"non_null"`
	Unique  int      `json:"unique"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Mean    *float64 `json:"mean,omitempty"`
}

// Describe computes per-column statistics.
func (d *Dataset) Describe() Summary {
	kinds := d.Kinds()
	s := Summary{Rows: len(d.rows), Columns: len(d.columns)}
	for ci, name := range d.columns {
		cs := ColumnSummary{Name: name, Kind: kinds[ci]}
		seen := make(map[any]struct{})
		min, max, sum := math.Inf(1), math.Inf(-1), 0.0
		numeric := 0
		for _, row := range d.rows {
			v := row[ci]
			if v == nil {
				continue
			}
			cs.NonNull++
			seen[v] = struct{}{}
			if f, ok := ToFloat(v); ok {
				numeric++
				sum += f
				min = math.Min(min, f)
				max = math.Max(max, f)
			}
		}
		cs.Unique = len(seen)
		if numeric > 0 && (cs.Kind == KindInt || cs.Kind == KindFloat) {
			mean := sum / float64(numeric)
			cs.Min, cs.Max, cs.Mean = &min, &max, &mean
		}
		s.Fields = append(s.Fields, cs)
	}
	return s
}
