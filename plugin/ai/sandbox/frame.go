package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/hrygo/tablesense/plugin/ai/dataset"
)

// printPreviewRows caps how much of a frame print() writes.
const printPreviewRows = 10

// Frame exposes a dataset to snippets. It is immutable; every method returns a new value.
type Frame struct {
	ds *dataset.Dataset
}

var (
	_ starlark.HasAttrs = (*Frame)(nil)
	_ starlark.Mapping  = (*Frame)(nil)
	_ starlark.Sequence = (*Frame)(nil)
)

// NewFrame wraps a dataset.
func NewFrame(ds *dataset.Dataset) *Frame {
	return &Frame{ds: ds}
}

// Dataset returns the wrapped dataset.
func (f *Frame) Dataset() *dataset.Dataset { return f.ds }

func (f *Frame) String() string {
	s := f.ds.Head(printPreviewRows).CSV()
	if f.ds.Len() > printPreviewRows {
		s += fmt.Sprintf("\n... (%d rows)", f.ds.Len())
	}
	return s
}

func (f *Frame) Type() string          { return "dataframe" }
func (f *Frame) Freeze()               {}
func (f *Frame) Truth() starlark.Bool  { return f.ds.Len() > 0 }
func (f *Frame) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: dataframe") }
func (f *Frame) Len() int              { return f.ds.Len() }

// Iterate yields rows as dicts.
func (f *Frame) Iterate() starlark.Iterator {
	return &rowIterator{frame: f}
}

// Get implements df["col"] (column values as a list) and df[i] (row as a dict).
func (f *Frame) Get(key starlark.Value) (starlark.Value, bool, error) {
	switch k := key.(type) {
	case starlark.String:
		values, err := f.ds.Column(string(k))
		if err != nil {
			return nil, false, err
		}
		return listOf(values), true, nil
	case starlark.Int:
		i, ok := k.Int64()
		if !ok {
			return nil, false, fmt.Errorf("row index out of range")
		}
		n := int64(f.ds.Len())
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, false, fmt.Errorf("row index %d out of range [0:%d]", i, n)
		}
		return rowDict(f.ds.Columns(), f.ds.Row(int(i))), true, nil
	default:
		return nil, false, fmt.Errorf("dataframe index must be a column name or row number, not %s", key.Type())
	}
}

var frameMethods = map[string]func(f *Frame, name string) *starlark.Builtin{
	"rows":         method((*Frame).rows),
	"column":       method((*Frame).column),
	"head":         method((*Frame).head),
	"filter":       method((*Frame).filter),
	"select":       method((*Frame).selectCols),
	"sort_by":      method((*Frame).sortBy),
	"max_by":       method((*Frame).maxBy),
	"min_by":       method((*Frame).minBy),
	"sum":          method((*Frame).sum),
	"mean":         method((*Frame).mean),
	"unique":       method((*Frame).unique),
	"count":        method((*Frame).count),
	"value_counts": method((*Frame).valueCounts),
	"to_csv":       method((*Frame).toCSV),
}

type frameMethod func(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func method(fn frameMethod) func(f *Frame, name string) *starlark.Builtin {
	return func(f *Frame, name string) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return fn(f, b, args, kwargs)
		})
	}
}

func (f *Frame) Attr(name string) (starlark.Value, error) {
	if name == "columns" {
		cols := f.ds.Columns()
		values := make([]starlark.Value, len(cols))
		for i, c := range cols {
			values[i] = starlark.String(c)
		}
		return starlark.NewList(values), nil
	}
	if m, ok := frameMethods[name]; ok {
		return m(f, name), nil
	}
	return nil, nil
}

func (f *Frame) AttrNames() []string {
	names := []string{"columns"}
	for name := range frameMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Frame) rows(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	cols := f.ds.Columns()
	rows := make([]starlark.Value, f.ds.Len())
	for i := range rows {
		rows[i] = rowDict(cols, f.ds.Row(i))
	}
	return starlark.NewList(rows), nil
}

func (f *Frame) column(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	values, err := f.ds.Column(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return listOf(values), nil
}

func (f *Frame) head(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	return NewFrame(f.ds.Head(n)), nil
}

func (f *Frame) filter(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var expr string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &expr); err != nil {
		return nil, err
	}
	out, err := f.ds.Filter(expr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return NewFrame(out), nil
}

// selectCols accepts select("a", "b") or select(["a", "b"]).
func (f *Frame) selectCols(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	var names []string
	collect := func(v starlark.Value) error {
		s, ok := starlark.AsString(v)
		if !ok {
			return fmt.Errorf("%s: column names must be strings, got %s", b.Name(), v.Type())
		}
		names = append(names, s)
		return nil
	}
	for _, arg := range args {
		if it, ok := arg.(starlark.Iterable); ok && arg.Type() != "string" {
			iter := it.Iterate()
			var x starlark.Value
			for iter.Next(&x) {
				if err := collect(x); err != nil {
					iter.Done()
					return nil, err
				}
			}
			iter.Done()
			continue
		}
		if err := collect(arg); err != nil {
			return nil, err
		}
	}
	out, err := f.ds.Select(names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return NewFrame(out), nil
}

func (f *Frame) sortBy(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	reverse := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &name, "reverse?", &reverse); err != nil {
		return nil, err
	}
	out, err := f.ds.SortBy(name, reverse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return NewFrame(out), nil
}

func (f *Frame) maxBy(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return f.extremeBy(b, args, kwargs, true)
}

func (f *Frame) minBy(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return f.extremeBy(b, args, kwargs, false)
}

// extremeBy returns the first row holding the largest (or smallest) value of a column.
func (f *Frame) extremeBy(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, largest bool) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	values, err := f.ds.Column(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	best := -1
	for i, v := range values {
		if v == nil {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		c := dataset.Compare(v, values[best])
		if (largest && c > 0) || (!largest && c < 0) {
			best = i
		}
	}
	if best < 0 {
		return starlark.None, nil
	}
	return rowDict(f.ds.Columns(), f.ds.Row(best)), nil
}

func (f *Frame) numericColumn(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) ([]any, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	values, err := f.ds.Column(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	out := values[:0:0]
	for _, v := range values {
		if v == nil {
			continue
		}
		if _, ok := dataset.ToFloat(v); !ok {
			return nil, fmt.Errorf("%s: column %q is not numeric", b.Name(), name)
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *Frame) sum(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values, err := f.numericColumn(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	var isum int64
	var fsum float64
	floats := false
	for _, v := range values {
		switch x := v.(type) {
		case int64:
			isum += x
		default:
			floats = true
			fv, _ := dataset.ToFloat(x)
			fsum += fv
		}
	}
	if floats {
		return starlark.Float(fsum + float64(isum)), nil
	}
	return starlark.MakeInt64(isum), nil
}

func (f *Frame) mean(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values, err := f.numericColumn(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return starlark.None, nil
	}
	var total float64
	for _, v := range values {
		fv, _ := dataset.ToFloat(v)
		total += fv
	}
	return starlark.Float(total / float64(len(values))), nil
}

func (f *Frame) unique(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	values, err := f.ds.Column(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	seen := make(map[any]bool)
	var out []any
	for _, v := range values {
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return listOf(out), nil
}

func (f *Frame) count(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeInt(f.ds.Len()), nil
}

// valueCounts returns {value: count} ordered by descending count.
func (f *Frame) valueCounts(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	values, err := f.ds.Column(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	counts := make(map[any]int)
	var order []any
	for _, v := range values {
		if v == nil {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	d := starlark.NewDict(len(order))
	for _, v := range order {
		if err := d.SetKey(toStarlark(v), starlark.MakeInt(counts[v])); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (f *Frame) toCSV(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.String(f.ds.CSV()), nil
}

func listOf(values []any) *starlark.List {
	out := make([]starlark.Value, len(values))
	for i, v := range values {
		out[i] = toStarlark(v)
	}
	return starlark.NewList(out)
}

type rowIterator struct {
	frame *Frame
	i     int
}

func (it *rowIterator) Next(p *starlark.Value) bool {
	if it.i >= it.frame.ds.Len() {
		return false
	}
	*p = rowDict(it.frame.ds.Columns(), it.frame.ds.Row(it.i))
	it.i++
	return true
}

func (it *rowIterator) Done() {}
