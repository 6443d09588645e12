package sandbox

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// toStarlark converts a dataset cell into a Starlark value.
func toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case int64:
		return starlark.MakeInt64(x)
	case int:
		return starlark.MakeInt(x)
	case float64:
		return starlark.Float(x)
	case bool:
		return starlark.Bool(x)
	case string:
		return starlark.String(x)
	default:
		return starlark.String(fmt.Sprint(x))
	}
}

// toGo converts a Starlark scalar back into a dataset cell.
func toGo(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Int:
		if n, ok := x.Int64(); ok {
			return n, nil
		}
		f, _ := starlark.AsFloat(x)
		return f, nil
	case starlark.Float:
		return float64(x), nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	default:
		return nil, fmt.Errorf("unsupported cell type %s", v.Type())
	}
}

func rowDict(columns []string, row []any) *starlark.Dict {
	d := starlark.NewDict(len(columns))
	for i, c := range columns {
		_ = d.SetKey(starlark.String(c), toStarlark(row[i]))
	}
	return d
}

// builtinSum implements sum(iterable, start=0).
func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	iter := iterable.Iterate()
	defer iter.Done()

	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		if x == starlark.None {
			continue
		}
		next, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		acc = next
	}
	return acc, nil
}

// builtinAbs implements abs(x).
func builtinAbs(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	switch v := x.(type) {
	case starlark.Int:
		if v.Sign() < 0 {
			return starlark.MakeInt(0).Sub(v), nil
		}
		return v, nil
	case starlark.Float:
		return starlark.Float(math.Abs(float64(v))), nil
	default:
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), x.Type())
	}
}

// builtinRound implements round(x, ndigits=None) with round-half-to-even.
func builtinRound(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), x.Type())
	}
	if ndigits == starlark.None {
		if i, isInt := x.(starlark.Int); isInt {
			return i, nil
		}
		i, err := starlark.NumberToInt(starlark.Float(math.RoundToEven(f)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return i, nil
	}
	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	scale := math.Pow(10, float64(n))
	return starlark.Float(math.RoundToEven(f*scale) / scale), nil
}
