package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tablesense/plugin/ai/dataset"
)

func cities() *dataset.Dataset {
	return dataset.New([]string{"City", "Population"}, [][]any{
		{"Tokyo", int64(37400068)},
		{"Delhi", int64(28514000)},
		{"Shanghai", int64(25582000)},
		{"Paris", int64(11000000)},
	})
}

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		snippet string
		kind    Kind
		text    string
	}{
		{name: "int result", snippet: "result = 2 + 2", kind: KindValue, text: "4"},
		{name: "string result", snippet: `result = "hello"`, kind: KindValue, text: "hello"},
		{name: "print", snippet: "print('hi')", kind: KindText, text: "hi"},
		{name: "no output", snippet: "x = 1", kind: KindNoOutput, text: NoOutputMessage},
		{name: "none result", snippet: "result = None", kind: KindNoOutput, text: NoOutputMessage},
		{name: "max_by", snippet: `result = df.max_by("Population")["City"]`, kind: KindValue, text: "Tokyo"},
		{name: "min_by", snippet: `result = df.min_by("Population")["City"]`, kind: KindValue, text: "Paris"},
		{name: "column sum", snippet: `result = df.sum("Population")`, kind: KindValue, text: "102496068"},
		{name: "count", snippet: "result = len(df)", kind: KindValue, text: "4"},
		{name: "builtin sum skips None", snippet: "result = sum([1, 2, None, 3])", kind: KindValue, text: "6"},
		{name: "round half even", snippet: "result = round(2.5)", kind: KindValue, text: "2"},
		{name: "round digits", snippet: "result = round(3.14159, 2)", kind: KindValue, text: "3.14"},
		{name: "abs", snippet: "result = abs(-7)", kind: KindValue, text: "7"},
		{
			name:    "loop over rows",
			snippet: "big = [r[\"City\"] for r in df if r[\"Population\"] > 26000000]\nresult = \", \".join(big)",
			kind:    KindValue,
			text:    "Tokyo, Delhi",
		},
		{
			name:    "filtered_df",
			snippet: `filtered_df = df.filter("Population > 26000000")`,
			kind:    KindFilteredDataset,
			text:    "City,Population\nTokyo,37400068\nDelhi,28514000",
		},
		{
			name:    "result frame wins over print",
			snippet: "print('ignored')\nresult = df.sort_by(\"Population\").head(1)",
			kind:    KindFilteredDataset,
			text:    "City,Population\nParis,11000000",
		},
		{
			name:    "any frame global",
			snippet: `top = df.select("City").head(2)`,
			kind:    KindFilteredDataset,
			text:    "City\nTokyo\nDelhi",
		},
		{
			name:    "print frame",
			snippet: "print(df.head(1))",
			kind:    KindText,
			text:    "City,Population\nTokyo,37400068",
		},
	}

	sb := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sb.Run(context.Background(), tt.snippet, cities())
			require.Equal(t, tt.kind, res.Kind, "err: %v", res.Err)
			assert.Equal(t, tt.text, res.Text())
			assert.False(t, sb.Live())
		})
	}
}

func TestRunErrors(t *testing.T) {
	sb := New()

	t.Run("division by zero", func(t *testing.T) {
		res := sb.Run(context.Background(), "result = 1/0", cities())
		require.Equal(t, KindError, res.Kind)
		assert.Contains(t, res.Err.Error(), "division by zero")
		assert.False(t, sb.Live())
	})

	t.Run("syntax error", func(t *testing.T) {
		res := sb.Run(context.Background(), "result = (", cities())
		assert.Equal(t, KindError, res.Kind)
	})

	t.Run("missing column", func(t *testing.T) {
		res := sb.Run(context.Background(), `result = df["Country"]`, cities())
		require.Equal(t, KindError, res.Kind)
		assert.Contains(t, res.Err.Error(), "Country")
	})

	t.Run("bad filter", func(t *testing.T) {
		res := sb.Run(context.Background(), `filtered_df = df.filter("Country == 'JP'")`, cities())
		assert.Equal(t, KindError, res.Kind)
	})
}

func TestRunRejectsUnsafeSnippets(t *testing.T) {
	tests := []struct {
		name    string
		snippet string
		want    string
	}{
		{name: "load", snippet: `load("os.star", "system")`, want: "load"},
		{name: "dir", snippet: "result = dir(df)", want: "dir"},
		{name: "getattr", snippet: `result = getattr(df, "columns")`, want: "getattr"},
		{name: "fail", snippet: `fail("boom")`, want: "fail"},
	}

	sb := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sb.Run(context.Background(), tt.snippet, cities())
			require.Equal(t, KindError, res.Kind)
			var verr *ValidationError
			require.True(t, errors.As(res.Err, &verr), "got %v", res.Err)
			assert.Contains(t, verr.Msg, tt.want)
		})
	}
}

func TestRunAllowsShadowedAttributeNames(t *testing.T) {
	// Method and keyword names that collide with builtins are not builtin references.
	sb := New()
	res := sb.Run(context.Background(), `result = df.sort_by(column="Population", reverse=True).head(n=1)["City"][0]`, cities())
	require.Equal(t, KindValue, res.Kind, "err: %v", res.Err)
	assert.Equal(t, "Tokyo", res.Value)
}

func TestRunDoesNotMutateInput(t *testing.T) {
	ds := cities()
	sb := New()
	res := sb.Run(context.Background(), "rows = df.rows()\nrows[0][\"City\"] = \"X\"\nresult = rows[0][\"City\"]", ds)
	require.Equal(t, KindValue, res.Kind, "err: %v", res.Err)
	assert.Equal(t, "X", res.Value)

	v, err := ds.Value(0, "City")
	require.NoError(t, err)
	assert.Equal(t, "Tokyo", v)
}

func TestRunCancellation(t *testing.T) {
	spin := "def spin():\n    while True:\n        pass\n\nspin()"

	t.Run("timeout", func(t *testing.T) {
		sb := New(WithTimeout(50 * time.Millisecond))
		res := sb.Run(context.Background(), spin, cities())
		require.Equal(t, KindError, res.Kind)
		assert.Contains(t, res.Err.Error(), "cancelled")
		assert.False(t, sb.Live())
	})

	t.Run("caller context", func(t *testing.T) {
		sb := New(WithTimeout(0))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := sb.Run(ctx, spin, cities())
		require.Equal(t, KindError, res.Kind)
		assert.Contains(t, res.Err.Error(), "cancelled")
	})

	t.Run("step limit", func(t *testing.T) {
		sb := New(WithTimeout(0), WithMaxSteps(1000))
		res := sb.Run(context.Background(), spin, cities())
		require.Equal(t, KindError, res.Kind)
	})
}

func TestFrameMethods(t *testing.T) {
	tests := []struct {
		name    string
		snippet string
		want    string
	}{
		{name: "columns", snippet: "result = df.columns", want: `["City", "Population"]`},
		{name: "column", snippet: `result = df.column("City")[1]`, want: "Delhi"},
		{name: "row index", snippet: `result = df[-1]["City"]`, want: "Paris"},
		{name: "mean", snippet: `result = df.mean("Population") > 25000000`, want: "True"},
		{name: "unique", snippet: `result = len(df.unique("City"))`, want: "4"},
		{name: "count", snippet: "result = df.count()", want: "4"},
		{name: "value counts", snippet: `result = df.value_counts("City")["Tokyo"]`, want: "1"},
		{name: "to_csv", snippet: "result = df.head(1).to_csv()", want: "City,Population\nTokyo,37400068"},
		{name: "select list", snippet: `result = df.select(["Population", "City"]).columns[0]`, want: "Population"},
	}

	sb := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sb.Run(context.Background(), tt.snippet, cities())
			require.Equal(t, KindValue, res.Kind, "err: %v", res.Err)
			assert.Equal(t, tt.want, res.Value)
		})
	}
}

func TestRunNilDataset(t *testing.T) {
	res := New().Run(context.Background(), "result = len(df)", nil)
	require.Equal(t, KindValue, res.Kind)
	assert.Equal(t, "0", res.Value)
}
