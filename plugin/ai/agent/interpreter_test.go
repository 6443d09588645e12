package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpret(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Action
	}{
		{
			name: "rows inside prose",
			raw:  `Sure! Here is the action: {"action":"rows","rows_filter":"x == 1","target_columns":["x"]} Let me know if you need more.`,
			want: RowsAction{RowsFilter: "x == 1", TargetColumns: []string{"x"}},
		},
		{
			name: "trailing comma and bare keys",
			raw:  `{action: "code", code: "result = 1",}`,
			want: CodeAction{Code: "result = 1"},
		},
		{
			name: "single quoted strings",
			raw:  `{'action': 'code', 'code': 'result = df.filter("x > 1")'}`,
			want: CodeAction{Code: `result = df.filter("x > 1")`},
		},
		{
			name: "braces inside strings",
			raw:  `Output: {"action": "code", "code": "result = {'a': 1}['a']", "explain": "uses a {dict}"} done`,
			want: CodeAction{Code: "result = {'a': 1}['a']", Explain: "uses a {dict}"},
		},
		{
			name: "python literals",
			raw:  `{"action": "rows", "rows_filter": "flag == True", "target_columns": None}`,
			want: RowsAction{RowsFilter: "flag == True"},
		},
		{
			name: "target columns as a single string",
			raw:  `{"action": "rows", "rows_filter": "a > 1", "target_columns": "a"}`,
			want: RowsAction{RowsFilter: "a > 1", TargetColumns: []string{"a"}},
		},
		{
			name: "rows with inline csv",
			raw:  `{"action": "rows", "code": "City\nRome"}`,
			want: RowsAction{Code: "City\nRome"},
		},
		{
			name: "code action keeps filter and columns",
			raw:  `{"action": "code", "code": "result = len(df)", "rows_filter": "a > 1", "target_columns": ["a", "b"], "explain": "count"}`,
			want: CodeAction{Code: "result = len(df)", RowsFilter: "a > 1", TargetColumns: []string{"a", "b"}, Explain: "count"},
		},
		{
			name: "answer",
			raw:  `{"action": "answer", "explain": "Tokyo is the largest."}`,
			want: AnswerAction{Explain: "Tokyo is the largest."},
		},
		{
			name: "answer with code runs the code",
			raw:  `{"action": "answer", "code": "result = 4"}`,
			want: CodeAction{Code: "result = 4"},
		},
		{
			name: "code action without code",
			raw:  `{"action": "code", "explain": "Nothing to compute."}`,
			want: AnswerAction{Explain: "Nothing to compute."},
		},
		{
			name: "action is case insensitive",
			raw:  `{"action": "ROWS", "rows_filter": "a > 1"}`,
			want: RowsAction{RowsFilter: "a > 1"},
		},
		{
			name: "unknown action",
			raw:  `{"action": "chart"}`,
			want: UnrecognizedAction{Action: "chart"},
		},
		{
			name: "fenced legacy code",
			raw:  "Here you go:\n```python\nresult = len(df)\n```\nHope it helps.",
			want: CodeAction{Code: "result = len(df)", Legacy: true},
		},
		{
			name: "plain legacy code",
			raw:  "result = 2 + 2",
			want: CodeAction{Code: "result = 2 + 2", Legacy: true},
		},
		{
			name: "single backticks",
			raw:  "`result = 1`",
			want: CodeAction{Code: "result = 1", Legacy: true},
		},
		{
			name: "object without action is code",
			raw:  `result = {"a": 1}["a"]`,
			want: CodeAction{Code: `result = {"a": 1}["a"]`, Legacy: true},
		},
		{
			name: "unbalanced object",
			raw:  `{"action": "code"`,
			want: CodeAction{Code: `{"action": "code"`, Legacy: true},
		},
		{
			name: "empty response",
			raw:  "  \n ",
			want: UnrecognizedAction{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpret(tt.raw))
		})
	}
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"none", "no braces here", "", false},
		{"nested", `x {"a": {"b": 1}} {"c": 2}`, `{"a": {"b": 1}}`, true},
		{"escaped quote", `{"a": "say \"}\""}`, `{"a": "say \"}\""}`, true},
		{"single quoted brace", `{'a': '}'}`, `{'a': '}'}`, true},
		{"never closes", `{"a": 1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractObject(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepairJSONLeavesStringsAlone(t *testing.T) {
	got := repairJSON(`{note: "a, b: c, True", list: [1, 2,],}`)
	assert.Equal(t, `{"note": "a, b: c, True", "list": [1, 2]}`, got)
}

func TestPrepareCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"plain", "result = 1", "result = 1"},
		{"imports", "import pandas as pd\nfrom math import sqrt\nresult = 1", "result = 1"},
		{"fenced", "```python\nimport os\nresult = len(df)\n```", "result = len(df)"},
		{"keeps names containing import", "important = 1\nresult = important", "important = 1\nresult = important"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrepareCode(tt.code))
		})
	}
}

func TestCleanFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   string
	}{
		{"plain", "Population > 5", "Population > 5"},
		{"boolean index", "df[df['Population'] > 5000000]", "`Population` > 5000000"},
		{"column index", "df['City'] == 'Paris'", "`City` == \"Paris\""},
		{"quoted column", "'Primary Use Case' == 'Image Generation'", "`Primary Use Case` == \"Image Generation\""},
		{"two conditions", "'a' > 1 and 'b' <= 2", "`a` > 1 and `b` <= 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanFilter(tt.filter))
		})
	}
}
