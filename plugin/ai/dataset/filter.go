package dataset

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// FilterError reports a row filter that could not be compiled or evaluated.
type FilterError struct {
	Expr string
	Err  error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid filter %q: %v", e.Expr, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

var filterEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		ext.Strings(),
	)
})

// Filter keeps the rows matching a boolean expression.
//
// The expression is CEL evaluated against a map named row. Pandas-style spellings
// are accepted and rewritten first: bare or backticked column names,
// df['col'] and df.col become row["col"]; and/or/not, &, | and ~ become CEL
// operators; True/False/None become true/false/null; .str.contains and friends
// become CEL string functions; x.isin([...]) becomes x in [...].
//
// A row whose evaluation fails is excluded. If every row fails the filter is
// reported as a FilterError, since it most likely references a missing column.
func (d *Dataset) Filter(expr string) (*Dataset, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &FilterError{Expr: expr, Err: errors.New("empty expression")}
	}

	env, err := filterEnv()
	if err != nil {
		return nil, &FilterError{Expr: expr, Err: err}
	}

	translated := TranslateFilter(expr, d.columns)
	ast, iss := env.Compile(translated)
	if iss != nil && iss.Err() != nil {
		return nil, &FilterError{Expr: expr, Err: iss.Err()}
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, &FilterError{Expr: expr, Err: err}
	}

	var kept [][]any
	var firstErr error
	failed := 0
	for _, row := range d.rows {
		vars := make(map[string]any, len(d.columns))
		for i, c := range d.columns {
			vars[c] = row[i]
		}
		out, _, err := prg.Eval(map[string]any{"row": vars})
		if err == nil {
			match, ok := out.Value().(bool)
			if !ok {
				err = fmt.Errorf("expression yields %v, not a boolean", out.Type())
			} else if match {
				r := make([]any, len(row))
				copy(r, row)
				kept = append(kept, r)
				continue
			} else {
				continue
			}
		}
		failed++
		if firstErr == nil {
			firstErr = err
		}
	}

	if len(d.rows) > 0 && failed == len(d.rows) {
		return nil, &FilterError{Expr: expr, Err: firstErr}
	}
	return newOwned(d.Columns(), kept), nil
}

type filterSegment struct {
	text  string
	final bool // already CEL, must not be rewritten
}

var (
	isNotNoneRe = regexp.MustCompile(`\bis\s+not\s+None\b`)
	isNoneRe    = regexp.MustCompile(`\bis\s+None\b`)
	isinRe      = regexp.MustCompile(`\.isin\(\s*(\[[^\]]*\])\s*\)`)
	andRe       = regexp.MustCompile(`\band\b`)
	orRe        = regexp.MustCompile(`\bor\b`)
	notRe       = regexp.MustCompile(`\bnot\b`)
	trueRe      = regexp.MustCompile(`\bTrue\b`)
	falseRe     = regexp.MustCompile(`\bFalse\b`)
	noneRe      = regexp.MustCompile(`\bNone\b`)
	ampRe       = regexp.MustCompile(`&+`)
	pipeRe      = regexp.MustCompile(`\|+`)
	placeholder = regexp.MustCompile(`\x00([0-9]+)\x00`)

	stringMethods = strings.NewReplacer(
		".str.contains(", ".contains(",
		".str.startswith(", ".startsWith(",
		".str.endswith(", ".endsWith(",
		".str.lower()", ".lowerAscii()",
		".str.upper()", ".upperAscii()",
		".str.strip()", ".trim()",
	)
)

// TranslateFilter rewrites a pandas-style filter into CEL over a row map.
func TranslateFilter(expr string, columns []string) string {
	columnSet := make(map[string]bool, len(columns))
	for _, c := range columns {
		columnSet[c] = true
	}

	segments := scanFilter(strings.TrimSpace(expr), columnSet)

	sorted := make([]string, len(columns))
	copy(sorted, columns)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, c := range sorted {
		segments = replaceColumn(segments, c)
	}

	var finals []string
	var sb strings.Builder
	for _, seg := range segments {
		if seg.final {
			sb.WriteString("\x00" + strconv.Itoa(len(finals)) + "\x00")
			finals = append(finals, seg.text)
			continue
		}
		sb.WriteString(seg.text)
	}

	out := sb.String()
	out = stringMethods.Replace(out)
	out = isinRe.ReplaceAllString(out, " in $1")
	out = isNotNoneRe.ReplaceAllString(out, "!= null")
	out = isNoneRe.ReplaceAllString(out, "== null")
	out = andRe.ReplaceAllString(out, "&&")
	out = orRe.ReplaceAllString(out, "||")
	out = notRe.ReplaceAllString(out, "!")
	out = trueRe.ReplaceAllString(out, "true")
	out = falseRe.ReplaceAllString(out, "false")
	out = noneRe.ReplaceAllString(out, "null")
	out = ampRe.ReplaceAllString(out, "&&")
	out = pipeRe.ReplaceAllString(out, "||")
	out = strings.ReplaceAll(out, "~", "!")

	return placeholder.ReplaceAllStringFunc(out, func(m string) string {
		i, _ := strconv.Atoi(m[1 : len(m)-1])
		return finals[i]
	})
}

// scanFilter splits an expression into code and protected pieces: string
// literals and explicit column references (df['x'], df.x, `x`).
func scanFilter(expr string, columns map[string]bool) []filterSegment {
	var segments []filterSegment
	var code strings.Builder
	flush := func() {
		if code.Len() > 0 {
			segments = append(segments, filterSegment{text: code.String()})
			code.Reset()
		}
	}
	emitColumn := func(name string) {
		flush()
		segments = append(segments, filterSegment{text: "row[" + strconv.Quote(name) + "]", final: true})
	}

	for i := 0; i < len(expr); {
		rest := expr[i:]

		if strings.HasPrefix(rest, "df[") && (i == 0 || !isWordByte(expr[i-1])) {
			j := 3
			for j < len(rest) && rest[j] == ' ' {
				j++
			}
			if j < len(rest) && (rest[j] == '\'' || rest[j] == '"') {
				if lit, n := readLiteral(rest[j:]); n > 0 {
					k := j + n
					for k < len(rest) && rest[k] == ' ' {
						k++
					}
					if k < len(rest) && rest[k] == ']' {
						if name, err := unquote(lit); err == nil {
							emitColumn(name)
							i += k + 1
							continue
						}
					}
				}
			}
		}

		if strings.HasPrefix(rest, "df.") && (i == 0 || !isWordByte(expr[i-1])) {
			j := 3
			for j < len(rest) && isWordByte(rest[j]) {
				j++
			}
			if name := rest[3:j]; columns[name] {
				emitColumn(name)
				i += j
				continue
			}
		}

		switch rest[0] {
		case '`':
			if end := strings.IndexByte(rest[1:], '`'); end >= 0 {
				emitColumn(rest[1 : end+1])
				i += end + 2
				continue
			}
		case '\'', '"':
			if lit, n := readLiteral(rest); n > 0 {
				flush()
				segments = append(segments, filterSegment{text: lit, final: true})
				i += n
				continue
			}
		}

		code.WriteByte(rest[0])
		i++
	}
	flush()
	return segments
}

// replaceColumn turns bare occurrences of a column name in code segments into row lookups.
func replaceColumn(segments []filterSegment, column string) []filterSegment {
	if column == "" {
		return segments
	}
	var out []filterSegment
	for _, seg := range segments {
		if seg.final {
			out = append(out, seg)
			continue
		}
		text := seg.text
		start := 0
		for {
			idx := strings.Index(text[start:], column)
			if idx < 0 {
				break
			}
			idx += start
			end := idx + len(column)
			before := idx == 0 || (!isWordByte(text[idx-1]) && text[idx-1] != '.')
			after := end == len(text) || !isWordByte(text[end])
			if !before || !after {
				start = idx + 1
				continue
			}
			if idx > 0 {
				out = append(out, filterSegment{text: text[:idx]})
			}
			out = append(out, filterSegment{text: "row[" + strconv.Quote(column) + "]", final: true})
			text = text[end:]
			start = 0
		}
		if text != "" {
			out = append(out, filterSegment{text: text})
		}
	}
	return out
}

// readLiteral returns the quoted literal at the start of s and its length, or 0 if unterminated.
func readLiteral(s string) (string, int) {
	quote := s[0]
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return s[:i+1], i + 1
		}
	}
	return "", 0
}

func unquote(lit string) (string, error) {
	if lit[0] == '\'' {
		inner := lit[1 : len(lit)-1]
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		lit = `"` + inner + `"`
	}
	return strconv.Unquote(lit)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || b >= 0x80
}
