package agent

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var errNoAction = errors.New("object has no action field")

// rawAction is the structured object the analyst prompt asks the model for.
type rawAction struct {
	Action        *string    `json:"action"`
	Code          string     `json:"code"`
	RowsFilter    string     `json:"rows_filter"`
	TargetColumns columnList `json:"target_columns"`
	Explain       string     `json:"explain"`
}

// columnList accepts a list of names, a single name, or null.
type columnList []string

func (c *columnList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*c = list
		return nil
	}
	var single string
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	if single = strings.TrimSpace(single); single != "" {
		*c = columnList{single}
	}
	return nil
}

// Interpret turns a raw model response into an Action.
//
// The first balanced {...} block is parsed as JSON. If that fails the block is
// repaired once (trailing commas, bare keys, single quotes) and parsed again.
// When no usable object is found the whole response, minus markdown fences,
// is treated as legacy code.
func Interpret(raw string) Action {
	if block, ok := extractObject(raw); ok {
		if act, err := parseAction(block); err == nil {
			return act
		}
		if act, err := parseAction(repairJSON(block)); err == nil {
			return act
		}
	}

	code := stripFences(raw)
	if code == "" {
		return UnrecognizedAction{}
	}
	return CodeAction{Code: code, Legacy: true}
}

func parseAction(block string) (Action, error) {
	var r rawAction
	if err := json.Unmarshal([]byte(block), &r); err != nil {
		return nil, err
	}
	if r.Action == nil || strings.TrimSpace(*r.Action) == "" {
		return nil, errNoAction
	}

	name := strings.ToLower(strings.TrimSpace(*r.Action))
	columns := []string(r.TargetColumns)
	code := strings.TrimSpace(r.Code)
	explain := strings.TrimSpace(r.Explain)

	switch name {
	case actionRows:
		return RowsAction{
			RowsFilter:    strings.TrimSpace(r.RowsFilter),
			Code:          code,
			TargetColumns: columns,
			Explain:       explain,
		}, nil
	case actionCode, actionAnswer:
		if code == "" {
			return AnswerAction{Explain: explain}, nil
		}
		return CodeAction{
			Code:          code,
			RowsFilter:    strings.TrimSpace(r.RowsFilter),
			TargetColumns: columns,
			Explain:       explain,
		}, nil
	default:
		return UnrecognizedAction{Action: name}, nil
	}
}

// extractObject returns the first balanced {...} block of s. Braces inside
// single- or double-quoted strings are ignored.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	bareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*):`)
	pythonLiteral = regexp.MustCompile(`\b(True|False|None)\b`)
)

// repairJSON fixes the usual ways models break JSON. Only text outside string
// literals is rewritten.
func repairJSON(block string) string {
	fixed := mapOutsideStrings(block, func(seg string) string {
		seg = trailingComma.ReplaceAllString(seg, "$1")
		seg = bareKey.ReplaceAllString(seg, `$1"$2"$3:`)
		return pythonLiteral.ReplaceAllStringFunc(seg, func(lit string) string {
			switch lit {
			case "True":
				return "true"
			case "False":
				return "false"
			}
			return "null"
		})
	})
	return normalizeQuotes(fixed)
}

// mapOutsideStrings applies fn to every stretch of s that is not inside a
// quoted string.
func mapOutsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	segStart := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '"' && s[i] != '\'' {
			continue
		}
		b.WriteString(fn(s[segStart:i]))
		end := skipString(s, i)
		b.WriteString(s[i:end])
		segStart = end
		i = end - 1
	}
	b.WriteString(fn(s[segStart:]))
	return b.String()
}

// skipString returns the index just past the string literal starting at i.
func skipString(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(s)
}

// normalizeQuotes rewrites single-quoted literals as double-quoted ones.
func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch quote {
		case 0:
			switch c {
			case '\'':
				quote = c
				b.WriteByte('"')
				continue
			case '"':
				quote = c
			}
			b.WriteByte(c)
		case '\'':
			switch c {
			case '\\':
				if i+1 < len(s) && s[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				b.WriteByte(c)
				if i+1 < len(s) {
					i++
					b.WriteByte(s[i])
				}
			case '"':
				b.WriteString(`\"`)
			case '\'':
				quote = 0
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				quote = 0
			}
		}
	}
	return b.String()
}

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)```")

// stripFences removes markdown code fences and a single wrapping backtick pair.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = ""
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

var importLine = regexp.MustCompile(`^\s*(import\s|from\s+\S+\s+import\s)`)

// PrepareCode strips fences and drops import lines, which the sandbox cannot
// honour.
func PrepareCode(code string) string {
	lines := strings.Split(stripFences(code), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if importLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

var (
	wholeIndex      = regexp.MustCompile(`^\s*df\[(.*)\]\s*$`)
	columnIndex     = regexp.MustCompile(`df\[(.*?)\]`)
	leadingQuoted   = regexp.MustCompile(`^'([^']+)'\s*==`)
	quotedOperand   = regexp.MustCompile(`'([^']+)'\s*([<>=!]=?)`)
	quotedEqualsRHS = regexp.MustCompile(`==\s*'([^']+)'`)
)

// CleanFilter rewrites pandas indexing in a row filter into plain column
// references: df[df['a'] > 1] becomes `a` > 1.
func CleanFilter(filter string) string {
	f := strings.TrimSpace(filter)
	if m := wholeIndex.FindStringSubmatch(f); m != nil && strings.Contains(m[1], "df[") {
		f = m[1]
	}
	f = columnIndex.ReplaceAllString(f, "${1}")
	f = leadingQuoted.ReplaceAllString(f, "`${1}` ==")
	f = quotedOperand.ReplaceAllString(f, "`${1}` ${2}")
	f = quotedEqualsRHS.ReplaceAllString(f, `== "${1}"`)
	return strings.TrimSpace(f)
}
