package sqlparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/veneer/internal/request"
)

type rawStmt struct {
	text   string
	offset int
	err    error
}

// splitStatements cuts source on ; separators that sit outside quoted
// strings and comments. An unterminated string or block comment ends the
// file with an error entry for the trailing statement.
func splitStatements(src string) []rawStmt {
	var out []rawStmt
	start := 0
	i := 0
	n := len(src)
	for i < n {
		switch c := src[i]; {
		case c == '\'' || c == '"':
			end, ok := skipQuoted(src, i)
			if !ok {
				out = append(out, rawStmt{
					text:   src[start:],
					offset: start,
					err:    fmt.Errorf("unterminated string starting at offset %d", i),
				})
				return out
			}
			i = end
		case c == '-' && i+1 < n && src[i+1] == '-':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				out = append(out, rawStmt{
					text:   src[start:],
					offset: start,
					err:    fmt.Errorf("unterminated block comment starting at offset %d", i),
				})
				return out
			}
			i += 2 + end + 2
		case c == ';':
			out = append(out, rawStmt{text: src[start:i], offset: start})
			i++
			start = i
		default:
			i++
		}
	}
	if strings.TrimSpace(src[start:]) != "" {
		out = append(out, rawStmt{text: src[start:], offset: start})
	}
	return out
}

// skipQuoted returns the index just past a quoted region opening at i.
// SQL doubles the quote character to escape it.
func skipQuoted(src string, i int) (int, bool) {
	q := src[i]
	i++
	for i < len(src) {
		if src[i] == q {
			if i+1 < len(src) && src[i+1] == q {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return 0, false
}

// parseStatement classifies one raw statement. Empty and comment-only
// statements return nil.
func parseStatement(raw string, dialect Dialect) Statement {
	trimmed := strings.TrimSpace(stripLeading(raw))
	if trimmed == "" {
		return nil
	}
	target, expr, isSet, err := parseSet(trimmed)
	if err != nil {
		return ParseError{Err: err}
	}
	if isSet {
		value, err := rewrite("SELECT "+expr, dialect)
		if err != nil {
			return ParseError{Err: err}
		}
		return SetVariable{Target: target, Value: value}
	}
	stmt, err := rewrite(trimmed, dialect)
	if err != nil {
		return ParseError{Err: err}
	}
	if len(stmt.Params) == 0 {
		if row, ok := staticSelectRow(trimmed); ok {
			return StaticSelect{Row: row}
		}
	}
	return stmt
}

// parseSet recognizes `SET [$|:]name = expression`. Bare and $ names assign
// the GET-or-POST scope, : names the POST scope. Returns isSet=false when the
// statement does not start with the SET keyword.
func parseSet(s string) (target request.StmtParam, expr string, isSet bool, err error) {
	word, i := readIdent(s, 0)
	if !strings.EqualFold(word, "set") {
		return nil, "", false, nil
	}
	i = skipSpace(s, i)
	post := false
	if i < len(s) && (s[i] == '$' || s[i] == ':') {
		post = s[i] == ':'
		i++
	}
	if i >= len(s) || !isIdentStart(s[i]) {
		return nil, "", false, fmt.Errorf("expected a variable name after SET")
	}
	name, i := readIdent(s, i)
	i = skipSpace(s, i)
	if i >= len(s) || s[i] != '=' {
		return nil, "", false, fmt.Errorf("expected = after the variable name in SET %s", name)
	}
	expr = strings.TrimSpace(s[i+1:])
	if expr == "" {
		return nil, "", false, fmt.Errorf("SET %s has no value expression", name)
	}
	if post {
		return request.PostParam{Name: name}, expr, true, nil
	}
	return request.GetOrPostParam{Name: name}, expr, true, nil
}

// rewrite replaces $name, :name and veneer.* calls with the dialect's
// positional placeholders, collecting the matching parameter descriptors in
// bind order. Quoted strings and comments pass through untouched.
func rewrite(q string, dialect Dialect) (StmtWithParams, error) {
	var out strings.Builder
	out.Grow(len(q))
	var params []request.StmtParam
	i, n := 0, len(q)
	for i < n {
		c := q[i]
		switch {
		case c == '\'' || c == '"':
			end, ok := skipQuoted(q, i)
			if !ok {
				return StmtWithParams{}, fmt.Errorf("unterminated string starting at offset %d", i)
			}
			out.WriteString(q[i:end])
			i = end
		case c == '-' && i+1 < n && q[i+1] == '-':
			j := i
			for j < n && q[j] != '\n' {
				j++
			}
			out.WriteString(q[i:j])
			i = j
		case c == '/' && i+1 < n && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return StmtWithParams{}, fmt.Errorf("unterminated block comment starting at offset %d", i)
			}
			j := i + 2 + end + 2
			out.WriteString(q[i:j])
			i = j
		case c == '$' && i+1 < n && isIdentStart(q[i+1]):
			name, j := readIdent(q, i+1)
			params = append(params, request.GetOrPostParam{Name: name})
			out.WriteString(dialect.placeholder(len(params)))
			i = j
		case c == ':' && i+1 < n && isIdentStart(q[i+1]) && (i == 0 || q[i-1] != ':'):
			// :: is a cast, not a variable.
			name, j := readIdent(q, i+1)
			params = append(params, request.PostParam{Name: name})
			out.WriteString(dialect.placeholder(len(params)))
			i = j
		case isIdentStart(c):
			word, j := readIdent(q, i)
			if strings.EqualFold(word, "veneer") && j < n && q[j] == '.' {
				param, k, err := parsePseudoFunc(q, j+1)
				if err != nil {
					return StmtWithParams{}, err
				}
				params = append(params, param)
				out.WriteString(dialect.placeholder(len(params)))
				i = k
			} else {
				out.WriteString(word)
				i = j
			}
		default:
			out.WriteByte(c)
			i++
		}
	}
	return StmtWithParams{Query: out.String(), Params: params}, nil
}

// parsePseudoFunc reads a veneer.<fn>('arg') call with i positioned on the
// function name and maps it to a request parameter descriptor.
func parsePseudoFunc(q string, i int) (request.StmtParam, int, error) {
	name, j := readIdent(q, i)
	j = skipSpace(q, j)
	if j >= len(q) || q[j] != '(' {
		return nil, 0, fmt.Errorf("expected ( after veneer.%s", name)
	}
	j = skipSpace(q, j+1)
	arg := ""
	hasArg := false
	if j < len(q) && q[j] == '\'' {
		end, ok := skipQuoted(q, j)
		if !ok {
			return nil, 0, fmt.Errorf("unterminated string starting at offset %d", j)
		}
		arg = unquoteSQL(q[j:end])
		hasArg = true
		j = skipSpace(q, end)
	}
	if j >= len(q) || q[j] != ')' {
		return nil, 0, fmt.Errorf("the argument of veneer.%s must be a string literal", name)
	}
	j++
	fn := strings.ToLower(name)
	switch fn {
	case "cookie", "header", "environment_variable":
		if !hasArg {
			return nil, 0, fmt.Errorf("veneer.%s requires a name argument", fn)
		}
		switch fn {
		case "cookie":
			return request.CookieParam{Name: arg}, j, nil
		case "header":
			return request.HeaderParam{Name: arg}, j, nil
		default:
			return request.EnvParam{Name: arg}, j, nil
		}
	case "basic_auth_username", "basic_auth_password":
		if hasArg {
			return nil, 0, fmt.Errorf("veneer.%s takes no argument", fn)
		}
		if fn == "basic_auth_username" {
			return request.BasicAuthUsername{}, j, nil
		}
		return request.BasicAuthPassword{}, j, nil
	default:
		return nil, 0, fmt.Errorf("unknown function veneer.%s", name)
	}
}

// staticSelectRow recognizes `SELECT <literal> AS <ident>, ...` with only
// literal projections and computes the row at parse time.
func staticSelectRow(s string) (map[string]any, bool) {
	word, i := readIdent(s, 0)
	if !strings.EqualFold(word, "select") {
		return nil, false
	}
	row := map[string]any{}
	for {
		i = skipSpace(s, i)
		val, j, ok := readLiteral(s, i)
		if !ok {
			return nil, false
		}
		i = skipSpace(s, j)
		kw, j2 := readIdent(s, i)
		if !strings.EqualFold(kw, "as") {
			return nil, false
		}
		i = skipSpace(s, j2)
		var col string
		switch {
		case i < len(s) && (s[i] == '"' || s[i] == '\''):
			end, ok := skipQuoted(s, i)
			if !ok {
				return nil, false
			}
			col = unquoteSQL(s[i:end])
			i = end
		case i < len(s) && isIdentStart(s[i]):
			col, i = readIdent(s, i)
		default:
			return nil, false
		}
		row[col] = val
		i = skipSpace(s, i)
		if i >= len(s) {
			return row, true
		}
		if s[i] != ',' {
			return nil, false
		}
		i++
	}
}

// readLiteral reads a string, number, boolean or NULL literal.
func readLiteral(s string, i int) (any, int, bool) {
	if i >= len(s) {
		return nil, 0, false
	}
	switch c := s[i]; {
	case c == '\'':
		end, ok := skipQuoted(s, i)
		if !ok {
			return nil, 0, false
		}
		return unquoteSQL(s[i:end]), end, true
	case c == '-' || c >= '0' && c <= '9':
		j := i
		if c == '-' {
			j++
		}
		digits := j
		for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
			j++
		}
		if j == digits {
			return nil, 0, false
		}
		text := s[i:j]
		if strings.Contains(text, ".") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, 0, false
			}
			return f, j, true
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, 0, false
		}
		return v, j, true
	case isIdentStart(c):
		word, j := readIdent(s, i)
		switch strings.ToLower(word) {
		case "true":
			return true, j, true
		case "false":
			return false, j, true
		case "null":
			return nil, j, true
		}
		return nil, 0, false
	}
	return nil, 0, false
}

// stripLeading removes whitespace and comments ahead of the first token so
// classification sees the statement keyword.
func stripLeading(s string) string {
	i := 0
	n := len(s)
	for i < n {
		switch {
		case s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r':
			i++
		case s[i] == '-' && i+1 < n && s[i+1] == '-':
			for i < n && s[i] != '\n' {
				i++
			}
		case s[i] == '/' && i+1 < n && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return s[i:]
			}
			i += 2 + end + 2
		default:
			return s[i:]
		}
	}
	return ""
}

// unquoteSQL strips the surrounding quotes and collapses doubled quote
// characters.
func unquoteSQL(s string) string {
	q := s[0]
	inner := s[1 : len(s)-1]
	return strings.ReplaceAll(inner, string([]byte{q, q}), string(q))
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func readIdent(s string, i int) (string, int) {
	j := i
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	return s[i:j], j
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}
