package template

import (
	"fmt"
	"strconv"
	"strings"
)

type tagKind int

const (
	tagVar tagKind = iota
	tagRaw
	tagComment
	tagBlockOpen
	tagBlockClose
)

type parser struct {
	src string
	pos int
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf(format+" at offset %d", append(args, p.pos)...)
}

// parseSequence consumes nodes until EOF, an {{else}} separator or a block
// close tag. term is "" at EOF, "else", or the closed block's helper name.
func (p *parser) parseSequence() (nodes []node, term string, err error) {
	for p.pos < len(p.src) {
		rel := strings.Index(p.src[p.pos:], "{{")
		if rel < 0 {
			nodes = append(nodes, textNode(p.src[p.pos:]))
			p.pos = len(p.src)
			return nodes, "", nil
		}
		if rel > 0 {
			nodes = append(nodes, textNode(p.src[p.pos:p.pos+rel]))
			p.pos += rel
		}
		kind, content, err := p.readTag()
		if err != nil {
			return nil, "", err
		}
		switch kind {
		case tagComment:
			// dropped
		case tagVar, tagRaw:
			if kind == tagVar && strings.TrimSpace(content) == "else" {
				return nodes, "else", nil
			}
			ex, err := parseMustache(content)
			if err != nil {
				return nil, "", p.errf("%v", err)
			}
			nodes = append(nodes, &varNode{expr: ex, raw: kind == tagRaw})
		case tagBlockOpen:
			name, args, err := parseBlockHead(content)
			if err != nil {
				return nil, "", p.errf("%v", err)
			}
			body, elseBody, err := p.parseBlockBody(name)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, &blockNode{helper: name, args: args, body: body, elseBody: elseBody})
		case tagBlockClose:
			return nodes, strings.TrimSpace(content), nil
		}
	}
	return nodes, "", nil
}

func (p *parser) parseBlockBody(name string) (body, elseBody []node, err error) {
	body, term, err := p.parseSequence()
	if err != nil {
		return nil, nil, err
	}
	if term == "else" {
		elseBody, term, err = p.parseSequence()
		if err != nil {
			return nil, nil, err
		}
	}
	if term != name {
		return nil, nil, p.errf("unclosed block %q", name)
	}
	return body, elseBody, nil
}

// readTag is called with p.pos on "{{" and consumes through the closing
// braces, returning the tag kind and inner content.
func (p *parser) readTag() (tagKind, string, error) {
	rest := p.src[p.pos:]
	switch {
	case strings.HasPrefix(rest, "{{{"):
		end := strings.Index(rest, "}}}")
		if end < 0 {
			return 0, "", p.errf("unterminated {{{ tag")
		}
		content := rest[3:end]
		p.pos += end + 3
		return tagRaw, content, nil
	case strings.HasPrefix(rest, "{{!--"):
		end := strings.Index(rest, "--}}")
		if end < 0 {
			return 0, "", p.errf("unterminated comment")
		}
		p.pos += end + 4
		return tagComment, "", nil
	}
	end := strings.Index(rest, "}}")
	if end < 0 {
		return 0, "", p.errf("unterminated tag")
	}
	content := rest[2:end]
	p.pos += end + 2
	switch {
	case strings.HasPrefix(content, "!"):
		return tagComment, "", nil
	case strings.HasPrefix(content, "#"):
		return tagBlockOpen, content[1:], nil
	case strings.HasPrefix(content, "/"):
		return tagBlockClose, content[1:], nil
	case strings.HasPrefix(content, ">"):
		return 0, "", p.errf("partials are not supported")
	case strings.HasPrefix(content, "^"):
		return 0, "", p.errf("inverse sections are not supported, use {{#unless}}")
	}
	return tagVar, content, nil
}

// parseMustache parses the inside of {{...}}: a single expression, or a
// helper call when multiple tokens are present.
func parseMustache(content string) (expr, error) {
	toks, err := splitExprTokens(content)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	if len(toks) == 1 {
		return parseExprToken(toks[0])
	}
	return parseCall(toks)
}

func parseBlockHead(content string) (string, []expr, error) {
	toks, err := splitExprTokens(content)
	if err != nil {
		return "", nil, err
	}
	if len(toks) == 0 {
		return "", nil, fmt.Errorf("missing block helper name")
	}
	if !isIdent(toks[0]) {
		return "", nil, fmt.Errorf("invalid block helper name %q", toks[0])
	}
	args := make([]expr, 0, len(toks)-1)
	for _, t := range toks[1:] {
		ex, err := parseExprToken(t)
		if err != nil {
			return "", nil, err
		}
		args = append(args, ex)
	}
	return toks[0], args, nil
}

func parseCall(toks []string) (expr, error) {
	if !isIdent(toks[0]) {
		return nil, fmt.Errorf("invalid helper name %q", toks[0])
	}
	args := make([]expr, 0, len(toks)-1)
	for _, t := range toks[1:] {
		ex, err := parseExprToken(t)
		if err != nil {
			return nil, err
		}
		args = append(args, ex)
	}
	return callExpr{helper: toks[0], args: args}, nil
}

// splitExprTokens splits expression content on whitespace, keeping quoted
// strings and parenthesized sub-expressions intact.
func splitExprTokens(s string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			depth := 0
			j := i
			for ; j < len(s); j++ {
				switch s[j] {
				case '(':
					depth++
				case ')':
					depth--
				case '\'', '"':
					k, err := skipString(s, j)
					if err != nil {
						return nil, err
					}
					j = k
				}
				if depth == 0 {
					j++
					break
				}
			}
			if depth != 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", s)
			}
			toks = append(toks, s[i:j])
			i = j
		case c == '\'' || c == '"':
			j, err := skipString(s, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, s[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n\r()", rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks, nil
}

// skipString returns the index of the closing quote matching the one at
// start, honoring backslash escapes.
func skipString(s string, start int) (int, error) {
	q := s[start]
	for j := start + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j, nil
		}
	}
	return 0, fmt.Errorf("unterminated string in %q", s)
}

func parseExprToken(tok string) (expr, error) {
	switch {
	case tok == "":
		return nil, fmt.Errorf("empty expression token")
	case tok[0] == '(':
		if tok[len(tok)-1] != ')' {
			return nil, fmt.Errorf("malformed sub-expression %q", tok)
		}
		toks, err := splitExprTokens(tok[1 : len(tok)-1])
		if err != nil {
			return nil, err
		}
		if len(toks) == 0 {
			return nil, fmt.Errorf("empty sub-expression")
		}
		return parseCall(toks)
	case tok[0] == '\'' || tok[0] == '"':
		return litExpr{val: unquote(tok)}, nil
	case tok == "true":
		return litExpr{val: true}, nil
	case tok == "false":
		return litExpr{val: false}, nil
	case tok == "null":
		return litExpr{val: nil}, nil
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return litExpr{val: n}, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return litExpr{val: f}, nil
	}
	return parsePath(tok)
}

func parsePath(tok string) (expr, error) {
	p := pathExpr{}
	rest := tok
	for strings.HasPrefix(rest, "../") {
		p.parents++
		rest = rest[3:]
	}
	if strings.HasPrefix(rest, "@") {
		name := rest[1:]
		if !isIdent(name) {
			return nil, fmt.Errorf("invalid local variable reference %q", tok)
		}
		return pathExpr{local: true, parts: []string{name}}, nil
	}
	if rest == "" || rest == "." || rest == "this" {
		p.parts = []string{"this"}
		return p, nil
	}
	parts := strings.FieldsFunc(rest, func(r rune) bool { return r == '.' || r == '/' })
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid path %q", tok)
	}
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("invalid path %q", tok)
		}
	}
	p.parts = parts
	return p, nil
}

func unquote(tok string) string {
	inner := tok[1 : len(tok)-1]
	if !strings.ContainsRune(inner, '\\') {
		return inner
	}
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
