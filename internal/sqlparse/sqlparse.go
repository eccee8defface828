// Package sqlparse turns a SQL source file into an ordered list of
// executable statements. Named variables ($name, :name) and veneer.*
// pseudo-function calls are rewritten to the target dialect's positional
// placeholders with a parallel list of parameter descriptors, SET statements
// become variable assignments, and constant selects are precomputed so
// execution can skip the database round trip.
package sqlparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/veneer/internal/request"
)

// Dialect selects the positional placeholder syntax named variables are
// rewritten to.
type Dialect int

const (
	// SQLite binds with ? placeholders.
	SQLite Dialect = iota
	// Postgres binds with $1..$N placeholders.
	Postgres
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// File is one parsed SQL file: the statements in source order.
type File struct {
	Name       string
	Statements []Statement
}

// Statement is one parsed statement, ready for the executor. The set of
// implementations is closed: StmtWithParams, SetVariable, StaticSelect and
// ParseError.
type Statement interface{ statement() }

// StmtWithParams is a regular statement with positional placeholders and the
// ordered parameter descriptors to bind before execution.
type StmtWithParams struct {
	Query  string
	Params []request.StmtParam
}

// SetVariable assigns the first column of the first row returned by Value to
// the Target variable. No rows clears the variable.
type SetVariable struct {
	Target request.StmtParam
	Value  StmtWithParams
}

// StaticSelect is a constant statement whose single row was computed at parse
// time. The executor emits the row without touching the database.
type StaticSelect struct {
	Row map[string]any
}

// ParseError is a statement that could not be parsed. Executing it reports
// the error in-page; the rest of the file still runs.
type ParseError struct {
	Err error
}

func (StmtWithParams) statement() {}
func (SetVariable) statement()    {}
func (StaticSelect) statement()   {}
func (ParseError) statement()     {}

// Split returns the raw statement texts of source in order, comment-only
// and empty statements dropped, without any placeholder rewriting. Migration
// files go through this path since they bind no request data.
func Split(source string) ([]string, error) {
	var out []string
	for _, raw := range splitStatements(source) {
		if raw.err != nil {
			return nil, fmt.Errorf("statement %d: %w", len(out)+1, raw.err)
		}
		text := strings.TrimSpace(stripLeading(raw.text))
		if text == "" {
			continue
		}
		out = append(out, text)
	}
	return out, nil
}

// Parse splits source into statements and prepares each one for execution.
// A statement that fails to parse yields a ParseError entry in its place;
// later statements are unaffected.
func Parse(name, source string, dialect Dialect) *File {
	f := &File{Name: name}
	for _, raw := range splitStatements(source) {
		n := len(f.Statements) + 1
		if raw.err != nil {
			f.Statements = append(f.Statements, ParseError{
				Err: fmt.Errorf("%s: statement %d: %w", name, n, raw.err),
			})
			continue
		}
		stmt := parseStatement(raw.text, dialect)
		if stmt == nil {
			continue
		}
		if pe, ok := stmt.(ParseError); ok {
			pe.Err = fmt.Errorf("%s: statement %d (offset %d): %w", name, n, raw.offset, pe.Err)
			stmt = pe
		}
		f.Statements = append(f.Statements, stmt)
	}
	return f
}
