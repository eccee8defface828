package database

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"strings"

	"github.com/agentic-research/veneer/internal/request"
	"github.com/agentic-research/veneer/internal/sqlparse"
)

// Stream executes file's statements in order and returns the item stream.
// The channel is unbuffered, so execution advances only as fast as the
// consumer reads; cancelling ctx abandons the remaining statements. The
// first statement that needs the database lazily dedicates one pooled
// connection, returned when the stream ends.
func (d *Database) Stream(ctx context.Context, file *sqlparse.File, info *request.Info) <-chan DbItem {
	out := make(chan DbItem)
	s := &streamer{
		ctx: ctx,
		// Statements already in flight run to completion even if the
		// client goes away; their results are simply discarded.
		dbctx: context.WithoutCancel(ctx),
		db:    d,
		info:  info,
		out:   out,
	}
	go func() {
		defer close(out)
		defer s.release()
		s.run(file)
	}()
	return out
}

type streamer struct {
	ctx   context.Context
	dbctx context.Context
	db    *Database
	info  *request.Info
	out   chan<- DbItem
	conn  *sql.Conn
}

func (s *streamer) run(file *sqlparse.File) {
	for _, stmt := range file.Statements {
		switch stmt := stmt.(type) {
		case sqlparse.StaticSelect:
			// Constant rows bypass the driver and produce no
			// FinishedQuery marker.
			if !s.emit(Row{Data: maps.Clone(stmt.Row)}) {
				return
			}
		case sqlparse.ParseError:
			if !s.emit(Error{Err: stmt.Err}) {
				return
			}
		case sqlparse.SetVariable:
			if err := s.setVariable(stmt); err != nil {
				s.emit(Error{Err: err})
				return
			}
		case sqlparse.StmtWithParams:
			if !s.query(stmt) {
				return
			}
		}
	}
}

// emit delivers one item, reporting false when the consumer is gone.
func (s *streamer) emit(item DbItem) bool {
	select {
	case s.out <- item:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *streamer) takeConn() (*sql.Conn, error) {
	if s.conn == nil {
		conn, err := s.db.takeConn(s.ctx)
		if err != nil {
			return nil, err
		}
		s.conn = conn
	}
	return s.conn, nil
}

func (s *streamer) release() {
	if s.conn != nil {
		_ = s.conn.Close() // hands the connection back to the pool
		s.conn = nil
	}
}

// query runs one regular statement, emitting its rows as they arrive and a
// FinishedQuery marker per result set. A driver error ends this statement
// but not the list; a binding or connection failure ends the list. Returns
// false when the stream must stop.
func (s *streamer) query(stmt sqlparse.StmtWithParams) bool {
	args, err := s.bind(stmt.Params)
	if err != nil {
		s.emit(Error{Err: err})
		return false
	}
	conn, err := s.takeConn()
	if err != nil {
		s.emit(Error{Err: err})
		return false
	}
	rows, err := conn.QueryContext(s.dbctx, stmt.Query, args...)
	if err != nil {
		return s.emit(Error{Err: wrapQueryErr(err, stmt.Query)})
	}
	defer func() { _ = rows.Close() }()
	for {
		cols, err := rows.ColumnTypes()
		if err != nil {
			return s.emit(Error{Err: wrapQueryErr(err, stmt.Query)})
		}
		for rows.Next() {
			cells, err := scanCells(rows, cols)
			if err != nil {
				return s.emit(Error{Err: wrapQueryErr(err, stmt.Query)})
			}
			data := make(map[string]any, len(cols))
			for i, col := range cols {
				data[col.Name()] = cells[i]
			}
			if !s.emit(Row{Data: data}) {
				return false
			}
		}
		if err := rows.Err(); err != nil {
			return s.emit(Error{Err: wrapQueryErr(err, stmt.Query)})
		}
		if !s.emit(FinishedQuery{}) {
			return false
		}
		if !rows.NextResultSet() {
			if err := rows.Err(); err != nil {
				return s.emit(Error{Err: wrapQueryErr(err, stmt.Query)})
			}
			return true
		}
	}
}

// setVariable executes the value query and stores the first column of its
// first row into the target variable scope. No rows clears the variable.
func (s *streamer) setVariable(stmt sqlparse.SetVariable) error {
	args, err := s.bind(stmt.Value.Params)
	if err != nil {
		return err
	}
	conn, err := s.takeConn()
	if err != nil {
		return err
	}
	rows, err := conn.QueryContext(s.dbctx, stmt.Value.Query, args...)
	if err != nil {
		return wrapQueryErr(err, stmt.Value.Query)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return wrapQueryErr(err, stmt.Value.Query)
		}
		return s.info.ClearVar(stmt.Target)
	}
	value, err := scanVariable(rows)
	if err != nil {
		return wrapQueryErr(err, stmt.Value.Query)
	}
	return s.info.SetVar(stmt.Target, value)
}

// bind resolves the statement's parameters from the request. A nil
// resolution binds SQL NULL.
func (s *streamer) bind(params []request.StmtParam) ([]any, error) {
	args := make([]any, 0, len(params))
	for _, p := range params {
		v, err := request.Resolve(p, s.info)
		if err != nil {
			return nil, err
		}
		if v == nil {
			args = append(args, nil)
		} else {
			args = append(args, *v)
		}
	}
	return args, nil
}

func wrapQueryErr(err error, query string) error {
	return fmt.Errorf("failed to execute SQL statement:\n%s: %w", strings.TrimSpace(query), err)
}
