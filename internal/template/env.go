package template

import (
	"io"
	"strconv"
)

// Locals are the block-local variable bindings of one render scope. The base
// scope's Locals are what a split render threads from phase to phase; they
// hold loop counters and the deferred-content buffer.
type Locals map[string]any

type scope struct {
	base    any
	hasBase bool
	locals  Locals
}

// Env is the mutable state of one template execution: the root value, the
// scope stack and the helper registry. An Env belongs to exactly one
// in-flight render; it is never shared between goroutines.
type Env struct {
	reg    *Registry
	root   any
	scopes []*scope
}

// NewEnv creates an execution environment rooted at root. locals seeds the
// base scope; passing the Locals taken from a previous phase resumes that
// phase's block-local state.
func NewEnv(reg *Registry, root any, locals Locals) *Env {
	if locals == nil {
		locals = Locals{}
	}
	return &Env{reg: reg, root: root, scopes: []*scope{{locals: locals}}}
}

// TakeLocals moves the base scope's locals out of the environment. The Env
// keeps an empty map so further use stays safe, but threading semantics
// belong to the caller from here on.
func (e *Env) TakeLocals() Locals {
	l := e.scopes[0].locals
	e.scopes[0].locals = Locals{}
	return l
}

// PushRow enters a row scope: the row becomes the current context value and
// row_index its zero-based position in this render.
func (e *Env) PushRow(row any, index int) {
	e.push(row, Locals{"row_index": int64(index)})
}

// PopRow leaves the scope entered by PushRow.
func (e *Env) PopRow() { e.pop() }

func (e *Env) push(base any, locals Locals) {
	if locals == nil {
		locals = Locals{}
	}
	e.scopes = append(e.scopes, &scope{base: base, hasBase: true, locals: locals})
}

func (e *Env) pop() {
	e.scopes = e.scopes[:len(e.scopes)-1]
}

// contexts returns the chain of context values: the root, then every scope
// that established its own base value, oldest first.
func (e *Env) contexts() []any {
	out := make([]any, 0, len(e.scopes)+1)
	out = append(out, e.root)
	for _, s := range e.scopes {
		if s.hasBase {
			out = append(out, s.base)
		}
	}
	return out
}

// lookupLocal finds a block-local variable, innermost scope first, so inner
// loops shadow outer ones.
func (e *Env) lookupLocal(name string) (any, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if v, ok := e.scopes[i].locals[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// resolvePath walks a dotted path starting parents levels above the current
// context. Missing steps resolve to nil, never an error.
func (e *Env) resolvePath(parents int, parts []string) any {
	ctxs := e.contexts()
	idx := len(ctxs) - 1 - parents
	if idx < 0 {
		return nil
	}
	cur := ctxs[idx]
	for _, p := range parts {
		if p == "this" || p == "." {
			continue
		}
		cur = step(cur, p)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func step(v any, key string) any {
	switch x := v.(type) {
	case map[string]any:
		return x[key]
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(x) {
			return nil
		}
		return x[i]
	default:
		return nil
	}
}

// delayedContents is the reserved local variable backing the deferred-content
// buffer. Templates address it only through the delay block and the
// flush_delayed helper.
const delayedContents = "_delayed_contents"

// queueDelayed appends rendered content to the outermost scope's deferred
// buffer, new content ahead of whatever was already queued, so flushing
// writes innermost-first.
func (e *Env) queueDelayed(content string) {
	base := e.scopes[0]
	old, _ := base.locals[delayedContents].(string)
	base.locals[delayedContents] = content + old
}

// flushDelayed writes every scope's deferred buffer to the output, innermost
// scope first, and clears them.
func (e *Env) flushDelayed(w io.Writer) error {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		s := e.scopes[i]
		if content, _ := s.locals[delayedContents].(string); content != "" {
			if _, err := io.WriteString(w, content); err != nil {
				return err
			}
			delete(s.locals, delayedContents)
		}
	}
	return nil
}
