package template

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
)

// expr is one evaluable expression inside a mustache.
type expr interface {
	eval(e *Env) (any, error)
}

type litExpr struct{ val any }

func (l litExpr) eval(*Env) (any, error) { return l.val, nil }

// pathExpr resolves a context path such as x, a.b, ../name or @row_index.
type pathExpr struct {
	parents int  // leading ../ hops
	local   bool // @name block-local lookup
	parts   []string
}

func (p pathExpr) eval(e *Env) (any, error) {
	if p.local {
		v, _ := e.lookupLocal(p.parts[0])
		return v, nil
	}
	return e.resolvePath(p.parents, p.parts), nil
}

// callExpr invokes a named helper with evaluated arguments.
type callExpr struct {
	helper string
	args   []expr
}

func (c callExpr) eval(e *Env) (any, error) {
	fn, ok := e.reg.value(c.helper)
	if !ok {
		return nil, fmt.Errorf("unknown helper %q", c.helper)
	}
	args, err := evalExprs(e, c.args)
	if err != nil {
		return nil, err
	}
	return fn(args)
}

func evalExprs(e *Env, exprs []expr) ([]any, error) {
	out := make([]any, len(exprs))
	for i, ex := range exprs {
		v, err := ex.eval(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// node is one rendering instruction of a compiled template.
type node interface {
	exec(e *Env, w io.Writer) error
}

type textNode []byte

func (t textNode) exec(_ *Env, w io.Writer) error {
	_, err := w.Write(t)
	return err
}

// varNode interpolates an expression. Escaped unless the source used the
// triple-stache form.
type varNode struct {
	expr expr
	raw  bool
}

func (v *varNode) exec(e *Env, w io.Writer) error {
	// Helpers that write positionally ({{flush_delayed}}, {{icon_img x}})
	// take precedence over context lookup for bare names and calls.
	name, args := "", []expr(nil)
	switch x := v.expr.(type) {
	case callExpr:
		name, args = x.helper, x.args
	case pathExpr:
		if x.parents == 0 && !x.local && len(x.parts) == 1 {
			name = x.parts[0]
		}
	}
	if name != "" {
		if fn, ok := e.reg.stream(name); ok {
			vals, err := evalExprs(e, args)
			if err != nil {
				return err
			}
			return fn(e, w, vals)
		}
	}
	val, err := v.expr.eval(e)
	if err != nil {
		return err
	}
	s := Stringify(val)
	if !v.raw {
		s = html.EscapeString(s)
	}
	_, err = io.WriteString(w, s)
	return err
}

// blockNode is a {{#helper}}...{{else}}...{{/helper}} section.
type blockNode struct {
	helper   string
	args     []expr
	body     []node
	elseBody []node
}

func (b *blockNode) exec(e *Env, w io.Writer) error {
	switch b.helper {
	case "if", "unless":
		v, err := b.arg0(e)
		if err != nil {
			return err
		}
		ok := truthy(v)
		if b.helper == "unless" {
			ok = !ok
		}
		if ok {
			return execAll(b.body, e, w)
		}
		return execAll(b.elseBody, e, w)
	case "each":
		return b.execEach(e, w)
	case "delay":
		var buf strings.Builder
		if err := execAll(b.body, e, &buf); err != nil {
			return err
		}
		e.queueDelayed(buf.String())
		return nil
	case "each_row":
		return fmt.Errorf("each_row is only valid at the top level of a component template")
	default:
		return fmt.Errorf("unknown block helper %q", b.helper)
	}
}

func (b *blockNode) arg0(e *Env) (any, error) {
	if len(b.args) == 0 {
		return nil, nil
	}
	return b.args[0].eval(e)
}

func (b *blockNode) execEach(e *Env, w io.Writer) error {
	v, err := b.arg0(e)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			break
		}
		for i, item := range x {
			e.push(item, Locals{
				"index": int64(i),
				"first": i == 0,
				"last":  i == len(x)-1,
			})
			err := execAll(b.body, e, w)
			e.pop()
			if err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if len(x) == 0 {
			break
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.push(x[k], Locals{"key": k})
			err := execAll(b.body, e, w)
			e.pop()
			if err != nil {
				return err
			}
		}
		return nil
	}
	return execAll(b.elseBody, e, w)
}

func execAll(nodes []node, e *Env, w io.Writer) error {
	for _, n := range nodes {
		if err := n.exec(e, w); err != nil {
			return err
		}
	}
	return nil
}
