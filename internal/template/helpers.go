package template

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/ohler55/ojg/oj"
)

// ValueFunc computes a helper result from already-evaluated arguments.
type ValueFunc func(args []any) (any, error)

// StreamFunc writes directly to the output stream. Used by helpers whose
// effect is positional rather than a value: deferred flushes, asset tags,
// raw JSON embedding.
type StreamFunc func(e *Env, w io.Writer, args []any) error

// Registry maps helper names to implementations. One registry is built at
// startup and shared read-only by every render.
type Registry struct {
	values  map[string]ValueFunc
	streams map[string]StreamFunc
}

func NewRegistry() *Registry {
	return &Registry{
		values:  map[string]ValueFunc{},
		streams: map[string]StreamFunc{},
	}
}

func (r *Registry) RegisterValue(name string, fn ValueFunc)   { r.values[name] = fn }
func (r *Registry) RegisterStream(name string, fn StreamFunc) { r.streams[name] = fn }

func (r *Registry) value(name string) (ValueFunc, bool) {
	fn, ok := r.values[name]
	return fn, ok
}

func (r *Registry) stream(name string) (StreamFunc, bool) {
	fn, ok := r.streams[name]
	return fn, ok
}

// DefaultRegistry returns a registry holding the full builtin helper set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterValue("default", defaultHelper)
	r.RegisterValue("entries", entriesHelper)
	r.RegisterValue("stringify", stringifyHelper)
	r.RegisterValue("parse_json", parseJSONHelper)
	r.RegisterValue("to_array", toArrayHelper)
	r.RegisterValue("array_contains", arrayContainsHelper)
	r.RegisterValue("starts_with", startsWithHelper)
	r.RegisterValue("typeof", typeofHelper)
	r.RegisterValue("plus", plusHelper)
	r.RegisterValue("minus", minusHelper)
	r.RegisterValue("sum", sumHelper)
	r.RegisterValue("eq", eqHelper)
	r.RegisterValue("rfc2822_date", rfc2822DateHelper)
	r.RegisterValue("static_path", staticPathHelper)
	r.RegisterStream("flush_delayed", flushDelayedHelper)
	r.RegisterStream("icon_img", iconImgHelper)
	r.RegisterStream("json", jsonStreamHelper)
	return r
}

func needArgs(name string, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func defaultHelper(args []any) (any, error) {
	if err := needArgs("default", args, 2); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return args[1], nil
	}
	return args[0], nil
}

// entriesHelper turns an object into a sorted {key, value} list and an array
// into an {index, value} list, so templates can iterate unknown columns.
func entriesHelper(args []any) (any, error) {
	if err := needArgs("entries", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, map[string]any{"key": k, "value": x[k]})
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(x))
		for i, v := range x {
			out = append(out, map[string]any{"key": int64(i), "value": v})
		}
		return out, nil
	default:
		return []any{}, nil
	}
}

func stringifyHelper(args []any) (any, error) {
	if err := needArgs("stringify", args, 1); err != nil {
		return nil, err
	}
	b, err := json.Marshal(args[0])
	if err != nil {
		return nil, fmt.Errorf("stringify: %w", err)
	}
	return string(b), nil
}

func parseJSONHelper(args []any) (any, error) {
	if err := needArgs("parse_json", args, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("parse_json: expected a string, got %s", typeName(args[0]))
	}
	v, err := oj.ParseString(s)
	if err != nil {
		return nil, fmt.Errorf("parse_json: %w", err)
	}
	return v, nil
}

func toArrayHelper(args []any) (any, error) {
	if err := needArgs("to_array", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case nil:
		return []any{}, nil
	case []any:
		return x, nil
	default:
		return []any{x}, nil
	}
}

func arrayContainsHelper(args []any) (any, error) {
	if err := needArgs("array_contains", args, 2); err != nil {
		return nil, err
	}
	arr, ok := args[0].([]any)
	if !ok {
		return false, nil
	}
	for _, v := range arr {
		if looseEq(v, args[1]) {
			return true, nil
		}
	}
	return false, nil
}

func startsWithHelper(args []any) (any, error) {
	if err := needArgs("starts_with", args, 2); err != nil {
		return nil, err
	}
	return strings.HasPrefix(Stringify(args[0]), Stringify(args[1])), nil
}

func typeofHelper(args []any) (any, error) {
	if err := needArgs("typeof", args, 1); err != nil {
		return nil, err
	}
	return typeName(args[0]), nil
}

func plusHelper(args []any) (any, error)  { return arith("plus", args, 1) }
func minusHelper(args []any) (any, error) { return arith("minus", args, -1) }

func arith(name string, args []any, sign float64) (any, error) {
	if err := needArgs(name, args, 2); err != nil {
		return nil, err
	}
	a, ok := coerceNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: %s is not a number", name, Stringify(args[0]))
	}
	b, ok := coerceNumber(args[1])
	if !ok {
		return nil, fmt.Errorf("%s: %s is not a number", name, Stringify(args[1]))
	}
	res := a + sign*b
	if isInteger(args[0]) && isInteger(args[1]) {
		return int64(res), nil
	}
	return res, nil
}

func sumHelper(args []any) (any, error) {
	var total float64
	allInt := true
	for _, a := range args {
		if a == nil {
			continue
		}
		f, ok := coerceNumber(a)
		if !ok {
			return nil, fmt.Errorf("sum: %s is not a number", Stringify(a))
		}
		if !isInteger(a) {
			allInt = false
		}
		total += f
	}
	if allInt {
		return int64(total), nil
	}
	return total, nil
}

func eqHelper(args []any) (any, error) {
	if err := needArgs("eq", args, 2); err != nil {
		return nil, err
	}
	return looseEq(args[0], args[1]), nil
}

// rfc2822DateHelper formats an RFC 3339 timestamp or a unix epoch for
// display in feeds and mail-style headers.
func rfc2822DateHelper(args []any) (any, error) {
	if err := needArgs("rfc2822_date", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case string:
		t, err := time.Parse(time.RFC3339, x)
		if err != nil {
			return nil, fmt.Errorf("rfc2822_date: %w", err)
		}
		return t.Format(time.RFC1123Z), nil
	case int64:
		return time.Unix(x, 0).UTC().Format(time.RFC1123Z), nil
	case float64:
		return time.Unix(int64(x), 0).UTC().Format(time.RFC1123Z), nil
	default:
		return nil, fmt.Errorf("rfc2822_date: cannot interpret %s as a date", typeName(args[0]))
	}
}

// builtinAssets are the embedded files addressable from templates; the web
// layer serves them under /veneer/.
var builtinAssets = map[string]bool{
	"veneer.css":        true,
	"veneer.js":         true,
	"tabler-sprite.svg": true,
}

func staticPathHelper(args []any) (any, error) {
	if err := needArgs("static_path", args, 1); err != nil {
		return nil, err
	}
	name := Stringify(args[0])
	if !builtinAssets[name] {
		return nil, fmt.Errorf("static_path: unknown asset %q", name)
	}
	return "/veneer/" + name, nil
}

func flushDelayedHelper(e *Env, w io.Writer, _ []any) error {
	return e.flushDelayed(w)
}

func iconImgHelper(_ *Env, w io.Writer, args []any) error {
	if len(args) == 0 || args[0] == nil {
		return nil
	}
	name := Stringify(args[0])
	size := int64(24)
	if len(args) > 1 {
		if f, ok := coerceNumber(args[1]); ok {
			size = int64(f)
		}
	}
	_, err := fmt.Fprintf(w,
		`<svg width="%d" height="%d" class="icon"><use href="/veneer/tabler-sprite.svg#tabler-%s" /></svg>`,
		size, size, html.EscapeString(name))
	return err
}

// jsonStreamHelper writes a value as JSON for embedding in scripts. The
// encoder escapes <, > and & so the output is safe inside a script tag.
func jsonStreamHelper(_ *Env, w io.Writer, args []any) error {
	if len(args) != 1 {
		return fmt.Errorf("json: expected 1 argument, got %d", len(args))
	}
	b, err := json.Marshal(args[0])
	if err != nil {
		return fmt.Errorf("json: %w", err)
	}
	_, err = w.Write(b)
	return err
}
