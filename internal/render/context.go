// Package render turns a stream of database records into an HTML page,
// writing bytes incrementally as records arrive. A page is one shell
// component wrapping a sequence of inner components; records open
// components, feed them rows, set HTTP headers or report errors.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/veneer/internal/httperr"
	"github.com/agentic-research/veneer/internal/template"
)

// ComponentStore resolves a component name to its compiled split template.
// Lookup may read and compile sources on demand and fails for unknown names.
type ComponentStore interface {
	Template(ctx context.Context, name string) (*template.SplitTemplate, error)
	Registry() *template.Registry
}

const (
	// controlKey is reserved: present at the top level of a record it
	// selects a component instead of being data.
	controlKey = "component"

	headerComponent  = "http_header"
	shellComponent   = "shell"
	defaultComponent = "default"
	errorComponent   = "error"
	dynamicComponent = "dynamic"

	// maxRecursionDepth bounds nested dynamic expansion within one request.
	maxRecursionDepth = 256
)

// componentOf returns the component a record addresses, or "" when the
// record carries no control key.
func componentOf(record any) string {
	m, ok := record.(map[string]any)
	if !ok {
		return ""
	}
	name, _ := m[controlKey].(string)
	return name
}

// PageContext is the outcome of one header-phase step: either the header
// phase continues, or the head is final and a body renderer takes over.
type PageContext interface {
	pageContext()
}

// KeepHeader continues the header phase with the same context.
type KeepHeader struct {
	Ctx *HeaderContext
}

// StartBody carries the finalized response head and the body renderer.
type StartBody struct {
	Head     *ResponseHead
	Renderer *RenderContext
}

func (KeepHeader) pageContext() {}
func (StartBody) pageContext()  {}

// HeaderContext accumulates the response head while no body byte has been
// produced yet. The first record that is not a header directive fixes the
// head and switches to body rendering.
type HeaderContext struct {
	store  ComponentStore
	w      io.Writer
	logger *slog.Logger
	head   *ResponseHead
}

// NewHeaderContext starts the header phase with a 200 text/html head.
// A nil logger discards log output.
func NewHeaderContext(store ComponentStore, w io.Writer, logger *slog.Logger) *HeaderContext {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HeaderContext{store: store, w: w, logger: logger, head: newResponseHead()}
}

// HandleRow consumes one record during the header phase.
func (h *HeaderContext) HandleRow(ctx context.Context, record any) (PageContext, error) {
	if componentOf(record) == headerComponent {
		if err := h.addHTTPHeader(record); err != nil {
			return nil, err
		}
		return KeepHeader{Ctx: h}, nil
	}
	return h.startBody(ctx, record)
}

// addHTTPHeader folds one http_header record into the pending head. Every
// key except the control key names a header; values must be strings.
func (h *HeaderContext) addHTTPHeader(record any) error {
	m, ok := record.(map[string]any)
	if !ok {
		return errors.New("an http_header record must be an object")
	}
	for name, value := range m {
		if name == controlKey {
			continue
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("invalid value for the %q http header: expected a string, got %s",
				name, template.Stringify(value))
		}
		h.head.Header.Set(name, s)
	}
	return nil
}

// HandleError maps a header-phase error item. An error carrying an explicit
// HTTP status becomes the whole response; anything else opens the body with
// an empty first record and renders the error in-page, so early statement
// failures still produce a page.
func (h *HeaderContext) HandleError(ctx context.Context, cause error) (PageContext, error) {
	var statusErr *httperr.Error
	if errors.As(cause, &statusErr) {
		return nil, cause
	}
	pc, err := h.startBody(ctx, nil)
	if err != nil {
		return nil, err
	}
	body := pc.(StartBody)
	if err := body.Renderer.HandleError(ctx, cause); err != nil {
		return nil, err
	}
	return body, nil
}

func (h *HeaderContext) startBody(ctx context.Context, record any) (PageContext, error) {
	renderer, err := NewRenderContext(ctx, h.store, h.w, h.logger, record)
	if err != nil {
		return nil, err
	}
	return StartBody{Head: h.head, Renderer: renderer}, nil
}

// Close finalizes a request whose records were all header directives; the
// response has a head but no streamed body.
func (h *HeaderContext) Close() *ResponseHead {
	return h.head
}

// RenderContext streams the page body. The shell stays open for the life of
// the request and wraps the currently open component; records are dispatched
// to one or the other and errors are rendered in-page.
type RenderContext struct {
	store   ComponentStore
	w       io.Writer
	logger  *slog.Logger
	shell   *SplitRenderer
	current *SplitRenderer
	depth   int
	stmt    int
}

// NewRenderContext opens the shell and the initial component and renders
// their opening fragments. When the first record is shell configuration it
// becomes the shell's page data; otherwise the shell opens with null data
// and the record opens and configures the component it names, or the
// default one.
func NewRenderContext(ctx context.Context, store ComponentStore, w io.Writer, logger *slog.Logger, record any) (*RenderContext, error) {
	shell, err := newRenderer(ctx, store, shellComponent)
	if err != nil {
		return nil, fmt.Errorf("the shell component should always exist: %w", err)
	}

	name := componentOf(record)
	var shellData any
	if name == shellComponent {
		shellData, record = record, nil
		name = defaultComponent
	} else if name == "" {
		name = defaultComponent
	}
	logger.DebugContext(ctx, "render: starting the page body", "component", name)
	if err := shell.Start(w, shellData); err != nil {
		return nil, fmt.Errorf("rendering the shell opening: %w", err)
	}

	current, err := newRenderer(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("unable to open the rendering context because opening the %s component failed: %w", name, err)
	}
	if err := current.Start(w, record); err != nil {
		return nil, fmt.Errorf("rendering the %s component opening: %w", name, err)
	}

	return &RenderContext{store: store, w: w, logger: logger, shell: shell, current: current, stmt: 1}, nil
}

func newRenderer(ctx context.Context, store ComponentStore, name string) (*SplitRenderer, error) {
	split, err := store.Template(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewSplitRenderer(store.Registry(), split), nil
}

// HandleRow dispatches one body record: a dynamic expansion, a component
// switch, or a row for the currently open component.
func (r *RenderContext) HandleRow(ctx context.Context, record any) error {
	name := componentOf(record)
	switch {
	case name == dynamicComponent:
		return r.renderDynamic(ctx, record)
	case name != "" && name != r.current.Name():
		_, err := r.openComponent(ctx, name, record)
		return err
	default:
		return r.renderCurrentRow(record)
	}
}

func (r *RenderContext) renderDynamic(ctx context.Context, record any) error {
	if r.depth > maxRecursionDepth {
		return errors.New("maximum recursion depth exceeded in the dynamic component")
	}
	records, err := dynamicRecords(record)
	if err != nil {
		return err
	}
	for _, sub := range records {
		r.depth++
		err := r.HandleRow(ctx, sub)
		r.depth--
		if err != nil {
			return err
		}
	}
	return nil
}

// dynamicRecords extracts the synthetic records supplied by a dynamic
// component record: its parameters field holds a JSON string to parse, a
// single object, or an array.
func dynamicRecords(record any) ([]any, error) {
	m, _ := record.(map[string]any)
	switch p := m["parameters"].(type) {
	case string:
		parsed, err := oj.ParseString(p)
		if err != nil {
			return nil, fmt.Errorf("the dynamic component requires its parameters field to hold valid JSON: %w", err)
		}
		switch v := parsed.(type) {
		case []any:
			return v, nil
		case map[string]any:
			return []any{v}, nil
		}
	case map[string]any:
		return []any{p}, nil
	case []any:
		return p, nil
	}
	return nil, errors.New("the dynamic component requires a parameters field holding a JSON object or a list of objects")
}

// FinishQuery marks the end of one statement's results. Only the statement
// number shown in error messages changes.
func (r *RenderContext) FinishQuery(ctx context.Context) {
	r.logger.DebugContext(ctx, "render: query finished", "statement", r.stmt)
	r.stmt++
}

func (r *RenderContext) renderCurrentRow(record any) error {
	if err := r.current.RenderItem(r.w, record); err != nil {
		return err
	}
	return r.shell.RenderItem(r.w, nil)
}

// openComponent closes the current component and replaces it with the named
// one, started with record as page data. The previous renderer is returned
// so error handling can put it back.
func (r *RenderContext) openComponent(ctx context.Context, name string, record any) (*SplitRenderer, error) {
	if err := r.current.End(r.w); err != nil {
		return nil, err
	}
	next, err := newRenderer(ctx, r.store, name)
	if err != nil {
		return nil, err
	}
	prev := r.current
	r.current = next
	if err := next.Start(r.w, record); err != nil {
		return nil, err
	}
	return prev, nil
}

// HandleError renders an error in-page: the current component is closed, the
// error component renders the message with its cause chain and the failing
// statement number, and the previous component is put back as current.
func (r *RenderContext) HandleError(ctx context.Context, cause error) error {
	r.logger.WarnContext(ctx, "render: displaying an error in the page", "statement", r.stmt, "error", cause)
	prev, err := r.openComponent(ctx, errorComponent, nil)
	if err != nil {
		return err
	}
	layers := errorLayers(cause)
	backtrace := make([]any, 0, len(layers)-1)
	for _, l := range layers[1:] {
		backtrace = append(backtrace, l)
	}
	record := map[string]any{
		"query_number": int64(r.stmt),
		"description":  layers[0],
		"backtrace":    backtrace,
	}
	if err := r.current.RenderItem(r.w, record); err != nil {
		return err
	}
	if err := r.current.End(r.w); err != nil {
		return err
	}
	r.current = prev
	return nil
}

// errorLayers splits a wrapped error into per-layer messages, outermost
// first. Wrapping repeats the cause's text after ": ", so each layer's own
// contribution is recovered by trimming that suffix.
func errorLayers(err error) []string {
	var layers []string
	for err != nil {
		msg := err.Error()
		next := errors.Unwrap(err)
		if next != nil {
			if trimmed := strings.TrimSuffix(msg, ": "+next.Error()); trimmed != "" {
				msg = trimmed
			}
		}
		layers = append(layers, msg)
		err = next
	}
	return layers
}

func (r *RenderContext) handleResultAndLog(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if err := r.HandleError(ctx, err); err != nil {
		r.logger.ErrorContext(ctx, "render: unable to display an error in the page", "error", err)
	}
}

// Close ends the current component then the shell. Both closings are
// attempted regardless of failures; a failed closing is rendered in-page
// when possible and logged otherwise.
func (r *RenderContext) Close(ctx context.Context) {
	if err := r.current.End(r.w); err != nil {
		r.handleResultAndLog(ctx, fmt.Errorf("unable to render the component closing: %w", err))
	}
	if err := r.shell.End(r.w); err != nil {
		r.handleResultAndLog(ctx, fmt.Errorf("unable to render the shell closing: %w", err))
	}
}
