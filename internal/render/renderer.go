package render

import (
	"io"

	"github.com/agentic-research/veneer/internal/template"
)

// SplitRenderer drives one component instance through its three phases:
// Start renders the fragment before the row loop, RenderItem renders the row
// fragment once per record, End renders the closing fragment. Block-local
// state (loop bookkeeping, deferred-content buffers) moves from phase to
// phase so it survives across separate RenderItem calls.
type SplitRenderer struct {
	split    *template.SplitTemplate
	reg      *template.Registry
	root     any
	locals   template.Locals
	rowIndex int
}

func NewSplitRenderer(reg *template.Registry, split *template.SplitTemplate) *SplitRenderer {
	return &SplitRenderer{split: split, reg: reg}
}

// Name reports the component name this renderer was compiled from.
func (r *SplitRenderer) Name() string { return r.split.Before.Name() }

// Start binds root as the page-level data, renders the opening fragment and
// captures the resulting local state. It must run before any RenderItem.
func (r *SplitRenderer) Start(w io.Writer, root any) error {
	e := template.NewEnv(r.reg, root, nil)
	if err := r.split.Before.Render(w, e); err != nil {
		return err
	}
	r.root = root
	r.locals = e.TakeLocals()
	r.rowIndex = 0
	return nil
}

// RenderItem renders the row fragment once with row as the current context
// and row_index set to the number of rows already rendered. Calls after End,
// or after a failed phase, are no-ops. A row that fails to render consumes
// the local state, finishing the instance.
func (r *SplitRenderer) RenderItem(w io.Writer, row any) error {
	if r.locals == nil {
		return nil
	}
	locals := r.locals
	r.locals = nil
	e := template.NewEnv(r.reg, r.root, locals)
	e.PushRow(row, r.rowIndex)
	if err := r.split.PerRow.Render(w, e); err != nil {
		return err
	}
	e.PopRow()
	r.locals = e.TakeLocals()
	r.rowIndex++
	return nil
}

// End renders the closing fragment with the accumulated local state and
// discards it. Safe to call without any prior RenderItem, and repeated calls
// are no-ops.
func (r *SplitRenderer) End(w io.Writer) error {
	if r.locals == nil {
		return nil
	}
	locals := r.locals
	r.locals = nil
	e := template.NewEnv(r.reg, r.root, locals)
	return r.split.After.Render(w, e)
}
