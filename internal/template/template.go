// Package template implements the handlebars-flavored engine behind page
// components: compilation to an instruction list, scoped execution with
// block-local variables, deferred-content buffers, and the three-way split
// that makes row-at-a-time streaming possible.
//
// The subset is deliberate. Components need interpolation, conditionals,
// iteration, parent-context paths and a small helper set; they do not need
// partials or inline blocks, and those are compile errors here.
package template

import (
	"fmt"
	"io"
)

// Template is an ordered sequence of rendering instructions compiled once
// from source text. Immutable after Compile; safe to share across renders.
type Template struct {
	name  string
	nodes []node
}

// Compile parses source into an executable Template. name is carried into
// every error produced while compiling or rendering it.
func Compile(name, source string) (*Template, error) {
	p := &parser{src: source}
	nodes, term, err := p.parseSequence()
	if err != nil {
		return nil, fmt.Errorf("compiling template %q: %w", name, err)
	}
	if term != "" {
		return nil, fmt.Errorf("compiling template %q: stray {{/%s}} or {{else}} outside a block", name, term)
	}
	return &Template{name: name, nodes: nodes}, nil
}

// Name returns the template's diagnostic name.
func (t *Template) Name() string { return t.name }

// Render executes the template against an environment, writing output
// incrementally to w. The environment's base-scope locals are mutated in
// place; callers that thread state across phases take them back afterwards.
func (t *Template) Render(w io.Writer, e *Env) error {
	if err := execAll(t.nodes, e, w); err != nil {
		return fmt.Errorf("rendering template %q: %w", t.name, err)
	}
	return nil
}

// SplitTemplate is one template cut at its row boundary into three
// independently renderable fragments. Immutable and shared across all
// concurrent renders of the same component.
type SplitTemplate struct {
	Before *Template
	PerRow *Template
	After  *Template
}

// Split cuts a template at its first top-level each_row block. Before is
// everything preceding the block, PerRow the block's body, After everything
// following it. A template without the block renders once: it becomes
// Before in full, with empty PerRow and After. Missing or extra row blocks
// are not errors; only the first is honored. All three fragments keep the
// original name for diagnostics.
func Split(t *Template) *SplitTemplate {
	for i, n := range t.nodes {
		b, ok := n.(*blockNode)
		if !ok || b.helper != "each_row" {
			continue
		}
		return &SplitTemplate{
			Before: &Template{name: t.name, nodes: t.nodes[:i]},
			PerRow: &Template{name: t.name, nodes: b.body},
			After:  &Template{name: t.name, nodes: t.nodes[i+1:]},
		}
	}
	return &SplitTemplate{
		Before: t,
		PerRow: &Template{name: t.name},
		After:  &Template{name: t.name},
	}
}
