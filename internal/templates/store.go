// Package templates maps component names to compiled, split templates. The
// builtin component set is embedded in the binary; a file with the same name
// in the site's templates directory overrides it, and on-disk templates are
// recompiled when they change.
package templates

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/veneer/internal/filecache"
	"github.com/agentic-research/veneer/internal/template"
)

//go:embed builtin/*.handlebars
var builtinFS embed.FS

const ext = ".handlebars"

// Store resolves component names for every request; it is read-only after
// construction apart from the cache it maintains internally.
type Store struct {
	reg   *template.Registry
	cache *filecache.Cache[*template.SplitTemplate]
}

// New builds a store reading overrides from fs (the site's templates
// directory) on top of the embedded builtin components.
func New(fs billy.Filesystem, reg *template.Registry) (*Store, error) {
	s := &Store{reg: reg}
	s.cache = filecache.New(fs, func(_ context.Context, p, source string) (*template.SplitTemplate, error) {
		return compileSplit(strings.TrimSuffix(path.Base(p), ext), source)
	})

	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("reading builtin components: %w", err)
	}
	for _, e := range entries {
		data, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading builtin component %s: %w", e.Name(), err)
		}
		split, err := compileSplit(strings.TrimSuffix(e.Name(), ext), string(data))
		if err != nil {
			return nil, fmt.Errorf("builtin component %s: %w", e.Name(), err)
		}
		s.cache.AddStatic(e.Name(), split)
	}
	return s, nil
}

func compileSplit(name, source string) (*template.SplitTemplate, error) {
	t, err := template.Compile(name, source)
	if err != nil {
		return nil, err
	}
	return template.Split(t), nil
}

// Registry returns the helper registry shared by all renders.
func (s *Store) Registry() *template.Registry { return s.reg }

// Template resolves a component name to its split template. Lookup may read
// and compile from disk; unknown names fail.
func (s *Store) Template(ctx context.Context, name string) (*template.SplitTemplate, error) {
	if !validName(name) {
		return nil, fmt.Errorf("the component %q was not found", name)
	}
	split, err := s.cache.Get(ctx, name+ext)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("the component %q was not found", name)
		}
		return nil, fmt.Errorf("loading the %s component: %w", name, err)
	}
	return split, nil
}

// validName keeps lookups inside the templates directory: component names
// never contain path separators or dots.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
