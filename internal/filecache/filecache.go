// Package filecache loads and caches values derived from files (compiled
// templates, parsed SQL scripts), re-deriving a value when its source file's
// size or modification time changes. Static entries provide embedded
// fallbacks that a file on disk can override.
package filecache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
)

// Loader derives the cached value from one file's content.
type Loader[T any] func(ctx context.Context, path, source string) (T, error)

type entry[T any] struct {
	value   T
	modTime time.Time
	size    int64
	static  bool
}

// Cache is safe for concurrent use by many requests.
type Cache[T any] struct {
	fs   billy.Filesystem
	load Loader[T]

	mu      sync.RWMutex
	entries map[string]*entry[T]
}

func New[T any](fs billy.Filesystem, load Loader[T]) *Cache[T] {
	return &Cache[T]{
		fs:      fs,
		load:    load,
		entries: map[string]*entry[T]{},
	}
}

// AddStatic registers a value served when no file exists at path. Static
// entries never expire; a file appearing at the same path takes precedence.
func (c *Cache[T]) AddStatic(path string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = &entry[T]{value: value, static: true}
}

// Get returns the value for path, loading or reloading it if the file is new
// or changed since the cached derivation.
func (c *Cache[T]) Get(ctx context.Context, path string) (T, error) {
	var zero T

	info, statErr := c.fs.Stat(path)
	if statErr != nil {
		c.mu.RLock()
		e, ok := c.entries[path]
		c.mu.RUnlock()
		if ok && e.static {
			return e.value, nil
		}
		return zero, fmt.Errorf("stat %s: %w", path, statErr)
	}

	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && !e.static && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.value, nil
	}

	source, err := c.readFile(path)
	if err != nil {
		return zero, err
	}
	value, err := c.load(ctx, path, source)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	c.entries[path] = &entry[T]{value: value, modTime: info.ModTime(), size: info.Size()}
	c.mu.Unlock()
	return value, nil
}

func (c *Cache[T]) readFile(path string) (string, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }() // safe to ignore: read-only handle
	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}
