package filecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644))

	loads := 0
	c := New(osfs.New(dir), func(_ context.Context, path, source string) (string, error) {
		loads++
		return path + ":" + source, nil
	})

	v, err := c.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt:one", v)

	v, err = c.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt:one", v)
	assert.Equal(t, 1, loads, "unchanged file should not reload")
}

func TestGetReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	loads := 0
	c := New(osfs.New(dir), func(_ context.Context, _, source string) (string, error) {
		loads++
		return source, nil
	})

	_, err := c.Get(context.Background(), "a.txt")
	require.NoError(t, err)

	// rewrite with a distinct mtime so the stat check sees the change
	require.NoError(t, os.WriteFile(path, []byte("two!"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	v, err := c.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "two!", v)
	assert.Equal(t, 2, loads)
}

func TestStaticFallbackAndOverride(t *testing.T) {
	dir := t.TempDir()
	c := New(osfs.New(dir), func(_ context.Context, _, source string) (string, error) {
		return "disk:" + source, nil
	})
	c.AddStatic("shell.handlebars", "builtin")

	v, err := c.Get(context.Background(), "shell.handlebars")
	require.NoError(t, err)
	assert.Equal(t, "builtin", v)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "shell.handlebars"), []byte("custom"), 0o644))
	v, err = c.Get(context.Background(), "shell.handlebars")
	require.NoError(t, err)
	assert.Equal(t, "disk:custom", v)
}

func TestMissingFileFails(t *testing.T) {
	c := New(osfs.New(t.TempDir()), func(_ context.Context, _, source string) (string, error) {
		return source, nil
	})
	_, err := c.Get(context.Background(), "gone.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	fail := true
	c := New(osfs.New(dir), func(_ context.Context, _, source string) (string, error) {
		if fail {
			return "", assert.AnError
		}
		return source, nil
	})

	_, err := c.Get(context.Background(), "a.txt")
	require.Error(t, err)

	fail = false
	v, err := c.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}
