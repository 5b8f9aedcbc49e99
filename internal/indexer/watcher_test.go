package indexer

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fakeScanner) calls() (processed, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.processed), slices.Clone(f.removed)
}

func TestWatcher_ReindexesChangedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))

	files := &fakeScanner{}
	w, err := StartWatcher(context.Background(), root, files, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n"), 0o644))

	require.Eventually(t, func() bool {
		processed, _ := files.calls()
		return slices.Contains(processed, "pkg/a.go")
	}, 5*time.Second, 10*time.Millisecond)

	_, removed := files.calls()
	assert.Contains(t, removed, "pkg/a.go", "stale points are removed before re-indexing")
}

func TestWatcher_RemovedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.py")
	require.NoError(t, os.WriteFile(path, []byte("print('x')\n"), 0o644))

	files := &fakeScanner{}
	w, err := StartWatcher(context.Background(), root, files, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, removed := files.calls()
		return slices.Contains(removed, "gone.py")
	}, 5*time.Second, 10*time.Millisecond)

	processed, _ := files.calls()
	assert.NotContains(t, processed, "gone.py")
}

func TestWatcher_IgnoresFilteredFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	files := &fakeScanner{}
	w, err := StartWatcher(context.Background(), root, files, 20*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "x.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.go"), []byte("package keep\n"), 0o644))

	require.Eventually(t, func() bool {
		processed, _ := files.calls()
		return slices.Contains(processed, "keep.go")
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	processed, removed := files.calls()
	assert.NotContains(t, processed, "notes.txt")
	assert.NotContains(t, processed, "node_modules/x.js")
	assert.NotContains(t, removed, "notes.txt")
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	files := &fakeScanner{}
	w, err := StartWatcher(context.Background(), root, files, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	dir := filepath.Join(root, "internal")
	require.NoError(t, os.Mkdir(dir, 0o755))
	// give the watcher a moment to add the new directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.go"), []byte("package internal\n"), 0o644))

	require.Eventually(t, func() bool {
		processed, _ := files.calls()
		return slices.Contains(processed, "internal/new.go")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartWatcher_MissingRoot(t *testing.T) {
	_, err := StartWatcher(context.Background(), filepath.Join(t.TempDir(), "missing"), &fakeScanner{}, 0, nil)
	assert.Error(t, err)
}
