package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestMatch(t *testing.T) {
	w := New(nil, []string{".pdf", "DOCX"}, func(string) {})
	assert.True(t, w.match("/a/b/manual.PDF"))
	assert.True(t, w.match("notes.docx"))
	assert.False(t, w.match("notes.txt"))

	all := New(nil, nil, func(string) {})
	assert.True(t, all.match("anything.bin"))
}

func TestSyncReportsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	rec := &recorder{}
	w := New([]string{dir, filepath.Join(dir, "missing")}, []string{".pdf"}, rec.add)
	require.NoError(t, w.Sync())
	assert.Equal(t, []string{filepath.Join(dir, "a.pdf")}, rec.get())
}

func TestRunDebouncesNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	removed := &recorder{}
	w := New([]string{dir}, []string{".pdf"}, rec.add,
		WithDebounce(50*time.Millisecond), WithRemoveHandler(removed.add))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "manual.pdf")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.WriteString("chunk ")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return len(rec.get()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{path}, rec.get())

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool { return len(removed.get()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStaleTimerKeepsNewerPending(t *testing.T) {
	rec := &recorder{}
	w := New(nil, []string{".pdf"}, rec.add, WithDebounce(time.Hour))
	defer w.stopPending()

	const path = "/docs/manual.pdf"
	w.schedule(path)
	w.mu.Lock()
	first := w.pending[path]
	w.mu.Unlock()

	w.schedule(path)
	w.mu.Lock()
	second := w.pending[path]
	w.mu.Unlock()
	require.NotSame(t, first, second)

	// the replaced timer fires late
	w.fire(path, first)
	w.mu.Lock()
	assert.Same(t, second, w.pending[path])
	w.mu.Unlock()
	assert.Empty(t, rec.get())

	// a removal still cancels the live timer
	w.cancel(path)
	w.mu.Lock()
	assert.Empty(t, w.pending)
	w.mu.Unlock()

	w.schedule(path)
	w.mu.Lock()
	third := w.pending[path]
	w.mu.Unlock()
	third.Stop()
	w.fire(path, third)
	assert.Equal(t, []string{path}, rec.get())
	w.mu.Lock()
	assert.Empty(t, w.pending)
	w.mu.Unlock()
}
