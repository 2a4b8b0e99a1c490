package loader

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedChange struct {
	kind ChangeKind
	path string
}

// changeRecorder collects watcher callbacks for assertion.
type changeRecorder struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (r *changeRecorder) record(kind ChangeKind, path string) {
	r.mu.Lock()
	r.changes = append(r.changes, recordedChange{kind: kind, path: path})
	r.mu.Unlock()
}

func (r *changeRecorder) snapshot() []recordedChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedChange, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r *changeRecorder) waitFor(t *testing.T, match func(recordedChange) bool) recordedChange {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range r.snapshot() {
			if match(c) {
				return c
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected filesystem change was never observed")
	return recordedChange{}
}

func TestWatcher_ReportsArtifactWrites(t *testing.T) {
	dir := t.TempDir()
	recorder := &changeRecorder{}

	w, err := NewWatcher(ArtifactExt, recorder.record, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	path := filepath.Join(dir, "settle.lua")
	require.NoError(t, os.WriteFile(path, []byte("-- plugin"), 0o644))

	change := recorder.waitFor(t, func(c recordedChange) bool {
		return c.kind == ChangeWrite && filepath.Base(c.path) == "settle.lua"
	})
	assert.Equal(t, ChangeWrite, change.kind)
}

func TestWatcher_ReportsArtifactRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settle.lua")
	require.NoError(t, os.WriteFile(path, []byte("-- plugin"), 0o644))

	recorder := &changeRecorder{}
	w, err := NewWatcher(ArtifactExt, recorder.record, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	require.NoError(t, os.Remove(path))

	recorder.waitFor(t, func(c recordedChange) bool {
		return c.kind == ChangeRemove && filepath.Base(c.path) == "settle.lua"
	})
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	recorder := &changeRecorder{}

	w, err := NewWatcher(ArtifactExt, recorder.record, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settle.lua"), []byte("-- plugin"), 0o644))

	recorder.waitFor(t, func(c recordedChange) bool {
		return filepath.Base(c.path) == "settle.lua"
	})
	for _, c := range recorder.snapshot() {
		assert.NotEqual(t, "notes.txt", filepath.Base(c.path))
	}
}

func TestWatcher_AddRequiresExistingDirectory(t *testing.T) {
	w, err := NewWatcher(ArtifactExt, func(ChangeKind, string) {}, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing")))
}

func TestWatcher_Close_IsIdempotent(t *testing.T) {
	w, err := NewWatcher(ArtifactExt, func(ChangeKind, string) {}, nil)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWaitStable(t *testing.T) {
	t.Run("static file stabilizes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a.lua")
		require.NoError(t, os.WriteFile(path, []byte("-- plugin"), 0o644))

		assert.True(t, waitStable(path, time.Millisecond, 5))
	})

	t.Run("empty file never stabilizes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.lua")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		assert.False(t, waitStable(path, time.Millisecond, 5))
	})

	t.Run("missing file fails immediately", func(t *testing.T) {
		assert.False(t, waitStable(filepath.Join(t.TempDir(), "gone.lua"), time.Millisecond, 5))
	})

	t.Run("growing file exhausts the poll budget", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "growing.lua")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			for {
				select {
				case <-stop:
					return
				default:
					f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
					if err == nil {
						_, _ = f.WriteString("xxxx")
						_ = f.Close()
					}
					time.Sleep(2 * time.Millisecond)
				}
			}
		}()

		assert.False(t, waitStable(path, 10*time.Millisecond, 5))
	})
}
