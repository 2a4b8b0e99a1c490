package loader

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies a filesystem event for the hot-reload pipeline.
type ChangeKind int

const (
	ChangeWrite ChangeKind = iota
	ChangeRemove
)

// Watcher observes plugin directories and reports artifact changes. It runs
// one goroutine blocked on the OS change notification primitive; handlers
// are expected to move real work onto the blocking pool immediately.
type Watcher struct {
	fsw     *fsnotify.Watcher
	ext     string
	onEvent func(kind ChangeKind, path string)
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWatcher creates a watcher for artifact files with the given extension.
func NewWatcher(ext string, onEvent func(kind ChangeKind, path string), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		fsw:     fsw,
		ext:     ext,
		onEvent: onEvent,
		logger:  logger.With("component", "plugin-watcher"),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Add starts watching a directory. The directory must exist.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}
	return w.fsw.Add(abs)
}

// loop drains fsnotify events until the watcher closes.
func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.dispatch(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) dispatch(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), w.ext) {
		return
	}
	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.onEvent(ChangeRemove, event.Name)
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		w.onEvent(ChangeWrite, event.Name)
	}
}

// Close stops the watcher and waits for the event loop to drain.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

// waitStable polls a file's size until two consecutive reads return the same
// non-zero value, inferring the writer has finished. It gives up after
// maxPolls reads; a later filesystem event retries the reload.
func waitStable(path string, interval time.Duration, maxPolls int) bool {
	var prev int64 = -1
	for i := 0; i < maxPolls; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		size := info.Size()
		if size > 0 && size == prev {
			return true
		}
		prev = size
		time.Sleep(interval)
	}
	return false
}
