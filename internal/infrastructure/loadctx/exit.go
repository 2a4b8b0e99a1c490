package loadctx

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Open contexts hold OS resources (mapped chunks, file handles from DoFile).
// Ordinary shutdown closes them through the loader; the exit hook below is
// the best-effort backstop for abrupt termination.
var (
	trackMu      sync.Mutex
	openContexts = make(map[*Context]struct{})
	hookOnce     sync.Once
)

func track(c *Context) {
	trackMu.Lock()
	openContexts[c] = struct{}{}
	trackMu.Unlock()
}

func untrack(c *Context) {
	trackMu.Lock()
	delete(openContexts, c)
	trackMu.Unlock()
}

// OpenCount returns the number of contexts not yet closed.
func OpenCount() int {
	trackMu.Lock()
	defer trackMu.Unlock()
	return len(openContexts)
}

// CloseAll closes every outstanding context. Idempotent.
func CloseAll() {
	trackMu.Lock()
	contexts := make([]*Context, 0, len(openContexts))
	for c := range openContexts {
		contexts = append(contexts, c)
	}
	trackMu.Unlock()

	for _, c := range contexts {
		_ = c.Close()
	}
}

// InstallExitHook registers a termination handler that closes outstanding
// contexts when the process receives SIGINT or SIGTERM. Registered at most
// once; the host's own shutdown path remains responsible for actually
// exiting.
func InstallExitHook() {
	hookOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-ch
			CloseAll()
		}()
	})
}
