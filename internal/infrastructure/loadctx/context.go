// Package loadctx implements isolated load contexts for dynamic plugin
// artifacts. Each context owns a sandboxed Lua state with its own symbol
// table; closing the context releases every resource the artifact holds.
package loadctx

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// IsolationMode selects how much of the host symbol space an artifact sees.
type IsolationMode string

const (
	// ModeIsolated gives the artifact a minimal allow-listed library set.
	// Load-time dependency conflicts are possible, escapes are not.
	ModeIsolated IsolationMode = "isolated"

	// ModeShared opens the full Lua standard library. Simpler, less safe.
	ModeShared IsolationMode = "shared"
)

// Required host symbols every plugin artifact depends on. Dependency
// validation fails the load when any of them cannot be resolved.
var requiredSymbols = []string{
	"flowplane",
	"flowplane.register",
	"flowplane.result",
	"flowplane.fielderr",
}

// LoadContext is a closable unit of dynamic code loading.
type LoadContext interface {
	// Resolve looks up a symbol ("name" or "table.name") in the context.
	Resolve(symbol string) (lua.LValue, bool)

	// Registrations returns the processes the artifact registered.
	Registrations() []*Registration

	// Close tears the context down and releases its resources. Idempotent.
	Close() error
}

// Registration is one process captured from an artifact's register call.
type Registration struct {
	Metadata   process.Metadata
	execute    *lua.LFunction
	validate   *lua.LFunction
	compensate *lua.LFunction
	health     *lua.LFunction
}

// Context is a Lua-backed LoadContext. The underlying state is not
// goroutine-safe; the mutex serializes every interaction with it, including
// plugin execution.
type Context struct {
	mu sync.Mutex

	L      *lua.LState
	mode   IsolationMode
	source string // artifact path, for diagnostics

	registrations []*Registration
	closed        bool
}

// New creates a load context for the given artifact path.
func New(mode IsolationMode, source string) *Context {
	c := &Context{
		mode:   mode,
		source: source,
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: mode == ModeIsolated})
	if mode == ModeIsolated {
		openSafeLibraries(L)
	}
	c.L = L

	installHost(c)
	track(c)
	return c
}

// openSafeLibraries opens the allow-listed subset of the standard library.
// io, os, debug and package stay closed: they reach outside the sandbox.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// RunFile executes the artifact script, capturing its registrations.
func (c *Context) RunFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return process.NewError(process.CodeLoadFailure, "load context is closed")
	}
	if err := c.L.DoFile(path); err != nil {
		return process.WrapError(process.CodeLoadFailure,
			fmt.Sprintf("artifact %s failed to run", path), err)
	}
	return nil
}

// RunString executes inline source. Used by tests and embedded fixtures.
func (c *Context) RunString(src string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return process.NewError(process.CodeLoadFailure, "load context is closed")
	}
	if err := c.L.DoString(src); err != nil {
		return process.WrapError(process.CodeLoadFailure, "artifact source failed to run", err)
	}
	return nil
}

// Resolve looks up a global symbol, descending one table level for dotted
// names.
func (c *Context) Resolve(symbol string) (lua.LValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	return c.resolveLocked(symbol)
}

func (c *Context) resolveLocked(symbol string) (lua.LValue, bool) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '.' {
			parent := c.L.GetGlobal(symbol[:i])
			tbl, ok := parent.(*lua.LTable)
			if !ok {
				return nil, false
			}
			child := tbl.RawGetString(symbol[i+1:])
			if child == lua.LNil {
				return nil, false
			}
			return child, true
		}
	}
	v := c.L.GetGlobal(symbol)
	if v == lua.LNil {
		return nil, false
	}
	return v, true
}

// ValidateDependencies verifies the context can resolve every contract
// symbol plugins depend on and that each registration carries an execute
// function. A failure aborts the load of this artifact only.
func (c *Context) ValidateDependencies() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sym := range requiredSymbols {
		if _, ok := c.resolveLocked(sym); !ok {
			return process.NewError(process.CodeDependencyMissing,
				fmt.Sprintf("artifact %s: required symbol %q is not resolvable", c.source, sym))
		}
	}
	for _, reg := range c.registrations {
		if reg.execute == nil {
			return process.NewError(process.CodeDependencyMissing,
				fmt.Sprintf("artifact %s: process %q registered without an execute function",
					c.source, reg.Metadata.ProcessID))
		}
	}
	return nil
}

// Registrations returns the processes captured from the artifact.
func (c *Context) Registrations() []*Registration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Registration, len(c.registrations))
	copy(out, c.registrations)
	return out
}

// Source returns the artifact path the context was created for.
func (c *Context) Source() string {
	return c.source
}

// Mode returns the context's isolation mode.
func (c *Context) Mode() IsolationMode {
	return c.mode
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down the Lua state. Safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.L.Close()
	untrack(c)
	return nil
}

var _ LoadContext = (*Context)(nil)
