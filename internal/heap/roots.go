package heap

import (
	"sync"

	"go.starlark.net/starlark"
)

// RootSource supplies values the host program keeps alive outside the
// population, such as unit globals.
type RootSource interface {
	Roots() []starlark.Value
}

// RootFunc adapts a function to RootSource.
type RootFunc func() []starlark.Value

func (f RootFunc) Roots() []starlark.Value { return f() }

// HostRoots holds values on behalf of the host program. Holding a value keeps
// it alive and makes it a starting point for enumeration.
type HostRoots struct {
	mu     sync.Mutex
	values []starlark.Value
}

// Hold keeps values alive until Release.
func (h *HostRoots) Hold(values ...starlark.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, values...)
}

// Release drops every held value.
func (h *HostRoots) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = nil
}

func (h *HostRoots) Roots() []starlark.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]starlark.Value, len(h.values))
	copy(out, h.values)
	return out
}
