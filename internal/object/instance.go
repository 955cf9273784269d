package object

import (
	"fmt"
	"slices"
	"sync"

	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/errors"
)

// Instance is a live object of a declared class. Every method call goes
// through its dispatch table, which reload rewrites in place; the instance's
// identity, class version and fields stay as they are.
type Instance struct {
	id    uint64
	class *Class

	mu     sync.RWMutex
	fields map[string]starlark.Value
	table  map[string]*BoundMethod
}

var (
	_ starlark.HasAttrs    = (*Instance)(nil)
	_ starlark.HasSetField = (*Instance)(nil)
)

func newInstance(c *Class) *Instance {
	inst := &Instance{
		id:     ids.Add(1),
		class:  c,
		fields: make(map[string]starlark.Value),
		table:  make(map[string]*BoundMethod, len(c.order)),
	}
	for _, name := range c.order {
		inst.table[name] = &BoundMethod{Receiver: inst, Function: c.methods[name]}
	}
	return inst
}

// ID returns the identity of the instance.
func (inst *Instance) ID() uint64 { return inst.id }

// Class returns the class version the instance was constructed from.
func (inst *Instance) Class() *Class { return inst.class }

// Bind points the dispatch entry for name at fn bound to this instance,
// replacing any previous binding. Each call is atomic on its own; a caller
// running methods concurrently may observe a mix of old and new bindings
// while several names are rebound one after another.
func (inst *Instance) Bind(name string, fn starlark.Callable) {
	bm := &BoundMethod{Receiver: inst, Function: fn}
	inst.mu.Lock()
	inst.table[name] = bm
	inst.mu.Unlock()
}

// Method returns the current binding for name.
func (inst *Instance) Method(name string) (*BoundMethod, bool) {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	bm, ok := inst.table[name]
	return bm, ok
}

// MethodNames returns the names in the dispatch table, sorted.
func (inst *Instance) MethodNames() []string {
	inst.mu.RLock()
	names := make([]string, 0, len(inst.table))
	for name := range inst.table {
		names = append(names, name)
	}
	inst.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Field returns the value of a field.
func (inst *Instance) Field(name string) (starlark.Value, bool) {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	v, ok := inst.fields[name]
	return v, ok
}

// Fields returns a copy of the instance's fields.
func (inst *Instance) Fields() starlark.StringDict {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	out := make(starlark.StringDict, len(inst.fields))
	for k, v := range inst.fields {
		out[k] = v
	}
	return out
}

// Referents returns the values the instance directly references, ordered by
// field name.
func (inst *Instance) Referents() []starlark.Value {
	fields := inst.Fields()
	refs := make([]starlark.Value, 0, len(fields))
	for _, name := range fields.Keys() {
		refs = append(refs, fields[name])
	}
	return refs
}

// SetField implements starlark.HasSetField. Names bound in the dispatch table
// are read-only.
func (inst *Instance) SetField(name string, val starlark.Value) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if _, isMethod := inst.table[name]; isMethod {
		return fmt.Errorf("%s.%s: %w", inst.class.name, name, errors.ErrReadOnlyMethod)
	}
	inst.fields[name] = val
	return nil
}

// Attr resolves name against the dispatch table, then fields, then class
// constants.
func (inst *Instance) Attr(name string) (starlark.Value, error) {
	inst.mu.RLock()
	if bm, ok := inst.table[name]; ok {
		inst.mu.RUnlock()
		return bm, nil
	}
	if v, ok := inst.fields[name]; ok {
		inst.mu.RUnlock()
		return v, nil
	}
	inst.mu.RUnlock()

	if v, ok := inst.class.constants[name]; ok {
		return v, nil
	}
	return nil, nil
}

func (inst *Instance) AttrNames() []string {
	inst.mu.RLock()
	seen := make(map[string]struct{}, len(inst.table)+len(inst.fields))
	for name := range inst.table {
		seen[name] = struct{}{}
	}
	for name := range inst.fields {
		seen[name] = struct{}{}
	}
	inst.mu.RUnlock()
	for name := range inst.class.constants {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (inst *Instance) String() string {
	return fmt.Sprintf("<%s object #%d>", inst.class.QualifiedName(), inst.id)
}

func (inst *Instance) Type() string         { return inst.class.name }
func (inst *Instance) Truth() starlark.Bool { return starlark.True }

// Freeze is a no-op: instances stay mutable after the unit that created them
// finished executing.
func (inst *Instance) Freeze() {}

func (inst *Instance) Hash() (uint32, error) { return hashID(inst.id), nil }
