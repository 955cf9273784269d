package object

import (
	"fmt"
	"slices"
	"sync/atomic"

	"go.starlark.net/starlark"
)

// ids hands out identities to classes and instances. Identity never depends
// on the address of a value, so it stays valid for as long as the value lives.
var ids atomic.Uint64

// InitMethod is the method run by the constructor when a class declares it.
const InitMethod = "__init__"

// Population receives every instance a class constructs.
type Population interface {
	Add(inst *Instance)
}

// Member is one named member handed to NewClass.
type Member struct {
	Name  string
	Value starlark.Value
}

// Class is one version of a declared type. Reinitializing the unit that
// declares it produces a new *Class with the same qualified name; instances
// keep pointing at the version they were constructed from.
type Class struct {
	id         uint64
	name       string
	unit       string
	order      []string
	methods    map[string]starlark.Callable
	constants  starlark.StringDict
	population Population
}

var (
	_ starlark.Callable = (*Class)(nil)
	_ starlark.HasAttrs = (*Class)(nil)
)

// NewClass declares a class in unit. Callable members (other than classes)
// become methods in declaration order; everything else becomes a class
// constant. pop may be nil, in which case instances are not tracked.
func NewClass(unit, name string, members []Member, pop Population) (*Class, error) {
	if name == "" {
		return nil, fmt.Errorf("class name must not be empty")
	}

	c := &Class{
		id:         ids.Add(1),
		name:       name,
		unit:       unit,
		methods:    make(map[string]starlark.Callable),
		constants:  make(starlark.StringDict),
		population: pop,
	}
	for _, m := range members {
		if _, dup := c.methods[m.Name]; dup {
			return nil, fmt.Errorf("class %s: duplicate member %q", name, m.Name)
		}
		if _, dup := c.constants[m.Name]; dup {
			return nil, fmt.Errorf("class %s: duplicate member %q", name, m.Name)
		}
		if fn, ok := asMethod(m.Value); ok {
			c.methods[m.Name] = fn
			c.order = append(c.order, m.Name)
			continue
		}
		if m.Name == InitMethod {
			return nil, fmt.Errorf("class %s: %s must be callable, got %s", name, InitMethod, m.Value.Type())
		}
		c.constants[m.Name] = m.Value
	}
	return c, nil
}

func asMethod(v starlark.Value) (starlark.Callable, bool) {
	if _, isClass := v.(*Class); isClass {
		return nil, false
	}
	fn, ok := v.(starlark.Callable)
	return fn, ok
}

// ID returns the identity of this class version.
func (c *Class) ID() uint64 { return c.id }

// Name returns the declared name of the class.
func (c *Class) Name() string { return c.name }

// Unit returns the name of the unit that declared the class.
func (c *Class) Unit() string { return c.unit }

// QualifiedName returns the name that identifies this class across
// reinitializations of its unit: "<unit>.<name>".
func (c *Class) QualifiedName() string {
	if c.unit == "" {
		return c.name
	}
	return c.unit + "." + c.name
}

// Methods returns the method names in declaration order.
func (c *Class) Methods() []string {
	return slices.Clone(c.order)
}

// Method returns the function declared for name.
func (c *Class) Method(name string) (starlark.Callable, bool) {
	fn, ok := c.methods[name]
	return fn, ok
}

// Constant returns the class constant declared for name.
func (c *Class) Constant(name string) (starlark.Value, bool) {
	v, ok := c.constants[name]
	return v, ok
}

// Constants returns a copy of the class constants.
func (c *Class) Constants() starlark.StringDict {
	out := make(starlark.StringDict, len(c.constants))
	for k, v := range c.constants {
		out[k] = v
	}
	return out
}

// New constructs an instance. When the class declares __init__ it runs with
// the instance prepended to args; otherwise keyword arguments become fields
// and positional arguments are rejected. The instance is handed to the
// class's population only once construction succeeded.
func (c *Class) New(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (*Instance, error) {
	inst := newInstance(c)

	if init, ok := c.methods[InitMethod]; ok {
		callArgs := make(starlark.Tuple, 0, len(args)+1)
		callArgs = append(callArgs, inst)
		callArgs = append(callArgs, args...)
		if _, err := starlark.Call(thread, init, callArgs, kwargs); err != nil {
			return nil, err
		}
	} else {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: got %d positional arguments, want keyword arguments only", c.name, len(args))
		}
		for _, kv := range kwargs {
			key, _ := starlark.AsString(kv[0])
			if err := inst.SetField(key, kv[1]); err != nil {
				return nil, err
			}
		}
	}

	if c.population != nil {
		c.population.Add(inst)
	}
	return inst, nil
}

// CallInternal implements starlark.Callable: calling a class constructs an instance.
func (c *Class) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	inst, err := c.New(thread, args, kwargs)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (c *Class) String() string { return fmt.Sprintf("<class %s>", c.QualifiedName()) }
func (c *Class) Type() string   { return "class" }
func (c *Class) Truth() starlark.Bool {
	return starlark.True
}

// Freeze freezes the class constants. Methods are already frozen with the
// unit that defined them.
func (c *Class) Freeze() {
	for _, v := range c.constants {
		v.Freeze()
	}
}

func (c *Class) Hash() (uint32, error) { return hashID(c.id), nil }

// Attr resolves methods (unbound), constants, and __name__.
func (c *Class) Attr(name string) (starlark.Value, error) {
	if fn, ok := c.methods[name]; ok {
		return fn, nil
	}
	if v, ok := c.constants[name]; ok {
		return v, nil
	}
	if name == "__name__" {
		return starlark.String(c.name), nil
	}
	return nil, nil
}

func (c *Class) AttrNames() []string {
	names := make([]string, 0, len(c.methods)+len(c.constants)+1)
	names = append(names, c.order...)
	names = append(names, c.constants.Keys()...)
	names = append(names, "__name__")
	slices.Sort(names)
	return names
}

func hashID(id uint64) uint32 {
	return uint32(id ^ id>>32)
}

// ClassSet is a set of class versions compared by identity.
type ClassSet map[*Class]struct{}

// NewClassSet returns a set holding classes.
func NewClassSet(classes ...*Class) ClassSet {
	s := make(ClassSet, len(classes))
	for _, c := range classes {
		s.Add(c)
	}
	return s
}

func (s ClassSet) Add(c *Class) { s[c] = struct{}{} }

func (s ClassSet) Contains(c *Class) bool {
	_, ok := s[c]
	return ok
}

func (s ClassSet) Len() int { return len(s) }
