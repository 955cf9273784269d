package unit

import (
	"time"

	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/object"
)

// Unit is one executed version of a unit's source. Reinitializing a unit
// yields a new *Unit under the same name with the next generation; earlier
// values stay valid for whoever still holds them.
type Unit struct {
	name       string
	path       string
	root       string
	generation int
	globals    starlark.StringDict
	loadedAt   time.Time
}

// Name returns the unit name.
func (u *Unit) Name() string { return u.name }

// Path returns the backing file, or "" for a unit defined from Go.
func (u *Unit) Path() string { return u.path }

// Generation is 1 for the first load and grows by one per reinitialization.
func (u *Unit) Generation() int { return u.generation }

// LoadedAt returns when this version finished executing.
func (u *Unit) LoadedAt() time.Time { return u.loadedAt }

// Globals returns the unit's top-level definitions. The dict is frozen and
// shared; callers must not modify it.
func (u *Unit) Globals() starlark.StringDict { return u.globals }

// Global returns one top-level definition.
func (u *Unit) Global(name string) (starlark.Value, bool) {
	v, ok := u.globals[name]
	return v, ok
}

// Classes returns the classes this unit itself declared, ordered by the name
// of the global that first refers to each. Classes imported from other units
// are left out.
func (u *Unit) Classes() []*object.Class {
	seen := make(map[*object.Class]struct{})
	var classes []*object.Class
	for _, name := range u.globals.Keys() {
		cls, ok := u.globals[name].(*object.Class)
		if !ok || cls.Unit() != u.name {
			continue
		}
		if _, dup := seen[cls]; dup {
			continue
		}
		seen[cls] = struct{}{}
		classes = append(classes, cls)
	}
	return classes
}
