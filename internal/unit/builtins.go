package unit

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/object"
)

// localUnit is the thread-local key holding the name of the unit a thread
// executes on behalf of.
const localUnit = "livepatch.unit"

func unitOf(thread *starlark.Thread) string {
	name, _ := thread.Local(localUnit).(string)
	return name
}

// predeclared returns the names every unit sees besides the Starlark
// universe.
func (l *Loader) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"defclass": starlark.NewBuiltin("defclass", l.defclass),
	}
}

// defclass(name, **members) declares a class in the calling unit.
//
//	def greet(self):
//	    return "hello " + self.name
//
//	Greeter = defclass("Greeter", greet = greet, greeting = "hello")
func (l *Loader) defclass(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
		return nil, err
	}

	members := make([]object.Member, 0, len(kwargs))
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		members = append(members, object.Member{Name: key, Value: kv[1]})
	}

	cls, err := object.NewClass(unitOf(thread), name, members, l.population)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return cls, nil
}
