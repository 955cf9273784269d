package heap

import (
	"slices"
	"time"

	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/object"
)

// Enumerator finds the live instances of a set of class versions.
type Enumerator struct {
	population *Population
	roots      []RootSource
	logger     *logging.Logger
}

// NewEnumerator creates an enumerator over pop and the given host roots.
func NewEnumerator(pop *Population, logger *logging.Logger, roots ...RootSource) *Enumerator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Enumerator{
		population: pop,
		roots:      roots,
		logger:     logger.WithComponent("heap"),
	}
}

// AddRoots registers more root sources. It must not be called concurrently
// with LiveInstancesOf.
func (e *Enumerator) AddRoots(roots ...RootSource) {
	e.roots = append(e.roots, roots...)
}

// LiveInstancesOf returns every live instance whose class is in targets.
//
// Every registered instance and every instance found in a host root is a
// candidate. A candidate that matches is added once (by identity) and the
// instances it references are visited with the same rule. A candidate that
// does not match is skipped, and nothing is visited through it.
func (e *Enumerator) LiveInstancesOf(targets object.ClassSet) []*object.Instance {
	if targets.Len() == 0 {
		return nil
	}
	start := time.Now()

	candidates := e.population.Snapshot()
	rootSeen := make(map[any]struct{})
	for _, src := range e.roots {
		for _, v := range src.Roots() {
			candidates = appendInstances(candidates, v, rootSeen)
		}
	}

	// Reversed so the stack pops candidates in order.
	stack := slices.Clone(candidates)
	slices.Reverse(stack)

	visited := make(map[uint64]struct{})
	var found []*object.Instance
	refSeen := make(map[any]struct{})
	for len(stack) > 0 {
		inst := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := visited[inst.ID()]; ok {
			continue
		}
		if !targets.Contains(inst.Class()) {
			continue
		}
		visited[inst.ID()] = struct{}{}
		found = append(found, inst)

		var refs []*object.Instance
		for _, v := range inst.Referents() {
			refs = appendInstances(refs, v, refSeen)
		}
		slices.Reverse(refs)
		stack = append(stack, refs...)
	}

	e.logger.Debug("enumerated live instances",
		"candidates", len(candidates),
		"classes", targets.Len(),
		"found", len(found),
		"duration_ms", time.Since(start).Milliseconds())
	return found
}

// appendInstances appends the instances reachable from v through containers,
// bound methods and class constants. Containers and classes are entered at
// most once per seen set, so self-referencing containers terminate.
func appendInstances(dst []*object.Instance, v starlark.Value, seen map[any]struct{}) []*object.Instance {
	pending := []starlark.Value{v}
	for len(pending) > 0 {
		v := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		switch x := v.(type) {
		case *object.Instance:
			dst = append(dst, x)
		case *object.BoundMethod:
			dst = append(dst, x.Receiver)
		case *object.Class:
			if enter(seen, x) {
				for _, c := range x.Constants() {
					pending = append(pending, c)
				}
			}
		case *starlark.List:
			if enter(seen, x) {
				for i := x.Len() - 1; i >= 0; i-- {
					pending = append(pending, x.Index(i))
				}
			}
		case starlark.Tuple:
			for i := len(x) - 1; i >= 0; i-- {
				pending = append(pending, x[i])
			}
		case *starlark.Dict:
			if enter(seen, x) {
				for _, kv := range x.Items() {
					pending = append(pending, kv[0], kv[1])
				}
			}
		case *starlark.Set:
			if enter(seen, x) {
				pending = appendIterable(pending, x)
			}
		}
	}
	return dst
}

func appendIterable(dst []starlark.Value, it starlark.Iterable) []starlark.Value {
	iter := it.Iterate()
	defer iter.Done()
	var v starlark.Value
	for iter.Next(&v) {
		dst = append(dst, v)
	}
	return dst
}

func enter(seen map[any]struct{}, key any) bool {
	if _, ok := seen[key]; ok {
		return false
	}
	seen[key] = struct{}{}
	return true
}
