// Package registry records every version of every class ever observed, keyed
// by qualified name.
//
// Reinitializing a unit creates new class values that logically succeed the
// old ones. Instances built before the reload still carry the old values, so
// the registry keeps all of them: it is an append-only multimap from qualified
// name to version records. Prune retires superseded versions to weak
// references; a version leaves the registry only once its class value has been
// collected.
package registry

import (
	"slices"
	"sync"
	"time"
	"weak"

	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/object"
)

// Declarer is a unit whose top-level globals can be scanned for classes.
type Declarer interface {
	Name() string
	Globals() starlark.StringDict
}

// Version is one observed class value.
type Version struct {
	Seq        uint64 // Monotonic across the whole registry
	Class      *object.Class
	Unit       string // Unit whose globals exposed the class
	ObservedAt time.Time
}

// record is a Version as stored. A retired record holds its class only
// weakly: Class is nil and weak resolves it while something else keeps the
// class alive.
type record struct {
	Version
	classID uint64
	weak    weak.Pointer[object.Class]
}

func (rec record) class() *object.Class {
	if rec.Class != nil {
		return rec.Class
	}
	return rec.weak.Value()
}

func (rec record) version() (Version, bool) {
	c := rec.class()
	if c == nil {
		return Version{}, false
	}
	v := rec.Version
	v.Class = c
	return v, true
}

// Snapshot maps each qualified name to every class version recorded for it,
// oldest first.
type Snapshot map[string][]*object.Class

// Classes returns every class version in the snapshot as one set.
func (s Snapshot) Classes() object.ClassSet {
	set := make(object.ClassSet)
	for _, versions := range s {
		for _, c := range versions {
			set.Add(c)
		}
	}
	return set
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	seq      uint64
	versions map[string][]record
	known    map[uint64]struct{} // Class IDs, so retired classes stay collectable
	logger   *logging.Logger
	now      func() time.Time
}

// New creates an empty registry.
func New(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{
		versions: make(map[string][]record),
		known:    make(map[uint64]struct{}),
		logger:   logger.WithComponent("registry"),
		now:      time.Now,
	}
}

// ClassesDeclaredIn records every class found among u's globals and returns
// a snapshot of the whole registry, not just of u.
func (r *Registry) ClassesDeclaredIn(u Declarer) Snapshot {
	r.Observe(u)
	return r.Snapshot()
}

// Observe records every class found among u's globals and returns the ones
// that were not known before. A class is recorded once no matter how many
// globals refer to it.
func (r *Registry) Observe(u Declarer) []*object.Class {
	globals := u.Globals()

	r.mu.Lock()
	defer r.mu.Unlock()

	var added []*object.Class
	for _, name := range globals.Keys() {
		cls, ok := globals[name].(*object.Class)
		if !ok {
			continue
		}
		if _, seen := r.known[cls.ID()]; seen {
			continue
		}
		r.seq++
		qn := cls.QualifiedName()
		r.known[cls.ID()] = struct{}{}
		r.versions[qn] = append(r.versions[qn], record{
			Version: Version{
				Seq:        r.seq,
				Class:      cls,
				Unit:       u.Name(),
				ObservedAt: r.now(),
			},
			classID: cls.ID(),
		})
		added = append(added, cls)

		r.logger.Debug("recorded class version",
			"class", qn,
			"seq", r.seq,
			"versions", len(r.versions[qn]))
	}
	return added
}

// Snapshot returns a copy of the registry. Retired versions whose class was
// collected are left out.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(Snapshot, len(r.versions))
	for name, recs := range r.versions {
		classes := make([]*object.Class, 0, len(recs))
		for _, rec := range recs {
			if c := rec.class(); c != nil {
				classes = append(classes, c)
			}
		}
		if len(classes) > 0 {
			snap[name] = classes
		}
	}
	return snap
}

// Versions returns the version records of a qualified name, oldest first.
func (r *Registry) Versions(qualifiedName string) []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var versions []Version
	for _, rec := range r.versions[qualifiedName] {
		if v, ok := rec.version(); ok {
			versions = append(versions, v)
		}
	}
	return versions
}

// Latest returns the newest version recorded for a qualified name.
func (r *Registry) Latest(qualifiedName string) (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := r.versions[qualifiedName]
	if len(recs) == 0 {
		return Version{}, false
	}
	return recs[len(recs)-1].version()
}

// Names returns the recorded qualified names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Len returns the number of recorded versions whose class is still alive.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, recs := range r.versions {
		for _, rec := range recs {
			if rec.class() != nil {
				n++
			}
		}
	}
	return n
}

// Prune bounds the registry's growth. Superseded versions without live
// instances according to live are retired: the registry keeps only a weak
// reference, so a class still reachable elsewhere (a load binding, a
// closure, a host root) stays visible and its future instances are still
// patched. Retired versions whose class has been collected are dropped. The
// newest version of every name is never retired. Prune returns the number
// of versions dropped.
func (r *Registry) Prune(live map[*object.Class]int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped, retired := 0, 0
	for name, recs := range r.versions {
		newest := len(recs) - 1
		kept := recs[:0:0]
		for i, rec := range recs {
			c := rec.class()
			if c == nil {
				delete(r.known, rec.classID)
				dropped++
				continue
			}
			if i != newest && rec.Class != nil && live[c] == 0 {
				rec.weak = weak.Make(c)
				rec.Class = nil
				retired++
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(r.versions, name)
			continue
		}
		r.versions[name] = kept
	}

	if dropped > 0 || retired > 0 {
		r.logger.Info("pruned class versions",
			"dropped", dropped,
			"retired", retired,
			"remaining", len(r.known))
	}
	return dropped
}
