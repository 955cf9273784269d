package reload

import (
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/object"
	"github.com/Iron-Ham/livepatch/internal/tracker"
	"github.com/Iron-Ham/livepatch/internal/unit"
)

// ChangeTracker reports units whose files changed since the last cycle.
type ChangeTracker interface {
	ChangedUnits() []tracker.Record
}

// Reinitializer re-executes a unit into a fresh version. Invalid source must
// be reported as *errors.DefinitionError.
type Reinitializer interface {
	Reinitialize(u *unit.Unit) (*unit.Unit, error)
}

// Enumerator finds the live instances of a set of class versions.
type Enumerator interface {
	LiveInstancesOf(targets object.ClassSet) []*object.Instance
}

// Counter reports how many live instances each class version has.
type Counter interface {
	CountByClass() map[*object.Class]int
}

// Report summarizes one cycle.
type Report struct {
	CycleID  string
	Changed  []string         // Units whose files changed, in tracker order
	Reloaded []string         // Units reinitialized successfully
	Failed   map[string]error // Units skipped because of a definition error
	Patched  map[string]int   // Qualified class name -> instances rebound
	Pruned   int              // Collected class versions dropped from the registry
	Duration time.Duration
}

// Empty reports whether the cycle found nothing to do.
func (r Report) Empty() bool { return len(r.Changed) == 0 }

// PatchedInstances returns the number of instance rebinds across all classes.
func (r Report) PatchedInstances() int {
	total := 0
	for _, n := range r.Patched {
		total += n
	}
	return total
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPruning prunes the registry after every cycle that reloaded something,
// using counter for the live instance counts. Superseded versions without
// instances are retired to weak references and dropped once collected.
func WithPruning(counter Counter) Option {
	return func(o *Orchestrator) {
		o.counter = counter
	}
}

// WithCycleIDs replaces the generator of cycle identifiers.
func WithCycleIDs(next func() string) Option {
	return func(o *Orchestrator) {
		o.newID = next
	}
}

func newCycleID() string { return uuid.NewString() }
