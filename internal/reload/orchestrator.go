// Package reload runs reload cycles: it reinitializes units whose files
// changed and rebinds the methods of their classes' live instances to the
// new definitions.
package reload

import (
	"context"
	"time"

	"github.com/Iron-Ham/livepatch/internal/errors"
	"github.com/Iron-Ham/livepatch/internal/event"
	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/object"
	"github.com/Iron-Ham/livepatch/internal/registry"
)

// Orchestrator drives reload cycles. RunCycle must not be called
// concurrently; the scheduler runs cycles one at a time.
type Orchestrator struct {
	tracker    ChangeTracker
	loader     Reinitializer
	registry   *registry.Registry
	enumerator Enumerator
	bus        *event.Bus
	counter    Counter
	logger     *logging.Logger
	newID      func() string
	now        func() time.Time
}

// New creates an orchestrator. bus may be nil.
func New(t ChangeTracker, loader Reinitializer, reg *registry.Registry, e Enumerator, bus *event.Bus, opts ...Option) *Orchestrator {
	if bus == nil {
		bus = event.NewBus(nil)
	}
	o := &Orchestrator{
		tracker:    t,
		loader:     loader,
		registry:   reg,
		enumerator: e,
		bus:        bus,
		logger:     logging.NopLogger(),
		newID:      newCycleID,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("reload")
	return o
}

// RunCycle runs one reload cycle.
//
// When no unit changed it returns an empty report without touching
// anything. Otherwise it collects every recorded version of every class
// (across all changed units), finds their live instances, and groups those
// by qualified name. Each changed unit is then reinitialized; a definition
// error is logged and skips only that unit. For every class the fresh unit
// declares, each live instance filed under its qualified name gets every
// method rebound to the new body. Fields are left alone.
//
// Any error other than a definition error aborts the cycle and is returned
// together with the partial report.
func (o *Orchestrator) RunCycle(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	start := o.now()
	changed := o.tracker.ChangedUnits()
	if len(changed) == 0 {
		return Report{}, nil
	}

	report := Report{
		CycleID: o.newID(),
		Failed:  make(map[string]error),
		Patched: make(map[string]int),
	}
	logger := o.logger.WithCycle(report.CycleID)
	for _, rec := range changed {
		report.Changed = append(report.Changed, rec.Name)
		o.bus.Publish(event.NewUnitChangedEvent(rec.Name, rec.Path, rec.ModTime, rec.Previous))
	}

	snapshots := make([]registry.Snapshot, 0, len(changed))
	for _, rec := range changed {
		snapshots = append(snapshots, o.registry.ClassesDeclaredIn(rec.Unit))
	}
	classesToCheck := make(object.ClassSet)
	for _, snap := range snapshots {
		for _, versions := range snap {
			for _, cls := range versions {
				classesToCheck.Add(cls)
			}
		}
	}

	live := o.enumerator.LiveInstancesOf(classesToCheck)
	instances := groupByName(snapshots, live)
	logger.Debug("collected live instances",
		"changed", len(changed),
		"classes", classesToCheck.Len(),
		"instances", len(live))

	for _, rec := range changed {
		fresh, err := o.loader.Reinitialize(rec.Unit)
		if err != nil {
			if !errors.IsRecoverable(err) {
				report.Duration = o.now().Sub(start)
				return report, errors.Wrapf(err, "reinitialize unit %s", rec.Name)
			}
			diagnostic := err.Error()
			var defErr *errors.DefinitionError
			if errors.As(err, &defErr) {
				diagnostic = defErr.Diagnostic
			}
			logger.Error("cannot reload unit", "unit", rec.Name, "error", diagnostic)
			report.Failed[rec.Name] = err
			o.bus.Publish(event.NewUnitReloadFailedEvent(rec.Name, diagnostic))
			continue
		}

		logger.Info("unit reloaded", "unit", rec.Name, "generation", fresh.Generation())
		report.Reloaded = append(report.Reloaded, rec.Name)
		o.registry.Observe(fresh)

		classes := fresh.Classes()
		names := make([]string, len(classes))
		for i, cls := range classes {
			names[i] = cls.QualifiedName()
		}
		o.bus.Publish(event.NewUnitReloadedEvent(rec.Name, fresh.Generation(), names))

		for _, cls := range classes {
			qn := cls.QualifiedName()
			objs := instances[qn]
			methods := cls.Methods()
			if len(objs) == 0 || len(methods) == 0 {
				continue
			}
			rebind(cls, methods, objs)
			report.Patched[qn] += len(objs)
			logger.Debug("patched instances", "class", qn, "instances", len(objs), "methods", methods)
			o.bus.Publish(event.NewInstancesPatchedEvent(qn, len(objs), methods))
		}
	}

	if o.counter != nil && len(report.Reloaded) > 0 {
		report.Pruned = o.registry.Prune(o.counter.CountByClass())
	}

	report.Duration = o.now().Sub(start)
	logger.Debug("reload cycle completed",
		"reloaded", len(report.Reloaded),
		"failed", len(report.Failed),
		"patched", report.PatchedInstances(),
		"duration_ms", report.Duration.Milliseconds())
	o.bus.Publish(event.NewCycleCompletedEvent(report.CycleID,
		len(report.Changed), len(report.Reloaded), len(report.Failed),
		report.PatchedInstances(), report.Duration))
	return report, nil
}

// groupByName files every live instance under each qualified name whose
// recorded versions include the instance's class.
func groupByName(snapshots []registry.Snapshot, live []*object.Instance) map[string][]*object.Instance {
	instances := make(map[string][]*object.Instance)
	for _, snap := range snapshots {
		for name, versions := range snap {
			set := object.NewClassSet(versions...)
			var matched []*object.Instance
			for _, inst := range live {
				if set.Contains(inst.Class()) {
					matched = append(matched, inst)
				}
			}
			instances[name] = matched
		}
	}
	return instances
}

// rebind points the named methods of cls at their new bodies on each
// instance.
func rebind(cls *object.Class, methods []string, instances []*object.Instance) {
	for _, inst := range instances {
		for _, name := range methods {
			fn, _ := cls.Method(name)
			inst.Bind(name, fn)
		}
	}
}
