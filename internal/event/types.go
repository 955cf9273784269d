// Package event defines the events published by the reload engine.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "unit.reloaded", "cycle.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeUnitChanged      = "unit.changed"
	TypeUnitReloaded     = "unit.reloaded"
	TypeUnitReloadFailed = "unit.reload_failed"
	TypeInstancesPatched = "instances.patched"
	TypeCycleCompleted   = "cycle.completed"
	TypeSchedulerStarted = "scheduler.started"
	TypeSchedulerStopped = "scheduler.stopped"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Unit Events
// -----------------------------------------------------------------------------

// UnitChangedEvent is emitted when a unit's backing file has a new
// modification time since it was last observed.
type UnitChangedEvent struct {
	baseEvent
	Unit     string
	Path     string
	ModTime  time.Time
	Previous time.Time
}

// NewUnitChangedEvent creates a UnitChangedEvent.
func NewUnitChangedEvent(unit, path string, modTime, previous time.Time) UnitChangedEvent {
	return UnitChangedEvent{
		baseEvent: newBaseEvent(TypeUnitChanged),
		Unit:      unit,
		Path:      path,
		ModTime:   modTime,
		Previous:  previous,
	}
}

// UnitReloadedEvent is emitted when a unit was reinitialized from its current source.
type UnitReloadedEvent struct {
	baseEvent
	Unit       string
	Generation int
	Classes    []string // Qualified names declared by the new unit
}

// NewUnitReloadedEvent creates a UnitReloadedEvent.
func NewUnitReloadedEvent(unit string, generation int, classes []string) UnitReloadedEvent {
	return UnitReloadedEvent{
		baseEvent:  newBaseEvent(TypeUnitReloaded),
		Unit:       unit,
		Generation: generation,
		Classes:    classes,
	}
}

// UnitReloadFailedEvent is emitted when a unit's new source was rejected.
// The previously loaded version stays in effect.
type UnitReloadFailedEvent struct {
	baseEvent
	Unit       string
	Diagnostic string
}

// NewUnitReloadFailedEvent creates a UnitReloadFailedEvent.
func NewUnitReloadFailedEvent(unit, diagnostic string) UnitReloadFailedEvent {
	return UnitReloadFailedEvent{
		baseEvent:  newBaseEvent(TypeUnitReloadFailed),
		Unit:       unit,
		Diagnostic: diagnostic,
	}
}

// -----------------------------------------------------------------------------
// Patch Events
// -----------------------------------------------------------------------------

// InstancesPatchedEvent is emitted after the live instances of one qualified
// class name were rebound to a new version's methods.
type InstancesPatchedEvent struct {
	baseEvent
	QualifiedName string
	Instances     int
	Methods       []string
}

// NewInstancesPatchedEvent creates an InstancesPatchedEvent.
func NewInstancesPatchedEvent(qualifiedName string, instances int, methods []string) InstancesPatchedEvent {
	return InstancesPatchedEvent{
		baseEvent:     newBaseEvent(TypeInstancesPatched),
		QualifiedName: qualifiedName,
		Instances:     instances,
		Methods:       methods,
	}
}

// -----------------------------------------------------------------------------
// Cycle Events
// -----------------------------------------------------------------------------

// CycleCompletedEvent is emitted at the end of every cycle that found changes.
type CycleCompletedEvent struct {
	baseEvent
	CycleID  string
	Changed  int
	Reloaded int
	Failed   int
	Patched  int // Instances rebound across all classes
	Duration time.Duration
}

// NewCycleCompletedEvent creates a CycleCompletedEvent.
func NewCycleCompletedEvent(cycleID string, changed, reloaded, failed, patched int, d time.Duration) CycleCompletedEvent {
	return CycleCompletedEvent{
		baseEvent: newBaseEvent(TypeCycleCompleted),
		CycleID:   cycleID,
		Changed:   changed,
		Reloaded:  reloaded,
		Failed:    failed,
		Patched:   patched,
		Duration:  d,
	}
}

// SchedulerStartedEvent is emitted once when the scheduler loop starts.
type SchedulerStartedEvent struct {
	baseEvent
	Interval time.Duration
}

// NewSchedulerStartedEvent creates a SchedulerStartedEvent.
func NewSchedulerStartedEvent(interval time.Duration) SchedulerStartedEvent {
	return SchedulerStartedEvent{
		baseEvent: newBaseEvent(TypeSchedulerStarted),
		Interval:  interval,
	}
}

// SchedulerStoppedEvent is emitted when the scheduler loop exits. Err is nil
// when it stopped because its context was cancelled.
type SchedulerStoppedEvent struct {
	baseEvent
	Err error
}

// NewSchedulerStoppedEvent creates a SchedulerStoppedEvent.
func NewSchedulerStoppedEvent(err error) SchedulerStoppedEvent {
	return SchedulerStoppedEvent{
		baseEvent: newBaseEvent(TypeSchedulerStopped),
		Err:       err,
	}
}
