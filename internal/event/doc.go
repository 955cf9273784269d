// Package event provides a pub-sub event bus for decoupled communication
// between the reload engine and its observers.
//
// The orchestrator and scheduler publish events; the metrics collector, the
// CLI, and tests subscribe. Publishing never depends on who is listening.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Unit events:
//   - [UnitChangedEvent]: a unit's file has a new modification time
//   - [UnitReloadedEvent]: a unit was reinitialized
//   - [UnitReloadFailedEvent]: a unit's new source was rejected
//
// Patch and cycle events:
//   - [InstancesPatchedEvent]: live instances of a class were rebound
//   - [CycleCompletedEvent]: a cycle with changes finished
//   - [SchedulerStartedEvent], [SchedulerStoppedEvent]: loop lifecycle
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called synchronously
// on the publisher's goroutine and protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeUnitReloaded, func(e event.Event) {
//	    reloaded := e.(event.UnitReloadedEvent)
//	    fmt.Println("reloaded", reloaded.Unit)
//	})
//
//	id := bus.SubscribeAll(func(e event.Event) { ... })
//	bus.Unsubscribe(id)
package event
