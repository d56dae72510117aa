// Package event provides a pub-sub event bus for decoupled inter-component
// communication in herd.
//
// This package enables loose coupling between the daemon, registry, fleet
// tracker, and CLI by allowing them to communicate through events rather
// than direct method calls. Components can publish events without knowing
// who will receive them, and subscribe to events without knowing who will
// produce them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// The package defines several categories of events:
//
// Presence:
//   - [PresencePublishedEvent]: Emitted when this instance publishes its presence record
//   - [PresenceExpiredEvent]: Emitted when a peer's presence ages past the liveness TTL
//
// Fleet:
//   - [FleetChangedEvent]: Emitted when fleet composition or mode changes
//   - [CoordinatorElectedEvent]: Emitted when coordinator election settles
//
// Leases:
//   - [LeaseClaimedEvent]: Emitted when a task lease is claimed
//   - [LeaseRenewedEvent]: Emitted when a lease heartbeat is refreshed
//   - [LeaseReleasedEvent]: Emitted when a lease is released with an outcome
//   - [LeaseAbandonedEvent]: Emitted when a stale lease is swept
//   - [LeaseConflictEvent]: Emitted when a claim loses to an active owner
//
// Supervision:
//   - [AnomalyDetectedEvent]: Emitted when process output is classified as anomalous
//   - [CrashLoopEvent]: Emitted when a process exceeds the instant crash threshold
//   - [BacklogRefillEvent]: Emitted when the backlog falls below target depth
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	// Subscribe to specific event types
//	bus.Subscribe("lease.claimed", func(e event.Event) {
//	    claimed := e.(event.LeaseClaimedEvent)
//	    log.Printf("Task %s claimed by %s", claimed.TaskID, claimed.OwnerID)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("Event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
//	// Publish events
//	bus.Publish(event.NewLeaseClaimedEvent("task-1", "alpha-9f2c41aa", "tok", false))
//
//	// Unsubscribe when done
//	id := bus.Subscribe("fleet.changed", handler)
//	bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - presence.published, presence.expired
//   - fleet.changed, fleet.coordinator_elected
//   - lease.claimed, lease.renewed, lease.released, lease.abandoned, lease.conflict
//   - anomaly.detected
//   - daemon.crash_loop
//   - scheduler.backlog_refill
package event
