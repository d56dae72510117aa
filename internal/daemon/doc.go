// Package daemon runs the workstation side of fleet coordination.
//
// The daemon owns the periodic refresh cycle: it fingerprints the
// repository, publishes this workstation's presence record, prunes expired
// peers, recomputes the fleet state (membership, election, capacity), and
// — when this instance is the elected coordinator — plans the backlog into
// conflict-free execution waves and writes the assignment sheet every
// member reads back. Between full refreshes a lighter heartbeat keeps the
// presence record and held leases fresh, and a slower sweep transitions
// stale leases to abandoned. A filesystem watcher on the coordination
// directory triggers an early refresh when a peer writes, so reaction to
// fleet changes is bounded by the debounce rather than the refresh
// interval.
//
// The daemon also carries the supervisor glue between the anomaly detector
// and the agent runner: anomaly events with kill or restart actions become
// lifecycle calls on a ProcessController, and the crash tracker halts
// auto-restart for processes that keep dying instantly.
package daemon
