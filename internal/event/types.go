// Package event defines event types for decoupling components in herd.
// These events enable communication between the daemon, registry, fleet
// tracker, and CLI without requiring direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "lease.claimed", "fleet.changed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Presence Events
// -----------------------------------------------------------------------------

// PresencePublishedEvent is emitted when this instance publishes or refreshes
// its presence record.
type PresencePublishedEvent struct {
	baseEvent
	InstanceID    string // Unique identifier for the instance
	Host          string // Hostname the instance runs on
	IsCoordinator bool   // Whether the instance currently holds the coordinator role
}

// NewPresencePublishedEvent creates a PresencePublishedEvent.
func NewPresencePublishedEvent(instanceID, host string, isCoordinator bool) PresencePublishedEvent {
	return PresencePublishedEvent{
		baseEvent:     newBaseEvent("presence.published"),
		InstanceID:    instanceID,
		Host:          host,
		IsCoordinator: isCoordinator,
	}
}

// PresenceExpiredEvent is emitted when a peer's presence record ages past the
// liveness TTL and is pruned from the fleet view.
type PresenceExpiredEvent struct {
	baseEvent
	InstanceID string        // Peer whose presence expired
	Age        time.Duration // How stale the heartbeat was when pruned
}

// NewPresenceExpiredEvent creates a PresenceExpiredEvent.
func NewPresenceExpiredEvent(instanceID string, age time.Duration) PresenceExpiredEvent {
	return PresenceExpiredEvent{
		baseEvent:  newBaseEvent("presence.expired"),
		InstanceID: instanceID,
		Age:        age,
	}
}

// -----------------------------------------------------------------------------
// Fleet Events
// -----------------------------------------------------------------------------

// FleetMode represents the coordination mode an instance operates in.
// Mirrors fleet.Mode for decoupling.
type FleetMode string

const (
	FleetModeSolo        FleetMode = "solo"
	FleetModeFleet       FleetMode = "fleet"
	FleetModeMaintenance FleetMode = "maintenance"
)

// FleetChangedEvent is emitted when the observed fleet composition or mode
// changes: peers joining or leaving, coordinator handoff, or a mode switch.
type FleetChangedEvent struct {
	baseEvent
	PreviousMode  FleetMode // Mode before the change (empty on first observation)
	CurrentMode   FleetMode // Mode after the change
	FleetSize     int       // Number of live instances sharing the repo fingerprint
	TotalSlots    int       // Sum of max_parallel across live instances
	CoordinatorID string    // Instance currently elected coordinator
}

// NewFleetChangedEvent creates a FleetChangedEvent.
func NewFleetChangedEvent(previousMode, currentMode FleetMode, fleetSize, totalSlots int, coordinatorID string) FleetChangedEvent {
	return FleetChangedEvent{
		baseEvent:     newBaseEvent("fleet.changed"),
		PreviousMode:  previousMode,
		CurrentMode:   currentMode,
		FleetSize:     fleetSize,
		TotalSlots:    totalSlots,
		CoordinatorID: coordinatorID,
	}
}

// CoordinatorElectedEvent is emitted when coordinator election settles on an
// instance, including re-elections after the previous coordinator vanished.
type CoordinatorElectedEvent struct {
	baseEvent
	InstanceID string // Newly elected coordinator
	FleetSize  int    // Fleet size at election time
	Self       bool   // True when the local instance won the election
}

// NewCoordinatorElectedEvent creates a CoordinatorElectedEvent.
func NewCoordinatorElectedEvent(instanceID string, fleetSize int, self bool) CoordinatorElectedEvent {
	return CoordinatorElectedEvent{
		baseEvent:  newBaseEvent("fleet.coordinator_elected"),
		InstanceID: instanceID,
		FleetSize:  fleetSize,
		Self:       self,
	}
}

// -----------------------------------------------------------------------------
// Lease Events
// -----------------------------------------------------------------------------

// LeaseClaimedEvent is emitted when a task lease is successfully claimed.
type LeaseClaimedEvent struct {
	baseEvent
	TaskID       string // Task the lease covers
	OwnerID      string // Instance that claimed the lease
	AttemptToken string // Token identifying this attempt
	Takeover     bool   // True when the claim displaced a stale owner
}

// NewLeaseClaimedEvent creates a LeaseClaimedEvent.
func NewLeaseClaimedEvent(taskID, ownerID, attemptToken string, takeover bool) LeaseClaimedEvent {
	return LeaseClaimedEvent{
		baseEvent:    newBaseEvent("lease.claimed"),
		TaskID:       taskID,
		OwnerID:      ownerID,
		AttemptToken: attemptToken,
		Takeover:     takeover,
	}
}

// LeaseRenewedEvent is emitted when the owner refreshes its lease heartbeat.
type LeaseRenewedEvent struct {
	baseEvent
	TaskID  string // Task the lease covers
	OwnerID string // Instance renewing the lease
}

// NewLeaseRenewedEvent creates a LeaseRenewedEvent.
func NewLeaseRenewedEvent(taskID, ownerID string) LeaseRenewedEvent {
	return LeaseRenewedEvent{
		baseEvent: newBaseEvent("lease.renewed"),
		TaskID:    taskID,
		OwnerID:   ownerID,
	}
}

// LeaseReleasedEvent is emitted when the owner releases a lease with a
// terminal or retryable outcome.
type LeaseReleasedEvent struct {
	baseEvent
	TaskID  string // Task the lease covered
	OwnerID string // Instance that released the lease
	Status  string // Resulting attempt status ("complete", "failed", "abandoned")
	Error   string // Failure detail, empty on success
}

// NewLeaseReleasedEvent creates a LeaseReleasedEvent.
func NewLeaseReleasedEvent(taskID, ownerID, status, errMsg string) LeaseReleasedEvent {
	return LeaseReleasedEvent{
		baseEvent: newBaseEvent("lease.released"),
		TaskID:    taskID,
		OwnerID:   ownerID,
		Status:    status,
		Error:     errMsg,
	}
}

// LeaseAbandonedEvent is emitted when a stale lease is swept because its
// owner stopped heartbeating.
type LeaseAbandonedEvent struct {
	baseEvent
	TaskID        string        // Task whose lease was swept
	PreviousOwner string        // Owner that went silent
	HeartbeatAge  time.Duration // How stale the heartbeat was at sweep time
}

// NewLeaseAbandonedEvent creates a LeaseAbandonedEvent.
func NewLeaseAbandonedEvent(taskID, previousOwner string, heartbeatAge time.Duration) LeaseAbandonedEvent {
	return LeaseAbandonedEvent{
		baseEvent:     newBaseEvent("lease.abandoned"),
		TaskID:        taskID,
		PreviousOwner: previousOwner,
		HeartbeatAge:  heartbeatAge,
	}
}

// LeaseConflictEvent is emitted when a claim is refused because another
// instance holds an active lease.
type LeaseConflictEvent struct {
	baseEvent
	TaskID     string // Contested task
	OwnerID    string // Instance currently holding the lease
	ClaimantID string // Instance whose claim was refused
	Reason     string // Machine-readable refusal reason
}

// NewLeaseConflictEvent creates a LeaseConflictEvent.
func NewLeaseConflictEvent(taskID, ownerID, claimantID, reason string) LeaseConflictEvent {
	return LeaseConflictEvent{
		baseEvent:  newBaseEvent("lease.conflict"),
		TaskID:     taskID,
		OwnerID:    ownerID,
		ClaimantID: claimantID,
		Reason:     reason,
	}
}

// -----------------------------------------------------------------------------
// Anomaly Events
// -----------------------------------------------------------------------------

// AnomalyDetectedEvent is emitted when the output monitor classifies a
// process anomaly. Severity and Action mirror the anomaly package values
// for decoupling.
type AnomalyDetectedEvent struct {
	baseEvent
	ProcessID   string // Process whose output triggered the anomaly
	TaskTitle   string // Task the process was working on
	AnomalyType string // Anomaly category (e.g., "token_limit_overflow")
	Severity    string // "low", "medium", "high", or "critical"
	Action      string // Recommended action (e.g., "kill", "restart", "notify_only")
	Message     string // Human-readable description
}

// NewAnomalyDetectedEvent creates an AnomalyDetectedEvent.
func NewAnomalyDetectedEvent(processID, taskTitle, anomalyType, severity, action, message string) AnomalyDetectedEvent {
	return AnomalyDetectedEvent{
		baseEvent:   newBaseEvent("anomaly.detected"),
		ProcessID:   processID,
		TaskTitle:   taskTitle,
		AnomalyType: anomalyType,
		Severity:    severity,
		Action:      action,
		Message:     message,
	}
}

// -----------------------------------------------------------------------------
// Crash Loop Events
// -----------------------------------------------------------------------------

// CrashLoopEvent is emitted when a supervised process exceeds the instant
// crash threshold and restarts are suspended.
type CrashLoopEvent struct {
	baseEvent
	ProcessID string // Process stuck in the crash loop
	Streak    int    // Consecutive instant crashes observed
}

// NewCrashLoopEvent creates a CrashLoopEvent.
func NewCrashLoopEvent(processID string, streak int) CrashLoopEvent {
	return CrashLoopEvent{
		baseEvent: newBaseEvent("daemon.crash_loop"),
		ProcessID: processID,
		Streak:    streak,
	}
}

// -----------------------------------------------------------------------------
// Backlog Events
// -----------------------------------------------------------------------------

// BacklogRefillEvent is emitted when the scheduler determines the shared
// backlog has fallen below target depth and more tasks should be generated.
type BacklogRefillEvent struct {
	baseEvent
	CurrentDepth int // Tasks currently in the backlog
	TargetDepth  int // Depth the scheduler wants to maintain
	Deficit      int // Tasks needed to reach the target
}

// NewBacklogRefillEvent creates a BacklogRefillEvent.
func NewBacklogRefillEvent(currentDepth, targetDepth, deficit int) BacklogRefillEvent {
	return BacklogRefillEvent{
		baseEvent:    newBaseEvent("scheduler.backlog_refill"),
		CurrentDepth: currentDepth,
		TargetDepth:  targetDepth,
		Deficit:      deficit,
	}
}
