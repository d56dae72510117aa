package registry

import (
	"time"

	"github.com/google/uuid"
)

// documentVersion is the schema version stamped on every persisted document.
const documentVersion = 1

// maxEventLogEntries bounds the per-task event log. Older entries are
// discarded once the log exceeds this size.
const maxEventLogEntries = 100

// Event actors recorded in the per-task event log. Lease operations record
// the acting owner ID; these constants cover transitions with no owner.
const (
	// actorSystem marks transitions applied by the sweeper rather than an owner.
	actorSystem = "system"
	// actorOperator marks ignore/unignore transitions applied by a human.
	actorOperator = "operator"
)

// Event actions appended to the per-task event log.
const (
	eventClaimed   = "claimed"
	eventRenewed   = "renewed"
	eventReleased  = "released"
	eventAbandoned = "abandoned"
	eventTakeover  = "conflict:takeover"
	eventIgnored   = "ignored"
	eventUnignored = "unignored"
)

// AttemptStatus describes the lifecycle state of a task's current attempt.
type AttemptStatus string

const (
	// StatusClaimed means an owner holds the lease but has not yet renewed.
	StatusClaimed AttemptStatus = "claimed"
	// StatusWorking means the owner is actively renewing its heartbeat.
	StatusWorking AttemptStatus = "working"
	// StatusComplete means the attempt finished successfully.
	StatusComplete AttemptStatus = "complete"
	// StatusFailed means the attempt finished with an error.
	StatusFailed AttemptStatus = "failed"
	// StatusAbandoned means the owner stopped heartbeating and the lease
	// was swept, or the owner released without finishing.
	StatusAbandoned AttemptStatus = "abandoned"
	// StatusIgnored means the task was vetoed without ever being attempted.
	StatusIgnored AttemptStatus = "ignored"
)

// IsTerminal reports whether the status represents a finished attempt.
// Terminal records can be overwritten by a fresh claim; non-terminal records
// are protected by the owner's heartbeat.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusAbandoned:
		return true
	default:
		return false
	}
}

// IsValid reports whether the status is one of the known values.
func (s AttemptStatus) IsValid() bool {
	switch s {
	case StatusClaimed, StatusWorking, StatusComplete, StatusFailed, StatusAbandoned, StatusIgnored:
		return true
	default:
		return false
	}
}

// TaskEvent is one entry in a task's bounded transition log.
type TaskEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
}

// TaskState is the shared lease record for a single task. One record exists
// per task ID; all mutation goes through Registry operations so that every
// transition lands in the event log.
type TaskState struct {
	TaskID         string        `json:"taskId"`
	OwnerID        string        `json:"ownerId"`
	OwnerHeartbeat time.Time     `json:"ownerHeartbeat"`
	AttemptToken   string        `json:"attemptToken"`
	AttemptStatus  AttemptStatus `json:"attemptStatus"`
	RetryCount     int           `json:"retryCount"`
	LastError      string        `json:"lastError,omitempty"`
	IgnoreReason   string        `json:"ignoreReason,omitempty"`
	TTLSeconds     int           `json:"ttlSeconds"`
	EventLog       []TaskEvent   `json:"eventLog"`
}

// TTL returns the record's lease TTL as a duration.
func (t *TaskState) TTL() time.Duration {
	return time.Duration(t.TTLSeconds) * time.Second
}

// HeartbeatAge returns how long ago the owner last heartbeat, relative to now.
func (t *TaskState) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(t.OwnerHeartbeat)
}

// IsStale reports whether the owner's heartbeat is older than the record's
// own lease TTL. Stale owners lose conflict resolution to challengers.
func (t *TaskState) IsStale(now time.Time) bool {
	return t.HeartbeatAge(now) > t.TTL()
}

// appendEvent records a transition in the event log, trimming the oldest
// entries past the bound.
func (t *TaskState) appendEvent(now time.Time, action, actor, detail string) {
	t.EventLog = append(t.EventLog, TaskEvent{
		Timestamp: now,
		Action:    action,
		Actor:     actor,
		Detail:    detail,
	})
	if len(t.EventLog) > maxEventLogEntries {
		t.EventLog = t.EventLog[len(t.EventLog)-maxEventLogEntries:]
	}
}

// Clone returns a deep copy of the record. Operations return clones so
// callers can never mutate registry state without going through an operation.
func (t *TaskState) Clone() *TaskState {
	if t == nil {
		return nil
	}
	cp := *t
	cp.EventLog = make([]TaskEvent, len(t.EventLog))
	copy(cp.EventLog, t.EventLog)
	return &cp
}

// Document is the persisted registry: a version header plus one TaskState
// per task ID. It is the sole source of truth for claim state and is shared
// by every workstation process operating on the same repository.
type Document struct {
	Version     int                   `json:"version"`
	LastUpdated time.Time             `json:"lastUpdated"`
	Tasks       map[string]*TaskState `json:"tasks"`
}

// NewDocument returns an empty registry document.
func NewDocument() *Document {
	return &Document{
		Version: documentVersion,
		Tasks:   make(map[string]*TaskState),
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	cp := &Document{
		Version:     d.Version,
		LastUpdated: d.LastUpdated,
		Tasks:       make(map[string]*TaskState, len(d.Tasks)),
	}
	for id, task := range d.Tasks {
		cp.Tasks[id] = task.Clone()
	}
	return cp
}

// NewAttemptToken returns an opaque token identifying a single claim attempt.
// Renew and release must present the token issued at claim time, which
// fences out writes from superseded attempts after a takeover.
func NewAttemptToken() string {
	return uuid.NewString()
}
