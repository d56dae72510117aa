package anomaly

import "time"

// Severity ranks how serious a detected anomaly is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank maps severities onto a comparable scale. Unknown severities rank
// below low.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// Action is the lifecycle decision recommended to the supervisor.
type Action string

const (
	ActionNone    Action = "none"
	ActionWarn    Action = "warn"
	ActionKill    Action = "kill"
	ActionRestart Action = "restart"
)

// Category identifies a detector rule family. Every incoming line is matched
// against each category independently, so a single line can advance several
// counters at once.
type Category string

const (
	CategoryTokenOverflow      Category = "TOKEN_OVERFLOW"
	CategoryModelNotSupported  Category = "MODEL_NOT_SUPPORTED"
	CategoryStreamDeath        Category = "STREAM_DEATH"
	CategoryToolCallLoop       Category = "TOOL_CALL_LOOP"
	CategoryRebaseSpiral       Category = "REBASE_SPIRAL"
	CategoryGitPushLoop        Category = "GIT_PUSH_LOOP"
	CategorySubagentWaste      Category = "SUBAGENT_WASTE"
	CategoryToolFailureCascade Category = "TOOL_FAILURE_CASCADE"
	CategoryThoughtSpinning    Category = "THOUGHT_SPINNING"
	CategoryCommandFailureRate Category = "COMMAND_FAILURE_RATE"
	CategorySelfDebug          Category = "SELF_DEBUG"
)

// Line is one unit of process output plus routing metadata. Stream
// distinguishes stdout from stderr and is informational only; TaskTitle is
// carried through to emitted events when present.
type Line struct {
	ProcessID string
	Stream    string
	TaskTitle string
	Text      string
}

// Event describes one detected anomaly. Events are immutable once emitted;
// Data carries category-specific detail such as counter values.
type Event struct {
	Type      Category
	Severity  Severity
	Action    Action
	Message   string
	Data      map[string]any
	ProcessID string
	TaskTitle string
	Timestamp time.Time
}

// ProcessStats is a snapshot of the accumulated classifier state for one
// process. Stats survive process death so finished sessions stay reportable.
type ProcessStats struct {
	ProcessID      string
	TaskTitle      string
	Lines          int
	Dead           bool
	Events         map[Category]int
	CommandsTotal  int
	CommandsFailed int
}
