// Package anomaly classifies live agent output into actionable events.
// A Detector consumes one line at a time, keeps per-process rolling
// counters, and emits an Event when a category threshold is crossed.
// Emission is rate-limited by a dedup window per (process, category,
// severity) key, and a circuit breaker escalates categories that keep
// warning without ever reaching a kill threshold on their own.
package anomaly

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/herd/internal/event"
	"github.com/Iron-Ham/herd/internal/logging"
)

// Per-category thresholds. A warn threshold emits medium severity with a
// warn action; a kill threshold emits high severity with a kill action.
const (
	toolLoopWarnStreak = 3
	toolLoopKillStreak = 6

	// iterativeMultiplier relaxes both loop thresholds for edit/read tools,
	// which repeat legitimately against a file under construction.
	iterativeMultiplier = 3

	rebaseWarnCount = 3
	rebaseKillCount = 6

	pushWarnCount = 5
	pushKillCount = 10

	subagentWarnCount = 5
	subagentKillCount = 10

	toolFailureWarnCount = 5
	toolFailureKillCount = 10

	thoughtWarnRepeats = 4

	commandMinSamples     = 10
	commandWarnFailurePct = 50
	commandKillFailurePct = 80
)

// escalatedMarker prefixes the message of circuit-breaker escalations.
const escalatedMarker = "[ESCALATED]"

const (
	defaultDedupWindow         = 30 * time.Second
	defaultBreakerThreshold    = 3
	defaultModelErrorKillCount = 3
)

// Detector is a streaming classifier over agent process output. One
// Detector serves every process of a workstation; state is partitioned by
// process id. Safe for concurrent use.
type Detector struct {
	mu    sync.Mutex
	procs map[string]*processState

	onAnomaly func(Event)
	notify    func(Event)
	bus       *event.Bus
	log       *logging.Logger

	// now is replaced in tests to control the dedup window.
	now func() time.Time

	dedupWindow         time.Duration
	breakerThreshold    int
	modelErrorKillCount int
}

// Option configures a Detector.
type Option func(*Detector)

// WithOnAnomaly registers a callback invoked for every emitted event.
func WithOnAnomaly(fn func(Event)) Option {
	return func(d *Detector) { d.onAnomaly = fn }
}

// WithNotify registers the external alerting callback. It is invoked only
// for events of medium or higher severity.
func WithNotify(fn func(Event)) Option {
	return func(d *Detector) { d.notify = fn }
}

// WithBus publishes every emitted event to the given bus.
func WithBus(bus *event.Bus) Option {
	return func(d *Detector) { d.bus = bus }
}

// WithLogger sets the logger for emitted events.
func WithLogger(log *logging.Logger) Option {
	return func(d *Detector) { d.log = log }
}

// WithDedupWindow overrides the duplicate-suppression window.
func WithDedupWindow(w time.Duration) Option {
	return func(d *Detector) { d.dedupWindow = w }
}

// WithCircuitBreakerThreshold overrides how many warn emissions a category
// may accumulate before the next one escalates to a kill.
func WithCircuitBreakerThreshold(n int) Option {
	return func(d *Detector) { d.breakerThreshold = n }
}

// WithModelErrorKillCount overrides how many model rejections are tolerated
// before the process is killed.
func WithModelErrorKillCount(n int) Option {
	return func(d *Detector) { d.modelErrorKillCount = n }
}

// NewDetector creates a Detector with default thresholds.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		procs:               make(map[string]*processState),
		log:                 logging.NopLogger(),
		now:                 time.Now,
		dedupWindow:         defaultDedupWindow,
		breakerThreshold:    defaultBreakerThreshold,
		modelErrorKillCount: defaultModelErrorKillCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// dedupKey scopes duplicate suppression within one process.
type dedupKey struct {
	cat Category
	sev Severity
}

// processState accumulates classifier state for one process.
type processState struct {
	id        string
	taskTitle string
	dead      bool
	lines     int

	modelErrors int

	toolFingerprint string
	toolStreak      int

	rebaseContinues int
	pushes          int
	subagents       int
	toolFailures    int

	lastThought    string
	thoughtRepeats int

	commandsTotal  int
	commandsFailed int

	lastEmit   map[dedupKey]time.Time
	warnEmits  map[Category]int
	killed     map[Category]bool
	eventCount map[Category]int
}

func newProcessState(id string) *processState {
	return &processState{
		id:         id,
		lastEmit:   make(map[dedupKey]time.Time),
		warnEmits:  make(map[Category]int),
		killed:     make(map[Category]bool),
		eventCount: make(map[Category]int),
	}
}

// Observe classifies one line of process output. Lines for dead processes
// are discarded without touching any counters.
func (d *Detector) Observe(line Line) {
	if line.ProcessID == "" || line.Text == "" {
		return
	}

	d.mu.Lock()
	ps := d.process(line.ProcessID)
	if line.TaskTitle != "" {
		ps.taskTitle = line.TaskTitle
	}
	if ps.dead {
		d.mu.Unlock()
		return
	}
	ps.lines++
	events := d.classify(ps, StripAnsi(line.Text))
	d.mu.Unlock()

	// Sinks run outside the lock so they may call back into the detector.
	for _, e := range events {
		d.deliver(e)
	}
}

// MarkDead excludes a process from all further classification. The
// supervisor calls this after killing a process so buffered output cannot
// re-trigger anomalies. Accumulated state is retained for Stats.
func (d *Detector) MarkDead(processID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.process(processID).dead = true
}

// Stats returns a snapshot of every observed process, including dead ones.
func (d *Detector) Stats() map[string]ProcessStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]ProcessStats, len(d.procs))
	for id, ps := range d.procs {
		events := make(map[Category]int, len(ps.eventCount))
		for cat, n := range ps.eventCount {
			events[cat] = n
		}
		out[id] = ProcessStats{
			ProcessID:      id,
			TaskTitle:      ps.taskTitle,
			Lines:          ps.lines,
			Dead:           ps.dead,
			Events:         events,
			CommandsTotal:  ps.commandsTotal,
			CommandsFailed: ps.commandsFailed,
		}
	}
	return out
}

func (d *Detector) process(id string) *processState {
	ps, ok := d.procs[id]
	if !ok {
		ps = newProcessState(id)
		d.procs[id] = ps
	}
	return ps
}

// classify runs every category detector against the line and returns the
// events that survived thresholds and dedup. Caller holds d.mu.
func (d *Detector) classify(ps *processState, text string) []Event {
	var out []Event

	if sessionDonePattern.MatchString(text) {
		ps.dead = true
		d.log.Debug("process reached terminal marker", "process", ps.id)
		return out
	}

	if m := tokenOverflowPattern.FindStringSubmatch(text); m != nil {
		tokens, _ := strconv.Atoi(m[1])
		limit, _ := strconv.Atoi(m[2])
		if e, ok := d.record(ps, CategoryTokenOverflow, SeverityCritical, ActionKill,
			fmt.Sprintf("prompt token count %d exceeds the limit of %d", tokens, limit),
			map[string]any{"tokenCount": tokens, "limit": limit}); ok {
			out = append(out, e)
		}
		// The context can only grow, so the session is unrecoverable.
		ps.dead = true
		return out
	}

	if modelNotSupportedPattern.MatchString(text) {
		ps.modelErrors++
		sev, act := SeverityMedium, ActionWarn
		if ps.modelErrors >= d.modelErrorKillCount {
			sev, act = SeverityHigh, ActionKill
		}
		if e, ok := d.record(ps, CategoryModelNotSupported, sev, act,
			fmt.Sprintf("model rejected by provider (%d occurrences)", ps.modelErrors),
			map[string]any{"count": ps.modelErrors}); ok {
			out = append(out, e)
		}
	}

	if streamDeathPattern.MatchString(text) {
		if e, ok := d.record(ps, CategoryStreamDeath, SeverityHigh, ActionRestart,
			"stream completed without a terminal event", nil); ok {
			out = append(out, e)
		}
	}

	if name, fp, isCall := toolCall(text); isCall {
		if fp == ps.toolFingerprint {
			ps.toolStreak++
		} else {
			ps.toolFingerprint = fp
			ps.toolStreak = 1
		}
		warnAt, killAt := toolLoopWarnStreak, toolLoopKillStreak
		if isIterativeTool(name) {
			warnAt *= iterativeMultiplier
			killAt *= iterativeMultiplier
		}
		if sev, act, hit := thresholds(ps.toolStreak, warnAt, killAt); hit {
			if e, ok := d.record(ps, CategoryToolCallLoop, sev, act,
				fmt.Sprintf("tool %s invoked %d times in a row with identical input", name, ps.toolStreak),
				map[string]any{"tool": name, "streak": ps.toolStreak}); ok {
				out = append(out, e)
			}
		}

		if nestedPromptPattern.MatchString(text) {
			ps.subagents++
			if sev, act, hit := thresholds(ps.subagents, subagentWarnCount, subagentKillCount); hit {
				if e, ok := d.record(ps, CategorySubagentWaste, sev, act,
					fmt.Sprintf("%d nested agent prompts spawned", ps.subagents),
					map[string]any{"count": ps.subagents}); ok {
					out = append(out, e)
				}
			}
		}
	}

	if rebaseContinuePattern.MatchString(text) {
		ps.rebaseContinues++
		if sev, act, hit := thresholds(ps.rebaseContinues, rebaseWarnCount, rebaseKillCount); hit {
			if e, ok := d.record(ps, CategoryRebaseSpiral, sev, act,
				fmt.Sprintf("git rebase --continue invoked %d times", ps.rebaseContinues),
				map[string]any{"count": ps.rebaseContinues}); ok {
				out = append(out, e)
			}
		}
	}

	if gitPushPattern.MatchString(text) {
		ps.pushes++
		if sev, act, hit := thresholds(ps.pushes, pushWarnCount, pushKillCount); hit {
			if e, ok := d.record(ps, CategoryGitPushLoop, sev, act,
				fmt.Sprintf("git push invoked %d times", ps.pushes),
				map[string]any{"count": ps.pushes}); ok {
				out = append(out, e)
			}
		}
	}

	if toolFailurePattern.MatchString(text) {
		ps.toolFailures++
		if sev, act, hit := thresholds(ps.toolFailures, toolFailureWarnCount, toolFailureKillCount); hit {
			if e, ok := d.record(ps, CategoryToolFailureCascade, sev, act,
				fmt.Sprintf("%d tool invocations reported errors", ps.toolFailures),
				map[string]any{"count": ps.toolFailures}); ok {
				out = append(out, e)
			}
		}
	}

	if m := thinkingPattern.FindStringSubmatch(text); m != nil {
		thought := strings.TrimSpace(m[1])
		if len(strings.Fields(thought)) > 1 && !benignThought(thought) {
			if thought == ps.lastThought {
				ps.thoughtRepeats++
			} else {
				ps.lastThought = thought
				ps.thoughtRepeats = 1
			}
			if ps.thoughtRepeats >= thoughtWarnRepeats {
				if e, ok := d.record(ps, CategoryThoughtSpinning, SeverityMedium, ActionWarn,
					fmt.Sprintf("thought repeated %d times: %q", ps.thoughtRepeats, truncate(thought, 80)),
					map[string]any{"repeats": ps.thoughtRepeats}); ok {
					out = append(out, e)
				}
			}
		}
		if selfDebugPattern.MatchString(thought) {
			if e, ok := d.record(ps, CategorySelfDebug, SeverityLow, ActionNone,
				"reasoning indicates self-debugging of earlier output", nil); ok {
				out = append(out, e)
			}
		}
	}

	if m := commandExitPattern.FindStringSubmatch(text); m != nil {
		code, _ := strconv.Atoi(m[1])
		ps.commandsTotal++
		if code != 0 {
			ps.commandsFailed++
		}
		if ps.commandsTotal >= commandMinSamples {
			pct := ps.commandsFailed * 100 / ps.commandsTotal
			if sev, act, hit := thresholds(pct, commandWarnFailurePct, commandKillFailurePct); hit {
				if e, ok := d.record(ps, CategoryCommandFailureRate, sev, act,
					fmt.Sprintf("%d of %d commands failed (%d%%)", ps.commandsFailed, ps.commandsTotal, pct),
					map[string]any{"total": ps.commandsTotal, "failed": ps.commandsFailed, "percent": pct}); ok {
					out = append(out, e)
				}
			}
		}
	}

	return out
}

// record applies dedup and circuit-breaker policy to a candidate event.
// Caller holds d.mu. The returned bool is false when the candidate was
// suppressed by the dedup window.
func (d *Detector) record(ps *processState, cat Category, sev Severity, act Action, msg string, data map[string]any) (Event, bool) {
	now := d.now()

	key := dedupKey{cat: cat, sev: sev}
	if last, seen := ps.lastEmit[key]; seen && now.Sub(last) < d.dedupWindow {
		return Event{}, false
	}

	// A category that keeps re-triggering with warnings but never reaches
	// a kill threshold of its own escalates once past the breaker
	// allowance.
	if act == ActionWarn && !ps.killed[cat] {
		ps.warnEmits[cat]++
		if ps.warnEmits[cat] > d.breakerThreshold {
			sev, act = SeverityHigh, ActionKill
			msg = escalatedMarker + " " + msg
		}
	}

	ps.lastEmit[key] = now
	if final := (dedupKey{cat: cat, sev: sev}); final != key {
		ps.lastEmit[final] = now
	}
	if act == ActionKill || act == ActionRestart {
		ps.killed[cat] = true
	}
	ps.eventCount[cat]++

	return Event{
		Type:      cat,
		Severity:  sev,
		Action:    act,
		Message:   msg,
		Data:      data,
		ProcessID: ps.id,
		TaskTitle: ps.taskTitle,
		Timestamp: now,
	}, true
}

// deliver fans an emitted event out to the configured sinks.
func (d *Detector) deliver(e Event) {
	if e.Severity.AtLeast(SeverityMedium) {
		d.log.Warn("anomaly detected",
			"process", e.ProcessID,
			"type", string(e.Type),
			"severity", string(e.Severity),
			"action", string(e.Action),
			"message", e.Message)
	} else {
		d.log.Debug("anomaly detected",
			"process", e.ProcessID,
			"type", string(e.Type),
			"severity", string(e.Severity))
	}

	if d.onAnomaly != nil {
		d.onAnomaly(e)
	}
	if d.notify != nil && e.Severity.AtLeast(SeverityMedium) {
		d.notify(e)
	}
	if d.bus != nil {
		d.bus.Publish(event.NewAnomalyDetectedEvent(
			e.ProcessID, e.TaskTitle, string(e.Type), string(e.Severity), string(e.Action), e.Message))
	}
}

// thresholds maps a counter value onto the warn/kill ladder. A zero
// threshold disables that rung.
func thresholds(value, warnAt, killAt int) (Severity, Action, bool) {
	switch {
	case killAt > 0 && value >= killAt:
		return SeverityHigh, ActionKill, true
	case warnAt > 0 && value >= warnAt:
		return SeverityMedium, ActionWarn, true
	default:
		return "", ActionNone, false
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
