package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/herd/internal/anomaly"
	"github.com/Iron-Ham/herd/internal/crashtrack"
	"github.com/Iron-Ham/herd/internal/event"
	"github.com/Iron-Ham/herd/internal/logging"
)

// ProcessController performs kill and restart actions against live agent
// processes. The process runner provides the implementation; the supervisor
// only decides when to invoke it.
type ProcessController interface {
	// Kill terminates the process immediately.
	Kill(processID string) error
	// Restart tears the process down and starts a fresh attempt under the
	// same process id.
	Restart(processID string) error
}

// Supervisor connects anomaly classifications and crash tracking to the
// process controller. Kill recommendations are executed immediately,
// restart recommendations are executed unless the process is in a crash
// loop, and a crash-looping process has its lease released so another
// workstation can pick the task up.
//
// Process ids are logical: a restarted process reports under the same id
// so its crash streak and anomaly counters accumulate across attempts.
type Supervisor struct {
	mu         sync.Mutex
	controller ProcessController
	detector   *anomaly.Detector
	bus        *event.Bus
	log        *logging.Logger

	window     time.Duration
	maxCrashes int

	// now is replaced in tests to control crash windows.
	now func() time.Time

	subID    string
	trackers map[string]*crashtrack.Tracker
	tasks    map[string]string // processID -> taskID
	halted   map[string]bool

	releaseTask func(taskID, errMsg string)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(log *logging.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithLeaseReleaser sets the callback invoked when a process dies for good
// and its task lease should be released as failed.
func WithLeaseReleaser(fn func(taskID, errMsg string)) SupervisorOption {
	return func(s *Supervisor) { s.releaseTask = fn }
}

// NewSupervisor creates a Supervisor. The controller receives kill and
// restart commands, the detector is informed when a process is killed so
// its counters reset, and crash tracking uses the given window and
// threshold.
func NewSupervisor(controller ProcessController, detector *anomaly.Detector, bus *event.Bus, window time.Duration, maxInstantCrashes int, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		controller: controller,
		detector:   detector,
		bus:        bus,
		window:     window,
		maxCrashes: maxInstantCrashes,
		now:        time.Now,
		trackers:   make(map[string]*crashtrack.Tracker),
		tasks:      make(map[string]string),
		halted:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.NopLogger()
	}
	return s
}

// Start subscribes to anomaly events on the bus. Calling Start twice is a
// no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subID != "" || s.bus == nil {
		return
	}
	s.subID = s.bus.Subscribe("anomaly.detected", func(e event.Event) {
		ae, ok := e.(event.AnomalyDetectedEvent)
		if !ok {
			return
		}
		s.handleAnomaly(ae)
	})
}

// Stop unsubscribes from the bus.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	subID := s.subID
	s.subID = ""
	s.mu.Unlock()

	if subID != "" && s.bus != nil {
		s.bus.Unsubscribe(subID)
	}
}

// handleAnomaly executes the action the detector recommended. The detector
// has already logged and rate-limited the event, so only the action paths
// log here.
func (s *Supervisor) handleAnomaly(ae event.AnomalyDetectedEvent) {
	switch anomaly.Action(ae.Action) {
	case anomaly.ActionKill:
		s.log.Warn("killing process on anomaly",
			"process_id", ae.ProcessID,
			"anomaly", ae.AnomalyType,
			"message", ae.Message)
		if err := s.controller.Kill(ae.ProcessID); err != nil {
			s.log.Error("failed to kill process",
				"process_id", ae.ProcessID, "error", err)
		}
		if s.detector != nil {
			s.detector.MarkDead(ae.ProcessID)
		}
		s.failTask(ae.ProcessID, "killed on anomaly: "+ae.Message)

	case anomaly.ActionRestart:
		s.mu.Lock()
		halted := s.halted[ae.ProcessID]
		s.mu.Unlock()
		if halted {
			s.log.Warn("restart suppressed, process is crash-looping",
				"process_id", ae.ProcessID,
				"anomaly", ae.AnomalyType)
			return
		}
		s.log.Info("restarting process on anomaly",
			"process_id", ae.ProcessID,
			"anomaly", ae.AnomalyType,
			"message", ae.Message)
		if err := s.controller.Restart(ae.ProcessID); err != nil {
			s.log.Error("failed to restart process",
				"process_id", ae.ProcessID, "error", err)
		}
	}
}

// ProcessStarted records a (re)start of a process, binding it to the task
// it works on. Restarts under the same process id keep the existing crash
// tracker so instant-crash streaks accumulate.
func (s *Supervisor) ProcessStarted(processID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.trackers[processID]
	if !ok {
		tr = crashtrack.New(s.window, s.maxCrashes)
		s.trackers[processID] = tr
	}
	if taskID != "" {
		s.tasks[processID] = taskID
	}
	tr.MarkStart(s.now())
}

// ProcessExited records a process exit and classifies it. When the instant
// crash threshold is exceeded, further auto-restarts for the process are
// suspended, a crash loop event is published, and the bound task lease is
// released as failed.
func (s *Supervisor) ProcessExited(processID string) crashtrack.Result {
	s.mu.Lock()
	tr := s.trackers[processID]
	if tr == nil {
		s.mu.Unlock()
		return crashtrack.Result{}
	}
	res := tr.RecordExit(s.now())
	firstExceed := res.Exceeded && !s.halted[processID]
	if firstExceed {
		s.halted[processID] = true
	}
	s.mu.Unlock()

	if res.InstantCrash {
		s.log.Warn("instant crash detected",
			"process_id", processID, "streak", res.Streak)
	}
	if firstExceed {
		s.log.Error("crash loop detected, suspending restarts",
			"process_id", processID, "streak", res.Streak)
		if s.bus != nil {
			s.bus.Publish(event.NewCrashLoopEvent(processID, res.Streak))
		}
		s.failTask(processID, fmt.Sprintf("crash loop: process crashed instantly %d times", res.Streak))
	}
	return res
}

// CanRestart reports whether auto-restart is still permitted for the
// process.
func (s *Supervisor) CanRestart(processID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.halted[processID]
}

// Forget drops all supervision state for a process. Call after a process
// finishes cleanly and its id will not be reused.
func (s *Supervisor) Forget(processID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, processID)
	delete(s.tasks, processID)
	delete(s.halted, processID)
}

// failTask releases the lease of the task bound to the process, if any.
// The binding is consumed so a later exit of the same process does not
// release twice.
func (s *Supervisor) failTask(processID, errMsg string) {
	s.mu.Lock()
	taskID := s.tasks[processID]
	delete(s.tasks, processID)
	release := s.releaseTask
	s.mu.Unlock()

	if taskID == "" || release == nil {
		return
	}
	release(taskID, errMsg)
}
