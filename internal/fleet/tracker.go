package fleet

import (
	"slices"
	"sync"

	"github.com/Iron-Ham/herd/internal/event"
	"github.com/Iron-Ham/herd/internal/logging"
)

// Tracker watches successive fleet states and surfaces transitions:
// members joining or leaving, coordinator handoffs, mode switches, and
// capacity changes. Transitions are published as typed events on the bus
// so other components react without polling.
type Tracker struct {
	mu   sync.Mutex
	bus  *event.Bus
	log  *logging.Logger
	last *State
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBus sets the event bus transitions are published to.
func WithBus(bus *event.Bus) Option {
	return func(t *Tracker) { t.bus = bus }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *logging.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// NewTracker creates a Tracker with no observed state.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{log: logging.NopLogger()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Current returns the most recently recorded state, or nil before the
// first Update.
func (t *Tracker) Current() *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Update records the state derived this cycle and reports whether anything
// observable changed since the previous cycle. On change it publishes a
// FleetChangedEvent, plus a CoordinatorElectedEvent when the coordinator
// differs. The first observation always counts as a change.
func (t *Tracker) Update(st *State) bool {
	if st == nil {
		return false
	}

	t.mu.Lock()
	prev := t.last
	t.last = st
	t.mu.Unlock()

	var prevMode Mode
	coordinatorChanged := true
	changed := true
	if prev != nil {
		prevMode = prev.Mode
		coordinatorChanged = prev.CoordinatorID != st.CoordinatorID
		changed = coordinatorChanged ||
			prev.Mode != st.Mode ||
			prev.TotalSlots != st.TotalSlots ||
			!slices.Equal(prev.DispatchOrder, st.DispatchOrder)
	}
	if !changed {
		return false
	}

	t.log.Info("fleet state changed",
		"mode", string(st.Mode),
		"previous_mode", string(prevMode),
		"fleet_size", st.FleetSize,
		"total_slots", st.TotalSlots,
		"coordinator", st.CoordinatorID,
		"self_coordinates", st.IsCoordinator)

	if t.bus != nil {
		t.bus.Publish(event.NewFleetChangedEvent(
			event.FleetMode(prevMode), event.FleetMode(st.Mode),
			st.FleetSize, st.TotalSlots, st.CoordinatorID))
		if coordinatorChanged {
			t.bus.Publish(event.NewCoordinatorElectedEvent(
				st.CoordinatorID, st.FleetSize, st.IsCoordinator))
		}
	}
	return true
}
