// Package fleet derives fleet membership, coordinator election, and
// dispatch capacity from presence records. The state is recomputed from
// scratch on every refresh cycle and never persisted: whatever the
// presence channel shows at that instant is the truth.
package fleet

import (
	"sort"
	"time"

	"github.com/Iron-Ham/herd/internal/presence"
)

// Mode is the coordination mode a workstation operates in.
type Mode string

const (
	// ModeSolo means this instance is the only live member for its repo
	// fingerprint and acts as its own coordinator.
	ModeSolo Mode = "solo"

	// ModeFleet means at least two live instances share the repo
	// fingerprint and dispatch flows through the elected coordinator.
	ModeFleet Mode = "fleet"

	// ModeMaintenance means the shared board is fully drained and members
	// switch to housekeeping work until new tasks arrive.
	ModeMaintenance Mode = "maintenance"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// State is the fleet as observed at a single refresh instant.
type State struct {
	// Mode is solo with a single live member, fleet with two or more,
	// or maintenance once ApplyMaintenance reports a drained board.
	Mode Mode

	// IsCoordinator is true when the local instance won the election.
	IsCoordinator bool

	// CoordinatorID is the instance id of the elected coordinator.
	CoordinatorID string

	// FleetSize is the number of live members, the local instance included.
	FleetSize int

	// TotalSlots is the fleet-wide parallel capacity: the sum of
	// MaxParallel across all live members.
	TotalSlots int

	// Peers holds the live presence records sharing the local repo
	// fingerprint, sorted by instance id. The local record is included.
	Peers []*presence.Record

	// DispatchOrder lists member instance ids in round-robin dispatch
	// order. The coordinator always leads.
	DispatchOrder []string

	// LastSyncAt is when this state was derived.
	LastSyncAt time.Time
}

// Compute derives the fleet state visible to the local instance. Records
// whose repo fingerprint differs from self's or whose heartbeat falls
// outside ttl are excluded. The local record is always a member: a process
// that is computing fleet state is alive no matter what the presence
// channel says about it.
//
// Election is deterministic with no consensus round. The live member with
// the lexicographically smallest instance id coordinates, so every member
// reaches the same conclusion from the same records.
func Compute(self *presence.Record, records []*presence.Record, ttl time.Duration, now time.Time) *State {
	members := make(map[string]*presence.Record)
	for _, rec := range records {
		if rec.RepoFingerprint != self.RepoFingerprint {
			continue
		}
		if !rec.IsLive(ttl, now) {
			continue
		}
		members[rec.InstanceID] = rec
	}
	// The local in-memory record supersedes any listed copy of itself.
	members[self.InstanceID] = self

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// The smallest id wins the election, so the sorted order already
	// leads with the coordinator.
	coordinatorID := ids[0]

	peers := make([]*presence.Record, len(ids))
	totalSlots := 0
	for i, id := range ids {
		peers[i] = members[id]
		totalSlots += members[id].MaxParallel
	}

	mode := ModeFleet
	if len(ids) < 2 {
		mode = ModeSolo
	}

	return &State{
		Mode:          mode,
		IsCoordinator: coordinatorID == self.InstanceID,
		CoordinatorID: coordinatorID,
		FleetSize:     len(ids),
		TotalSlots:    totalSlots,
		Peers:         peers,
		DispatchOrder: ids,
		LastSyncAt:    now,
	}
}

// ApplyMaintenance switches the mode to maintenance when the shared board
// is drained. Membership, election, and capacity are unchanged: an empty
// board changes what members work on, not who belongs to the fleet.
func (s *State) ApplyMaintenance(drained bool) {
	if drained {
		s.Mode = ModeMaintenance
	}
}
