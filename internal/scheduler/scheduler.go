// Package scheduler plans conflict-free execution of the shared backlog.
// It groups tasks into waves no two members of which touch the same scope
// or file, spreads each wave across the fleet's workstations, and decides
// when the backlog has drained far enough to need refilling.
package scheduler

import (
	"sort"
	"strings"

	"github.com/Iron-Ham/herd/internal/presence"
)

// taskNode is the precomputed conflict view of one task.
type taskNode struct {
	id    string
	scope string
	paths map[string]struct{}
}

func newTaskNode(task Task) taskNode {
	node := taskNode{
		id:    task.ID,
		scope: ScopeOf(task),
		paths: make(map[string]struct{}, len(task.FilePaths)),
	}
	for _, p := range task.FilePaths {
		if norm := normalizePath(p); norm != "" {
			node.paths[norm] = struct{}{}
		}
	}
	return node
}

// conflicts reports whether two tasks cannot share a wave: same declared
// scope, or any file path in common. A task with no scope and no paths
// conflicts with nothing; under-detection is preferred over false edges.
func (n taskNode) conflicts(other taskNode) bool {
	if n.scope != "" && n.scope == other.scope {
		return true
	}
	for p := range n.paths {
		if _, ok := other.paths[p]; ok {
			return true
		}
	}
	return false
}

// BuildExecutionWaves groups tasks into an ordered list of waves, each
// internally conflict-free and safe to execute in parallel.
//
// The placement is a Welsh–Powell greedy coloring: tasks are ordered by
// descending conflict degree (stable for equal degrees, so the result is
// deterministic for a given input order) and each is placed into the first
// wave containing no conflicting member, opening a new wave when none fits.
func BuildExecutionWaves(tasks []Task) [][]string {
	if len(tasks) == 0 {
		return nil
	}

	nodes := make([]taskNode, len(tasks))
	for i, task := range tasks {
		nodes[i] = newTaskNode(task)
	}

	// Pairwise conflict matrix and per-task degree.
	adjacent := make([][]bool, len(nodes))
	degree := make([]int, len(nodes))
	for i := range nodes {
		adjacent[i] = make([]bool, len(nodes))
	}
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if nodes[i].conflicts(nodes[j]) {
				adjacent[i][j] = true
				adjacent[j][i] = true
				degree[i]++
				degree[j]++
			}
		}
	}

	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return degree[order[a]] > degree[order[b]]
	})

	var waves [][]int
	for _, idx := range order {
		placed := false
		for w, wave := range waves {
			fits := true
			for _, member := range wave {
				if adjacent[idx][member] {
					fits = false
					break
				}
			}
			if fits {
				waves[w] = append(waves[w], idx)
				placed = true
				break
			}
		}
		if !placed {
			waves = append(waves, []int{idx})
		}
	}

	result := make([][]string, len(waves))
	for w, wave := range waves {
		result[w] = make([]string, len(wave))
		for i, idx := range wave {
			result[w][i] = nodes[idx].id
		}
	}
	return result
}

// AssignTasks spreads each wave's tasks across the fleet. Tasks round-robin
// over the peers in order, except that a task whose scope appears in a
// peer's declared capability list goes to that peer instead of consuming
// the round-robin slot. Returns a flat list annotated with wave numbers;
// nil when there are no peers to assign to.
func AssignTasks(waves [][]string, peers []*presence.Record, tasks map[string]Task) []Assignment {
	if len(peers) == 0 {
		return nil
	}

	var assignments []Assignment
	for w, wave := range waves {
		next := 0
		for _, taskID := range wave {
			peer := capablePeer(peers, tasks[taskID])
			if peer == nil {
				peer = peers[next%len(peers)]
				next++
			}
			assignments = append(assignments, Assignment{
				TaskID:     taskID,
				InstanceID: peer.InstanceID,
				Wave:       w,
			})
		}
	}
	return assignments
}

// capablePeer returns the first peer whose declared capability list names
// the task's scope, or nil when no peer declares it. An empty capability
// list declares nothing, so unscoped fleets fall through to round-robin.
func capablePeer(peers []*presence.Record, task Task) *presence.Record {
	scope := ScopeOf(task)
	if scope == "" {
		return nil
	}
	for _, peer := range peers {
		for _, capability := range peer.Capabilities {
			if strings.EqualFold(capability, scope) {
				return peer
			}
		}
	}
	return nil
}
