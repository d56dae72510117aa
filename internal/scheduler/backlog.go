package scheduler

import (
	"fmt"
	"math"
)

// CalculateBacklogDepth decides whether the shared backlog needs refilling.
// The target depth is the fleet's total slot count scaled by the buffer
// multiplier, clamped to [minTasks, maxTasks]; the deficit is how many
// tasks short of target the backlog currently sits. Pure function.
func CalculateBacklogDepth(totalSlots, currentBacklog int, bufferMultiplier float64, minTasks, maxTasks int) BacklogDecision {
	target := int(math.Round(float64(totalSlots) * bufferMultiplier))
	if target < minTasks {
		target = minTasks
	}
	if target > maxTasks {
		target = maxTasks
	}

	deficit := target - currentBacklog
	if deficit < 0 {
		deficit = 0
	}

	return BacklogDecision{
		TargetDepth:    target,
		Deficit:        deficit,
		ShouldGenerate: deficit > 0,
	}
}

// DetectMaintenanceMode reports whether the fleet should switch to
// housekeeping work: true once the backlog, todo, running, and review
// queues are all simultaneously empty. The reason string explains the
// decision either way for observability.
func DetectMaintenanceMode(status BoardStatus) (bool, string) {
	if status.Backlog == 0 && status.Todo == 0 && status.Running == 0 && status.Review == 0 {
		return true, "all queues empty"
	}
	return false, fmt.Sprintf("active: %d backlog, %d todo, %d running, %d review",
		status.Backlog, status.Todo, status.Running, status.Review)
}
