package scheduler

import (
	"strings"
	"testing"
)

func TestCalculateBacklogDepth(t *testing.T) {
	tests := []struct {
		name             string
		totalSlots       int
		currentBacklog   int
		bufferMultiplier float64
		minTasks         int
		maxTasks         int
		want             BacklogDecision
	}{
		{
			name:       "empty backlog on a six slot fleet",
			totalSlots: 6, currentBacklog: 0, bufferMultiplier: 3, minTasks: 6, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 18, Deficit: 18, ShouldGenerate: true},
		},
		{
			name:       "clamped to minimum",
			totalSlots: 1, currentBacklog: 0, bufferMultiplier: 1, minTasks: 6, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 6, Deficit: 6, ShouldGenerate: true},
		},
		{
			name:       "clamped to maximum",
			totalSlots: 50, currentBacklog: 0, bufferMultiplier: 3, minTasks: 6, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 100, Deficit: 100, ShouldGenerate: true},
		},
		{
			name:       "backlog already at target",
			totalSlots: 6, currentBacklog: 18, bufferMultiplier: 3, minTasks: 6, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 18, Deficit: 0, ShouldGenerate: false},
		},
		{
			name:       "backlog over target",
			totalSlots: 6, currentBacklog: 40, bufferMultiplier: 3, minTasks: 6, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 18, Deficit: 0, ShouldGenerate: false},
		},
		{
			name:       "partial deficit",
			totalSlots: 6, currentBacklog: 10, bufferMultiplier: 3, minTasks: 6, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 18, Deficit: 8, ShouldGenerate: true},
		},
		{
			name:       "fractional multiplier rounds to nearest",
			totalSlots: 5, currentBacklog: 0, bufferMultiplier: 1.5, minTasks: 1, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 8, Deficit: 8, ShouldGenerate: true},
		},
		{
			name:       "zero slots still honors minimum",
			totalSlots: 0, currentBacklog: 2, bufferMultiplier: 3, minTasks: 6, maxTasks: 100,
			want: BacklogDecision{TargetDepth: 6, Deficit: 4, ShouldGenerate: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBacklogDepth(tt.totalSlots, tt.currentBacklog, tt.bufferMultiplier, tt.minTasks, tt.maxTasks)
			if got != tt.want {
				t.Errorf("CalculateBacklogDepth() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDetectMaintenanceMode(t *testing.T) {
	t.Run("all queues empty", func(t *testing.T) {
		maintenance, reason := DetectMaintenanceMode(BoardStatus{})
		if !maintenance {
			t.Error("expected maintenance mode with all queues empty")
		}
		if reason == "" {
			t.Error("expected an explanatory reason")
		}
	})

	active := []struct {
		name   string
		status BoardStatus
	}{
		{"backlog pending", BoardStatus{Backlog: 3}},
		{"todo pending", BoardStatus{Todo: 1}},
		{"tasks running", BoardStatus{Running: 2}},
		{"reviews open", BoardStatus{Review: 1}},
		{"everything busy", BoardStatus{Backlog: 4, Todo: 2, Running: 3, Review: 1}},
	}

	for _, tt := range active {
		t.Run(tt.name, func(t *testing.T) {
			maintenance, reason := DetectMaintenanceMode(tt.status)
			if maintenance {
				t.Errorf("maintenance = true for %+v, want active", tt.status)
			}
			if !strings.HasPrefix(reason, "active: ") {
				t.Errorf("reason = %q, want active: prefix", reason)
			}
		})
	}

	t.Run("reason carries the counts", func(t *testing.T) {
		_, reason := DetectMaintenanceMode(BoardStatus{Backlog: 4, Todo: 2, Running: 3, Review: 1})
		for _, fragment := range []string{"4 backlog", "2 todo", "3 running", "1 review"} {
			if !strings.Contains(reason, fragment) {
				t.Errorf("reason %q missing %q", reason, fragment)
			}
		}
	})
}
