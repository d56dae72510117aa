package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAttemptStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status AttemptStatus
		want   bool
	}{
		{StatusClaimed, false},
		{StatusWorking, false},
		{StatusComplete, true},
		{StatusFailed, true},
		{StatusAbandoned, true},
		{StatusIgnored, false},
		{AttemptStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAttemptStatus_IsValid(t *testing.T) {
	valid := []AttemptStatus{
		StatusClaimed, StatusWorking, StatusComplete,
		StatusFailed, StatusAbandoned, StatusIgnored,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", s)
		}
	}

	invalid := []AttemptStatus{"", "CLAIMED", "done", "in_progress"}
	for _, s := range invalid {
		if s.IsValid() {
			t.Errorf("IsValid(%q) = true, want false", s)
		}
	}
}

func TestTaskState_IsStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		heartbeat time.Time
		ttl       int
		want      bool
	}{
		{"fresh heartbeat", now.Add(-10 * time.Second), 60, false},
		{"age exactly at ttl", now.Add(-60 * time.Second), 60, false},
		{"age just past ttl", now.Add(-61 * time.Second), 60, true},
		{"long dead", now.Add(-2 * time.Hour), 900, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &TaskState{OwnerHeartbeat: tt.heartbeat, TTLSeconds: tt.ttl}
			if got := task.IsStale(now); got != tt.want {
				t.Errorf("IsStale() = %v, want %v (age %s, ttl %ds)",
					got, tt.want, task.HeartbeatAge(now), tt.ttl)
			}
		})
	}
}

func TestTaskState_AppendEvent_BoundsLog(t *testing.T) {
	task := &TaskState{TaskID: "task-1"}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	total := maxEventLogEntries + 50
	for i := 0; i < total; i++ {
		task.appendEvent(now.Add(time.Duration(i)*time.Second), eventRenewed, "mach-a", fmt.Sprintf("entry-%d", i))
	}

	if len(task.EventLog) != maxEventLogEntries {
		t.Fatalf("event log length = %d, want %d", len(task.EventLog), maxEventLogEntries)
	}

	// The oldest 50 entries should have been trimmed.
	if got, want := task.EventLog[0].Detail, "entry-50"; got != want {
		t.Errorf("oldest retained entry = %q, want %q", got, want)
	}
	if got, want := task.EventLog[len(task.EventLog)-1].Detail, fmt.Sprintf("entry-%d", total-1); got != want {
		t.Errorf("newest entry = %q, want %q", got, want)
	}
}

func TestTaskState_Clone_Independent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	orig := &TaskState{
		TaskID:        "task-1",
		OwnerID:       "mach-a",
		AttemptStatus: StatusWorking,
		EventLog:      []TaskEvent{{Timestamp: now, Action: eventClaimed, Actor: "mach-a"}},
	}

	clone := orig.Clone()
	clone.OwnerID = "mach-b"
	clone.EventLog[0].Action = "tampered"
	clone.EventLog = append(clone.EventLog, TaskEvent{Action: "extra"})

	if orig.OwnerID != "mach-a" {
		t.Errorf("original owner mutated to %q", orig.OwnerID)
	}
	if orig.EventLog[0].Action != eventClaimed {
		t.Errorf("original event log mutated to %q", orig.EventLog[0].Action)
	}
	if len(orig.EventLog) != 1 {
		t.Errorf("original event log length = %d, want 1", len(orig.EventLog))
	}
}

func TestTaskState_Clone_Nil(t *testing.T) {
	var task *TaskState
	if got := task.Clone(); got != nil {
		t.Errorf("Clone of nil = %+v, want nil", got)
	}
}

func TestDocument_Clone_Independent(t *testing.T) {
	doc := NewDocument()
	doc.Tasks["task-1"] = &TaskState{TaskID: "task-1", OwnerID: "mach-a"}

	clone := doc.Clone()
	clone.Tasks["task-1"].OwnerID = "mach-b"
	clone.Tasks["task-2"] = &TaskState{TaskID: "task-2"}

	if doc.Tasks["task-1"].OwnerID != "mach-a" {
		t.Errorf("original task mutated to owner %q", doc.Tasks["task-1"].OwnerID)
	}
	if _, ok := doc.Tasks["task-2"]; ok {
		t.Error("task added to clone leaked into original")
	}
}

func TestNewAttemptToken(t *testing.T) {
	a := NewAttemptToken()
	b := NewAttemptToken()

	if a == "" {
		t.Fatal("NewAttemptToken returned empty string")
	}
	if a == b {
		t.Errorf("two tokens are identical: %q", a)
	}
}

// The persisted field names are a cross-process contract: every workstation
// sharing a registry file must agree on them.
func TestTaskState_PersistedFieldNames(t *testing.T) {
	task := &TaskState{
		TaskID:         "task-1",
		OwnerID:        "mach-a",
		OwnerHeartbeat: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		AttemptToken:   "tok-1",
		AttemptStatus:  StatusClaimed,
		RetryCount:     2,
		TTLSeconds:     900,
		EventLog:       []TaskEvent{},
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	raw := string(data)
	for _, key := range []string{
		`"taskId"`, `"ownerId"`, `"ownerHeartbeat"`, `"attemptToken"`,
		`"attemptStatus"`, `"retryCount"`, `"ttlSeconds"`, `"eventLog"`,
	} {
		if !strings.Contains(raw, key) {
			t.Errorf("marshaled record missing key %s: %s", key, raw)
		}
	}

	// Optional fields stay off the wire when empty.
	for _, key := range []string{`"lastError"`, `"ignoreReason"`} {
		if strings.Contains(raw, key) {
			t.Errorf("marshaled record should omit empty %s: %s", key, raw)
		}
	}
}

func TestDocument_PersistedFieldNames(t *testing.T) {
	doc := NewDocument()
	doc.LastUpdated = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	raw := string(data)
	for _, key := range []string{`"version"`, `"lastUpdated"`, `"tasks"`} {
		if !strings.Contains(raw, key) {
			t.Errorf("marshaled document missing key %s: %s", key, raw)
		}
	}
}
