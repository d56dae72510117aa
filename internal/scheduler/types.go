package scheduler

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Task is one backlog item as supplied by the task source. Scope and file
// paths are optional; a task declaring neither conflicts with nothing and
// can ride in any wave.
type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Scope     string   `json:"scope,omitempty"`
	FilePaths []string `json:"filePaths,omitempty"`
}

// Assignment maps one task to the workstation that should attempt it,
// annotated with the wave it belongs to. Assignments are advisory: the
// lease registry is where execution races actually get resolved.
type Assignment struct {
	TaskID     string `json:"taskId"`
	InstanceID string `json:"instanceId"`
	Wave       int    `json:"wave"`
}

// BoardStatus carries the queue counts the maintenance decision looks at.
type BoardStatus struct {
	Backlog int
	Todo    int
	Running int
	Review  int
}

// BacklogDecision is the result of CalculateBacklogDepth.
type BacklogDecision struct {
	TargetDepth    int
	Deficit        int
	ShouldGenerate bool
}

// scopeRegex matches conventional-commit style titles: "feat(scope): …",
// including breaking-change markers like "feat(scope)!: …".
var scopeRegex = regexp.MustCompile(`^\s*[a-zA-Z]+\(([^)]+)\)!?:`)

// ScopeOf returns the task's scheduling scope, lower-cased for comparison.
// An explicit Scope field wins; otherwise the scope is parsed from a
// conventional-commit style title. Tasks with neither have no scope.
func ScopeOf(task Task) string {
	if s := strings.TrimSpace(task.Scope); s != "" {
		return strings.ToLower(s)
	}
	m := scopeRegex.FindStringSubmatch(task.Title)
	if m == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(m[1]))
}

// normalizePath folds a declared file path into a comparable form: slash
// separators, cleaned, relative, lower-cased. Two tasks declaring
// "./src/Main.go" and "src/main.go" are touching the same file.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return strings.ToLower(p)
}
