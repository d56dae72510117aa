package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Iron-Ham/herd/internal/scheduler"
)

// BoardFileName is the shared board file inside the coordination directory.
const BoardFileName = "board.json"

// Board task statuses. Anything unrecognized is counted as backlog so a
// bridge writing new statuses degrades to "claimable" rather than hiding
// work.
const (
	TaskStatusBacklog = "backlog"
	TaskStatusTodo    = "todo"
	TaskStatusRunning = "running"
	TaskStatusReview  = "review"
	TaskStatusDone    = "done"
)

// TaskSource supplies the shared board view the coordinator plans from.
// The kanban bridge behind it is external; the daemon only consumes
// claimable tasks and queue counts.
type TaskSource interface {
	// Backlog returns the tasks that are ready to be claimed, in board order.
	Backlog(ctx context.Context) ([]scheduler.Task, error)

	// Status returns the board's queue counts.
	Status(ctx context.Context) (scheduler.BoardStatus, error)
}

// BoardTask is one entry in the shared board file.
type BoardTask struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Scope     string   `json:"scope,omitempty"`
	FilePaths []string `json:"filePaths,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// boardFile is the persisted board document.
type boardFile struct {
	Tasks []BoardTask `json:"tasks"`
}

// FileSource reads the board from a JSON file, typically written into the
// coordination directory by a kanban bridge. A missing file is an empty
// board: a fleet with no bridge installed simply sees no work.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource reading the board at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Backlog returns the board's claimable tasks: entries in backlog or todo
// status (or with no status at all), in the order the board lists them.
func (s *FileSource) Backlog(ctx context.Context) ([]scheduler.Task, error) {
	board, err := s.load()
	if err != nil {
		return nil, err
	}

	var tasks []scheduler.Task
	for _, bt := range board.Tasks {
		switch bt.Status {
		case TaskStatusRunning, TaskStatusReview, TaskStatusDone:
			continue
		}
		tasks = append(tasks, scheduler.Task{
			ID:        bt.ID,
			Title:     bt.Title,
			Scope:     bt.Scope,
			FilePaths: bt.FilePaths,
		})
	}
	return tasks, nil
}

// Status returns the board's queue counts. Unrecognized statuses count as
// backlog.
func (s *FileSource) Status(ctx context.Context) (scheduler.BoardStatus, error) {
	board, err := s.load()
	if err != nil {
		return scheduler.BoardStatus{}, err
	}

	var status scheduler.BoardStatus
	for _, bt := range board.Tasks {
		switch bt.Status {
		case TaskStatusTodo:
			status.Todo++
		case TaskStatusRunning:
			status.Running++
		case TaskStatusReview:
			status.Review++
		case TaskStatusDone:
		default:
			status.Backlog++
		}
	}
	return status, nil
}

func (s *FileSource) load() (*boardFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &boardFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}

	var board boardFile
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("failed to parse board file: %w", err)
	}
	return &board, nil
}
