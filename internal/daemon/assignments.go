package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/herd/internal/scheduler"
)

// assignmentsFileName is the assignment sheet inside the coordination
// directory. The coordinator replaces it every planning cycle; members
// only read it.
const assignmentsFileName = "assignments.json"

// Sheet is the assignment sheet the coordinator publishes each planning
// cycle. Assignments are advisory: members still contend through the
// lease registry, which is where execution races actually resolve.
type Sheet struct {
	GeneratedBy string                 `json:"generatedBy"`
	GeneratedAt time.Time              `json:"generatedAt"`
	Assignments []scheduler.Assignment `json:"assignments"`
}

// TasksFor returns the task ids assigned to an instance, preserving the
// sheet's order (wave-ascending, so earlier waves drain first).
func (s *Sheet) TasksFor(instanceID string) []string {
	var ids []string
	for _, a := range s.Assignments {
		if a.InstanceID == instanceID {
			ids = append(ids, a.TaskID)
		}
	}
	return ids
}

// WriteSheet atomically replaces the assignment sheet in dir.
func WriteSheet(dir string, sheet *Sheet) error {
	data, err := json.MarshalIndent(sheet, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal assignments: %w", err)
	}

	path := filepath.Join(dir, assignmentsFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write assignments temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename assignments file: %w", err)
	}
	return nil
}

// ReadSheet loads the current assignment sheet from dir. A missing sheet
// is an empty one: nothing has been assigned yet.
func ReadSheet(dir string) (*Sheet, error) {
	data, err := os.ReadFile(filepath.Join(dir, assignmentsFileName))
	if os.IsNotExist(err) {
		return &Sheet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read assignments file: %w", err)
	}

	var sheet Sheet
	if err := json.Unmarshal(data, &sheet); err != nil {
		return nil, fmt.Errorf("failed to parse assignments file: %w", err)
	}
	return &sheet, nil
}
