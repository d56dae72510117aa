package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileStore keeps one JSON file per instance under a shared directory,
// typically <coordination dir>/presence on a synced or network volume.
// Writes go through a temp file and rename so concurrent readers never
// observe a partial record.
type FileStore struct {
	dir string
}

// NewFileStore creates the presence directory if needed and returns a
// store backed by it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("presence directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create presence directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

// Publish writes the record to <dir>/<instance_id>.json atomically.
func (s *FileStore) Publish(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.InstanceID == "" {
		return fmt.Errorf("presence record must carry an instance id")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".presence-*")
	if err != nil {
		return fmt.Errorf("failed to create temp presence file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write presence record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp presence file: %w", err)
	}

	if err := os.Rename(tmpName, s.recordPath(rec.InstanceID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish presence record: %w", err)
	}

	return nil
}

// List reads every record in the directory. Files that cannot be parsed
// are skipped rather than failing the listing; a peer may be mid-write on
// a filesystem without atomic rename semantics.
func (s *FileStore) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read presence directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.InstanceID == "" {
			continue
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].InstanceID < records[j].InstanceID
	})

	return records, nil
}

// Remove deletes the record file for an instance.
func (s *FileStore) Remove(ctx context.Context, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.recordPath(instanceID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove presence record: %w", err)
	}
	return nil
}

// Prune deletes records whose heartbeat age exceeds ttl and returns the
// removed instance ids. Every workstation runs this periodically; the
// operation is idempotent across concurrent sweepers.
func (s *FileStore) Prune(ctx context.Context, ttl time.Duration) ([]string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var removed []string
	for _, rec := range records {
		if rec.IsLive(ttl, now) {
			continue
		}
		if err := s.Remove(ctx, rec.InstanceID); err != nil {
			continue
		}
		removed = append(removed, rec.InstanceID)
	}

	return removed, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) recordPath(instanceID string) string {
	return filepath.Join(s.dir, sanitizeIDComponent(instanceID)+".json")
}
