package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	herderrors "github.com/Iron-Ham/herd/internal/errors"
	"github.com/Iron-Ham/herd/internal/logging"
)

// Store owns the persisted registry document and enforces the access
// discipline every mutation must follow: take the process mutex and the
// cross-process flock, read the full document, mutate in memory, then write
// back via a temp file renamed over the target. Concurrent readers on a
// shared filesystem either see the old document or the new one, never a
// partial write.
//
// Operations receive the document through Update/View rather than holding
// their own copy, so the store is the single authority on when state is
// loaded and flushed.
type Store struct {
	path string
	lock *FileLock
	mu   sync.Mutex
	log  *logging.Logger

	// now is replaced in tests to control heartbeat arithmetic.
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for corruption and I/O warnings.
func WithStoreLogger(log *logging.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore creates a Store backed by the given file path. The parent
// directory is created if missing; the document itself is created lazily on
// first write, so a registry that has never been claimed against is simply
// an absent file.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	if path == "" {
		return nil, herderrors.NewValidationError("registry path cannot be empty").WithField("path")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	s := &Store{
		path: path,
		lock: NewFileLock(dir),
		log:  logging.NopLogger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the registry file path.
func (s *Store) Path() string {
	return s.path
}

// Update runs fn against the current document under both locks and persists
// the result when fn reports a change. If fn returns an error the document
// is not written, leaving the registry exactly as fn found it.
func (s *Store) Update(fn func(doc *Document) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}

	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(doc)
}

// View runs fn against a freshly loaded document under both locks. The
// document is never written back; fn must not retain references to it.
func (s *Store) View(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// load reads and parses the registry file. A missing file is an empty
// registry. A file that fails to parse is backed up with a timestamped
// suffix and replaced by an empty registry; corruption must never halt
// the fleet. Callers must hold both locks.
func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		backup := s.backupCorrupt()
		s.log.Warn("registry document corrupt, resetting",
			"path", s.path,
			"backup", backup,
			"error", err)
		return NewDocument(), nil
	}

	if doc.Tasks == nil {
		doc.Tasks = make(map[string]*TaskState)
	}
	return &doc, nil
}

// save writes the document to a temp file and atomically renames it over
// the registry path. Callers must hold both locks.
func (s *Store) save(doc *Document) error {
	doc.Version = documentVersion
	doc.LastUpdated = s.now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write registry temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

// backupCorrupt moves the unparseable registry file aside so the bytes
// survive for debugging. Returns the backup path, or empty if the move
// failed (the next save overwrites the corrupt file either way).
func (s *Store) backupCorrupt() string {
	backup := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102-150405"))
	if err := os.Rename(s.path, backup); err != nil {
		s.log.Error("failed to back up corrupt registry", "path", s.path, "error", err)
		return ""
	}
	return backup
}
