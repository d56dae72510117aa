// Package presence publishes and discovers workstation presence records.
// Each workstation owns exactly one record, republished on a heartbeat
// interval; peers only ever read it. Records older than the fleet TTL are
// excluded from membership computation.
package presence

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one workstation's advertised presence. Owned by the publishing
// instance and never mutated by peers.
type Record struct {
	InstanceID      string    `json:"instance_id"`
	Host            string    `json:"host"`
	PID             int       `json:"pid"`
	Capabilities    []string  `json:"capabilities"`
	MaxParallel     int       `json:"max_parallel"`
	RepoFingerprint string    `json:"repo_fingerprint"`
	IsCoordinator   bool      `json:"is_coordinator"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
}

// Age returns how long ago the record's heartbeat was published.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.LastHeartbeat)
}

// IsLive reports whether the record's heartbeat falls within ttl of now.
func (r *Record) IsLive(ttl time.Duration, now time.Time) bool {
	return r.Age(now) <= ttl
}

// HasCapability reports whether the record advertises the given capability.
// An empty capability list means the workstation accepts anything.
func (r *Record) HasCapability(capability string) bool {
	if len(r.Capabilities) == 0 {
		return true
	}
	for _, c := range r.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

// Store abstracts the presence channel. Implementations must tolerate
// concurrent readers and writers from multiple workstation processes.
type Store interface {
	// Publish writes or refreshes a presence record.
	Publish(ctx context.Context, rec *Record) error

	// List returns every discoverable record, stale ones included.
	// Callers filter with FilterLive.
	List(ctx context.Context) ([]*Record, error)

	// Remove deletes the record for an instance. Removing an absent
	// instance is not an error.
	Remove(ctx context.Context, instanceID string) error

	// Prune deletes records whose heartbeat age exceeds ttl and returns
	// the removed instance ids.
	Prune(ctx context.Context, ttl time.Duration) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// FilterLive returns the subset of records whose heartbeat is within ttl
// of now.
func FilterLive(records []*Record, ttl time.Duration, now time.Time) []*Record {
	var live []*Record
	for _, rec := range records {
		if rec.IsLive(ttl, now) {
			live = append(live, rec)
		}
	}
	return live
}

// NewInstanceID generates a workstation instance identifier of the form
// "<hostname>-<8 hex chars>". The random suffix keeps multiple processes
// on one host distinct.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "host"
	}
	host = sanitizeIDComponent(host)
	return host + "-" + uuid.NewString()[:8]
}

// BuildLocalPresence composes this workstation's outbound record.
// The heartbeat timestamp is set to the current time; callers republish
// on their heartbeat interval to keep the record live.
func BuildLocalPresence(instanceID, fingerprintHash string, capabilities []string, maxParallel int) *Record {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Record{
		InstanceID:      instanceID,
		Host:            host,
		PID:             os.Getpid(),
		Capabilities:    capabilities,
		MaxParallel:     maxParallel,
		RepoFingerprint: fingerprintHash,
		LastHeartbeat:   time.Now().UTC(),
	}
}

// sanitizeIDComponent keeps instance ids safe for use as file names and
// Redis key segments.
func sanitizeIDComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, s)
}
