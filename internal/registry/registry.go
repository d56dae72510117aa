// Package registry implements the shared task lease registry: a persisted
// map of per-task lease records that every herd workstation reads and writes
// to coordinate who works on what.
//
// Ownership is advisory and heartbeat-based. A claim grants a lease bounded
// by a TTL; the owner renews a heartbeat while working and releases with a
// terminal status when done. A lease whose heartbeat goes stale loses
// conflict resolution to the next challenger and is eventually swept to
// abandoned. There is no true mutual exclusion across hosts — two
// workstations can transiently both believe they own a task — so claim and
// renew are designed to be idempotent and takeover-safe.
//
// All registry access goes through a Store, which serializes writers with a
// process mutex plus a cross-process flock and persists via an atomic
// temp-file-then-rename so concurrent readers never observe a torn document.
package registry

import (
	"fmt"
	"sort"
	"time"

	herderrors "github.com/Iron-Ham/herd/internal/errors"
	"github.com/Iron-Ham/herd/internal/event"
	"github.com/Iron-Ham/herd/internal/logging"
)

// Failure reasons surfaced on LeaseError.Reason for machine-readable
// handling by callers and for observability in logs.
const (
	// ReasonOwnerActive means a claim was refused because the incumbent's
	// heartbeat is still within its lease TTL.
	ReasonOwnerActive = "conflict: existing_owner_active"
	// ReasonOwnerMismatch means the caller does not own the lease.
	ReasonOwnerMismatch = "owner_mismatch"
	// ReasonTokenMismatch means the presented attempt token does not match
	// the one issued at claim time.
	ReasonTokenMismatch = "attempt_token_mismatch"
	// ReasonTaskIgnored means the task carries a permanent ignore veto.
	ReasonTaskIgnored = "task_ignored"
)

// taskAlreadyReason builds the failure reason for operations rejected
// because the task already reached the given status.
func taskAlreadyReason(s AttemptStatus) string {
	return "task_already_" + string(s)
}

// ShouldRetry decision reasons.
const (
	RetryNeverAttempted  = "never_attempted"
	RetryIgnored         = "ignored"
	RetryAlreadyComplete = "already_complete"
	RetryLimitReached    = "retry_limit_reached"
	RetryOwnerActive     = "owner_active"
	RetryEligible        = "eligible"
)

// Registry exposes the lease operations over a Store. All methods are safe
// for concurrent use; cross-process safety comes from the store's locking
// and atomic-write discipline.
type Registry struct {
	store *Store
	bus   *event.Bus
	log   *logging.Logger

	// now is replaced in tests to control heartbeat arithmetic.
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithBus sets the event bus lease transitions are published to.
func WithBus(bus *event.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithLogger sets the logger for lease transitions.
func WithLogger(log *logging.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates a Registry over the given store.
func New(store *Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		log:   logging.NopLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClaimResult describes a successful claim.
type ClaimResult struct {
	// State is a copy of the lease record after the claim.
	State *TaskState
	// Takeover is true when the claim displaced a stale owner.
	Takeover bool
	// Reclaim is true when the claim refreshed the caller's own live lease.
	Reclaim bool
}

// Claim attempts to take the lease on a task.
//
// A task with no record, or whose record is terminal (complete, failed,
// abandoned) or ignored-without-reason, is claimed fresh: status becomes
// claimed and retryCount increments (zero for a brand-new record). A task
// the caller already owns is reclaimed idempotently: heartbeat, token, and
// TTL refresh without touching retryCount. A task held by another owner is
// contested on heartbeat recency: a stale incumbent loses the lease
// (takeover, retryCount increments); a live incumbent wins and the claim
// fails with ErrLeaseConflict, leaving the registry unchanged. A task
// flagged with an ignoreReason can never be claimed.
func (r *Registry) Claim(taskID, ownerID, attemptToken string, ttl time.Duration) (*ClaimResult, error) {
	if taskID == "" {
		return nil, herderrors.NewValidationError("task ID cannot be empty").WithField("taskID")
	}
	if ownerID == "" {
		return nil, herderrors.NewValidationError("owner ID cannot be empty").WithField("ownerID")
	}
	if attemptToken == "" {
		return nil, herderrors.NewValidationError("attempt token cannot be empty").WithField("attemptToken")
	}
	if ttl <= 0 {
		return nil, herderrors.NewValidationError("lease TTL must be positive").WithField("ttl").WithValue(ttl)
	}

	var (
		result    ClaimResult
		incumbent string
	)

	err := r.store.Update(func(doc *Document) (bool, error) {
		now := r.now().UTC()
		existing := doc.Tasks[taskID]

		switch {
		case existing == nil:
			task := &TaskState{
				TaskID:         taskID,
				OwnerID:        ownerID,
				OwnerHeartbeat: now,
				AttemptToken:   attemptToken,
				AttemptStatus:  StatusClaimed,
				RetryCount:     0,
				TTLSeconds:     int(ttl / time.Second),
			}
			task.appendEvent(now, eventClaimed, ownerID, "")
			doc.Tasks[taskID] = task
			result.State = task.Clone()

		case existing.IgnoreReason != "":
			incumbent = existing.OwnerID
			return false, herderrors.NewLeaseError("task is vetoed", herderrors.ErrTaskIgnored).
				WithTaskID(taskID).
				WithOwnerID(ownerID).
				WithReason(ReasonTaskIgnored)

		case existing.AttemptStatus.IsTerminal() || existing.AttemptStatus == StatusIgnored:
			prev := existing.AttemptStatus
			existing.OwnerID = ownerID
			existing.OwnerHeartbeat = now
			existing.AttemptToken = attemptToken
			existing.AttemptStatus = StatusClaimed
			existing.RetryCount++
			existing.LastError = ""
			existing.TTLSeconds = int(ttl / time.Second)
			existing.appendEvent(now, eventClaimed, ownerID, fmt.Sprintf("retry after %s", prev))
			result.State = existing.Clone()

		case existing.OwnerID == ownerID:
			existing.OwnerHeartbeat = now
			existing.AttemptToken = attemptToken
			existing.TTLSeconds = int(ttl / time.Second)
			existing.appendEvent(now, eventClaimed, ownerID, "reclaim")
			result.Reclaim = true
			result.State = existing.Clone()

		case existing.IsStale(now):
			prevOwner := existing.OwnerID
			existing.OwnerID = ownerID
			existing.OwnerHeartbeat = now
			existing.AttemptToken = attemptToken
			existing.AttemptStatus = StatusClaimed
			existing.RetryCount++
			existing.LastError = ""
			existing.TTLSeconds = int(ttl / time.Second)
			existing.appendEvent(now, eventTakeover, ownerID, fmt.Sprintf("displaced stale owner %s", prevOwner))
			result.Takeover = true
			result.State = existing.Clone()

		default:
			incumbent = existing.OwnerID
			return false, herderrors.NewLeaseError("claim rejected", herderrors.ErrLeaseConflict).
				WithTaskID(taskID).
				WithOwnerID(ownerID).
				WithReason(ReasonOwnerActive).
				WithRetryable(true)
		}
		return true, nil
	})
	if err != nil {
		if herderrors.Is(err, herderrors.ErrLeaseConflict) {
			r.log.Debug("claim lost conflict", "task", taskID, "claimant", ownerID, "incumbent", incumbent)
			r.publish(event.NewLeaseConflictEvent(taskID, incumbent, ownerID, ReasonOwnerActive))
		}
		return nil, err
	}

	r.log.Debug("lease claimed",
		"task", taskID,
		"owner", ownerID,
		"takeover", result.Takeover,
		"reclaim", result.Reclaim,
		"retry_count", result.State.RetryCount)
	r.publish(event.NewLeaseClaimedEvent(taskID, ownerID, attemptToken, result.Takeover))
	return &result, nil
}

// Renew refreshes the caller's heartbeat on a lease it holds and marks the
// attempt as working. The caller must present the owner ID and attempt
// token issued at claim time, and the task must not already be complete or
// failed. An abandoned lease can still be renewed by its original owner,
// which recovers a task swept while the owner was merely slow.
func (r *Registry) Renew(taskID, ownerID, attemptToken string) (*TaskState, error) {
	var state *TaskState

	err := r.store.Update(func(doc *Document) (bool, error) {
		now := r.now().UTC()
		existing := doc.Tasks[taskID]

		if existing == nil {
			return false, herderrors.NewNotFoundError("task", taskID)
		}
		if existing.OwnerID != ownerID {
			return false, herderrors.NewLeaseError("renew rejected", herderrors.ErrOwnerMismatch).
				WithTaskID(taskID).
				WithOwnerID(ownerID).
				WithReason(ReasonOwnerMismatch)
		}
		if existing.AttemptToken != attemptToken {
			return false, herderrors.NewLeaseError("renew rejected", herderrors.ErrAttemptTokenMismatch).
				WithTaskID(taskID).
				WithOwnerID(ownerID).
				WithReason(ReasonTokenMismatch)
		}
		if existing.AttemptStatus == StatusComplete || existing.AttemptStatus == StatusFailed {
			return false, herderrors.NewLeaseError("renew rejected", herderrors.ErrTaskTerminal).
				WithTaskID(taskID).
				WithOwnerID(ownerID).
				WithReason(taskAlreadyReason(existing.AttemptStatus))
		}

		existing.OwnerHeartbeat = now
		existing.AttemptStatus = StatusWorking
		existing.appendEvent(now, eventRenewed, ownerID, "")
		state = existing.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug("lease renewed", "task", taskID, "owner", ownerID)
	r.publish(event.NewLeaseRenewedEvent(taskID, ownerID))
	return state, nil
}

// Release ends the caller's attempt with a terminal status (complete,
// failed, or abandoned), recording the error message if one is given. The
// caller must present the attempt token issued at claim time.
func (r *Registry) Release(taskID, attemptToken string, status AttemptStatus, errMsg string) (*TaskState, error) {
	if !status.IsTerminal() {
		return nil, herderrors.NewValidationError("release status must be terminal").
			WithField("status").
			WithValue(string(status))
	}

	var state *TaskState

	err := r.store.Update(func(doc *Document) (bool, error) {
		now := r.now().UTC()
		existing := doc.Tasks[taskID]

		if existing == nil {
			return false, herderrors.NewNotFoundError("task", taskID)
		}
		if existing.AttemptToken != attemptToken {
			return false, herderrors.NewLeaseError("release rejected", herderrors.ErrAttemptTokenMismatch).
				WithTaskID(taskID).
				WithOwnerID(existing.OwnerID).
				WithReason(ReasonTokenMismatch)
		}

		existing.AttemptStatus = status
		existing.OwnerHeartbeat = now
		if errMsg != "" {
			existing.LastError = errMsg
		}
		existing.appendEvent(now, eventReleased, existing.OwnerID, string(status))
		state = existing.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("lease released", "task", taskID, "owner", state.OwnerID, "status", string(status))
	r.publish(event.NewLeaseReleasedEvent(taskID, state.OwnerID, string(status), errMsg))
	return state, nil
}

// SweepStale transitions every non-terminal, non-ignored lease whose
// heartbeat age exceeds the threshold to abandoned with a synthetic error.
// Every workstation runs the sweep periodically; the operation is
// idempotent and order-independent, so overlapping sweeps from multiple
// processes converge on the same result. Returns the swept records.
func (r *Registry) SweepStale(staleThreshold time.Duration) ([]*TaskState, error) {
	if staleThreshold <= 0 {
		return nil, herderrors.NewValidationError("stale threshold must be positive").
			WithField("staleThreshold").
			WithValue(staleThreshold)
	}

	type sweptLease struct {
		state *TaskState
		owner string
		age   time.Duration
	}
	var swept []sweptLease

	err := r.store.Update(func(doc *Document) (bool, error) {
		now := r.now().UTC()

		ids := make([]string, 0, len(doc.Tasks))
		for id := range doc.Tasks {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			task := doc.Tasks[id]
			if task.AttemptStatus.IsTerminal() || task.AttemptStatus == StatusIgnored || task.IgnoreReason != "" {
				continue
			}

			age := task.HeartbeatAge(now)
			if age <= staleThreshold {
				continue
			}

			owner := task.OwnerID
			task.AttemptStatus = StatusAbandoned
			task.LastError = fmt.Sprintf("lease abandoned: owner %s heartbeat stale for %s", owner, age.Round(time.Second))
			task.appendEvent(now, eventAbandoned, actorSystem,
				fmt.Sprintf("heartbeat age %s exceeded threshold %s", age.Round(time.Second), staleThreshold))
			swept = append(swept, sweptLease{state: task.Clone(), owner: owner, age: age})
		}
		return len(swept) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	states := make([]*TaskState, 0, len(swept))
	for _, s := range swept {
		r.log.Info("stale lease swept", "task", s.state.TaskID, "previous_owner", s.owner, "heartbeat_age", s.age)
		r.publish(event.NewLeaseAbandonedEvent(s.state.TaskID, s.owner, s.age))
		states = append(states, s.state)
	}
	return states, nil
}

// ShouldRetry reports whether a task is eligible for another claim attempt,
// with a reason string for observability. The decision combines the ignore
// veto, terminal completion, the retry-count ceiling, and whether a live
// owner currently holds the lease. Read-only: the registry is not modified.
func (r *Registry) ShouldRetry(taskID string, maxRetries int) (bool, string, error) {
	var (
		retry  bool
		reason string
	)

	err := r.store.View(func(doc *Document) error {
		now := r.now().UTC()
		task := doc.Tasks[taskID]

		switch {
		case task == nil:
			retry, reason = true, RetryNeverAttempted
		case task.IgnoreReason != "":
			retry, reason = false, RetryIgnored
		case task.AttemptStatus == StatusComplete:
			retry, reason = false, RetryAlreadyComplete
		case task.RetryCount >= maxRetries:
			retry, reason = false, RetryLimitReached
		case !task.AttemptStatus.IsTerminal() && task.AttemptStatus != StatusIgnored && !task.IsStale(now):
			retry, reason = false, RetryOwnerActive
		default:
			retry, reason = true, RetryEligible
		}
		return nil
	})
	if err != nil {
		return false, "", err
	}
	return retry, reason, nil
}

// Ignore flags a task so it can never be claimed, creating the record if
// the task has never been attempted. The veto is independent of attempt
// status and survives restarts; only Unignore lifts it.
func (r *Registry) Ignore(taskID, reason string) error {
	if taskID == "" {
		return herderrors.NewValidationError("task ID cannot be empty").WithField("taskID")
	}
	if reason == "" {
		return herderrors.NewValidationError("ignore reason cannot be empty").WithField("reason")
	}

	err := r.store.Update(func(doc *Document) (bool, error) {
		now := r.now().UTC()
		task := doc.Tasks[taskID]

		if task == nil {
			task = &TaskState{
				TaskID:        taskID,
				AttemptStatus: StatusIgnored,
			}
			doc.Tasks[taskID] = task
		}
		task.IgnoreReason = reason
		task.appendEvent(now, eventIgnored, actorOperator, reason)
		return true, nil
	})
	if err != nil {
		return err
	}

	r.log.Info("task ignored", "task", taskID, "reason", reason)
	return nil
}

// Unignore lifts a task's ignore veto. The attempt status is left as-is;
// a record parked in status ignored becomes claimable again once the
// reason is cleared. Unignoring a task that is not ignored is a no-op.
func (r *Registry) Unignore(taskID string) error {
	err := r.store.Update(func(doc *Document) (bool, error) {
		now := r.now().UTC()
		task := doc.Tasks[taskID]

		if task == nil {
			return false, herderrors.NewNotFoundError("task", taskID)
		}
		if task.IgnoreReason == "" {
			return false, nil
		}

		task.IgnoreReason = ""
		task.appendEvent(now, eventUnignored, actorOperator, "")
		return true, nil
	})
	if err != nil {
		return err
	}

	r.log.Info("task unignored", "task", taskID)
	return nil
}

// Get returns a copy of a task's lease record.
func (r *Registry) Get(taskID string) (*TaskState, error) {
	var state *TaskState

	err := r.store.View(func(doc *Document) error {
		task := doc.Tasks[taskID]
		if task == nil {
			return herderrors.NewNotFoundError("task", taskID)
		}
		state = task.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Snapshot returns a deep copy of the entire registry document.
func (r *Registry) Snapshot() (*Document, error) {
	var snapshot *Document

	err := r.store.View(func(doc *Document) error {
		snapshot = doc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// publish sends an event to the bus if one is configured.
func (r *Registry) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
