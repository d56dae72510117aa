package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/herd/internal/anomaly"
	"github.com/Iron-Ham/herd/internal/config"
	herderrors "github.com/Iron-Ham/herd/internal/errors"
	"github.com/Iron-Ham/herd/internal/event"
	"github.com/Iron-Ham/herd/internal/fingerprint"
	"github.com/Iron-Ham/herd/internal/fleet"
	"github.com/Iron-Ham/herd/internal/logging"
	"github.com/Iron-Ham/herd/internal/presence"
	"github.com/Iron-Ham/herd/internal/registry"
	"github.com/Iron-Ham/herd/internal/scheduler"
)

const (
	// minNudgeGap suppresses watcher nudges that land right after a
	// refresh. The daemon's own writes (presence, assignments, registry)
	// hit the same directory the watcher observes, so without a floor a
	// refresh would schedule the next one indefinitely.
	minNudgeGap = 2 * time.Second

	// shutdownTimeout bounds the I/O performed while winding down.
	shutdownTimeout = 5 * time.Second
)

// Daemon is the long-running workstation process. Each refresh cycle it
// recomputes the repository fingerprint, republishes its presence record,
// derives fleet state, and claims its share of the assignment sheet. The
// coordinator additionally builds execution waves from the shared backlog
// and writes the sheet all workstations read.
type Daemon struct {
	cfg *config.Config
	log *logging.Logger
	bus *event.Bus

	store    presence.Store
	reg      *registry.Registry
	source   TaskSource
	tracker  *fleet.Tracker
	detector *anomaly.Detector
	sup      *Supervisor

	controller ProcessController
	notify     func(anomaly.Event)

	repoDir    string
	coordDir   string
	instanceID string

	// fingerprintFn and now are replaced in tests.
	fingerprintFn func(repoDir string) (*fingerprint.Fingerprint, error)
	now           func() time.Time

	mu             sync.Mutex
	lastFP         string
	wasCoordinator bool
	owned          map[string]string // taskID -> attempt token
	lastRefresh    time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(d *Daemon) { d.log = log }
}

// WithBus sets the event bus shared with collaborating components.
func WithBus(bus *event.Bus) Option {
	return func(d *Daemon) { d.bus = bus }
}

// WithPresenceStore overrides the presence store built from configuration.
func WithPresenceStore(store presence.Store) Option {
	return func(d *Daemon) { d.store = store }
}

// WithRegistry overrides the lease registry built from configuration.
func WithRegistry(reg *registry.Registry) Option {
	return func(d *Daemon) { d.reg = reg }
}

// WithTaskSource overrides the task source read during coordination.
func WithTaskSource(source TaskSource) Option {
	return func(d *Daemon) { d.source = source }
}

// WithInstanceID fixes the workstation instance id instead of generating
// one.
func WithInstanceID(id string) Option {
	return func(d *Daemon) { d.instanceID = id }
}

// WithController attaches the process controller. Without a controller the
// daemon still detects anomalies and crash loops but cannot act on them.
func WithController(controller ProcessController) Option {
	return func(d *Daemon) { d.controller = controller }
}

// WithNotify forwards medium-and-above anomaly events to an external
// notification sink.
func WithNotify(fn func(anomaly.Event)) Option {
	return func(d *Daemon) { d.notify = fn }
}

// New assembles a Daemon for the repository at repoDir. Collaborators not
// supplied via options are built from the configuration: a file or Redis
// presence store, a lease registry in the coordination directory, a board
// file task source, a fleet tracker, and an anomaly detector. A supervisor
// is attached only when a process controller is supplied.
func New(cfg *config.Config, repoDir string, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	d := &Daemon{
		cfg:           cfg,
		repoDir:       repoDir,
		fingerprintFn: fingerprint.Compute,
		now:           time.Now,
		owned:         make(map[string]string),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logging.NopLogger()
	}
	if d.bus == nil {
		d.bus = event.NewBus()
	}
	if d.instanceID == "" {
		d.instanceID = presence.NewInstanceID()
	}
	if d.coordDir == "" {
		d.coordDir = cfg.Coordination.ResolveDir(repoDir)
	}
	if err := os.MkdirAll(d.coordDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create coordination directory: %w", err)
	}

	if d.store == nil {
		switch cfg.Coordination.PresenceBackend {
		case "redis":
			store, err := presence.NewRedisStore(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, cfg.Redis.KeyPrefix, cfg.Coordination.PresenceTTL())
			if err != nil {
				return nil, err
			}
			d.store = store
		default:
			store, err := presence.NewFileStore(d.coordDir)
			if err != nil {
				return nil, err
			}
			d.store = store
		}
	}

	if d.reg == nil {
		store, err := registry.NewStore(
			filepath.Join(d.coordDir, cfg.Registry.FileName),
			registry.WithStoreLogger(d.log))
		if err != nil {
			return nil, err
		}
		d.reg = registry.New(store, registry.WithBus(d.bus), registry.WithLogger(d.log))
	}

	if d.source == nil {
		d.source = NewFileSource(filepath.Join(d.coordDir, BoardFileName))
	}
	if d.tracker == nil {
		d.tracker = fleet.NewTracker(fleet.WithBus(d.bus), fleet.WithLogger(d.log))
	}
	if d.detector == nil {
		detOpts := []anomaly.Option{
			anomaly.WithBus(d.bus),
			anomaly.WithLogger(d.log),
			anomaly.WithDedupWindow(cfg.Anomaly.DedupWindow()),
			anomaly.WithCircuitBreakerThreshold(cfg.Anomaly.CircuitBreakerThreshold),
			anomaly.WithModelErrorKillCount(cfg.Anomaly.ModelErrorKillCount),
		}
		if d.notify != nil {
			detOpts = append(detOpts, anomaly.WithNotify(d.notify))
		}
		d.detector = anomaly.NewDetector(detOpts...)
	}
	if d.controller != nil {
		d.sup = NewSupervisor(d.controller, d.detector, d.bus,
			cfg.Daemon.CrashWindow(), cfg.Daemon.MaxInstantCrashes,
			WithSupervisorLogger(d.log),
			WithLeaseReleaser(d.releaseTaskFailed))
	}
	return d, nil
}

// Start runs the daemon until the context is cancelled or Stop is called.
// It returns after shutdown has released owned leases and removed the
// local presence record.
func (d *Daemon) Start(ctx context.Context) error {
	defer close(d.doneCh)

	d.log.Info("daemon starting",
		"instance_id", d.instanceID,
		"coordination_dir", d.coordDir,
		"presence_backend", d.cfg.Coordination.PresenceBackend)

	if d.sup != nil {
		d.sup.Start()
		defer d.sup.Stop()
	}

	// A nil nudge channel blocks forever in the select, so a failed watch
	// degrades to timer-only refreshes.
	var nudge <-chan struct{}
	if w, err := newWatcher(d.coordDir, d.cfg.Daemon.WatchDebounce(), d.log); err != nil {
		d.log.Warn("coordination directory watch unavailable", "error", err)
	} else {
		nudge = w.Nudge()
		defer w.stop()
	}

	d.refresh(ctx)

	refreshTicker := time.NewTicker(d.cfg.Daemon.RefreshInterval())
	defer refreshTicker.Stop()
	heartbeatTicker := time.NewTicker(d.cfg.Coordination.HeartbeatInterval())
	defer heartbeatTicker.Stop()
	sweepTicker := time.NewTicker(d.cfg.Daemon.SweepInterval())
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case <-d.stopCh:
			d.shutdown()
			return nil
		case <-refreshTicker.C:
			d.refresh(ctx)
		case <-heartbeatTicker.C:
			d.heartbeat(ctx)
		case <-sweepTicker.C:
			d.sweep()
		case <-nudge:
			d.mu.Lock()
			since := d.now().Sub(d.lastRefresh)
			d.mu.Unlock()
			if since < minNudgeGap {
				continue
			}
			d.log.Debug("coordination change detected, refreshing early")
			d.refresh(ctx)
		}
	}
}

// Stop requests shutdown and waits for Start to return.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

// refresh runs one full cycle: fingerprint, presence publish, peer
// listing, prune, fleet state derivation, coordination when elected, and
// lease claim/renew.
func (d *Daemon) refresh(ctx context.Context) {
	now := d.now()

	fp, err := d.fingerprintFn(d.repoDir)
	d.mu.Lock()
	if err == nil {
		d.lastFP = fp.Hash
	}
	fpHash := d.lastFP
	d.mu.Unlock()
	if err != nil {
		if fpHash == "" {
			d.log.Error("cannot compute repository fingerprint", "error", err)
			return
		}
		d.log.Warn("fingerprint refresh failed, reusing previous hash", "error", err)
	}

	rec := presence.BuildLocalPresence(d.instanceID, fpHash,
		d.cfg.Coordination.Capabilities, d.cfg.Coordination.MaxParallel)
	rec.LastHeartbeat = now.UTC()
	d.mu.Lock()
	rec.IsCoordinator = d.wasCoordinator
	d.mu.Unlock()

	if err := d.store.Publish(ctx, rec); err != nil {
		d.log.Error("failed to publish presence record", "error", err)
		return
	}

	records, err := d.store.List(ctx)
	if err != nil {
		d.log.Error("failed to list presence records", "error", err)
		return
	}

	ttl := d.cfg.Coordination.PresenceTTL()
	for _, peer := range records {
		if peer.InstanceID == d.instanceID || peer.IsLive(ttl, now) {
			continue
		}
		d.bus.Publish(event.NewPresenceExpiredEvent(peer.InstanceID, peer.Age(now)))
	}
	if pruned, err := d.store.Prune(ctx, ttl); err != nil {
		d.log.Warn("presence prune failed", "error", err)
	} else if len(pruned) > 0 {
		d.log.Info("pruned stale presence records", "count", len(pruned))
	}

	st := fleet.Compute(rec, records, ttl, now)

	if status, err := d.source.Status(ctx); err != nil {
		d.log.Warn("board status unavailable", "error", err)
	} else if drained, reason := scheduler.DetectMaintenanceMode(status); drained {
		d.log.Info("board drained, entering maintenance mode", "reason", reason)
		st.ApplyMaintenance(true)
	}

	d.tracker.Update(st)

	d.mu.Lock()
	d.wasCoordinator = st.IsCoordinator
	d.mu.Unlock()

	d.bus.Publish(event.NewPresencePublishedEvent(d.instanceID, rec.Host, st.IsCoordinator))

	if st.IsCoordinator {
		d.coordinate(ctx, st)
	}

	d.claimAssigned()
	d.renewOwned()

	d.mu.Lock()
	d.lastRefresh = d.now()
	d.mu.Unlock()
}

// coordinate performs the coordinator's share of a cycle: read the
// backlog, check its depth against fleet capacity, build conflict-free
// waves, assign them across the fleet, and persist the assignment sheet.
// The sheet is written even when empty so departed tasks do not linger.
func (d *Daemon) coordinate(ctx context.Context, st *fleet.State) {
	backlog, err := d.source.Backlog(ctx)
	if err != nil {
		d.log.Error("failed to read task backlog", "error", err)
		return
	}

	dec := scheduler.CalculateBacklogDepth(st.TotalSlots, len(backlog),
		d.cfg.Scheduler.BufferMultiplier,
		d.cfg.Scheduler.MinBacklog,
		d.cfg.Scheduler.MaxBacklog)
	if dec.ShouldGenerate {
		d.log.Info("backlog below target depth",
			"current", len(backlog),
			"target", dec.TargetDepth,
			"deficit", dec.Deficit)
		d.bus.Publish(event.NewBacklogRefillEvent(len(backlog), dec.TargetDepth, dec.Deficit))
	}

	waves := scheduler.BuildExecutionWaves(backlog)
	byID := make(map[string]scheduler.Task, len(backlog))
	for _, t := range backlog {
		byID[t.ID] = t
	}
	assignments := scheduler.AssignTasks(waves, st.Peers, byID)

	sheet := &Sheet{
		GeneratedBy: d.instanceID,
		GeneratedAt: d.now().UTC(),
		Assignments: assignments,
	}
	if err := WriteSheet(d.coordDir, sheet); err != nil {
		d.log.Error("failed to write assignment sheet", "error", err)
		return
	}
	d.log.Info("assignment sheet written",
		"tasks", len(backlog),
		"waves", len(waves),
		"assignments", len(assignments))
}

// claimAssigned claims tasks the current sheet assigns to this
// workstation, up to the configured parallelism. Contested claims lose
// quietly; the lease registry is the arbiter.
func (d *Daemon) claimAssigned() {
	sheet, err := ReadSheet(d.coordDir)
	if err != nil {
		d.log.Warn("failed to read assignment sheet", "error", err)
		return
	}
	assigned := sheet.TasksFor(d.instanceID)
	if len(assigned) == 0 {
		return
	}

	d.mu.Lock()
	capacity := d.cfg.Coordination.MaxParallel - len(d.owned)
	ownedNow := make(map[string]bool, len(d.owned))
	for taskID := range d.owned {
		ownedNow[taskID] = true
	}
	d.mu.Unlock()

	for _, taskID := range assigned {
		if capacity <= 0 {
			return
		}
		if ownedNow[taskID] {
			continue
		}
		retry, reason, err := d.reg.ShouldRetry(taskID, d.cfg.Registry.MaxRetries)
		if err != nil {
			d.log.Warn("retry check failed", "task_id", taskID, "error", err)
			continue
		}
		if !retry {
			d.log.Debug("skipping assigned task", "task_id", taskID, "reason", reason)
			continue
		}

		token := registry.NewAttemptToken()
		res, err := d.reg.Claim(taskID, d.instanceID, token, d.cfg.Registry.LeaseTTL())
		if err != nil {
			d.log.Debug("claim lost", "task_id", taskID, "error", err)
			continue
		}

		d.mu.Lock()
		d.owned[taskID] = token
		d.mu.Unlock()
		capacity--
		d.log.Info("task claimed",
			"task_id", taskID,
			"takeover", res.Takeover,
			"retry_count", res.State.RetryCount)
	}
}

// heartbeat republishes presence and renews owned leases between full
// refresh cycles. Skipped until the first successful fingerprint.
func (d *Daemon) heartbeat(ctx context.Context) {
	d.mu.Lock()
	fpHash := d.lastFP
	wasCoordinator := d.wasCoordinator
	d.mu.Unlock()
	if fpHash == "" {
		return
	}

	rec := presence.BuildLocalPresence(d.instanceID, fpHash,
		d.cfg.Coordination.Capabilities, d.cfg.Coordination.MaxParallel)
	rec.LastHeartbeat = d.now().UTC()
	rec.IsCoordinator = wasCoordinator
	if err := d.store.Publish(ctx, rec); err != nil {
		d.log.Warn("heartbeat publish failed", "error", err)
	}

	d.renewOwned()
}

// renewOwned renews every owned lease. A conflict means another
// workstation took the task over, so the entry is dropped; transient
// errors keep the entry for the next attempt.
func (d *Daemon) renewOwned() {
	d.mu.Lock()
	owned := make(map[string]string, len(d.owned))
	for taskID, token := range d.owned {
		owned[taskID] = token
	}
	d.mu.Unlock()

	for taskID, token := range owned {
		_, err := d.reg.Renew(taskID, d.instanceID, token)
		if err == nil {
			continue
		}
		var notFound *herderrors.NotFoundError
		if herderrors.Is(err, herderrors.ErrOwnerMismatch) ||
			herderrors.Is(err, herderrors.ErrAttemptTokenMismatch) ||
			herderrors.Is(err, herderrors.ErrTaskTerminal) ||
			herderrors.As(err, &notFound) {
			d.log.Warn("lease no longer ours", "task_id", taskID, "error", err)
			d.mu.Lock()
			delete(d.owned, taskID)
			d.mu.Unlock()
			continue
		}
		d.log.Warn("lease renewal failed", "task_id", taskID, "error", err)
	}
}

// sweep transitions leases whose heartbeats went stale to abandoned so
// they become claimable again.
func (d *Daemon) sweep() {
	swept, err := d.reg.SweepStale(d.cfg.Registry.LeaseTTL())
	if err != nil {
		d.log.Warn("stale lease sweep failed", "error", err)
		return
	}
	if len(swept) > 0 {
		d.log.Info("swept stale leases", "count", len(swept))
	}
}

// shutdown releases owned leases as abandoned and withdraws the presence
// record. Runs under its own deadline since the caller's context is
// already done.
func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.mu.Lock()
	owned := make(map[string]string, len(d.owned))
	for taskID, token := range d.owned {
		owned[taskID] = token
	}
	d.owned = make(map[string]string)
	d.mu.Unlock()

	for taskID, token := range owned {
		if _, err := d.reg.Release(taskID, token, registry.StatusAbandoned, "workstation shutting down"); err != nil {
			d.log.Warn("failed to release lease on shutdown", "task_id", taskID, "error", err)
		}
	}

	if err := d.store.Remove(ctx, d.instanceID); err != nil {
		d.log.Warn("failed to remove presence record", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.log.Warn("failed to close presence store", "error", err)
	}
	d.log.Info("daemon stopped", "instance_id", d.instanceID, "released_leases", len(owned))
}

// releaseTaskFailed is the supervisor's lease releaser: the process bound
// to the task died for good.
func (d *Daemon) releaseTaskFailed(taskID, errMsg string) {
	if err := d.ReleaseTask(taskID, registry.StatusFailed, errMsg); err != nil {
		d.log.Warn("failed to release lease for dead process",
			"task_id", taskID, "error", err)
	}
}

// ReleaseTask releases an owned lease with the given terminal status. The
// process runner calls this when an agent finishes a task.
func (d *Daemon) ReleaseTask(taskID string, status registry.AttemptStatus, errMsg string) error {
	d.mu.Lock()
	token, ok := d.owned[taskID]
	delete(d.owned, taskID)
	d.mu.Unlock()
	if !ok {
		return herderrors.NewLeaseError("task not owned by this workstation", herderrors.ErrTaskNotFound).WithTaskID(taskID)
	}
	_, err := d.reg.Release(taskID, token, status, errMsg)
	return err
}

// Bus returns the daemon's event bus.
func (d *Daemon) Bus() *event.Bus { return d.bus }

// Detector returns the anomaly detector fed by the process runner.
func (d *Daemon) Detector() *anomaly.Detector { return d.detector }

// Supervisor returns the process supervisor, nil when no controller was
// attached.
func (d *Daemon) Supervisor() *Supervisor { return d.sup }

// Fleet returns the most recently derived fleet state, nil before the
// first refresh.
func (d *Daemon) Fleet() *fleet.State { return d.tracker.Current() }

// InstanceID returns the workstation instance id.
func (d *Daemon) InstanceID() string { return d.instanceID }

// CoordinationDir returns the resolved coordination directory.
func (d *Daemon) CoordinationDir() string { return d.coordDir }
