package daemon

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/herd/internal/logging"
)

// watcher raises a nudge when coordination files change, so the daemon
// refreshes ahead of its ticker when a peer publishes presence, rewrites
// the registry, or replaces the assignment sheet. Events are debounced: a
// burst of writes from a syncing peer coalesces into one nudge.
type watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	log      *logging.Logger
	nudge    chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// newWatcher starts watching dir. Callers receive nudges on Nudge() and
// must call stop when done.
func newWatcher(dir string, debounce time.Duration, log *logging.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &watcher{
		fsw:      fsw,
		debounce: debounce,
		log:      log,
		nudge:    make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Nudge returns the channel that fires after a debounced batch of
// coordination-file changes.
func (w *watcher) Nudge() <-chan struct{} {
	return w.nudge
}

func (w *watcher) stop() {
	close(w.stopCh)
	_ = w.fsw.Close()
	<-w.doneCh
}

func (w *watcher) loop() {
	defer close(w.doneCh)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !relevantFile(ev.Name) {
				continue
			}
			pending = true
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if !pending {
				continue
			}
			pending = false
			select {
			case w.nudge <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Debug("coordination watch error", "error", err)
		}
	}
}

// relevantFile reports whether a change to the named file should trigger
// a refresh. Only finished JSON documents count: temp files mid-rename,
// the registry lock, log output, and corrupt-file backups are all noise.
func relevantFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ".json")
}
