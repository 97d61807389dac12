// Package artifactwatch flags on-disk drift of loaded model artifacts.
//
// The artifact store is immutable after startup. When a tracked file changes
// on disk the running process no longer matches what an operator sees there,
// so the watcher raises a staleness flag and leaves the fix (a restart) to
// the operator. It never reloads.
package artifactwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/approvia/claimscore/pkg/artifact"
)

// DriftFunc is called whenever a tracked file's staleness changes.
type DriftFunc func(file string, stale bool)

// Watcher compares artifact files against the fingerprints recorded at load.
type Watcher struct {
	dir      string
	expected map[string]string
	onDrift  DriftFunc
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc

	mu    sync.Mutex
	stale map[string]bool
}

// New creates a watcher over the store's artifacts directory and starts it.
func New(store *artifact.Store, onDrift DriftFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absDir, err := filepath.Abs(store.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		dir:      absDir,
		expected: store.Fingerprints(),
		onDrift:  onDrift,
		logger:   logger,
		watcher:  watcher,
		cancel:   cancel,
		stale:    make(map[string]bool),
	}

	if err := watcher.Add(absDir); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go w.watchLoop(ctx)

	logger.Info("Watching artifacts for drift", "dir", absDir, "files", len(w.expected))
	return w, nil
}

// Stale returns a copy of the per-file staleness flags.
func (w *Watcher) Stale() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]bool, len(w.stale))
	for k, v := range w.stale {
		out[k] = v
	}
	return out
}

// Close stops the watch loop and releases the fsnotify handle.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Event paths can arrive relative or with platform separators.
			name := filepath.Base(filepath.Clean(event.Name))
			if _, tracked := w.expected[name]; !tracked {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, w.recheck)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Artifact watcher error", "error", err)
		}
	}
}

// recheck rehashes every tracked file. A missing file counts as stale.
func (w *Watcher) recheck() {
	for name, want := range w.expected {
		sum, err := artifact.Fingerprint(filepath.Join(w.dir, name))
		w.setStale(name, err != nil || sum != want)
	}
}

func (w *Watcher) setStale(name string, stale bool) {
	w.mu.Lock()
	changed := w.stale[name] != stale
	w.stale[name] = stale
	w.mu.Unlock()

	if !changed {
		return
	}

	if stale {
		w.logger.Warn("Artifact changed on disk after load, restart to pick it up", "file", name)
	} else {
		w.logger.Info("Artifact matches the loaded fingerprint again", "file", name)
	}

	if w.onDrift != nil {
		w.onDrift(name, stale)
	}
}
