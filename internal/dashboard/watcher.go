package dashboard

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OverlayWatcher watches the entity descriptor overlay file and emits a
// notification when it changes, so serve mode can pick up new column
// mappings without a restart. It watches the containing directory rather
// than the file itself: editors that write-and-rename would otherwise
// detach the watch.
type OverlayWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	changes chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// debounceWindow coalesces the event bursts a single save produces.
const debounceWindow = 250 * time.Millisecond

// NewOverlayWatcher creates a watcher for the overlay file at path.
// The watcher must be started with Start() before it will emit changes.
func NewOverlayWatcher(path string) (*OverlayWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolving overlay path: %w", err)
	}

	return &OverlayWatcher{
		watcher: watcher,
		path:    abs,
		changes: make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the overlay file's directory.
func (ow *OverlayWatcher) Start() error {
	ow.mu.Lock()
	defer ow.mu.Unlock()

	if ow.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(ow.path)
	if err := ow.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ow.running = true
	ow.wg.Add(1)
	go ow.processEvents()

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the event
// processing goroutine has exited.
func (ow *OverlayWatcher) Stop() error {
	ow.mu.Lock()
	if !ow.running {
		ow.mu.Unlock()
		return nil
	}
	ow.running = false
	ow.mu.Unlock()

	close(ow.done)

	if err := ow.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	ow.wg.Wait()

	close(ow.changes)
	close(ow.errors)

	return nil
}

// Changes returns the channel that fires after the overlay file changes.
// This channel is closed when the watcher is stopped.
func (ow *OverlayWatcher) Changes() <-chan struct{} {
	return ow.changes
}

// Errors returns the channel that emits watcher errors.
func (ow *OverlayWatcher) Errors() <-chan error {
	return ow.errors
}

// processEvents filters directory events down to debounced changes of the
// overlay file itself.
func (ow *OverlayWatcher) processEvents() {
	defer ow.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ow.done:
			return

		case event, ok := <-ow.watcher.Events:
			if !ok {
				return
			}
			if !ow.isOverlayEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case ow.changes <- struct{}{}:
			default:
				// A change is already pending; one reload covers both.
			}

		case err, ok := <-ow.watcher.Errors:
			if !ok {
				return
			}
			select {
			case ow.errors <- err:
			case <-ow.done:
				return
			}
		}
	}
}

func (ow *OverlayWatcher) isOverlayEvent(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if abs != ow.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

// IsRunning returns true if the watcher is currently running.
func (ow *OverlayWatcher) IsRunning() bool {
	ow.mu.Lock()
	defer ow.mu.Unlock()
	return ow.running
}
