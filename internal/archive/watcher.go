package archive

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce     = 200 * time.Millisecond
	defaultPollInterval = 10 * time.Second
)

// Watcher observes the activity signal file and invokes a callback when the
// revision changes. It prefers fsnotify and degrades to polling when the
// platform watcher cannot be set up.
type Watcher struct {
	signalPath   string
	onChange     func()
	logger       *log.Logger
	debounce     time.Duration
	pollInterval time.Duration

	mu            sync.Mutex
	lastSeenRev   string
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	fireMu        sync.Mutex // serializes fire() between debounce timer and poll loop
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets the fallback poll interval (default 10s).
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithDebounce sets the event debounce window (default 200ms).
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher on signalPath. onChange runs at most once per
// revision change, never concurrently with itself.
func NewWatcher(signalPath string, onChange func(), logger *log.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		signalPath:   signalPath,
		onChange:     onChange,
		logger:       logger,
		debounce:     defaultDebounce,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start runs the file watcher and fallback poll until ctx is cancelled.
// If fsnotify fails to initialize, the watcher runs in poll-only mode.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	watchDir := filepath.Dir(w.signalPath)
	signalName := filepath.Base(w.signalPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("Watcher: fsnotify init failed (%v), using poll-only", err)
		w.useFsnotify = false
	} else {
		w.watcher = watcher
		w.useFsnotify = true
		if err := watcher.Add(watchDir); err != nil {
			w.logger.Printf("Watcher: fsnotify add %s failed (%v), using poll-only", watchDir, err)
			_ = watcher.Close()
			w.watcher = nil
			w.useFsnotify = false
		}
	}

	if w.useFsnotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx, signalName)
	}

	w.pollLoop(ctx)
}

// Stop signals the watcher to stop. Call after cancelling the context passed
// to Start.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// CheckOnce runs one revision check (for testing or manual trigger).
func (w *Watcher) CheckOnce() {
	w.fire()
}

// Trigger forces a callback on the next check, bypassing revision dedup.
// Call after a same-process write that fsnotify may have missed.
func (w *Watcher) Trigger() {
	w.mu.Lock()
	w.lastSeenRev = ""
	w.mu.Unlock()
	w.fireDebounced()
}

func (w *Watcher) watchLoop(ctx context.Context, signalName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != signalName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.fireDebounced()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) fireDebounced() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.fire()
		}
	}
}

func (w *Watcher) fire() {
	w.fireMu.Lock()
	defer w.fireMu.Unlock()

	rev := w.readRevision()
	if rev == "" {
		return
	}
	w.mu.Lock()
	if rev == w.lastSeenRev {
		w.mu.Unlock()
		return
	}
	w.lastSeenRev = rev
	w.mu.Unlock()

	w.onChange()
}

func (w *Watcher) readRevision() string {
	data, err := os.ReadFile(w.signalPath)
	if err != nil {
		return ""
	}
	return string(data)
}
