package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaakkos/agentmail/internal/archive"
)

const (
	defaultDebounceMs   = 200
	defaultPollInterval = 10 * time.Second
)

// MailboxUpdateParams is the payload for notifications/mailbox_update.
type MailboxUpdateParams struct {
	Project        string `json:"project"`
	Agent          string `json:"agent"`
	UnreadMessages int    `json:"unread_messages"`
	AckPending     int    `json:"ack_pending"`
	Summary        string `json:"summary"`
}

// Notifier watches the storage signal file and pushes mailbox_update
// notifications to connected sessions whose agent has unread mail. The
// signal file is touched on every mutation, including ones made by other
// server processes sharing the storage root.
type Notifier struct {
	signalPath   string
	svc          *MailService
	registry     *SessionRegistry
	pushFunc     func(sessionID, method string, params any) error
	logger       *log.Logger
	debounceMs   int
	pollInterval time.Duration

	mu            sync.Mutex
	lastPushedRev string
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	pushMu        sync.Mutex // serializes checkAndPush to prevent duplicate pushes
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.pollInterval = d
	}
}

// NewNotifier creates a notifier. pushFunc delivers one MCP notification to
// one session; a nil pushFunc disables pushing but keeps the watch loop
// (Trigger still fires for tests).
func NewNotifier(storageRoot string, svc *MailService, registry *SessionRegistry, pushFunc func(sessionID, method string, params any) error, logger *log.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		signalPath:   archive.SignalPath(storageRoot),
		svc:          svc,
		registry:     registry,
		pushFunc:     pushFunc,
		logger:       logger,
		debounceMs:   defaultDebounceMs,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Start starts the file watcher and fallback poll. Returns when ctx is
// cancelled or Stop is called. If fsnotify fails to initialize, falls back
// to poll-only mode.
func (n *Notifier) Start(ctx context.Context) {
	defer close(n.doneCh)

	watchDir := filepath.Dir(n.signalPath)
	signalName := filepath.Base(n.signalPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		n.logger.Printf("Notifier: fsnotify init failed (%v), using poll-only", err)
		n.useFsnotify = false
	} else {
		n.watcher = watcher
		n.useFsnotify = true
		if err := watcher.Add(watchDir); err != nil {
			n.logger.Printf("Notifier: fsnotify add %s failed (%v), using poll-only", watchDir, err)
			_ = watcher.Close()
			n.watcher = nil
			n.useFsnotify = false
		}
	}

	if n.useFsnotify {
		defer n.watcher.Close()
		go n.watchLoop(ctx, signalName)
	}

	n.pollLoop(ctx)
}

// Stop signals the notifier to stop. Call after cancelling the context
// passed to Start.
func (n *Notifier) Stop() {
	close(n.stopCh)
	<-n.doneCh
}

// CheckOnce runs one check-and-push cycle (for testing or manual trigger).
func (n *Notifier) CheckOnce() {
	n.checkAndPush()
}

// Trigger forces a check-and-push cycle, bypassing the revision dedup.
// Called after every mutation so sessions hear about same-process writes
// even when fsnotify misses the event.
func (n *Notifier) Trigger() {
	n.mu.Lock()
	n.lastPushedRev = "" // reset so checkAndPush won't skip
	n.mu.Unlock()
	n.triggerDebounced()
}

func (n *Notifier) watchLoop(ctx context.Context, signalName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != signalName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			n.triggerDebounced()
		case _, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (n *Notifier) triggerDebounced() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.debounceTimer != nil {
		n.debounceTimer.Stop()
	}
	n.debounceTimer = time.AfterFunc(time.Duration(n.debounceMs)*time.Millisecond, func() {
		n.checkAndPush()
	})
}

func (n *Notifier) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.checkAndPush()
		}
	}
}

func (n *Notifier) checkAndPush() {
	// Serialize the whole cycle. Without this the debounce timer goroutine
	// and the poll loop can both pass the revision dedup concurrently and
	// push duplicates.
	n.pushMu.Lock()
	defer n.pushMu.Unlock()

	rev := archive.ReadSignal(n.signalPath)
	if rev == "" {
		return
	}
	n.mu.Lock()
	if rev == n.lastPushedRev {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if n.pushFunc != nil && n.registry != nil {
		n.pushSessions()
	}

	n.mu.Lock()
	n.lastPushedRev = rev
	n.mu.Unlock()
}

// pushSessions notifies every bound session whose agent has unread mail.
func (n *Notifier) pushSessions() {
	for sid, id := range n.registry.Bindings() {
		project, err := n.svc.Index().ProjectByIdentifier(id.ProjectKey)
		if err != nil {
			continue
		}
		unread, ackPending, err := n.svc.Index().UnreadCounts(project.ID, id.Agent)
		if err != nil || (unread == 0 && ackPending == 0) {
			continue
		}
		params := MailboxUpdateParams{
			Project:        project.Slug,
			Agent:          id.Agent,
			UnreadMessages: unread,
			AckPending:     ackPending,
			Summary:        buildSummary(unread, ackPending),
		}
		if err := n.pushFunc(sid, "notifications/mailbox_update", params); err != nil {
			n.logger.Printf("Notifier: push to %s/%s failed: %v", project.Slug, id.Agent, err)
		}
	}
}

func buildSummary(unread, ackPending int) string {
	if unread > 0 && ackPending > 0 {
		return fmt.Sprintf("%d new message(s), %d awaiting acknowledgement", unread, ackPending)
	}
	if unread > 0 {
		return fmt.Sprintf("%d new message(s)", unread)
	}
	return fmt.Sprintf("%d message(s) awaiting acknowledgement", ackPending)
}
