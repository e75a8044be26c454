// Package app is the engine behind every tool: it owns the ordering
// archive write -> git commit -> index update and the per-project
// serialization that keeps the two stores consistent.
package app

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/config"
	"github.com/jaakkos/agentmail/internal/domain"
	"github.com/jaakkos/agentmail/internal/index"
)

// Triggerable is something that can be poked after a state write (e.g. the
// archive watcher), so listeners notice updates without waiting for a poll.
type Triggerable interface {
	Trigger()
}

// ThreadEnricher upgrades deterministic thread summaries with
// model-generated content. Implemented by internal/llm; nil leaves the
// deterministic output as-is.
type ThreadEnricher interface {
	EnrichSummary(ctx context.Context, summary *ThreadSummary, excerpts []string, model string) error
	EnrichDigest(ctx context.Context, digest *ThreadDigest, parts []string, model string) error
}

// MailService runs registry, mailbox, lease, and policy operations over the
// archive and the index. Mutations of one project serialize against each
// other; reads go straight to the index without locks.
type MailService struct {
	cfg    *config.Settings
	arc    *archive.Store
	idx    *index.Store
	logger *log.Logger

	notifier Triggerable    // optional; set via SetNotifier after construction
	enricher ThreadEnricher // optional; set via SetEnricher after construction

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	dirtyMu sync.Mutex
	dirty   map[string]bool
}

// NewMailService returns a service over the given stores.
func NewMailService(cfg *config.Settings, arc *archive.Store, idx *index.Store, logger *log.Logger) *MailService {
	return &MailService{
		cfg:    cfg,
		arc:    arc,
		idx:    idx,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		dirty:  make(map[string]bool),
	}
}

// SetNotifier attaches a Triggerable that is poked after every successful
// mutation. This ensures watchers fire even when fsnotify misses
// same-process writes.
func (s *MailService) SetNotifier(n Triggerable) { s.notifier = n }

// SetEnricher attaches the LLM overlay used by thread summaries.
func (s *MailService) SetEnricher(e ThreadEnricher) { s.enricher = e }

// Index exposes the index store for read-only surfaces (web UI, health).
func (s *MailService) Index() *index.Store { return s.idx }

// Archive exposes the archive store for read-only surfaces.
func (s *MailService) Archive() *archive.Store { return s.arc }

// Settings exposes the effective configuration.
func (s *MailService) Settings() *config.Settings { return s.cfg }

// defaultLockWait bounds how long a mutation waits for the archive lock
// when the caller context carries no deadline.
const defaultLockWait = 10 * time.Second

// lockFor returns the in-process mutex for one project slug, creating it on
// first use.
func (s *MailService) lockFor(slug string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[slug]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[slug] = mu
	}
	return mu
}

// Mutate serializes fn against every other mutation of the same project:
// the in-process mutex first, then the on-disk archive lock shared with
// other server processes. fn performs archive writes, the commit, and index
// updates in that order. A caller deadline that already passed fails with
// TIMEOUT before any lock is taken.
func (s *MailService) Mutate(ctx context.Context, slug string, fn func(now time.Time) error) error {
	deadline := time.Now().Add(defaultLockWait)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if ctx.Err() != nil || !time.Now().Before(deadline) {
		return domain.Errorf(domain.ErrTimeout, "deadline passed before project %s could be locked", slug)
	}

	mu := s.lockFor(slug)
	mu.Lock()
	defer mu.Unlock()

	lock, err := s.arc.AcquireLock(slug, deadline)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := fn(time.Now().UTC()); err != nil {
		return err
	}
	_ = archive.TouchSignal(archive.SignalPath(s.cfg.StorageRootDir()))
	if s.notifier != nil {
		s.notifier.Trigger()
	}
	return nil
}

// View runs a read-only fn against the index. No locks are taken; an
// expired caller context still fails fast with TIMEOUT.
func (s *MailService) View(ctx context.Context, fn func(now time.Time) error) error {
	if ctx.Err() != nil {
		return domain.Errorf(domain.ErrTimeout, "request deadline passed")
	}
	return fn(time.Now().UTC())
}

// indexApply runs an index write after an archive commit, retrying once on
// a transient database error. When the retry also fails the index no longer
// matches the committed archive: the project is queued for reconcile and
// the caller sees INDEX_ARCHIVE_MISMATCH.
func (s *MailService) indexApply(slug string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if code := domain.CodeOf(err); code != "" {
		return err
	}
	s.logger.Printf("index write on %s failed, retrying once: %v", slug, err)
	if err2 := fn(); err2 == nil {
		return nil
	}
	s.markDirty(slug)
	return domain.Errorf(domain.ErrIndexArchiveMismatch,
		"index update failed after archive commit on %s: %v", slug, err)
}

func (s *MailService) markDirty(slug string) {
	s.dirtyMu.Lock()
	s.dirty[slug] = true
	s.dirtyMu.Unlock()
}

func (s *MailService) clearDirty(slug string) {
	s.dirtyMu.Lock()
	delete(s.dirty, slug)
	s.dirtyMu.Unlock()
}

// DirtyProjects returns the slugs queued for reconcile, sorted.
func (s *MailService) DirtyProjects() []string {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	out := make([]string, 0, len(s.dirty))
	for slug := range s.dirty {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// resolveProject maps a slug, human key, or path to its indexed project row.
func (s *MailService) resolveProject(identifier string) (domain.Project, error) {
	if identifier == "" {
		return domain.Project{}, domain.Errorf(domain.ErrInvalidArgument, "project key must not be empty")
	}
	return s.idx.ProjectByIdentifier(identifier)
}

// resolveAgent maps an agent name inside a resolved project, tolerating
// case differences and sanitized spellings.
func (s *MailService) resolveAgent(projectID int64, name string) (domain.Agent, error) {
	if name == "" {
		return domain.Agent{}, domain.Errorf(domain.ErrInvalidArgument, "agent name must not be empty")
	}
	a, err := s.idx.AgentByName(projectID, name)
	if domain.CodeOf(err) == domain.ErrAgentNotRegistered {
		if sanitized := domain.SanitizeAgentName(name); sanitized != "" && sanitized != name {
			return s.idx.AgentByName(projectID, sanitized)
		}
	}
	return a, err
}
