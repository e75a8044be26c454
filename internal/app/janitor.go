package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

const (
	// defaultJanitorInterval is how often the janitor runs its sweep.
	defaultJanitorInterval = 60 * time.Second
)

// Janitor is the background maintenance loop. It runs periodically and:
// - Releases expired file claims with an archive-visible commit
// - Re-notifies recipients of ack_required mail left unacknowledged past
//   the configured TTL
type Janitor struct {
	svc      *MailService
	logger   *log.Logger
	interval time.Duration
	ackTTL   time.Duration // 0 disables ack escalation
	notifier Triggerable
	stopCh   chan struct{}
	doneCh   chan struct{}
	// nagged tracks which (message, recipient) pairs were already escalated
	// so one overdue ack produces one reminder, not one per sweep.
	nagged map[string]bool
}

// JanitorOption configures the janitor.
type JanitorOption func(*Janitor)

// WithJanitorInterval sets the sweep cadence.
func WithJanitorInterval(d time.Duration) JanitorOption {
	return func(j *Janitor) { j.interval = d }
}

// WithAckTTL enables ack escalation for messages unacknowledged longer
// than d.
func WithAckTTL(d time.Duration) JanitorOption {
	return func(j *Janitor) { j.ackTTL = d }
}

// WithJanitorNotifier sets the notifier poked after a sweep that changed
// state.
func WithJanitorNotifier(n Triggerable) JanitorOption {
	return func(j *Janitor) { j.notifier = n }
}

// NewJanitor creates a Janitor over the mail service.
func NewJanitor(svc *MailService, logger *log.Logger, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		svc:      svc,
		logger:   logger,
		interval: defaultJanitorInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		nagged:   make(map[string]bool),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Start begins the janitor loop. Returns when ctx is cancelled or Stop is
// called.
func (j *Janitor) Start(ctx context.Context) {
	defer close(j.doneCh)
	j.logger.Printf("Janitor: started (interval=%s, ack_ttl=%s)", j.interval, j.ackTTL)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Println("Janitor: stopped (context cancelled)")
			return
		case <-j.stopCh:
			j.logger.Println("Janitor: stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// Stop signals the janitor to stop and waits for the loop to exit.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

// CheckOnce runs one sweep cycle (for testing or manual trigger).
func (j *Janitor) CheckOnce(ctx context.Context) {
	j.sweep(ctx)
}

// sweep runs one maintenance cycle across all projects.
func (j *Janitor) sweep(ctx context.Context) {
	released, err := j.ReleaseExpired(ctx)
	if err != nil {
		j.logger.Printf("Janitor: expired-claim sweep error: %v", err)
	}
	escalated := 0
	if j.ackTTL > 0 {
		escalated, err = j.escalateOverdueAcks(ctx)
		if err != nil {
			j.logger.Printf("Janitor: ack escalation error: %v", err)
		}
	}
	if released > 0 || escalated > 0 {
		if j.notifier != nil {
			j.notifier.Trigger()
		}
		j.logger.Printf("Janitor: cycle complete, released %d claim(s), escalated %d ack(s)", released, escalated)
	}
}

// ReleaseExpired stamps expired unreleased leases as released and commits
// the updated claim records, one commit per project. The CLI's
// gc-expired-claims runs this directly, outside the sweep loop.
func (j *Janitor) ReleaseExpired(ctx context.Context) (int, error) {
	expired, err := j.svc.Index().ExpiredClaims(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	byProject := map[int64][]domain.Claim{}
	for _, c := range expired {
		byProject[c.ProjectID] = append(byProject[c.ProjectID], c)
	}

	total := 0
	for projectID, claims := range byProject {
		project, err := j.svc.Index().ProjectByID(projectID)
		if err != nil {
			j.logger.Printf("Janitor: skipping claims of unknown project %d: %v", projectID, err)
			continue
		}
		n, err := j.svc.ExpireClaims(ctx, project, claims)
		if err != nil {
			j.logger.Printf("Janitor: expiring claims in %s: %v", project.Slug, err)
			continue
		}
		total += n
	}
	return total, nil
}

// escalateOverdueAcks re-notifies recipients sitting on unacknowledged
// ack_required mail, once per (message, recipient).
func (j *Janitor) escalateOverdueAcks(ctx context.Context) (int, error) {
	projects, err := j.svc.Index().ListProjects()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-j.ackTTL)
	escalated := 0
	retained := make(map[string]bool)
	for _, project := range projects {
		pending, err := j.svc.Index().PendingAcks(project.ID, cutoff)
		if err != nil {
			return escalated, err
		}
		for _, p := range pending {
			key := p.MessageID + "|" + p.Agent
			retained[key] = true
			if j.nagged[key] {
				continue
			}
			if err := j.svc.RemindAck(ctx, project, p.MessageID, p.Agent); err != nil {
				j.logger.Printf("Janitor: ack reminder for %s in %s: %v", p.MessageID, project.Slug, err)
				continue
			}
			j.nagged[key] = true
			escalated++
		}
	}
	// Forget pairs that are no longer overdue so the map cannot grow without
	// bound.
	for key := range j.nagged {
		if !retained[key] {
			delete(j.nagged, key)
		}
	}
	return escalated, nil
}

// ExpireClaims releases a batch of expired leases in one project: updated
// claim records, one commit, index release stamps. Called by the janitor
// and the gc-expired-claims command.
func (s *MailService) ExpireClaims(ctx context.Context, project domain.Project, claims []domain.Claim) (int, error) {
	if len(claims) == 0 {
		return 0, nil
	}
	released := 0
	err := s.Mutate(ctx, project.Slug, func(now time.Time) error {
		var relPaths []string
		var done []domain.Claim
		for _, c := range claims {
			if c.ReleasedTS != nil || c.ExpiresTS.After(now) {
				continue
			}
			rel := c
			rel.ReleasedTS = &now
			path, err := s.arc.WriteClaimRecord(project.Slug, claimRecord(project, rel))
			if err != nil {
				return err
			}
			relPaths = append(relPaths, path)
			done = append(done, rel)
		}
		if len(done) == 0 {
			return nil
		}
		commitMsg := fmt.Sprintf("claim: expire %d path(s)", len(done))
		if err := s.arc.Commit(project.Slug, commitMsg, relPaths); err != nil {
			return err
		}
		if err := s.indexApply(project.Slug, func() error {
			for _, c := range done {
				if err := s.idx.ReleaseClaim(c.ID, now); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		released = len(done)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// RemindAck sends a reminder into the original thread, on the sender's
// behalf, to a recipient who has not acknowledged an ack_required message.
func (s *MailService) RemindAck(ctx context.Context, project domain.Project, messageID, agentName string) error {
	orig, _, err := s.idx.MessageByID(project.ID, messageID)
	if err != nil {
		return err
	}
	return s.Mutate(ctx, project.Slug, func(now time.Time) error {
		subject := "Reminder: " + orig.Subject
		body := fmt.Sprintf(
			"Message %s from %s (sent %s) still requires your acknowledgement.\n\nCall acknowledge_message with message_id=%q once handled.",
			orig.ID, orig.From, orig.CreatedTS.Format(time.RFC3339), orig.ID,
		)
		threadID := orig.ThreadID
		if threadID == "" {
			threadID = orig.ID
		}
		_, err := s.deliverNotice(project, orig.From, []string{agentName}, subject, body, false, threadID, now)
		return err
	})
}
