package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/domain"
)

// ReconcileResult counts what one project replay restored.
type ReconcileResult struct {
	Slug     string `json:"slug"`
	Agents   int    `json:"agents"`
	Messages int    `json:"messages"`
	Claims   int    `json:"claims"`
}

// ReconcileProject replays one archive into the index: project metadata,
// agent profiles, canonical messages (with bcc rows recovered from inbox
// copies), and claim records. Existing index rows for the project are
// purged first. Read and ack marks live only in the index and do not
// survive a replay.
func (s *MailService) ReconcileProject(ctx context.Context, slug string) (ReconcileResult, error) {
	if !s.arc.HasProject(slug) {
		return ReconcileResult{}, domain.Errorf(domain.ErrProjectNotFound, "no archive for project %q", slug)
	}
	result := ReconcileResult{Slug: slug}
	err := s.Mutate(ctx, slug, func(now time.Time) error {
		meta, ok, err := s.arc.ReadProjectMeta(slug)
		if err != nil {
			return err
		}
		humanKey := slug
		createdTS := now
		if ok {
			if meta.HumanKey != "" {
				humanKey = meta.HumanKey
			}
			if ts, err := parseArchiveTime(meta.CreatedTS); err == nil {
				createdTS = ts
			}
		}
		project, err := s.idx.UpsertProject(humanKey, slug, createdTS)
		if err != nil {
			return err
		}
		if err := s.idx.PurgeProject(project.ID); err != nil {
			return err
		}

		if err := s.arc.WalkAgentProfiles(slug, func(profile archive.AgentProfile) error {
			inception := now
			if ts, err := parseArchiveTime(profile.InceptionTS); err == nil {
				inception = ts
			}
			policy, ok := domain.ParseContactPolicy(profile.ContactPolicy)
			if !ok {
				policy = domain.PolicyAuto
			}
			if _, err := s.idx.SaveAgent(domain.Agent{
				ProjectID:       project.ID,
				Name:            profile.Name,
				Program:         profile.Program,
				Model:           profile.Model,
				TaskDescription: profile.TaskDescription,
				InceptionTS:     inception,
				LastActiveTS:    inception,
				ContactPolicy:   policy,
			}); err != nil {
				return err
			}
			result.Agents++
			return nil
		}); err != nil {
			return err
		}

		// Replaying front matter restores to/cc rows; inbox copies without a
		// matching row must have been bcc deliveries.
		addressed := map[string]map[string]bool{}
		if err := s.arc.WalkMessages(slug, func(relPath string, meta archive.MessageMeta, body string) error {
			created, err := meta.CreatedTime()
			if err != nil {
				return fmt.Errorf("message %s: %w", relPath, err)
			}
			importance, ok := domain.ParseImportance(meta.Importance)
			if !ok {
				importance = domain.ImportanceNormal
			}
			threadID := meta.ThreadID
			if threadID == "" {
				threadID = meta.ID
			}
			msg := domain.Message{
				ID:          meta.ID,
				ProjectID:   project.ID,
				ThreadID:    threadID,
				Subject:     meta.Subject,
				BodyMD:      body,
				From:        meta.From,
				CreatedTS:   created,
				Importance:  importance,
				AckRequired: meta.AckRequired,
			}
			names := map[string]bool{}
			var recipients []domain.Recipient
			record := func(list []string, kind domain.RecipientKind) {
				for _, name := range list {
					if !archive.IsLocalAgentName(name) {
						continue
					}
					key := strings.ToLower(name)
					if names[key] {
						continue
					}
					names[key] = true
					recipients = append(recipients, domain.Recipient{MessageID: meta.ID, AgentName: name, Kind: kind})
				}
			}
			record(meta.To, domain.KindTo)
			record(meta.CC, domain.KindCC)
			if err := s.idx.InsertMessage(msg, recipients); err != nil {
				return fmt.Errorf("replay message %s: %w", meta.ID, err)
			}
			addressed[meta.ID] = names
			result.Messages++
			return nil
		}); err != nil {
			return err
		}
		if err := s.arc.WalkInboxCopies(slug, func(agent, messageID string) error {
			names, ok := addressed[messageID]
			if !ok || names[strings.ToLower(agent)] {
				return nil
			}
			names[strings.ToLower(agent)] = true
			return s.idx.AddRecipients(messageID, []domain.Recipient{
				{MessageID: messageID, AgentName: agent, Kind: domain.KindBCC},
			})
		}); err != nil {
			return err
		}

		if err := s.arc.WalkClaimRecords(slug, func(rec archive.ClaimRecord) error {
			created, err := parseArchiveTime(rec.CreatedTS)
			if err != nil {
				return fmt.Errorf("claim %s: %w", rec.ID, err)
			}
			expires, err := parseArchiveTime(rec.ExpiresTS)
			if err != nil {
				return fmt.Errorf("claim %s: %w", rec.ID, err)
			}
			claim := domain.Claim{
				ID:        rec.ID,
				ProjectID: project.ID,
				AgentName: rec.Agent,
				Path:      rec.PathPattern,
				Exclusive: rec.Exclusive,
				Reason:    rec.Reason,
				CreatedTS: created,
				ExpiresTS: expires,
			}
			if rec.ReleasedTS != nil {
				released, err := parseArchiveTime(*rec.ReleasedTS)
				if err != nil {
					return fmt.Errorf("claim %s: %w", rec.ID, err)
				}
				claim.ReleasedTS = &released
			}
			if err := s.idx.InsertClaim(claim); err != nil {
				return err
			}
			result.Claims++
			return nil
		}); err != nil {
			return err
		}

		s.clearDirty(slug)
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	s.logger.Printf("reconciled project %s: %d agents, %d messages, %d claims",
		slug, result.Agents, result.Messages, result.Claims)
	return result, nil
}

// RebuildIndex replays every archive (or just one) into the index. Projects
// rebuild in parallel; each replay serializes against live traffic through
// its own project lock.
func (s *MailService) RebuildIndex(ctx context.Context, only string) ([]ReconcileResult, error) {
	var slugs []string
	if only != "" {
		project, err := s.resolveProject(only)
		if err != nil {
			if domain.CodeOf(err) != domain.ErrProjectNotFound || !s.arc.HasProject(only) {
				return nil, err
			}
			// Archive exists but the index has no row yet; rebuild it anyway.
			slugs = []string{only}
		} else {
			slugs = []string{project.Slug}
		}
	} else {
		var err error
		if slugs, err = s.arc.ListProjects(); err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	var results []ReconcileResult
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, slug := range slugs {
		g.Go(func() error {
			res, err := s.ReconcileProject(gctx, slug)
			if err != nil {
				return fmt.Errorf("rebuild %s: %w", slug, err)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Slug < results[j].Slug })
	return results, nil
}

// RecoverOnStartup reconciles projects whose index writes failed mid-call
// plus archives the index has never seen. Runs before the server accepts
// traffic.
func (s *MailService) RecoverOnStartup(ctx context.Context) error {
	pending := map[string]bool{}
	for _, slug := range s.DirtyProjects() {
		pending[slug] = true
	}
	slugs, err := s.arc.ListProjects()
	if err != nil {
		return err
	}
	for _, slug := range slugs {
		if _, err := s.idx.ProjectBySlug(slug); err != nil {
			if domain.CodeOf(err) == domain.ErrProjectNotFound {
				pending[slug] = true
				continue
			}
			return err
		}
	}
	if len(pending) == 0 {
		return nil
	}

	ordered := make([]string, 0, len(pending))
	for slug := range pending {
		ordered = append(ordered, slug)
	}
	sort.Strings(ordered)
	var failed int
	for _, slug := range ordered {
		if _, err := s.ReconcileProject(ctx, slug); err != nil {
			failed++
			s.logger.Printf("startup recovery failed for %s: %v", slug, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("startup recovery: %d project(s) failed", failed)
	}
	return nil
}

func parseArchiveTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
