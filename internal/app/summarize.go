package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

// Mention is one @name tally in a thread summary.
type Mention struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ThreadSummary is the deterministic digest of one thread. The LLM overlay
// may replace individual fields; absent or failing LLM leaves these values.
type ThreadSummary struct {
	Participants   []string   `json:"participants"`
	KeyPoints      []string   `json:"key_points"`
	ActionItems    []string   `json:"action_items"`
	TotalMessages  int        `json:"total_messages"`
	OpenActions    int        `json:"open_actions"`
	DoneActions    int        `json:"done_actions"`
	Mentions       []Mention  `json:"mentions"`
	CodeReferences []string   `json:"code_references,omitempty"`
	FirstTS        *time.Time `json:"first_ts,omitempty"`
	LastTS         *time.Time `json:"last_ts,omitempty"`
}

// MessageExample is a preview row attached to a thread summary.
type MessageExample struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	CreatedTS time.Time `json:"created_ts"`
}

// ThreadSummaryResult is the summarize_thread envelope.
type ThreadSummaryResult struct {
	ThreadID string           `json:"thread_id"`
	Summary  ThreadSummary    `json:"summary"`
	Examples []MessageExample `json:"examples,omitempty"`
}

// SummarizeThread extracts participants, key points and action items for
// one thread. The message snapshot is read under View; the optional LLM
// overlay runs after, outside any lock.
func (s *MailService) SummarizeThread(ctx context.Context, projectKey, threadID string, includeExamples, llmMode bool, model string) (ThreadSummaryResult, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return ThreadSummaryResult{}, err
	}
	if strings.TrimSpace(threadID) == "" {
		return ThreadSummaryResult{}, domain.Errorf(domain.ErrInvalidArgument, "thread id must not be empty")
	}
	var msgs []domain.Message
	err = s.View(ctx, func(now time.Time) error {
		msgs, err = s.idx.ThreadMessages(project.ID, threadID)
		return err
	})
	if err != nil {
		return ThreadSummaryResult{}, err
	}

	result := ThreadSummaryResult{ThreadID: threadID, Summary: summarizeMessages(msgs)}
	if includeExamples {
		for _, m := range msgs {
			result.Examples = append(result.Examples, MessageExample{
				ID:        m.ID,
				Subject:   m.Subject,
				From:      m.From,
				CreatedTS: m.CreatedTS,
			})
			if len(result.Examples) == 3 {
				break
			}
		}
	}
	if llmMode && s.enricher != nil && len(msgs) > 0 {
		excerpts := summaryExcerpts(msgs, 15)
		if err := s.enricher.EnrichSummary(ctx, &result.Summary, excerpts, model); err != nil {
			s.logger.Printf("thread %s summary enrichment skipped: %v", threadID, err)
		}
	}
	return result, nil
}

// DigestAggregate rolls key points, actions and mentions up across threads.
type DigestAggregate struct {
	TopMentions []Mention `json:"top_mentions"`
	ActionItems []string  `json:"action_items"`
	KeyPoints   []string  `json:"key_points"`
}

// ThreadDigest is the summarize_threads envelope.
type ThreadDigest struct {
	Threads   []ThreadSummaryResult `json:"threads"`
	Aggregate DigestAggregate       `json:"aggregate"`
}

// SummarizeThreads produces per-thread digests plus an aggregate of top
// mentions, open work and key points across them.
func (s *MailService) SummarizeThreads(ctx context.Context, projectKey string, threadIDs []string, perThreadLimit int, llmMode bool, model string) (ThreadDigest, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return ThreadDigest{}, err
	}
	if len(threadIDs) == 0 {
		return ThreadDigest{}, domain.Errorf(domain.ErrInvalidArgument, "at least one thread id is required")
	}
	if perThreadLimit <= 0 {
		perThreadLimit = 50
	}

	digest := ThreadDigest{}
	allMentions := map[string]int{}
	var allActions, allPoints []string
	err = s.View(ctx, func(now time.Time) error {
		for _, tid := range threadIDs {
			msgs, err := s.idx.ThreadMessages(project.ID, tid)
			if err != nil {
				return err
			}
			if len(msgs) > perThreadLimit {
				msgs = msgs[:perThreadLimit]
			}
			summary := summarizeMessages(msgs)
			for _, m := range summary.Mentions {
				allMentions[m.Name] += m.Count
			}
			allActions = append(allActions, summary.ActionItems...)
			allPoints = append(allPoints, summary.KeyPoints...)
			digest.Threads = append(digest.Threads, ThreadSummaryResult{ThreadID: tid, Summary: summary})
		}
		return nil
	})
	if err != nil {
		return ThreadDigest{}, err
	}

	digest.Aggregate = DigestAggregate{
		TopMentions: topMentions(allMentions, 10),
		ActionItems: capStrings(allActions, 25),
		KeyPoints:   capStrings(allPoints, 25),
	}

	if llmMode && s.enricher != nil && len(digest.Threads) > 0 {
		parts := digestParts(digest.Threads, 8)
		if err := s.enricher.EnrichDigest(ctx, &digest, parts, model); err != nil {
			s.logger.Printf("thread digest enrichment skipped: %v", err)
		}
	}
	return digest, nil
}

var actionKeywords = []string{"TODO", "ACTION", "FIXME", "NEXT", "BLOCKED"}

var openBoxes = []string{"- [ ]", "* [ ]", "+ [ ]"}

var doneBoxes = []string{"- [x]", "- [X]", "* [x]", "* [X]", "+ [x]", "+ [X]"}

var orderedPrefixes = map[string]bool{"1.": true, "2.": true, "3.": true, "4.": true, "5.": true}

// summarizeMessages runs the heading/bullet extraction over a thread's
// messages in created order.
func summarizeMessages(msgs []domain.Message) ThreadSummary {
	participants := map[string]bool{}
	mentions := map[string]int{}
	codeRefs := map[string]bool{}
	summary := ThreadSummary{TotalMessages: len(msgs)}

	for _, msg := range msgs {
		participants[msg.From] = true
		for _, line := range strings.Split(msg.BodyMD, "\n") {
			stripped := strings.TrimSpace(line)
			if stripped == "" {
				continue
			}
			recordMentions(stripped, mentions)
			recordCodeRefs(stripped, codeRefs)

			if strings.HasPrefix(stripped, "-") || strings.HasPrefix(stripped, "*") ||
				strings.HasPrefix(stripped, "+") || (len(stripped) >= 2 && orderedPrefixes[stripped[:2]]) {
				normalized := stripped
				if hasAnyPrefix(normalized, "- [ ]", "- [x]", "- [X]") {
					if _, after, found := strings.Cut(normalized, "]"); found {
						normalized = strings.TrimSpace(after)
					}
				}
				summary.KeyPoints = append(summary.KeyPoints, strings.TrimLeft(normalized, "-+* "))
			}
			if hasAnyPrefix(stripped, openBoxes...) {
				summary.OpenActions++
				summary.ActionItems = append(summary.ActionItems, stripped)
				continue
			}
			if hasAnyPrefix(stripped, doneBoxes...) {
				summary.DoneActions++
				summary.ActionItems = append(summary.ActionItems, stripped)
				continue
			}
			upper := strings.ToUpper(stripped)
			for _, kw := range actionKeywords {
				if strings.Contains(upper, kw) {
					summary.ActionItems = append(summary.ActionItems, stripped)
					break
				}
			}
		}
	}

	summary.Participants = make([]string, 0, len(participants))
	for name := range participants {
		summary.Participants = append(summary.Participants, name)
	}
	sort.Strings(summary.Participants)
	summary.KeyPoints = capStrings(summary.KeyPoints, 10)
	summary.ActionItems = capStrings(summary.ActionItems, 10)
	summary.Mentions = topMentions(mentions, 10)
	if len(codeRefs) > 0 {
		refs := make([]string, 0, len(codeRefs))
		for ref := range codeRefs {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		summary.CodeReferences = capStrings(refs, 10)
	}
	if len(msgs) > 0 {
		first, last := msgs[0].CreatedTS, msgs[len(msgs)-1].CreatedTS
		summary.FirstTS, summary.LastTS = &first, &last
	}
	return summary
}

// recordMentions tallies @name tokens, trimming trailing punctuation.
func recordMentions(text string, mentions map[string]int) {
	for _, token := range strings.Fields(text) {
		if !strings.HasPrefix(token, "@") || len(token) < 2 {
			continue
		}
		name := strings.Trim(token[1:], ".,:;()[]{}")
		if name != "" {
			mentions[name]++
		}
	}
}

// recordCodeRefs collects backtick-enclosed spans that look like file
// paths.
func recordCodeRefs(text string, refs map[string]bool) {
	rest := text
	for {
		i := strings.IndexByte(rest, '`')
		if i < 0 {
			return
		}
		j := strings.IndexByte(rest[i+1:], '`')
		if j < 0 {
			return
		}
		snippet := strings.TrimSpace(rest[i+1 : i+1+j])
		if looksLikeCodeRef(snippet) {
			refs[snippet] = true
		}
		rest = rest[i+j+2:]
	}
}

func looksLikeCodeRef(snippet string) bool {
	if len(snippet) < 1 || len(snippet) > 120 {
		return false
	}
	return strings.Contains(snippet, "/") ||
		strings.Contains(snippet, ".go") || strings.Contains(snippet, ".py") ||
		strings.Contains(snippet, ".ts") || strings.Contains(snippet, ".md")
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func capStrings(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// topMentions orders by count descending, name ascending for ties.
func topMentions(counts map[string]int, n int) []Mention {
	out := make([]Mention, 0, len(counts))
	for name, count := range counts {
		out = append(out, Mention{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// summaryExcerpts renders prompt excerpts for the LLM overlay: sender,
// subject, and the leading slice of each body.
func summaryExcerpts(msgs []domain.Message, limit int) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, fmt.Sprintf("- %s: %s\n%s", m.From, m.Subject, truncateRunes(m.BodyMD, 800)))
		if len(out) == limit {
			break
		}
	}
	return out
}

// digestParts renders per-thread markdown blocks for the digest prompt.
func digestParts(threads []ThreadSummaryResult, limit int) []string {
	var out []string
	for _, t := range threads {
		lines := []string{"# Thread " + t.ThreadID, "## Key Points"}
		for _, p := range capStrings(t.Summary.KeyPoints, 6) {
			lines = append(lines, "- "+p)
		}
		lines = append(lines, "## Actions")
		for _, a := range capStrings(t.Summary.ActionItems, 6) {
			lines = append(lines, "- "+a)
		}
		out = append(out, strings.Join(lines, "\n"))
		if len(out) == limit {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
