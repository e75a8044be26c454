package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jaakkos/agentmail/internal/app"
)

const summarySystemPrompt = "You are a senior engineer. Produce a concise JSON summary with keys: " +
	"participants[], key_points[], action_items[], mentions[{name,count}], code_references[], " +
	"total_messages, open_actions, done_actions. Derive from the given thread excerpts."

const digestSystemPrompt = "You are a senior engineer producing a crisp digest across threads. " +
	"Return JSON: { threads: [{thread_id, key_points[], actions[]}], aggregate: {top_mentions[], key_points[], action_items[]} }."

// summaryPayload is the JSON shape the model is asked to return for one
// thread. Absent or empty fields keep their deterministic values.
type summaryPayload struct {
	Participants   []string      `json:"participants"`
	KeyPoints      []string      `json:"key_points"`
	ActionItems    []string      `json:"action_items"`
	Mentions       []app.Mention `json:"mentions"`
	CodeReferences []string      `json:"code_references"`
	TotalMessages  int           `json:"total_messages"`
	OpenActions    int           `json:"open_actions"`
	DoneActions    int           `json:"done_actions"`
}

type digestPayload struct {
	Threads []struct {
		ThreadID  string   `json:"thread_id"`
		KeyPoints []string `json:"key_points"`
		Actions   []string `json:"actions"`
	} `json:"threads"`
	Aggregate struct {
		TopMentions []app.Mention `json:"top_mentions"`
		KeyPoints   []string      `json:"key_points"`
		ActionItems []string      `json:"action_items"`
	} `json:"aggregate"`
}

// EnrichSummary asks the model for a summary of the thread excerpts and
// overlays whatever non-empty fields come back.
func (c *Client) EnrichSummary(ctx context.Context, summary *app.ThreadSummary, excerpts []string, model string) error {
	if len(excerpts) == 0 {
		return nil
	}
	content, err := c.Complete(ctx, summarySystemPrompt, strings.Join(excerpts, "\n\n"), model)
	if err != nil {
		return err
	}
	raw := extractObject(content)
	if raw == nil {
		return fmt.Errorf("no JSON object in model response")
	}
	var p summaryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode summary payload: %w", err)
	}

	if len(p.Participants) > 0 {
		summary.Participants = p.Participants
	}
	if len(p.KeyPoints) > 0 {
		summary.KeyPoints = p.KeyPoints
	}
	if len(p.ActionItems) > 0 {
		summary.ActionItems = p.ActionItems
	}
	if len(p.Mentions) > 0 {
		summary.Mentions = p.Mentions
	}
	if len(p.CodeReferences) > 0 {
		summary.CodeReferences = p.CodeReferences
	}
	if p.TotalMessages != 0 {
		summary.TotalMessages = p.TotalMessages
	}
	if p.OpenActions != 0 {
		summary.OpenActions = p.OpenActions
	}
	if p.DoneActions != 0 {
		summary.DoneActions = p.DoneActions
	}
	return nil
}

// EnrichDigest refines the cross-thread aggregate and, when the model
// returns per-thread entries, the matching thread summaries.
func (c *Client) EnrichDigest(ctx context.Context, digest *app.ThreadDigest, parts []string, model string) error {
	if len(parts) == 0 {
		return nil
	}
	content, err := c.Complete(ctx, digestSystemPrompt, strings.Join(parts, "\n\n"), model)
	if err != nil {
		return err
	}
	raw := extractObject(content)
	if raw == nil {
		return fmt.Errorf("no JSON object in model response")
	}
	var p digestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode digest payload: %w", err)
	}

	if len(p.Aggregate.TopMentions) > 0 {
		digest.Aggregate.TopMentions = p.Aggregate.TopMentions
	}
	if len(p.Aggregate.KeyPoints) > 0 {
		digest.Aggregate.KeyPoints = p.Aggregate.KeyPoints
	}
	if len(p.Aggregate.ActionItems) > 0 {
		digest.Aggregate.ActionItems = p.Aggregate.ActionItems
	}

	if len(p.Threads) == 0 {
		return nil
	}
	byID := map[string]int{}
	for i, t := range p.Threads {
		byID[t.ThreadID] = i
	}
	for i := range digest.Threads {
		idx, ok := byID[digest.Threads[i].ThreadID]
		if !ok {
			continue
		}
		if pts := p.Threads[idx].KeyPoints; len(pts) > 0 {
			digest.Threads[i].Summary.KeyPoints = pts
		}
		if acts := p.Threads[idx].Actions; len(acts) > 0 {
			digest.Threads[i].Summary.ActionItems = acts
		}
	}
	return nil
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// extractObject pulls a JSON object out of model output, tolerating code
// fences and stray prose around it.
func extractObject(text string) []byte {
	if raw := objectBytes(strings.TrimSpace(text)); raw != nil {
		return raw
	}
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if raw := objectBytes(strings.TrimSpace(m[1])); raw != nil {
			return raw
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if raw := objectBytes(text[start : end+1]); raw != nil {
			return raw
		}
	}
	return nil
}

func objectBytes(s string) []byte {
	var probe map[string]json.RawMessage
	if json.Unmarshal([]byte(s), &probe) != nil {
		return nil
	}
	return []byte(s)
}
