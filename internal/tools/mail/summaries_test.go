package mail

import (
	"testing"
)

func TestSummarizeThreadTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	for _, name := range []string{"Alpha", "Beta"} {
		if _, err := callTool(t, s, "register_agent", map[string]any{
			"project_key": "demo", "program": "P", "model": "M",
			"name": name, "contact_policy": "open",
		}); err != nil {
			t.Fatalf("register_agent(%s): %v", name, err)
		}
	}

	result, err := callTool(t, s, "send_message", map[string]any{
		"project_key": "demo", "sender_name": "Alpha", "to": []string{"Beta"},
		"subject": "handler work",
		"body_md": "- [ ] wire the handler\n@Beta please look at `internal/app/mailbox.go`",
	})
	if err != nil {
		t.Fatalf("send_message: %v", err)
	}
	var root struct {
		ID string `json:"id"`
	}
	decodeResult(t, result, &root)

	if _, err := callTool(t, s, "reply_message", map[string]any{
		"project_key": "demo", "message_id": root.ID, "sender_name": "Beta",
		"body_md": "- [x] handler wired\nNEXT: tests",
	}); err != nil {
		t.Fatalf("reply_message: %v", err)
	}

	result, err = callTool(t, s, "summarize_thread", map[string]any{
		"project_key": "demo", "thread_id": root.ID, "include_examples": true,
	})
	if err != nil {
		t.Fatalf("summarize_thread: %v", err)
	}
	var res struct {
		ThreadID string `json:"thread_id"`
		Summary  struct {
			Participants  []string `json:"participants"`
			TotalMessages int      `json:"total_messages"`
			OpenActions   int      `json:"open_actions"`
			DoneActions   int      `json:"done_actions"`
			Mentions      []struct {
				Name  string `json:"name"`
				Count int    `json:"count"`
			} `json:"mentions"`
			CodeReferences []string `json:"code_references"`
		} `json:"summary"`
		Examples []struct {
			ID string `json:"id"`
		} `json:"examples"`
	}
	decodeResult(t, result, &res)
	if res.ThreadID != root.ID {
		t.Errorf("thread_id = %q, want %q", res.ThreadID, root.ID)
	}
	if res.Summary.TotalMessages != 2 {
		t.Errorf("total_messages = %d, want 2", res.Summary.TotalMessages)
	}
	if len(res.Summary.Participants) != 2 ||
		res.Summary.Participants[0] != "Alpha" || res.Summary.Participants[1] != "Beta" {
		t.Errorf("participants = %v, want sorted [Alpha Beta]", res.Summary.Participants)
	}
	if res.Summary.OpenActions != 1 || res.Summary.DoneActions != 1 {
		t.Errorf("open/done = %d/%d, want 1/1", res.Summary.OpenActions, res.Summary.DoneActions)
	}
	foundBeta := false
	for _, m := range res.Summary.Mentions {
		if m.Name == "Beta" && m.Count == 1 {
			foundBeta = true
		}
	}
	if !foundBeta {
		t.Errorf("mentions = %v, want Beta counted once", res.Summary.Mentions)
	}
	if len(res.Summary.CodeReferences) != 1 || res.Summary.CodeReferences[0] != "internal/app/mailbox.go" {
		t.Errorf("code_references = %v", res.Summary.CodeReferences)
	}
	if len(res.Examples) != 2 {
		t.Errorf("examples = %d rows, want both messages", len(res.Examples))
	}

	// An unknown thread summarizes to zero rather than erroring.
	result, err = callTool(t, s, "summarize_thread", map[string]any{
		"project_key": "demo", "thread_id": "msg_00000000_deadbeef",
	})
	if err != nil {
		t.Fatalf("summarize_thread (unknown): %v", err)
	}
	var empty struct {
		Summary struct {
			TotalMessages int `json:"total_messages"`
		} `json:"summary"`
	}
	decodeResult(t, result, &empty)
	if empty.Summary.TotalMessages != 0 {
		t.Errorf("unknown thread total = %d, want 0", empty.Summary.TotalMessages)
	}
}

func TestSummarizeThreadsDigestTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	for _, name := range []string{"Alpha", "Beta"} {
		if _, err := callTool(t, s, "register_agent", map[string]any{
			"project_key": "demo", "program": "P", "model": "M",
			"name": name, "contact_policy": "open",
		}); err != nil {
			t.Fatalf("register_agent(%s): %v", name, err)
		}
	}

	var threadIDs []string
	for _, body := range []string{
		"- [ ] TODO: polish the parser @Gamma",
		"1. ship it\nping @Gamma again",
	} {
		result, err := callTool(t, s, "send_message", map[string]any{
			"project_key": "demo", "sender_name": "Alpha", "to": []string{"Beta"},
			"subject": "work", "body_md": body,
		})
		if err != nil {
			t.Fatalf("send_message: %v", err)
		}
		var receipt struct {
			ThreadID string `json:"thread_id"`
		}
		decodeResult(t, result, &receipt)
		threadIDs = append(threadIDs, receipt.ThreadID)
	}

	result, err := callTool(t, s, "summarize_threads", map[string]any{
		"project_key": "demo", "thread_ids": threadIDs,
	})
	if err != nil {
		t.Fatalf("summarize_threads: %v", err)
	}
	var digest struct {
		Threads []struct {
			ThreadID string `json:"thread_id"`
		} `json:"threads"`
		Aggregate struct {
			TopMentions []struct {
				Name  string `json:"name"`
				Count int    `json:"count"`
			} `json:"top_mentions"`
		} `json:"aggregate"`
	}
	decodeResult(t, result, &digest)
	if len(digest.Threads) != 2 {
		t.Fatalf("threads = %d, want 2", len(digest.Threads))
	}
	gamma := 0
	for _, m := range digest.Aggregate.TopMentions {
		if m.Name == "Gamma" {
			gamma = m.Count
		}
	}
	if gamma != 2 {
		t.Errorf("aggregate Gamma mentions = %d, want 2 across threads", gamma)
	}

	// Omitting thread_ids digests the most recent threads instead.
	result, err = callTool(t, s, "summarize_threads", map[string]any{
		"project_key": "demo",
	})
	if err != nil {
		t.Fatalf("summarize_threads (recent): %v", err)
	}
	var recent struct {
		Threads []struct {
			ThreadID string `json:"thread_id"`
		} `json:"threads"`
	}
	decodeResult(t, result, &recent)
	if len(recent.Threads) != 2 {
		t.Errorf("recent digest threads = %d, want 2", len(recent.Threads))
	}
}
