package mail

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/agentmail/internal/app"
)

func TestBuildBanner(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.EnsureProject(ctx, "demo"); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	if _, err := svc.RegisterAgent(ctx, app.RegisterAgentInput{
		ProjectKey: "demo", Name: "Alpha", Program: "P", Model: "M",
	}); err != nil {
		t.Fatalf("RegisterAgent(Alpha): %v", err)
	}
	if _, err := svc.RegisterAgent(ctx, app.RegisterAgentInput{
		ProjectKey: "demo", Name: "Beta", Program: "P", Model: "M", Policy: "open",
	}); err != nil {
		t.Fatalf("RegisterAgent(Beta): %v", err)
	}
	id := app.SessionIdentity{ProjectKey: "demo", Agent: "Beta"}

	if banner := buildBanner(svc, id); banner != "" {
		t.Errorf("empty mailbox banner = %q, want none", banner)
	}

	first, err := svc.SendMessage(ctx, app.SendInput{
		ProjectKey: "demo", From: "Alpha", To: []string{"Beta"}, Subject: "one",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	banner := buildBanner(svc, id)
	if want := "You have 1 unread message(s) in demo. Call fetch_inbox to see them."; !strings.Contains(banner, want) {
		t.Errorf("banner = %q, want it to contain %q", banner, want)
	}
	if !strings.HasPrefix(banner, "\n\n---\n") {
		t.Errorf("banner = %q, want the separator prefix", banner)
	}

	second, err := svc.SendMessage(ctx, app.SendInput{
		ProjectKey: "demo", From: "Alpha", To: []string{"Beta"},
		Subject: "two", AckRequired: true,
	})
	if err != nil {
		t.Fatalf("SendMessage (ack): %v", err)
	}
	banner = buildBanner(svc, id)
	if !strings.Contains(banner, "2 unread message(s) and 1 message(s) awaiting your acknowledgement") {
		t.Errorf("banner = %q, want joined unread and ack phrases", banner)
	}

	// Reading both leaves only the outstanding acknowledgement.
	if _, _, err := svc.MarkRead(ctx, "demo", first.ID, "Beta"); err != nil {
		t.Fatalf("MarkRead(first): %v", err)
	}
	if _, _, err := svc.MarkRead(ctx, "demo", second.ID, "Beta"); err != nil {
		t.Fatalf("MarkRead(second): %v", err)
	}
	banner = buildBanner(svc, id)
	if !strings.Contains(banner, "You have 1 message(s) awaiting your acknowledgement in demo.") {
		t.Errorf("banner = %q, want the ack-only phrase", banner)
	}
	if strings.Contains(banner, "unread") {
		t.Errorf("banner = %q, should not mention unread after reading", banner)
	}

	if _, err := svc.Acknowledge(ctx, "demo", second.ID, "Beta"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if banner := buildBanner(svc, id); banner != "" {
		t.Errorf("settled mailbox banner = %q, want none", banner)
	}

	// An identity in an unknown project stays silent instead of erroring.
	ghost := app.SessionIdentity{ProjectKey: "nope", Agent: "Beta"}
	if banner := buildBanner(svc, ghost); banner != "" {
		t.Errorf("unknown project banner = %q, want none", banner)
	}
}

func TestAppendBannerToResult(t *testing.T) {
	result := &mcp.CallToolResult{Content: []mcp.Content{
		mcp.TextContent{Type: "text", Text: "payload"},
	}}
	appendBannerToResult(result, "\nbanner")
	if len(result.Content) != 1 {
		t.Fatalf("content blocks = %d, want the text extended in place", len(result.Content))
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok || tc.Text != "payload\nbanner" {
		t.Errorf("content = %+v", result.Content[0])
	}

	empty := &mcp.CallToolResult{}
	appendBannerToResult(empty, "banner")
	if len(empty.Content) != 1 {
		t.Fatalf("content blocks = %d, want a new text block", len(empty.Content))
	}
	tc, ok = empty.Content[0].(mcp.TextContent)
	if !ok || tc.Text != "banner" {
		t.Errorf("content = %+v", empty.Content[0])
	}
}
