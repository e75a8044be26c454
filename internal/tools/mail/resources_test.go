package mail

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/server"
)

// decodeResource unmarshals a resource's JSON text into out.
func decodeResource(t *testing.T, s *server.MCPServer, uri string, out any) {
	t.Helper()
	text, err := readResource(t, s, uri)
	if err != nil {
		t.Fatalf("read %s: %v", uri, err)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("decode %s: %v", uri, err)
	}
}

// seedMailbox creates the demo project with two open agents and one sent
// message, returning the message id.
func seedMailbox(t *testing.T, s *server.MCPServer) string {
	t.Helper()
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
		"subject": "plan", "body_md": "first draft",
	})
	if err != nil {
		t.Fatalf("send_message: %v", err)
	}
	var receipt struct {
		ID string `json:"id"`
	}
	decodeResult(t, result, &receipt)
	return receipt.ID
}

func TestProjectsResource(t *testing.T) {
	_, s := newToolServer(t)

	var empty struct {
		Count    int        `json:"count"`
		Projects []struct{} `json:"projects"`
	}
	decodeResource(t, s, "resource://projects", &empty)
	if empty.Count != 0 || empty.Projects == nil {
		t.Errorf("fresh directory = %+v, want empty list", empty)
	}

	for _, key := range []string{"alpha-app", "beta-app"} {
		if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": key}); err != nil {
			t.Fatalf("ensure_project(%s): %v", key, err)
		}
	}
	var dir struct {
		Count    int `json:"count"`
		Projects []struct {
			HumanKey string `json:"human_key"`
			Slug     string `json:"slug"`
		} `json:"projects"`
	}
	decodeResource(t, s, "resource://projects", &dir)
	if dir.Count != 2 || len(dir.Projects) != 2 {
		t.Fatalf("directory = %+v, want both projects", dir)
	}
	for _, p := range dir.Projects {
		if p.Slug == "" {
			t.Errorf("project %q has no slug", p.HumanKey)
		}
	}
}

func TestProjectCardResource(t *testing.T) {
	_, s := newToolServer(t)
	seedMailbox(t, s)

	var card struct {
		Project struct {
			HumanKey string `json:"human_key"`
		} `json:"project"`
		Agents []struct {
			Name string `json:"name"`
		} `json:"agents"`
		RecentThreads []struct {
			ThreadID string `json:"thread_id"`
			Subject  string `json:"subject"`
		} `json:"recent_threads"`
	}
	decodeResource(t, s, "resource://project/demo", &card)
	if card.Project.HumanKey != "demo" {
		t.Errorf("project = %+v", card.Project)
	}
	if len(card.Agents) != 2 {
		t.Errorf("agents = %+v, want both registrations", card.Agents)
	}
	if len(card.RecentThreads) != 1 || card.RecentThreads[0].Subject != "plan" {
		t.Errorf("recent_threads = %+v", card.RecentThreads)
	}
}

func TestAgentsResource(t *testing.T) {
	_, s := newToolServer(t)
	seedMailbox(t, s)

	var agents struct {
		Project string `json:"project"`
		Count   int    `json:"count"`
		Agents  []struct {
			Name   string `json:"name"`
			Active bool   `json:"active"`
		} `json:"agents"`
	}
	decodeResource(t, s, "resource://agents/demo", &agents)
	if agents.Count != 2 || len(agents.Agents) != 2 {
		t.Fatalf("agents = %+v", agents)
	}
	for _, a := range agents.Agents {
		if !a.Active {
			t.Errorf("agent %s should be active right after registering", a.Name)
		}
	}
}

func TestInboxAndOutboxResources(t *testing.T) {
	_, s := newToolServer(t)
	seedMailbox(t, s)

	var inbox struct {
		Project  string `json:"project"`
		Agent    string `json:"agent"`
		Count    int    `json:"count"`
		Messages []struct {
			Subject string `json:"subject"`
			From    string `json:"from"`
		} `json:"messages"`
	}
	decodeResource(t, s, "resource://inbox/demo/Beta", &inbox)
	if inbox.Count != 1 || inbox.Messages[0].Subject != "plan" || inbox.Messages[0].From != "Alpha" {
		t.Errorf("inbox = %+v", inbox)
	}

	var outbox struct {
		Count    int `json:"count"`
		Messages []struct {
			Subject string `json:"subject"`
			From    string `json:"from"`
		} `json:"messages"`
	}
	decodeResource(t, s, "resource://outbox/demo/Alpha", &outbox)
	if outbox.Count != 1 || outbox.Messages[0].From != "Alpha" {
		t.Errorf("outbox = %+v", outbox)
	}
}

func TestMessageResource(t *testing.T) {
	_, s := newToolServer(t)
	id := seedMailbox(t, s)

	var full struct {
		Project string `json:"project"`
		Message struct {
			ID      string `json:"id"`
			Subject string `json:"subject"`
			BodyMD  string `json:"body_md"`
		} `json:"message"`
		Recipients []struct {
			AgentName string `json:"agent_name"`
		} `json:"recipients"`
	}
	decodeResource(t, s, "resource://message/"+id, &full)
	if full.Message.ID != id || full.Message.Subject != "plan" || full.Message.BodyMD != "first draft" {
		t.Errorf("message = %+v", full.Message)
	}
	if len(full.Recipients) != 1 || full.Recipients[0].AgentName != "Beta" {
		t.Errorf("recipients = %+v", full.Recipients)
	}

	if _, err := readResource(t, s, "resource://message/msg_00000000_deadbeef"); err == nil {
		t.Error("unknown message id should fail the read")
	}
}

func TestClaimsResource(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	if _, err := callTool(t, s, "register_agent", map[string]any{
		"project_key": "demo", "program": "P", "model": "M", "name": "Alpha",
	}); err != nil {
		t.Fatalf("register_agent: %v", err)
	}
	if _, err := callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo", "agent_name": "Alpha", "paths": []string{"src/a.go"},
	}); err != nil {
		t.Fatalf("reserve_file_paths: %v", err)
	}
	if _, err := callTool(t, s, "release_file_reservations", map[string]any{
		"project_key": "demo", "agent_name": "Alpha",
	}); err != nil {
		t.Fatalf("release_file_reservations: %v", err)
	}

	var active struct {
		ActiveOnly bool       `json:"active_only"`
		Count      int        `json:"count"`
		Claims     []struct{} `json:"claims"`
	}
	decodeResource(t, s, "resource://claims/demo", &active)
	if !active.ActiveOnly || active.Count != 0 || active.Claims == nil {
		t.Errorf("active view = %+v, want empty list", active)
	}

	var all struct {
		ActiveOnly bool `json:"active_only"`
		Count      int  `json:"count"`
		Claims     []struct {
			AgentName  string  `json:"agent_name"`
			Path       string  `json:"path"`
			ReleasedTS *string `json:"released_ts"`
		} `json:"claims"`
	}
	decodeResource(t, s, "resource://claims/demo?active_only=false", &all)
	if all.ActiveOnly || all.Count != 1 {
		t.Fatalf("historical view = %+v", all)
	}
	row := all.Claims[0]
	if row.AgentName != "Alpha" || row.Path != "src/a.go" || row.ReleasedTS == nil {
		t.Errorf("claim row = %+v", row)
	}
}

func TestThreadResource(t *testing.T) {
	_, s := newToolServer(t)
	id := seedMailbox(t, s)

	if _, err := callTool(t, s, "reply_message", map[string]any{
		"project_key": "demo", "message_id": id, "sender_name": "Beta",
		"body_md": "counterpoint",
	}); err != nil {
		t.Fatalf("reply_message: %v", err)
	}

	var thread struct {
		ThreadID string  `json:"thread_id"`
		Count    int     `json:"count"`
		FirstTS  *string `json:"first_ts"`
		LastTS   *string `json:"last_ts"`
		Messages []struct {
			Subject string `json:"subject"`
			From    string `json:"from"`
		} `json:"messages"`
	}
	decodeResource(t, s, "resource://thread/demo/"+id, &thread)
	if thread.ThreadID != id || thread.Count != 2 {
		t.Fatalf("thread = %+v", thread)
	}
	if thread.FirstTS == nil || thread.LastTS == nil {
		t.Error("thread span timestamps missing")
	}
	if thread.Messages[0].From != "Alpha" || thread.Messages[1].From != "Beta" {
		t.Errorf("thread order = %+v, want oldest first", thread.Messages)
	}
}

func TestToolingDirectoryResource(t *testing.T) {
	_, s := newToolServer(t)

	text, err := readResource(t, s, "resource://tooling/directory")
	if err != nil {
		t.Fatalf("read tooling directory: %v", err)
	}
	for _, want := range []string{"send_message", "reserve_file_paths", "macro_start_session", "resource://inbox/"} {
		if !strings.Contains(text, want) {
			t.Errorf("directory missing %q", want)
		}
	}
}
