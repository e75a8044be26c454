package mail

import (
	"strings"
	"testing"
)

func TestEnsureProjectTool(t *testing.T) {
	_, s := newToolServer(t)

	result, err := callTool(t, s, "ensure_project", map[string]any{
		"human_key": "/work/demo",
	})
	if err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	var first struct {
		Project struct {
			HumanKey string `json:"human_key"`
			Slug     string `json:"slug"`
		} `json:"project"`
		Created bool `json:"created"`
	}
	decodeResult(t, result, &first)
	if !first.Created {
		t.Error("first ensure_project should report created=true")
	}
	if first.Project.HumanKey != "/work/demo" || first.Project.Slug == "" {
		t.Errorf("project = %+v", first.Project)
	}

	result, err = callTool(t, s, "ensure_project", map[string]any{
		"human_key": "/work/demo",
	})
	if err != nil {
		t.Fatalf("ensure_project (repeat): %v", err)
	}
	var second struct {
		Project struct {
			Slug string `json:"slug"`
		} `json:"project"`
		Created bool `json:"created"`
	}
	decodeResult(t, result, &second)
	if second.Created {
		t.Error("repeat ensure_project should report created=false")
	}
	if second.Project.Slug != first.Project.Slug {
		t.Errorf("slug changed across calls: %s -> %s", first.Project.Slug, second.Project.Slug)
	}
}

func TestEnsureProjectToolMissingKey(t *testing.T) {
	_, s := newToolServer(t)

	_, err := callTool(t, s, "ensure_project", map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing human_key")
	}
	if !strings.Contains(err.Error(), "INVALID_ARGUMENT") {
		t.Errorf("error should carry INVALID_ARGUMENT, got %q", err.Error())
	}
}

func TestRegisterAgentTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}

	result, err := callTool(t, s, "register_agent", map[string]any{
		"project_key":      "demo",
		"program":          "claude-code",
		"model":            "opus",
		"name":             "BlueLake",
		"task_description": "wiring the API",
	})
	if err != nil {
		t.Fatalf("register_agent: %v", err)
	}
	var reg struct {
		Agent struct {
			Name   string `json:"name"`
			Active bool   `json:"active"`
		} `json:"agent"`
		Created bool `json:"created"`
	}
	decodeResult(t, result, &reg)
	if reg.Agent.Name != "BlueLake" || !reg.Created || !reg.Agent.Active {
		t.Errorf("registration = %+v", reg)
	}

	// Same name again refreshes instead of creating.
	result, err = callTool(t, s, "register_agent", map[string]any{
		"project_key": "demo",
		"program":     "claude-code",
		"model":       "opus",
		"name":        "BlueLake",
	})
	if err != nil {
		t.Fatalf("register_agent (repeat): %v", err)
	}
	decodeResult(t, result, &reg)
	if reg.Created {
		t.Error("re-registering an existing name should report created=false")
	}
}

func TestRegisterAgentToolMintsName(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	result, err := callTool(t, s, "register_agent", map[string]any{
		"project_key": "demo",
		"program":     "claude-code",
		"model":       "opus",
	})
	if err != nil {
		t.Fatalf("register_agent: %v", err)
	}
	var reg struct {
		Agent struct {
			Name string `json:"name"`
		} `json:"agent"`
	}
	decodeResult(t, result, &reg)
	if reg.Agent.Name == "" {
		t.Fatal("registration without a name should mint one")
	}
}

func TestRegisterAgentToolUnknownProject(t *testing.T) {
	_, s := newToolServer(t)

	_, err := callTool(t, s, "register_agent", map[string]any{
		"project_key": "nowhere",
		"program":     "claude-code",
		"model":       "opus",
	})
	if err == nil {
		t.Fatal("expected error for unknown project")
	}
	if !strings.Contains(err.Error(), "PROJECT_NOT_FOUND") {
		t.Errorf("error should carry PROJECT_NOT_FOUND, got %q", err.Error())
	}
}

func TestCreateAgentIdentityTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	result, err := callTool(t, s, "create_agent_identity", map[string]any{
		"project_key": "demo",
		"program":     "codex",
		"model":       "gpt-5",
	})
	if err != nil {
		t.Fatalf("create_agent_identity: %v", err)
	}
	var reg struct {
		Agent struct {
			Name    string `json:"name"`
			Program string `json:"program"`
		} `json:"agent"`
		Created bool `json:"created"`
	}
	decodeResult(t, result, &reg)
	if reg.Agent.Name == "" || !reg.Created {
		t.Errorf("identity = %+v", reg)
	}
	if reg.Agent.Program != "codex" {
		t.Errorf("program = %q, want codex", reg.Agent.Program)
	}
}

func TestWhoisTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	if _, err := callTool(t, s, "register_agent", map[string]any{
		"project_key": "demo", "program": "claude-code", "model": "opus", "name": "BlueLake",
	}); err != nil {
		t.Fatalf("register_agent: %v", err)
	}

	result, err := callTool(t, s, "whois", map[string]any{
		"project_key": "demo",
		"agent_name":  "BlueLake",
	})
	if err != nil {
		t.Fatalf("whois: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "BlueLake") || !strings.Contains(text, "unread_count") {
		t.Errorf("whois payload missing fields: %s", text)
	}

	if _, err := callTool(t, s, "whois", map[string]any{
		"project_key": "demo",
		"agent_name":  "Nobody",
	}); err == nil || !strings.Contains(err.Error(), "AGENT_NOT_REGISTERED") {
		t.Errorf("whois unknown agent: err = %v", err)
	}
}

func TestListAgentsTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}

	// Empty roster renders an array, not null.
	result, err := callTool(t, s, "list_agents", map[string]any{"project_key": "demo"})
	if err != nil {
		t.Fatalf("list_agents: %v", err)
	}
	var roster struct {
		Count  int `json:"count"`
		Agents []struct {
			Name string `json:"name"`
		} `json:"agents"`
	}
	decodeResult(t, result, &roster)
	if roster.Count != 0 || roster.Agents == nil {
		t.Errorf("empty roster = %+v (agents must be [], not null)", roster)
	}

	for _, name := range []string{"BlueLake", "RedStone"} {
		if _, err := callTool(t, s, "register_agent", map[string]any{
			"project_key": "demo", "program": "claude-code", "model": "opus", "name": name,
		}); err != nil {
			t.Fatalf("register_agent(%s): %v", name, err)
		}
	}
	result, err = callTool(t, s, "list_agents", map[string]any{"project_key": "demo"})
	if err != nil {
		t.Fatalf("list_agents: %v", err)
	}
	decodeResult(t, result, &roster)
	if roster.Count != 2 {
		t.Errorf("count = %d, want 2", roster.Count)
	}
}

func TestSetContactPolicyTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	if _, err := callTool(t, s, "register_agent", map[string]any{
		"project_key": "demo", "program": "claude-code", "model": "opus", "name": "BlueLake",
	}); err != nil {
		t.Fatalf("register_agent: %v", err)
	}

	result, err := callTool(t, s, "set_contact_policy", map[string]any{
		"project_key": "demo",
		"agent_name":  "BlueLake",
		"policy":      "block_all",
	})
	if err != nil {
		t.Fatalf("set_contact_policy: %v", err)
	}
	var card struct {
		ContactPolicy string `json:"contact_policy"`
	}
	decodeResult(t, result, &card)
	if card.ContactPolicy != "block_all" {
		t.Errorf("contact_policy = %q, want block_all", card.ContactPolicy)
	}

	if _, err := callTool(t, s, "set_contact_policy", map[string]any{
		"project_key": "demo",
		"agent_name":  "BlueLake",
		"policy":      "sometimes",
	}); err == nil || !strings.Contains(err.Error(), "INVALID_ARGUMENT") {
		t.Errorf("bad policy: err = %v", err)
	}
}
