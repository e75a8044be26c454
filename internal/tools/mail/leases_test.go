package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

func seedAgents(t *testing.T, s *server.MCPServer, names ...string) {
	t.Helper()
	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	for _, name := range names {
		if _, err := callTool(t, s, "register_agent", map[string]any{
			"project_key": "demo", "program": "P", "model": "M", "name": name,
		}); err != nil {
			t.Fatalf("register_agent(%s): %v", name, err)
		}
	}
}

func TestReserveFilePathsToolGlobConflict(t *testing.T) {
	_, s := newToolServer(t)
	seedAgents(t, s, "Alpha", "Beta")

	result, err := callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo",
		"agent_name":  "Alpha",
		"paths":       []string{"src/**/*.py"},
	})
	if err != nil {
		t.Fatalf("reserve (Alpha): %v", err)
	}
	var first struct {
		Granted []struct {
			ID        string    `json:"id"`
			Path      string    `json:"path"`
			Exclusive bool      `json:"exclusive"`
			ExpiresTS time.Time `json:"expires_ts"`
		} `json:"granted"`
		Conflicts []struct {
			Path string `json:"path"`
		} `json:"conflicts"`
	}
	decodeResult(t, result, &first)
	if len(first.Granted) != 1 || len(first.Conflicts) != 0 {
		t.Fatalf("Alpha grant = %+v", first)
	}
	if g := first.Granted[0]; g.Path != "src/**/*.py" || !g.Exclusive || !g.ExpiresTS.After(time.Now()) {
		t.Errorf("granted claim = %+v", g)
	}

	result, err = callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo",
		"agent_name":  "Beta",
		"paths":       []string{"src/api/x.py"},
	})
	if err != nil {
		t.Fatalf("reserve (Beta): %v", err)
	}
	var second struct {
		Granted   []struct{} `json:"granted"`
		Conflicts []struct {
			Path    string `json:"path"`
			Code    string `json:"code"`
			Holders []struct {
				Agent string `json:"agent"`
				Path  string `json:"path"`
			} `json:"holders"`
		} `json:"conflicts"`
	}
	decodeResult(t, result, &second)
	if len(second.Granted) != 0 {
		t.Errorf("overlapping path should not be granted: %+v", second.Granted)
	}
	if len(second.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v", second.Conflicts)
	}
	c := second.Conflicts[0]
	if c.Path != "src/api/x.py" || c.Code != "CLAIM_CONFLICT" {
		t.Errorf("conflict = %+v", c)
	}
	if len(c.Holders) != 1 || c.Holders[0].Agent != "Alpha" || c.Holders[0].Path != "src/**/*.py" {
		t.Errorf("holders = %+v", c.Holders)
	}
}

func TestReserveFilePathsToolSharedCoexist(t *testing.T) {
	_, s := newToolServer(t)
	seedAgents(t, s, "Alpha", "Beta")

	for _, agent := range []string{"Alpha", "Beta"} {
		result, err := callTool(t, s, "reserve_file_paths", map[string]any{
			"project_key": "demo",
			"agent_name":  agent,
			"paths":       []string{"docs/notes.md"},
			"exclusive":   false,
		})
		if err != nil {
			t.Fatalf("reserve (%s): %v", agent, err)
		}
		var res struct {
			Granted   []struct{} `json:"granted"`
			Conflicts []struct{} `json:"conflicts"`
		}
		decodeResult(t, result, &res)
		if len(res.Granted) != 1 || len(res.Conflicts) != 0 {
			t.Errorf("%s shared reserve = %+v", agent, res)
		}
	}
}

func TestRenewFileReservationsTool(t *testing.T) {
	_, s := newToolServer(t)
	seedAgents(t, s, "Alpha")

	if _, err := callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo", "agent_name": "Alpha",
		"paths": []string{"cmd/main.go"}, "ttl_seconds": 120,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	result, err := callTool(t, s, "renew_file_reservations", map[string]any{
		"project_key": "demo", "agent_name": "Alpha", "extend_seconds": 600,
	})
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	var renewed struct {
		Renewed []struct {
			Path         string    `json:"path_pattern"`
			OldExpiresTS time.Time `json:"old_expires_ts"`
			NewExpiresTS time.Time `json:"new_expires_ts"`
		} `json:"renewed"`
		ExpiresTS *time.Time `json:"expires_ts"`
	}
	decodeResult(t, result, &renewed)
	if len(renewed.Renewed) != 1 {
		t.Fatalf("renewed = %+v", renewed)
	}
	r := renewed.Renewed[0]
	if r.Path != "cmd/main.go" || !r.NewExpiresTS.After(r.OldExpiresTS) {
		t.Errorf("renewal = %+v", r)
	}
	if renewed.ExpiresTS == nil || !renewed.ExpiresTS.Equal(r.NewExpiresTS) {
		t.Errorf("expires_ts = %v, want %v", renewed.ExpiresTS, r.NewExpiresTS)
	}

	// Renewing with no active claims is a no-op with an empty list.
	result, err = callTool(t, s, "renew_file_reservations", map[string]any{
		"project_key": "demo", "agent_name": "Alpha", "paths": []string{"nothing/here.go"},
	})
	if err != nil {
		t.Fatalf("renew (no match): %v", err)
	}
	var noop struct {
		Renewed   []struct{} `json:"renewed"`
		ExpiresTS *time.Time `json:"expires_ts"`
	}
	decodeResult(t, result, &noop)
	if len(noop.Renewed) != 0 || noop.ExpiresTS != nil {
		t.Errorf("no-match renew = %+v", noop)
	}
}

func TestReleaseFileReservationsTool(t *testing.T) {
	_, s := newToolServer(t)
	seedAgents(t, s, "Alpha", "Beta")

	if _, err := callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo", "agent_name": "Alpha",
		"paths": []string{"a.go", "b.go"},
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	result, err := callTool(t, s, "release_file_reservations", map[string]any{
		"project_key": "demo", "agent_name": "Alpha",
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	var released struct {
		ReleasedCount int       `json:"released_count"`
		At            time.Time `json:"at"`
	}
	decodeResult(t, result, &released)
	if released.ReleasedCount != 2 || released.At.IsZero() {
		t.Errorf("release = %+v", released)
	}

	// Released paths are free for other agents again.
	result, err = callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo", "agent_name": "Beta", "paths": []string{"a.go"},
	})
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	var res struct {
		Granted []struct{} `json:"granted"`
	}
	decodeResult(t, result, &res)
	if len(res.Granted) != 1 {
		t.Errorf("post-release reserve = %+v", res)
	}
}

func TestListClaimsTool(t *testing.T) {
	_, s := newToolServer(t)
	seedAgents(t, s, "Alpha")

	if _, err := callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo", "agent_name": "Alpha", "paths": []string{"x.go"},
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := callTool(t, s, "release_file_reservations", map[string]any{
		"project_key": "demo", "agent_name": "Alpha", "paths": []string{"x.go"},
	}); err != nil {
		t.Fatalf("release: %v", err)
	}

	result, err := callTool(t, s, "list_claims", map[string]any{"project_key": "demo"})
	if err != nil {
		t.Fatalf("list_claims: %v", err)
	}
	var active struct {
		Count  int `json:"count"`
		Claims []struct {
			Path string `json:"path"`
		} `json:"claims"`
	}
	decodeResult(t, result, &active)
	if active.Count != 0 {
		t.Errorf("active claims = %+v", active)
	}
	if active.Claims == nil {
		t.Error("claims should encode as an empty array, not null")
	}

	result, err = callTool(t, s, "list_claims", map[string]any{
		"project_key": "demo", "active_only": false,
	})
	if err != nil {
		t.Fatalf("list_claims (all): %v", err)
	}
	decodeResult(t, result, &active)
	if active.Count != 1 || active.Claims[0].Path != "x.go" {
		t.Errorf("all claims = %+v", active)
	}

	if _, err := callTool(t, s, "reserve_file_paths", map[string]any{
		"project_key": "demo", "agent_name": "Alpha", "paths": []string{},
	}); err == nil || !strings.Contains(err.Error(), "INVALID_ARGUMENT") {
		t.Errorf("empty paths: err = %v", err)
	}
}
