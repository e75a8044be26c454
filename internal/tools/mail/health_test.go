package mail

import (
	"testing"
)

func TestHealthCheckTool(t *testing.T) {
	_, s := newToolServer(t)

	if _, err := callTool(t, s, "ensure_project", map[string]any{"human_key": "demo"}); err != nil {
		t.Fatalf("ensure_project: %v", err)
	}
	if _, err := callTool(t, s, "register_agent", map[string]any{
		"project_key": "demo", "program": "P", "model": "M", "name": "Alpha",
	}); err != nil {
		t.Fatalf("register_agent: %v", err)
	}

	result, err := callTool(t, s, "health_check", map[string]any{})
	if err != nil {
		t.Fatalf("health_check: %v", err)
	}
	var health struct {
		Status      string `json:"status"`
		ServerTime  string `json:"server_time"`
		StorageRoot string `json:"storage_root"`
		Index       struct {
			Projects int `json:"projects"`
			Agents   int `json:"agents"`
			Messages int `json:"messages"`
			Claims   int `json:"file_claims"`
		} `json:"index"`
		ContactEnforcement bool `json:"contact_enforcement"`
	}
	decodeResult(t, result, &health)
	if health.Status != "ok" {
		t.Errorf("status = %q", health.Status)
	}
	if health.ServerTime == "" || health.StorageRoot == "" {
		t.Errorf("health = %+v, want server_time and storage_root set", health)
	}
	if health.Index.Projects != 1 || health.Index.Agents != 1 {
		t.Errorf("index counts = %+v, want 1 project and 1 agent", health.Index)
	}
	if health.Index.Messages != 0 || health.Index.Claims != 0 {
		t.Errorf("index counts = %+v, want no messages or claims yet", health.Index)
	}
	if !health.ContactEnforcement {
		t.Error("contact_enforcement should default on")
	}
}
