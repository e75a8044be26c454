package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store, humanKey string) domain.Project {
	t.Helper()
	p, err := s.UpsertProject(humanKey, domain.Slug(humanKey), time.Now())
	if err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	return p
}

func seedAgent(t *testing.T, s *Store, projectID int64, name string) domain.Agent {
	t.Helper()
	now := time.Now()
	a, err := s.SaveAgent(domain.Agent{
		ProjectID:     projectID,
		Name:          name,
		Program:       "test",
		Model:         "test-model",
		InceptionTS:   now,
		LastActiveTS:  now,
		ContactPolicy: domain.PolicyAuto,
	})
	if err != nil {
		t.Fatalf("SaveAgent(%s): %v", name, err)
	}
	return a
}

func TestUpsertProjectIdempotent(t *testing.T) {
	s := newTestStore(t)

	first := seedProject(t, s, "/work/demo")
	second := seedProject(t, s, "/work/demo")
	if first.ID != second.ID {
		t.Errorf("second upsert returned id %d, want %d", second.ID, first.ID)
	}
	if first.Slug != second.Slug {
		t.Errorf("slug changed across upserts: %q vs %q", first.Slug, second.Slug)
	}

	other := seedProject(t, s, "/work/other")
	if other.ID == first.ID {
		t.Error("distinct human keys should get distinct project rows")
	}

	all, err := s.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(ListProjects) = %d, want 2", len(all))
	}
}

func TestProjectByIdentifier(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "/work/demo")

	for _, id := range []string{p.Slug, p.HumanKey} {
		got, err := s.ProjectByIdentifier(id)
		if err != nil {
			t.Fatalf("ProjectByIdentifier(%q): %v", id, err)
		}
		if got.ID != p.ID {
			t.Errorf("ProjectByIdentifier(%q).ID = %d, want %d", id, got.ID, p.ID)
		}
	}

	if _, err := s.ProjectByIdentifier("/nope"); domain.CodeOf(err) != domain.ErrProjectNotFound {
		t.Errorf("unknown identifier: code = %q, want PROJECT_NOT_FOUND", domain.CodeOf(err))
	}
}

func TestAgentLookupCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "/work/demo")
	seedAgent(t, s, p.ID, "BlueLake")

	got, err := s.AgentByName(p.ID, "bluelake")
	if err != nil {
		t.Fatalf("AgentByName lowercase: %v", err)
	}
	if got.Name != "BlueLake" {
		t.Errorf("canonical name = %q, want BlueLake", got.Name)
	}

	if _, err := s.AgentByName(p.ID, "Nobody"); domain.CodeOf(err) != domain.ErrAgentNotRegistered {
		t.Errorf("unknown agent: code = %q, want AGENT_NOT_REGISTERED", domain.CodeOf(err))
	}
}

func TestSaveAgentUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "/work/demo")
	a := seedAgent(t, s, p.ID, "BlueLake")

	a.Model = "newer-model"
	a.ContactPolicy = domain.PolicyContactsOnly
	updated, err := s.SaveAgent(a)
	if err != nil {
		t.Fatalf("SaveAgent update: %v", err)
	}
	if updated.ID != a.ID {
		t.Errorf("update changed row id: %d -> %d", a.ID, updated.ID)
	}
	if updated.Model != "newer-model" || updated.ContactPolicy != domain.PolicyContactsOnly {
		t.Errorf("update not applied: %+v", updated)
	}

	agents, err := s.ListAgents(p.ID)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("len(ListAgents) = %d, want 1", len(agents))
	}
}

func TestTouchAgentAdvancesLastActive(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "/work/demo")
	a := seedAgent(t, s, p.ID, "BlueLake")

	later := a.LastActiveTS.Add(time.Hour)
	if err := s.TouchAgent(p.ID, "bluelake", later); err != nil {
		t.Fatalf("TouchAgent: %v", err)
	}
	got, err := s.AgentByName(p.ID, "BlueLake")
	if err != nil {
		t.Fatalf("AgentByName: %v", err)
	}
	if !got.LastActiveTS.After(a.LastActiveTS) {
		t.Errorf("last_active_ts not advanced: %v", got.LastActiveTS)
	}
}

func TestSetAgentPolicy(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "/work/demo")
	seedAgent(t, s, p.ID, "BlueLake")

	if err := s.SetAgentPolicy(p.ID, "BlueLake", domain.PolicyBlockAll); err != nil {
		t.Fatalf("SetAgentPolicy: %v", err)
	}
	got, _ := s.AgentByName(p.ID, "BlueLake")
	if got.ContactPolicy != domain.PolicyBlockAll {
		t.Errorf("policy = %q, want block_all", got.ContactPolicy)
	}

	err := s.SetAgentPolicy(p.ID, "Nobody", domain.PolicyOpen)
	if domain.CodeOf(err) != domain.ErrAgentNotRegistered {
		t.Errorf("unknown agent: code = %q, want AGENT_NOT_REGISTERED", domain.CodeOf(err))
	}
}

func TestPurgeProjectRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "/work/demo")
	seedAgent(t, s, p.ID, "BlueLake")
	seedAgent(t, s, p.ID, "GreenCastle")

	now := time.Now()
	msg := domain.Message{
		ID: "msg_20260101_aabbccdd", ProjectID: p.ID, ThreadID: "msg_20260101_aabbccdd",
		Subject: "hello", BodyMD: "body", From: "BlueLake", CreatedTS: now, Importance: domain.ImportanceNormal,
	}
	if err := s.InsertMessage(msg, []domain.Recipient{{MessageID: msg.ID, AgentName: "GreenCastle", Kind: domain.KindTo}}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if err := s.InsertClaim(domain.Claim{
		ID: "claim_1", ProjectID: p.ID, AgentName: "BlueLake", Path: "src/a.go",
		Exclusive: true, CreatedTS: now, ExpiresTS: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}

	if err := s.PurgeProject(p.ID); err != nil {
		t.Fatalf("PurgeProject: %v", err)
	}
	stats, err := s.CollectStats()
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if stats.Agents != 0 || stats.Messages != 0 || stats.Claims != 0 {
		t.Errorf("purge left rows behind: %+v", stats)
	}
	if stats.Projects != 1 {
		t.Errorf("purge should keep the project row, got %d", stats.Projects)
	}
}
