package archive

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	return NewStore(filepath.Join(t.TempDir(), "projects"))
}

func TestEnsureProjectIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.EnsureProject("demo-0123456789"); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	if !store.HasProject("demo-0123456789") {
		t.Fatal("project should exist after EnsureProject")
	}
	head1, err := store.Head("demo-0123456789")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head1 == "" {
		t.Fatal("expected initial commit")
	}

	if err := store.EnsureProject("demo-0123456789"); err != nil {
		t.Fatalf("EnsureProject (second): %v", err)
	}
	head2, _ := store.Head("demo-0123456789")
	if head1 != head2 {
		t.Errorf("second EnsureProject moved HEAD: %s -> %s", head1, head2)
	}
}

func TestListProjects(t *testing.T) {
	store := newTestStore(t)
	slugs, err := store.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(slugs) != 0 {
		t.Errorf("expected no projects, got %v", slugs)
	}

	for _, slug := range []string{"beta-bbbbbbbbbb", "alpha-aaaaaaaaaa"} {
		if err := store.EnsureProject(slug); err != nil {
			t.Fatalf("EnsureProject(%s): %v", slug, err)
		}
	}
	slugs, err = store.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(slugs) != 2 || slugs[0] != "alpha-aaaaaaaaaa" || slugs[1] != "beta-bbbbbbbbbb" {
		t.Errorf("ListProjects = %v, want sorted pair", slugs)
	}
}

func TestWriteMessageLayout(t *testing.T) {
	store := newTestStore(t)
	slug := "demo-0123456789"
	if err := store.EnsureProject(slug); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}

	meta := MessageMeta{
		ID:          "msg_20250601_deadbeef",
		ThreadID:    "msg_20250601_deadbeef",
		Project:     slug,
		From:        "BlueLake",
		To:          []string{"RedStone"},
		CC:          []string{"GreenCastle"},
		Created:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
		Importance:  "normal",
		AckRequired: false,
		Subject:     "hello",
	}
	relPaths, err := store.WriteMessage(slug, meta, "body text")
	if err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	want := []string{
		"messages/2025/06/msg_20250601_deadbeef.md",
		"agents/BlueLake/outbox/2025/06/msg_20250601_deadbeef.md",
		"agents/RedStone/inbox/2025/06/msg_20250601_deadbeef.md",
		"agents/GreenCastle/inbox/2025/06/msg_20250601_deadbeef.md",
	}
	if len(relPaths) != len(want) {
		t.Fatalf("relPaths = %v, want %v", relPaths, want)
	}
	for i, rel := range want {
		if relPaths[i] != rel {
			t.Errorf("relPaths[%d] = %q, want %q", i, relPaths[i], rel)
		}
		if _, err := os.Stat(filepath.Join(store.RepoDir(slug), filepath.FromSlash(rel))); err != nil {
			t.Errorf("missing file %s: %v", rel, err)
		}
	}

	if err := store.Commit(slug, "mail: BlueLake -> RedStone, GreenCastle | hello", relPaths); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	subjects, err := store.RecentCommits(slug, 1)
	if err != nil {
		t.Fatalf("RecentCommits: %v", err)
	}
	if len(subjects) != 1 || !strings.HasPrefix(subjects[0], "mail: BlueLake -> ") {
		t.Errorf("commit subject = %v", subjects)
	}
}

func TestWalkMessagesChronological(t *testing.T) {
	store := newTestStore(t)
	slug := "demo-0123456789"
	if err := store.EnsureProject(slug); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}

	times := []time.Time{
		time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	ids := []string{"msg_20250520_00000001", "msg_20250601_00000002"}
	for i, ts := range times {
		meta := MessageMeta{
			ID: ids[i], ThreadID: ids[i], Project: slug, From: "BlueLake",
			To: []string{"RedStone"}, Created: ts.Format(time.RFC3339Nano),
			Importance: "normal", Subject: "m",
		}
		if _, err := store.WriteMessage(slug, meta, "b"); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	var seen []string
	err := store.WalkMessages(slug, func(rel string, meta MessageMeta, body string) error {
		seen = append(seen, meta.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkMessages: %v", err)
	}
	if len(seen) != 2 || seen[0] != ids[0] || seen[1] != ids[1] {
		t.Errorf("WalkMessages order = %v, want %v", seen, ids)
	}
}

func TestWriteClaimRecordAndWalk(t *testing.T) {
	store := newTestStore(t)
	slug := "demo-0123456789"
	if err := store.EnsureProject(slug); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}

	rec := ClaimRecord{
		ID:          "claim_x",
		Project:     slug,
		Agent:       "BlueLake",
		PathPattern: "src/**/*.go",
		Exclusive:   true,
		Reason:      "refactor",
		CreatedTS:   time.Now().UTC().Format(time.RFC3339Nano),
		ExpiresTS:   time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano),
	}
	rel, err := store.WriteClaimRecord(slug, rec)
	if err != nil {
		t.Fatalf("WriteClaimRecord: %v", err)
	}
	wantRel := "claims/" + PathHash("src/**/*.go") + ".json"
	if rel != wantRel {
		t.Errorf("rel = %q, want %q", rel, wantRel)
	}

	var got []ClaimRecord
	if err := store.WalkClaimRecords(slug, func(r ClaimRecord) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("WalkClaimRecords: %v", err)
	}
	if len(got) != 1 || got[0].ID != "claim_x" || !got[0].Exclusive {
		t.Errorf("WalkClaimRecords = %+v", got)
	}
}

func TestWriteAgentProfileAndWalk(t *testing.T) {
	store := newTestStore(t)
	slug := "demo-0123456789"
	if err := store.EnsureProject(slug); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}

	profile := AgentProfile{
		Name:          "BlueLake",
		Program:       "claude-code",
		Model:         "opus",
		InceptionTS:   time.Now().UTC().Format(time.RFC3339Nano),
		ContactPolicy: "auto",
	}
	rel, err := store.WriteAgentProfile(slug, profile)
	if err != nil {
		t.Fatalf("WriteAgentProfile: %v", err)
	}
	if rel != "agents/BlueLake/profile.json" {
		t.Errorf("rel = %q", rel)
	}

	var names []string
	if err := store.WalkAgentProfiles(slug, func(p AgentProfile) error {
		names = append(names, p.Name)
		return nil
	}); err != nil {
		t.Fatalf("WalkAgentProfiles: %v", err)
	}
	if len(names) != 1 || names[0] != "BlueLake" {
		t.Errorf("profiles = %v", names)
	}
}

func TestPathHashStable(t *testing.T) {
	a := PathHash("src/*.go")
	b := PathHash("src/*.go")
	if a != b || len(a) != 40 {
		t.Errorf("PathHash unstable or wrong length: %q vs %q", a, b)
	}
	if PathHash("src/*.go") == PathHash("src/*.py") {
		t.Error("distinct patterns should hash differently")
	}
}
