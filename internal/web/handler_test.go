package web

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/config"
	"github.com/jaakkos/agentmail/internal/domain"
	"github.com/jaakkos/agentmail/internal/index"
)

// newTestServer spins the /mail UI over a real MailService with a seeded
// project: agents RedStone and BlueLake plus one message from BlueLake.
func newTestServer(t *testing.T) (*httptest.Server, *app.MailService, domain.Project) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	cfg := config.DefaultSettings()
	cfg.StorageRoot = root
	idx, err := index.Open(filepath.Join(root, "index.sqlite3"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	arc := archive.NewStore(cfg.ProjectsDir())
	logger := log.New(io.Discard, "", 0)
	svc := app.NewMailService(cfg, arc, idx, logger)

	ctx := context.Background()
	res, err := svc.EnsureProject(ctx, "Web Station")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	for _, name := range []string{"RedStone", "BlueLake"} {
		if _, err := svc.RegisterAgent(ctx, app.RegisterAgentInput{
			ProjectKey: "Web Station", Name: name, Program: "claude-code", Model: "opus",
		}); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", name, err)
		}
	}
	if _, err := svc.SendMessage(ctx, app.SendInput{
		ProjectKey: "Web Station",
		From:       "BlueLake",
		To:         []string{"RedStone"},
		Subject:    "Deploy plan",
		Body:       "# Plan\n\nShip **now**.\n\n- [ ] migrate db",
		Importance: "high",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	mux := http.NewServeMux()
	NewHandler(svc, logger).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc, res.Project
}

func getBody(t *testing.T, url string, wantStatus int) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d\n%s", url, resp.StatusCode, wantStatus, raw)
	}
	return string(raw)
}

func TestProjectsPage_ListsProjects(t *testing.T) {
	srv, _, project := newTestServer(t)

	body := getBody(t, srv.URL+"/mail", http.StatusOK)
	for _, want := range []string{"Web Station", project.Slug, "1 project(s)", "2 agent(s)", "1 message(s)"} {
		if !strings.Contains(body, want) {
			t.Errorf("projects page missing %q", want)
		}
	}
}

func TestProjectPage_ShowsAgentsClaimsThreads(t *testing.T) {
	srv, svc, project := newTestServer(t)
	if _, err := svc.ReserveFilePaths(context.Background(), app.ReserveInput{
		ProjectKey: "Web Station",
		Agent:      "RedStone",
		Paths:      []string{"src/auth/**"},
		Exclusive:  true,
		Reason:     "auth refactor",
		TTLSeconds: 3600,
	}); err != nil {
		t.Fatalf("ReserveFilePaths: %v", err)
	}

	body := getBody(t, srv.URL+"/mail/project/"+project.Slug, http.StatusOK)
	for _, want := range []string{
		"RedStone", "BlueLake", "claude-code",
		"src/auth/**", "exclusive", "auth refactor",
		"Deploy plan",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("project page missing %q", want)
		}
	}
}

func TestProjectPage_UnknownProject(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body := getBody(t, srv.URL+"/mail/project/absent-0000000000", http.StatusNotFound)
	if !strings.Contains(body, "404") {
		t.Errorf("error page missing status, got:\n%s", body)
	}
}

func TestInboxPage_MarkReadFlow(t *testing.T) {
	srv, _, project := newTestServer(t)
	inboxURL := srv.URL + "/mail/inbox/" + project.Slug + "/RedStone"

	body := getBody(t, inboxURL, http.StatusOK)
	for _, want := range []string{"Deploy plan", "BlueLake", "mark read", "high"} {
		if !strings.Contains(body, want) {
			t.Errorf("inbox page missing %q", want)
		}
	}

	// The mark-read form posts back and redirects to the inbox.
	id := extractBetween(t, body, `name="message_id" value="`, `"`)
	resp, err := http.PostForm(srv.URL+"/mail/read/"+project.Slug, url.Values{
		"message_id": {id},
		"agent":      {"RedStone"},
		"back":       {"/mail/inbox/" + project.Slug + "/RedStone"},
	})
	if err != nil {
		t.Fatalf("POST read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("after redirect: status = %d", resp.StatusCode)
	}

	body = getBody(t, inboxURL, http.StatusOK)
	if strings.Contains(body, "mark read") {
		t.Errorf("inbox still shows mark read button after marking:\n%s", body)
	}
}

func TestThreadPage_RendersMarkdown(t *testing.T) {
	srv, svc, project := newTestServer(t)
	items, err := svc.FetchInbox(context.Background(), "Web Station", "RedStone", index.InboxQuery{IncludeRead: true, Limit: 1})
	if err != nil || len(items) != 1 {
		t.Fatalf("FetchInbox: %v (%d items)", err, len(items))
	}
	threadID := items[0].Message.ThreadID

	body := getBody(t, srv.URL+"/mail/thread/"+project.Slug+"/"+threadID, http.StatusOK)
	for _, want := range []string{"<h1>Plan</h1>", "<strong>now</strong>", "BlueLake", "participants"} {
		if !strings.Contains(body, want) {
			t.Errorf("thread page missing %q", want)
		}
	}
	if strings.Contains(body, `class="msg overseer"`) {
		t.Errorf("agent message should not carry overseer styling")
	}
}

func TestComposePost_SendsAsOverseerAndStylesThread(t *testing.T) {
	srv, svc, project := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/mail/compose/"+project.Slug, url.Values{
		"to":         {"RedStone, BlueLake"},
		"subject":    {"Course correction"},
		"body":       {"Stop the rollout."},
		"importance": {"urgent"},
	})
	if err != nil {
		t.Fatalf("POST compose: %v", err)
	}
	final, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read final page: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("after compose redirect: status = %d\n%s", resp.StatusCode, final)
	}
	page := string(final)
	if !strings.Contains(page, "Course correction") || !strings.Contains(page, `msg overseer`) {
		t.Errorf("thread page missing overseer message:\n%s", page)
	}

	items, err := svc.FetchInbox(context.Background(), "Web Station", "RedStone", index.InboxQuery{IncludeRead: true, Limit: 10})
	if err != nil {
		t.Fatalf("FetchInbox: %v", err)
	}
	found := false
	for _, item := range items {
		if item.Message.Subject == "Course correction" && item.Message.From == domain.OverseerName {
			found = true
		}
	}
	if !found {
		t.Errorf("overseer message not delivered to RedStone")
	}
}

func TestComposePost_ValidationErrorRedisplaysForm(t *testing.T) {
	srv, _, project := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/mail/compose/"+project.Slug, url.Values{
		"to":      {"RedStone"},
		"subject": {""},
		"body":    {"no subject"},
	})
	if err != nil {
		t.Fatalf("POST compose: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	page := string(raw)
	if !strings.Contains(page, "subject") || !strings.Contains(page, "no subject") {
		t.Errorf("form not redisplayed with error and values:\n%s", page)
	}
}

func TestSearchPage_FindsMessage(t *testing.T) {
	srv, _, project := newTestServer(t)

	body := getBody(t, srv.URL+"/mail/search/"+project.Slug+"?q=migrate", http.StatusOK)
	if !strings.Contains(body, "Deploy plan") {
		t.Errorf("search page missing hit:\n%s", body)
	}

	body = getBody(t, srv.URL+"/mail/search/"+project.Slug+"?q=zebra", http.StatusOK)
	if !strings.Contains(body, "no matches") {
		t.Errorf("search page missing empty state:\n%s", body)
	}
}

func extractBetween(t *testing.T, s, prefix, suffix string) string {
	t.Helper()
	i := strings.Index(s, prefix)
	if i < 0 {
		t.Fatalf("marker %q not found", prefix)
	}
	rest := s[i+len(prefix):]
	j := strings.Index(rest, suffix)
	if j < 0 {
		t.Fatalf("closing %q not found", suffix)
	}
	return rest[:j]
}
