// Package guard manages the git pre-commit hook that keeps an agent from
// committing files covered by another agent's active exclusive claim. The
// installed hook is a one-line shim delegating to `agent-mail guard check`,
// so the matching logic lives here and is shared with the CLI and the MCP
// tools.
package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/domain"
)

// hookMarker identifies hooks written by Install. Install and Uninstall
// refuse to touch a pre-commit hook that does not carry it.
const hookMarker = "agent-mail guard hook"

// hookTemplate is the installed pre-commit shim. Arguments: marker, binary
// path, claims directory.
const hookTemplate = `#!/bin/sh
# %s: blocks commits that touch another agent's exclusive claim.
# Managed by 'agent-mail guard install' / 'agent-mail guard uninstall'.
exec "%s" guard check --claims-dir "%s"
`

// Conflict is one staged file caught inside another agent's claim.
type Conflict struct {
	Path    string // staged repo-relative path
	Pattern string // claim path pattern covering it
	Holder  string // agent holding the claim
}

// CheckInput configures one guard run. Agent is the committing agent; the
// hook takes it from the AGENT_NAME environment variable. A zero Now means
// the current time.
type CheckInput struct {
	RepoDir   string
	ClaimsDir string
	Agent     string
	Now       time.Time
}

// Check compares the staged files in RepoDir against the active exclusive
// claims under ClaimsDir and returns the collisions. The committing agent's
// own claims never conflict. A missing claims directory means nothing is
// reserved.
func Check(in CheckInput) ([]Conflict, error) {
	if strings.TrimSpace(in.Agent) == "" {
		return nil, fmt.Errorf("agent name required")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	staged, err := StagedFiles(in.RepoDir)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, nil
	}
	claims, err := loadBlockingClaims(in.ClaimsDir, in.Agent, now)
	if err != nil || len(claims) == 0 {
		return nil, err
	}
	var conflicts []Conflict
	for _, path := range staged {
		for _, rec := range claims {
			if domain.PathsOverlap(rec.PathPattern, path) {
				conflicts = append(conflicts, Conflict{Path: path, Pattern: rec.PathPattern, Holder: rec.Agent})
			}
		}
	}
	return conflicts, nil
}

// StagedFiles lists the repo-relative paths staged for the next commit.
func StagedFiles(repoDir string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--cached", "--name-only")
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git diff --cached: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// loadBlockingClaims reads the claim records under dir and keeps the ones
// able to block agent's commit: held by someone else, exclusive, not
// released, not expired. A record whose expiry fails to parse counts as
// active. Files that are not claim records are skipped.
func loadBlockingClaims(dir, agent string, now time.Time) ([]archive.ClaimRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read claims dir: %w", err)
	}
	var out []archive.ClaimRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var rec archive.ClaimRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.Agent == agent || !rec.Exclusive || rec.ReleasedTS != nil {
			continue
		}
		if exp, err := time.Parse(time.RFC3339Nano, rec.ExpiresTS); err == nil && exp.Before(now) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// FormatConflicts renders the block message the hook prints to stderr.
func FormatConflicts(conflicts []Conflict) string {
	var b strings.Builder
	b.WriteString("pre-commit guard: staged files collide with exclusive claims:\n")
	for _, c := range conflicts {
		fmt.Fprintf(&b, "  - %s falls under '%s' held by %s\n", c.Path, c.Pattern, c.Holder)
	}
	b.WriteString("wait for the claims to expire or coordinate with the holders.\n")
	return b.String()
}

// InstallInput locates the hook target and the data the shim embeds.
type InstallInput struct {
	RepoDir   string // working tree to guard; must contain .git/hooks
	Binary    string // absolute path to the agent-mail binary
	ClaimsDir string // claims directory of the project archive
}

// HookPath returns where Install places the pre-commit hook for repoDir.
func HookPath(repoDir string) string {
	return filepath.Join(repoDir, ".git", "hooks", "pre-commit")
}

// Install writes the pre-commit shim and returns its path. Reinstalling
// over a hook Install wrote earlier succeeds; a pre-commit hook from
// elsewhere is left alone and reported as an error.
func Install(in InstallInput) (string, error) {
	hooksDir := filepath.Join(in.RepoDir, ".git", "hooks")
	if fi, err := os.Stat(hooksDir); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("no .git/hooks directory under %s", in.RepoDir)
	}
	hookPath := filepath.Join(hooksDir, "pre-commit")
	if existing, err := os.ReadFile(hookPath); err == nil && !strings.Contains(string(existing), hookMarker) {
		return "", fmt.Errorf("pre-commit hook at %s was not installed by agent-mail", hookPath)
	}
	body := fmt.Sprintf(hookTemplate, hookMarker, in.Binary, in.ClaimsDir)
	if err := os.WriteFile(hookPath, []byte(body), 0o755); err != nil {
		return "", fmt.Errorf("write pre-commit hook: %w", err)
	}
	return hookPath, nil
}

// Uninstall removes the hook Install wrote and reports whether one was
// removed. A hook from elsewhere is left alone and reported as an error.
func Uninstall(repoDir string) (bool, error) {
	hookPath := HookPath(repoDir)
	existing, err := os.ReadFile(hookPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read pre-commit hook: %w", err)
	}
	if !strings.Contains(string(existing), hookMarker) {
		return false, fmt.Errorf("pre-commit hook at %s was not installed by agent-mail", hookPath)
	}
	if err := os.Remove(hookPath); err != nil {
		return false, fmt.Errorf("remove pre-commit hook: %w", err)
	}
	return true, nil
}
