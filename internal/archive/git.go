package archive

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitAuthorName and gitAuthorEmail identify archive commits. They are fixed
// so that replaying the same operations yields comparable history anywhere.
const (
	gitAuthorName  = "Agent Mail"
	gitAuthorEmail = "mail@agents.local"
)

// gitInit initializes a repository at repoDir with deterministic commit
// identity and signing disabled. Safe to call on an existing repository.
func gitInit(repoDir string) error {
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	if isGitRepo(repoDir) {
		return nil
	}
	if err := runGit(repoDir, "init", "--quiet"); err != nil {
		return err
	}
	if err := runGit(repoDir, "config", "user.name", gitAuthorName); err != nil {
		return err
	}
	if err := runGit(repoDir, "config", "user.email", gitAuthorEmail); err != nil {
		return err
	}
	return runGit(repoDir, "config", "commit.gpgsign", "false")
}

// gitCommit stages relPaths and commits them with the given message.
// A commit is created even when the staged content is unchanged, so the
// history always carries one commit per archive operation.
func gitCommit(repoDir, message string, relPaths []string) error {
	if len(relPaths) > 0 {
		args := append([]string{"add", "--"}, relPaths...)
		if err := runGit(repoDir, args...); err != nil {
			return err
		}
	}
	return runGit(repoDir, "commit", "--quiet", "--allow-empty", "-m", message)
}

// gitHead returns the current HEAD hash, or "" for an empty repository.
func gitHead(repoDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "unknown revision") || strings.Contains(string(out), "ambiguous argument") {
			return "", nil
		}
		return "", fmt.Errorf("git rev-parse HEAD: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// gitLog returns up to limit recent commit subjects, newest first.
func gitLog(repoDir string, limit int) ([]string, error) {
	cmd := exec.Command("git", "log", fmt.Sprintf("--max-count=%d", limit), "--pretty=format:%s")
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git log: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// isGitRepo checks whether dir is the root of a git working tree.
func isGitRepo(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func runGit(repoDir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w\noutput: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
