// Package archive persists canonical mail state as one git repository per
// project. Every mutation writes plain files into the project repo and
// commits them with a structured subject, so git log doubles as an audit
// trail and the relational index can always be rebuilt from the tree.
package archive

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// AgentProfile is the on-disk registration record at
// agents/<Name>/profile.json.
type AgentProfile struct {
	Name            string `json:"name"`
	Program         string `json:"program,omitempty"`
	Model           string `json:"model,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	InceptionTS     string `json:"inception_ts"`
	ContactPolicy   string `json:"contact_policy"`
}

// ClaimRecord is the on-disk lease record at claims/<sha1(path)>.json.
// The file always reflects the newest claim touching its path pattern;
// older states stay reachable through git history.
type ClaimRecord struct {
	ID          string  `json:"id"`
	Project     string  `json:"project"`
	Agent       string  `json:"agent"`
	PathPattern string  `json:"path_pattern"`
	Exclusive   bool    `json:"exclusive"`
	Reason      string  `json:"reason,omitempty"`
	CreatedTS   string  `json:"created_ts"`
	ExpiresTS   string  `json:"expires_ts"`
	ReleasedTS  *string `json:"released_ts,omitempty"`
}

// ProjectMeta is the registration record at project.json in the archive
// root. It preserves the human key, which the slug alone cannot recover,
// so a rebuild can restore the project row from the archive.
type ProjectMeta struct {
	HumanKey  string `json:"human_key"`
	Slug      string `json:"slug"`
	CreatedTS string `json:"created_ts"`
}

// Store manages the per-project archives under <storage root>/projects.
type Store struct {
	projectsDir string
}

// NewStore returns a Store rooted at projectsDir. The directory is created
// lazily on the first project write.
func NewStore(projectsDir string) *Store {
	return &Store{projectsDir: projectsDir}
}

// ProjectsDir returns the directory holding one archive per project slug.
func (s *Store) ProjectsDir() string { return s.projectsDir }

// ProjectDir returns the directory for one project (repo plus lock file).
func (s *Store) ProjectDir(slug string) string {
	return filepath.Join(s.projectsDir, slug)
}

// RepoDir returns the git working tree for a project.
func (s *Store) RepoDir(slug string) string {
	return filepath.Join(s.projectsDir, slug, "repo")
}

// HasProject reports whether an archive exists for slug.
func (s *Store) HasProject(slug string) bool {
	return isGitRepo(s.RepoDir(slug))
}

// EnsureProject initializes the archive repository for slug if missing.
// Idempotent; an existing archive is left untouched.
func (s *Store) EnsureProject(slug string) error {
	repoDir := s.RepoDir(slug)
	if isGitRepo(repoDir) {
		return nil
	}
	if err := gitInit(repoDir); err != nil {
		return fmt.Errorf("init archive %s: %w", slug, err)
	}
	attributes := filepath.Join(repoDir, ".gitattributes")
	if err := os.WriteFile(attributes, []byte("*.json text\n*.md text\n"), 0o644); err != nil {
		return fmt.Errorf("write .gitattributes: %w", err)
	}
	if err := gitCommit(repoDir, "chore: initialize archive", []string{".gitattributes"}); err != nil {
		return fmt.Errorf("initial commit %s: %w", slug, err)
	}
	return nil
}

// ListProjects returns the slugs that have an archive, sorted.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects dir: %w", err)
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() && isGitRepo(filepath.Join(s.projectsDir, e.Name(), "repo")) {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// AcquireLock takes the project's advisory write lock, failing with TIMEOUT
// once deadline passes.
func (s *Store) AcquireLock(slug string, deadline time.Time) (*Lock, error) {
	if err := os.MkdirAll(s.ProjectDir(slug), 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	return acquireLock(s.ProjectDir(slug), deadline)
}

// WriteMessage writes the canonical message file plus the sender's outbox
// copy and one inbox copy per recipient. bcc agents get an inbox copy
// without appearing in the shared front matter. Qualified addresses (those
// naming an agent in another project, e.g. "Name@other-slug") stay in the
// front matter but get no per-agent copy here; the other project's archive
// carries that copy. Returns the repo-relative paths written, ready to
// stage.
func (s *Store) WriteMessage(slug string, meta MessageMeta, body string, bcc ...string) ([]string, error) {
	created, err := meta.CreatedTime()
	if err != nil {
		return nil, err
	}
	content, err := RenderMessage(meta, body)
	if err != nil {
		return nil, err
	}

	year := created.UTC().Format("2006")
	month := created.UTC().Format("01")
	filename := meta.ID + ".md"

	relPaths := []string{
		filepath.ToSlash(filepath.Join("messages", year, month, filename)),
	}
	if IsLocalAgentName(meta.From) {
		relPaths = append(relPaths, filepath.ToSlash(filepath.Join("agents", meta.From, "outbox", year, month, filename)))
	}
	inboxed := make(map[string]bool)
	for _, recipient := range append(meta.Recipients(), bcc...) {
		if recipient == "" || inboxed[recipient] || !IsLocalAgentName(recipient) {
			continue
		}
		inboxed[recipient] = true
		relPaths = append(relPaths, filepath.ToSlash(filepath.Join("agents", recipient, "inbox", year, month, filename)))
	}

	repoDir := s.RepoDir(slug)
	for _, rel := range relPaths {
		path := filepath.Join(repoDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create message dir: %w", err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return nil, fmt.Errorf("write message %s: %w", rel, err)
		}
	}
	return relPaths, nil
}

// WriteProjectMeta writes project.json and returns its repo-relative path.
func (s *Store) WriteProjectMeta(slug string, meta ProjectMeta) (string, error) {
	if err := s.writeJSON(slug, "project.json", meta); err != nil {
		return "", err
	}
	return "project.json", nil
}

// ReadProjectMeta loads project.json. ok is false when the archive predates
// project metadata or the file is missing.
func (s *Store) ReadProjectMeta(slug string) (ProjectMeta, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.RepoDir(slug), "project.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return ProjectMeta{}, false, nil
		}
		return ProjectMeta{}, false, fmt.Errorf("read project meta %s: %w", slug, err)
	}
	var meta ProjectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return ProjectMeta{}, false, fmt.Errorf("parse project meta %s: %w", slug, err)
	}
	return meta, true, nil
}

// WriteAgentProfile writes agents/<Name>/profile.json and returns its
// repo-relative path.
func (s *Store) WriteAgentProfile(slug string, profile AgentProfile) (string, error) {
	rel := filepath.ToSlash(filepath.Join("agents", profile.Name, "profile.json"))
	if err := s.writeJSON(slug, rel, profile); err != nil {
		return "", err
	}
	return rel, nil
}

// WriteClaimRecord writes claims/<sha1(path)>.json and returns its
// repo-relative path.
func (s *Store) WriteClaimRecord(slug string, rec ClaimRecord) (string, error) {
	rel := filepath.ToSlash(filepath.Join("claims", PathHash(rec.PathPattern)+".json"))
	if err := s.writeJSON(slug, rel, rec); err != nil {
		return "", err
	}
	return rel, nil
}

// Commit stages relPaths in the project archive and commits with message.
func (s *Store) Commit(slug, message string, relPaths []string) error {
	return gitCommit(s.RepoDir(slug), message, relPaths)
}

// Head returns the archive HEAD hash, "" when the archive has no commits.
func (s *Store) Head(slug string) (string, error) {
	return gitHead(s.RepoDir(slug))
}

// RecentCommits returns up to limit commit subjects, newest first.
func (s *Store) RecentCommits(slug string, limit int) ([]string, error) {
	return gitLog(s.RepoDir(slug), limit)
}

// WalkMessages visits every canonical message file under messages/, in
// lexical (therefore chronological) order.
func (s *Store) WalkMessages(slug string, fn func(relPath string, meta MessageMeta, body string) error) error {
	root := filepath.Join(s.RepoDir(slug), "messages")
	return walkFiles(root, ".md", func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read message %s: %w", path, err)
		}
		meta, body, err := ParseMessage(data)
		if err != nil {
			return fmt.Errorf("parse message %s: %w", path, err)
		}
		rel, err := filepath.Rel(s.RepoDir(slug), path)
		if err != nil {
			rel = path
		}
		return fn(filepath.ToSlash(rel), meta, body)
	})
}

// IsLocalAgentName reports whether an address names an agent of this
// archive's own project. Qualified cross-project forms carry '@', ':', or
// '#'; plain names never do.
func IsLocalAgentName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "@:#")
}

// WalkInboxCopies visits every per-agent inbox copy, reporting the owning
// agent and the message id. Rebuilds use this to recover bcc deliveries,
// which the shared front matter deliberately omits.
func (s *Store) WalkInboxCopies(slug string, fn func(agent, messageID string) error) error {
	root := filepath.Join(s.RepoDir(slug), "agents")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read agents dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		agent := e.Name()
		inboxRoot := filepath.Join(root, agent, "inbox")
		err := walkFiles(inboxRoot, ".md", func(path string) error {
			id := strings.TrimSuffix(filepath.Base(path), ".md")
			return fn(agent, id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// WalkAgentProfiles visits every agents/<Name>/profile.json.
func (s *Store) WalkAgentProfiles(slug string, fn func(profile AgentProfile) error) error {
	root := filepath.Join(s.RepoDir(slug), "agents")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read agents dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name(), "profile.json"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read profile %s: %w", e.Name(), err)
		}
		var profile AgentProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			return fmt.Errorf("parse profile %s: %w", e.Name(), err)
		}
		if err := fn(profile); err != nil {
			return err
		}
	}
	return nil
}

// WalkClaimRecords visits every claims/<hash>.json.
func (s *Store) WalkClaimRecords(slug string, fn func(rec ClaimRecord) error) error {
	root := filepath.Join(s.RepoDir(slug), "claims")
	return walkFiles(root, ".json", func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read claim %s: %w", path, err)
		}
		var rec ClaimRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("parse claim %s: %w", path, err)
		}
		return fn(rec)
	})
}

// PathHash returns the hex SHA-1 of a claim path pattern, naming its record
// file under claims/.
func PathHash(pathPattern string) string {
	sum := sha1.Sum([]byte(pathPattern))
	return hex.EncodeToString(sum[:])
}

func (s *Store) writeJSON(slug, rel string, v any) error {
	path := filepath.Join(s.RepoDir(slug), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", rel, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func walkFiles(root, ext string, fn func(path string) error) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		return fn(path)
	})
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
