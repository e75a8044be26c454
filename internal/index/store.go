// Package index maintains the SQLite mirror of the archive: relational rows
// for projects, agents, messages, claims, and contact links, plus an FTS5
// table over message subjects and bodies.
//
// The index is disposable. Every row is derived from the archive and can be
// rebuilt from it; writers therefore always touch the archive first and the
// index second. FTS rows track the messages table through triggers so search
// never drifts from the relational view.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/agentmail/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	human_key TEXT NOT NULL UNIQUE,
	slug TEXT NOT NULL UNIQUE,
	created_ts TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	program TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	task_description TEXT NOT NULL DEFAULT '',
	inception_ts TEXT NOT NULL,
	last_active_ts TEXT NOT NULL,
	contact_policy TEXT NOT NULL DEFAULT 'auto',
	UNIQUE (project_id, name)
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	thread_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	body_md TEXT NOT NULL,
	from_agent TEXT NOT NULL,
	created_ts TEXT NOT NULL,
	importance TEXT NOT NULL DEFAULT 'normal',
	ack_required INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS message_recipients (
	message_id TEXT NOT NULL REFERENCES messages(id),
	agent_name TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'to',
	read_ts TEXT,
	ack_ts TEXT,
	PRIMARY KEY (message_id, agent_name)
);
CREATE TABLE IF NOT EXISTS file_claims (
	id TEXT PRIMARY KEY,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	agent_name TEXT NOT NULL,
	path TEXT NOT NULL,
	exclusive INTEGER NOT NULL DEFAULT 1,
	reason TEXT NOT NULL DEFAULT '',
	created_ts TEXT NOT NULL,
	expires_ts TEXT NOT NULL,
	released_ts TEXT
);
CREATE TABLE IF NOT EXISTS contacts (
	project_id INTEGER NOT NULL REFERENCES projects(id),
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	reason TEXT NOT NULL DEFAULT '',
	created_ts TEXT NOT NULL,
	decided_ts TEXT,
	PRIMARY KEY (project_id, from_agent, to_agent)
);
CREATE TABLE IF NOT EXISTS agent_links (
	from_project_id INTEGER NOT NULL REFERENCES projects(id),
	from_agent TEXT NOT NULL,
	to_project_id INTEGER NOT NULL REFERENCES projects(id),
	to_agent TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	reason TEXT NOT NULL DEFAULT '',
	created_ts TEXT NOT NULL,
	decided_ts TEXT,
	PRIMARY KEY (from_project_id, from_agent, to_project_id, to_agent)
);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_messages USING fts5(
	subject,
	body_md,
	content='messages',
	content_rowid='rowid',
	tokenize='porter unicode61'
);
CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
	INSERT INTO fts_messages(rowid, subject, body_md) VALUES (new.rowid, new.subject, new.body_md);
END;
CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
	INSERT INTO fts_messages(fts_messages, rowid, subject, body_md) VALUES ('delete', old.rowid, old.subject, old.body_md);
END;
CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE ON messages BEGIN
	INSERT INTO fts_messages(fts_messages, rowid, subject, body_md) VALUES ('delete', old.rowid, old.subject, old.body_md);
	INSERT INTO fts_messages(rowid, subject, body_md) VALUES (new.rowid, new.subject, new.body_md);
END;
`

// indexes for the hot query paths: inbox pulls, thread traversal, and
// active-claim scans.
const indexes = `
CREATE INDEX IF NOT EXISTS idx_messages_project_created ON messages(project_id, created_ts DESC);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(project_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_recipients_agent ON message_recipients(agent_name);
CREATE INDEX IF NOT EXISTS idx_claims_project ON file_claims(project_id, released_ts, expires_ts);
`

// Store wraps the SQLite index database. Methods are safe for concurrent
// use; write ordering across the archive and the index is the caller's
// responsibility (see internal/app).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the index database at path, applying the schema
// and migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("index mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index indexes: %w", err)
	}
	// Migrations for databases created by older builds. Errors are ignored
	// when the column already exists.
	_, _ = db.Exec("ALTER TABLE agents ADD COLUMN contact_policy TEXT NOT NULL DEFAULT 'auto'")
	_, _ = db.Exec("ALTER TABLE file_claims ADD COLUMN reason TEXT NOT NULL DEFAULT ''")
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping verifies the database is open and answering queries.
func (s *Store) Ping() error {
	if s.db == nil {
		return fmt.Errorf("index: store is closed")
	}
	var one int
	if err := s.db.QueryRow("SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("index ping: %w", err)
	}
	return nil
}

// parseTime parses an RFC3339Nano timestamp column.
func parseTime(value, context string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, value, err)
	}
	return t, nil
}

// fmtTime formats a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullTime converts an optional timestamp column to *time.Time.
func nullTime(v sql.NullString, context string) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String, context)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// fmtNullTime formats an optional timestamp for storage.
func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// UpsertProject records a project row, returning the stored row. An
// existing row with the same slug is returned unchanged.
func (s *Store) UpsertProject(humanKey, slug string, createdTS time.Time) (domain.Project, error) {
	if _, err := s.db.Exec(
		`INSERT INTO projects (human_key, slug, created_ts) VALUES (?, ?, ?)
		 ON CONFLICT(slug) DO NOTHING`,
		humanKey, slug, fmtTime(createdTS),
	); err != nil {
		return domain.Project{}, fmt.Errorf("upsert project: %w", err)
	}
	return s.ProjectBySlug(slug)
}

// ProjectBySlug fetches one project by its slug.
func (s *Store) ProjectBySlug(slug string) (domain.Project, error) {
	row := s.db.QueryRow(`SELECT id, human_key, slug, created_ts FROM projects WHERE slug = ?`, slug)
	return scanProject(row, slug)
}

// ProjectByID fetches one project by its row id.
func (s *Store) ProjectByID(id int64) (domain.Project, error) {
	row := s.db.QueryRow(`SELECT id, human_key, slug, created_ts FROM projects WHERE id = ?`, id)
	return scanProject(row, fmt.Sprintf("#%d", id))
}

// ProjectByIdentifier resolves a project from a slug, a human key, or a
// path whose derived slug matches.
func (s *Store) ProjectByIdentifier(identifier string) (domain.Project, error) {
	row := s.db.QueryRow(
		`SELECT id, human_key, slug, created_ts FROM projects WHERE slug = ? OR human_key = ? LIMIT 1`,
		identifier, identifier,
	)
	p, err := scanProject(row, identifier)
	if err == nil {
		return p, nil
	}
	if domain.CodeOf(err) != domain.ErrProjectNotFound {
		return domain.Project{}, err
	}
	// Last resort: treat the identifier as a human key and look up its slug.
	return s.ProjectBySlug(domain.Slug(identifier))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner, label string) (domain.Project, error) {
	var p domain.Project
	var created string
	err := row.Scan(&p.ID, &p.HumanKey, &p.Slug, &created)
	if err == sql.ErrNoRows {
		return domain.Project{}, domain.Errorf(domain.ErrProjectNotFound, "project %q is not registered", label)
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("scan project: %w", err)
	}
	if p.CreatedTS, err = parseTime(created, "project "+p.Slug); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListProjects returns all projects ordered by slug.
func (s *Store) ListProjects() ([]domain.Project, error) {
	rows, err := s.db.Query(`SELECT id, human_key, slug, created_ts FROM projects ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveAgent inserts or updates an agent keyed by (project, name) and
// returns the stored row with its assigned id.
func (s *Store) SaveAgent(a domain.Agent) (domain.Agent, error) {
	if _, err := s.db.Exec(
		`INSERT INTO agents (project_id, name, program, model, task_description, inception_ts, last_active_ts, contact_policy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, name) DO UPDATE SET
			program = excluded.program,
			model = excluded.model,
			task_description = excluded.task_description,
			last_active_ts = excluded.last_active_ts,
			contact_policy = excluded.contact_policy`,
		a.ProjectID, a.Name, a.Program, a.Model, a.TaskDescription,
		fmtTime(a.InceptionTS), fmtTime(a.LastActiveTS), string(a.ContactPolicy),
	); err != nil {
		return domain.Agent{}, fmt.Errorf("save agent: %w", err)
	}
	return s.AgentByName(a.ProjectID, a.Name)
}

// AgentByName fetches one agent by name, case-insensitively.
func (s *Store) AgentByName(projectID int64, name string) (domain.Agent, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, name, program, model, task_description, inception_ts, last_active_ts, contact_policy
		 FROM agents WHERE project_id = ? AND name = ? COLLATE NOCASE LIMIT 1`,
		projectID, name,
	)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return domain.Agent{}, domain.Errorf(domain.ErrAgentNotRegistered, "agent %q is not registered in this project", name)
	}
	return a, err
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var inception, lastActive, policy string
	err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Program, &a.Model, &a.TaskDescription, &inception, &lastActive, &policy)
	if err != nil {
		return domain.Agent{}, err
	}
	if a.InceptionTS, err = parseTime(inception, "agent "+a.Name); err != nil {
		return domain.Agent{}, err
	}
	if a.LastActiveTS, err = parseTime(lastActive, "agent "+a.Name); err != nil {
		return domain.Agent{}, err
	}
	a.ContactPolicy, _ = domain.ParseContactPolicy(policy)
	return a, nil
}

// ListAgents returns a project's agents ordered by name.
func (s *Store) ListAgents(projectID int64) ([]domain.Agent, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, name, program, model, task_description, inception_ts, last_active_ts, contact_policy
		 FROM agents WHERE project_id = ? ORDER BY name COLLATE NOCASE`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TouchAgent bumps an agent's last_active timestamp.
func (s *Store) TouchAgent(projectID int64, name string, ts time.Time) error {
	_, err := s.db.Exec(
		`UPDATE agents SET last_active_ts = ? WHERE project_id = ? AND name = ? COLLATE NOCASE`,
		fmtTime(ts), projectID, name,
	)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return nil
}

// SetAgentPolicy updates an agent's contact policy.
func (s *Store) SetAgentPolicy(projectID int64, name string, policy domain.ContactPolicy) error {
	res, err := s.db.Exec(
		`UPDATE agents SET contact_policy = ? WHERE project_id = ? AND name = ? COLLATE NOCASE`,
		string(policy), projectID, name,
	)
	if err != nil {
		return fmt.Errorf("set agent policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.ErrAgentNotRegistered, "agent %q is not registered in this project", name)
	}
	return nil
}

// PurgeProject removes every indexed row belonging to the project. Used by
// the rebuild path before replaying the archive.
func (s *Store) PurgeProject(projectID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("purge begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM message_recipients WHERE message_id IN (SELECT id FROM messages WHERE project_id = ?)`,
		projectID,
	); err != nil {
		return fmt.Errorf("purge recipients: %w", err)
	}
	for _, stmt := range []string{
		`DELETE FROM messages WHERE project_id = ?`,
		`DELETE FROM file_claims WHERE project_id = ?`,
		`DELETE FROM contacts WHERE project_id = ?`,
		`DELETE FROM agents WHERE project_id = ?`,
	} {
		if _, err := tx.Exec(stmt, projectID); err != nil {
			return fmt.Errorf("purge project: %w", err)
		}
	}
	if _, err := tx.Exec(
		`DELETE FROM agent_links WHERE from_project_id = ? OR to_project_id = ?`,
		projectID, projectID,
	); err != nil {
		return fmt.Errorf("purge links: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("purge commit: %w", err)
	}
	return nil
}

// Stats summarizes index contents for health reporting.
type Stats struct {
	Projects int `json:"projects"`
	Agents   int `json:"agents"`
	Messages int `json:"messages"`
	Claims   int `json:"file_claims"`
}

// CollectStats counts the main tables.
func (s *Store) CollectStats() (Stats, error) {
	var st Stats
	for _, q := range []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM projects`, &st.Projects},
		{`SELECT COUNT(*) FROM agents`, &st.Agents},
		{`SELECT COUNT(*) FROM messages`, &st.Messages},
		{`SELECT COUNT(*) FROM file_claims WHERE released_ts IS NULL`, &st.Claims},
	} {
		if err := s.db.QueryRow(q.query).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}

// isFTSSyntaxError reports whether the error came from the FTS5 query
// parser rather than from the database itself.
func isFTSSyntaxError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") || strings.Contains(msg, "unknown special query") || strings.Contains(msg, "malformed MATCH")
}
