package index

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

// InboxQuery narrows a fetch-inbox scan. The zero value returns the 20
// newest unread messages addressed to the agent.
type InboxQuery struct {
	UrgentOnly    bool
	IncludeRead   bool
	Since         *time.Time // strictly newer than
	Limit         int
	IncludeBodies bool
}

// InboxItem is one inbox row: the message plus the agent's own copy marks.
type InboxItem struct {
	Message domain.Message
	Kind    domain.RecipientKind
	ReadTS  *time.Time
	AckTS   *time.Time
}

// InsertMessage records a delivered message and its recipient rows. A
// recipient named under several kinds keeps the strongest one (to > cc >
// bcc).
func (s *Store) InsertMessage(m domain.Message, recipients []domain.Recipient) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("insert message begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO messages (id, project_id, thread_id, subject, body_md, from_agent, created_ts, importance, ack_required)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.ThreadID, m.Subject, m.BodyMD, m.From,
		fmtTime(m.CreatedTS), string(m.Importance), boolInt(m.AckRequired),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	for _, r := range recipients {
		if _, err := tx.Exec(
			`INSERT INTO message_recipients (message_id, agent_name, kind, read_ts, ack_ts)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(message_id, agent_name) DO NOTHING`,
			m.ID, r.AgentName, string(r.Kind), fmtNullTime(r.ReadTS), fmtNullTime(r.AckTS),
		); err != nil {
			return fmt.Errorf("insert recipient: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert message commit: %w", err)
	}
	return nil
}

// AddRecipients inserts extra recipient rows for an existing message.
// The rebuild path uses this to restore bcc deliveries recovered from
// per-agent inbox copies. Existing rows win.
func (s *Store) AddRecipients(messageID string, recipients []domain.Recipient) error {
	for _, r := range recipients {
		if _, err := s.db.Exec(
			`INSERT INTO message_recipients (message_id, agent_name, kind, read_ts, ack_ts)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(message_id, agent_name) DO NOTHING`,
			messageID, r.AgentName, string(r.Kind), fmtNullTime(r.ReadTS), fmtNullTime(r.AckTS),
		); err != nil {
			return fmt.Errorf("add recipient: %w", err)
		}
	}
	return nil
}

// MessageByID fetches one message and its recipient rows.
func (s *Store) MessageByID(projectID int64, id string) (domain.Message, []domain.Recipient, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, thread_id, subject, body_md, from_agent, created_ts, importance, ack_required
		 FROM messages WHERE project_id = ? AND id = ?`,
		projectID, id,
	)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return domain.Message{}, nil, domain.Errorf(domain.ErrInvalidArgument, "unknown message id %q", id)
	}
	if err != nil {
		return domain.Message{}, nil, err
	}

	rows, err := s.db.Query(
		`SELECT message_id, agent_name, kind, read_ts, ack_ts FROM message_recipients WHERE message_id = ? ORDER BY agent_name`,
		id,
	)
	if err != nil {
		return domain.Message{}, nil, fmt.Errorf("message recipients: %w", err)
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var kind string
		var readTS, ackTS sql.NullString
		if err := rows.Scan(&r.MessageID, &r.AgentName, &kind, &readTS, &ackTS); err != nil {
			return domain.Message{}, nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.Kind = domain.RecipientKind(kind)
		if r.ReadTS, err = nullTime(readTS, "recipient read_ts"); err != nil {
			return domain.Message{}, nil, err
		}
		if r.AckTS, err = nullTime(ackTS, "recipient ack_ts"); err != nil {
			return domain.Message{}, nil, err
		}
		recipients = append(recipients, r)
	}
	return m, recipients, rows.Err()
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var m domain.Message
	var created, importance string
	var ack int
	err := row.Scan(&m.ID, &m.ProjectID, &m.ThreadID, &m.Subject, &m.BodyMD, &m.From, &created, &importance, &ack)
	if err != nil {
		return domain.Message{}, err
	}
	if m.CreatedTS, err = parseTime(created, "message "+m.ID); err != nil {
		return domain.Message{}, err
	}
	m.Importance, _ = domain.ParseImportance(importance)
	m.AckRequired = ack != 0
	return m, nil
}

// Inbox returns messages addressed to the agent, newest first.
func (s *Store) Inbox(projectID int64, agent string, q InboxQuery) ([]InboxItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	var b strings.Builder
	b.WriteString(
		`SELECT m.id, m.project_id, m.thread_id, m.subject, m.body_md, m.from_agent, m.created_ts, m.importance, m.ack_required,
			r.kind, r.read_ts, r.ack_ts
		 FROM messages m
		 JOIN message_recipients r ON r.message_id = m.id
		 WHERE m.project_id = ? AND r.agent_name = ? COLLATE NOCASE`)
	args := []any{projectID, agent}
	if !q.IncludeRead {
		b.WriteString(` AND r.read_ts IS NULL`)
	}
	if q.UrgentOnly {
		b.WriteString(` AND m.importance IN ('high', 'urgent')`)
	}
	if q.Since != nil {
		b.WriteString(` AND m.created_ts > ?`)
		args = append(args, fmtTime(*q.Since))
	}
	b.WriteString(` ORDER BY m.created_ts DESC, m.id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("inbox query: %w", err)
	}
	defer rows.Close()

	var out []InboxItem
	for rows.Next() {
		var item InboxItem
		var created, importance, kind string
		var ack int
		var readTS, ackTS sql.NullString
		m := &item.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.ThreadID, &m.Subject, &m.BodyMD, &m.From, &created, &importance, &ack,
			&kind, &readTS, &ackTS); err != nil {
			return nil, fmt.Errorf("scan inbox row: %w", err)
		}
		if m.CreatedTS, err = parseTime(created, "message "+m.ID); err != nil {
			return nil, err
		}
		m.Importance, _ = domain.ParseImportance(importance)
		m.AckRequired = ack != 0
		item.Kind = domain.RecipientKind(kind)
		if item.ReadTS, err = nullTime(readTS, "inbox read_ts"); err != nil {
			return nil, err
		}
		if item.AckTS, err = nullTime(ackTS, "inbox ack_ts"); err != nil {
			return nil, err
		}
		if !q.IncludeBodies {
			m.BodyMD = ""
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Outbox returns messages sent by the agent, newest first.
func (s *Store) Outbox(projectID int64, agent string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, project_id, thread_id, subject, body_md, from_agent, created_ts, importance, ack_required
		 FROM messages WHERE project_id = ? AND from_agent = ? COLLATE NOCASE
		 ORDER BY created_ts DESC, id DESC LIMIT ?`,
		projectID, agent, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox query: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ThreadMessages returns a thread in chronological order. The thread key
// matches either the stored thread_id or a root message's own id.
func (s *Store) ThreadMessages(projectID int64, threadID string) ([]domain.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, thread_id, subject, body_md, from_agent, created_ts, importance, ack_required
		 FROM messages WHERE project_id = ? AND (thread_id = ? OR id = ?)
		 ORDER BY created_ts ASC, id ASC`,
		projectID, threadID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("thread query: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]domain.Message, error) {
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ThreadHead is one row of a project's thread listing: the newest message's
// subject and sender plus the thread's message count.
type ThreadHead struct {
	ThreadID string
	Subject  string
	LastFrom string
	Messages int
	LastTS   time.Time
}

// RecentThreads lists a project's threads, most recently active first. The
// subject and sender come from the newest message of each thread.
func (s *Store) RecentThreads(projectID int64, limit int) ([]ThreadHead, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT g.thread_id, g.n, g.last_ts, m.subject, m.from_agent
		 FROM (
			SELECT thread_id, COUNT(*) AS n, MAX(created_ts) AS last_ts
			FROM messages WHERE project_id = ?
			GROUP BY thread_id
		 ) g
		 JOIN messages m ON m.project_id = ? AND m.thread_id = g.thread_id AND m.created_ts = g.last_ts
		 GROUP BY g.thread_id
		 ORDER BY g.last_ts DESC, g.thread_id DESC
		 LIMIT ?`,
		projectID, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadHead
	for rows.Next() {
		var h ThreadHead
		var last string
		if err := rows.Scan(&h.ThreadID, &h.Messages, &last, &h.Subject, &h.LastFrom); err != nil {
			return nil, fmt.Errorf("scan thread head: %w", err)
		}
		if h.LastTS, err = parseTime(last, "thread "+h.ThreadID); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkRead stamps the agent's copy as read. Idempotent: an already-read
// copy keeps its original timestamp, and changed reports false.
func (s *Store) MarkRead(projectID int64, messageID, agent string, ts time.Time) (time.Time, bool, error) {
	res, err := s.db.Exec(
		`UPDATE message_recipients SET read_ts = ?
		 WHERE message_id = ? AND agent_name = ? COLLATE NOCASE AND read_ts IS NULL`,
		fmtTime(ts), messageID, agent,
	)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("mark read: %w", err)
	}
	n, _ := res.RowsAffected()

	var readTS sql.NullString
	err = s.db.QueryRow(
		`SELECT read_ts FROM message_recipients WHERE message_id = ? AND agent_name = ? COLLATE NOCASE`,
		messageID, agent,
	).Scan(&readTS)
	if err == sql.ErrNoRows {
		return time.Time{}, false, domain.Errorf(domain.ErrInvalidArgument, "message %q is not addressed to %q", messageID, agent)
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("mark read fetch: %w", err)
	}
	at, err := nullTime(readTS, "read_ts")
	if err != nil || at == nil {
		return time.Time{}, false, err
	}
	return *at, n > 0, nil
}

// AckMarks is the stored read/ack state of one recipient copy. Updated
// reports whether the triggering call wrote the ack stamp (false when the
// copy was already acknowledged).
type AckMarks struct {
	ReadTS  *time.Time
	AckTS   *time.Time
	Updated bool
}

// Acknowledge stamps the agent's copy as acknowledged (and read, when it
// was not yet). Idempotent like MarkRead.
func (s *Store) Acknowledge(projectID int64, messageID, agent string, ts time.Time) (AckMarks, error) {
	stamp := fmtTime(ts)
	res, err := s.db.Exec(
		`UPDATE message_recipients SET
			read_ts = COALESCE(read_ts, ?),
			ack_ts = ?
		 WHERE message_id = ? AND agent_name = ? COLLATE NOCASE AND ack_ts IS NULL`,
		stamp, stamp, messageID, agent,
	)
	if err != nil {
		return AckMarks{}, fmt.Errorf("acknowledge: %w", err)
	}
	n, _ := res.RowsAffected()

	var readTS, ackTS sql.NullString
	err = s.db.QueryRow(
		`SELECT read_ts, ack_ts FROM message_recipients WHERE message_id = ? AND agent_name = ? COLLATE NOCASE`,
		messageID, agent,
	).Scan(&readTS, &ackTS)
	if err == sql.ErrNoRows {
		return AckMarks{}, domain.Errorf(domain.ErrInvalidArgument, "message %q is not addressed to %q", messageID, agent)
	}
	if err != nil {
		return AckMarks{}, fmt.Errorf("acknowledge fetch: %w", err)
	}
	marks := AckMarks{Updated: n > 0}
	if marks.ReadTS, err = nullTime(readTS, "read_ts"); err != nil {
		return AckMarks{}, err
	}
	if marks.AckTS, err = nullTime(ackTS, "ack_ts"); err != nil {
		return AckMarks{}, err
	}
	return marks, nil
}

// PendingAck lists recipient copies whose acknowledgement is still missing
// on ack-required messages older than cutoff. Used by the janitor nag.
type PendingAck struct {
	MessageID string
	Subject   string
	From      string
	Agent     string
	CreatedTS time.Time
}

// PendingAcks scans one project for overdue acknowledgements.
func (s *Store) PendingAcks(projectID int64, cutoff time.Time) ([]PendingAck, error) {
	rows, err := s.db.Query(
		`SELECT m.id, m.subject, m.from_agent, r.agent_name, m.created_ts
		 FROM messages m
		 JOIN message_recipients r ON r.message_id = m.id
		 WHERE m.project_id = ? AND m.ack_required = 1 AND r.ack_ts IS NULL AND m.created_ts <= ?
		 ORDER BY m.created_ts ASC`,
		projectID, fmtTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("pending acks: %w", err)
	}
	defer rows.Close()

	var out []PendingAck
	for rows.Next() {
		var p PendingAck
		var created string
		if err := rows.Scan(&p.MessageID, &p.Subject, &p.From, &p.Agent, &created); err != nil {
			return nil, fmt.Errorf("scan pending ack: %w", err)
		}
		if p.CreatedTS, err = parseTime(created, "pending ack"); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SharedThread reports whether two agents both appear, as sender or
// recipient, somewhere in one common thread. One of the auto contact-policy
// signals.
func (s *Store) SharedThread(projectID int64, a, b string) (bool, error) {
	var exists int
	err := s.db.QueryRow(
		`SELECT EXISTS (
			SELECT 1
			FROM messages ma
			JOIN messages mb ON mb.project_id = ma.project_id AND mb.thread_id = ma.thread_id
			WHERE ma.project_id = ?
			  AND (ma.from_agent = ? COLLATE NOCASE
				OR EXISTS (SELECT 1 FROM message_recipients ra WHERE ra.message_id = ma.id AND ra.agent_name = ? COLLATE NOCASE))
			  AND (mb.from_agent = ? COLLATE NOCASE
				OR EXISTS (SELECT 1 FROM message_recipients rb WHERE rb.message_id = mb.id AND rb.agent_name = ? COLLATE NOCASE))
		 )`,
		projectID, a, a, b, b,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("shared thread: %w", err)
	}
	return exists != 0, nil
}

// UnreadCounts reports the agent's unread and unacknowledged totals for
// piggyback banners.
func (s *Store) UnreadCounts(projectID int64, agent string) (unread, ackPending int, err error) {
	err = s.db.QueryRow(
		`SELECT
			COUNT(CASE WHEN r.read_ts IS NULL THEN 1 END),
			COUNT(CASE WHEN m.ack_required = 1 AND r.ack_ts IS NULL THEN 1 END)
		 FROM messages m
		 JOIN message_recipients r ON r.message_id = m.id
		 WHERE m.project_id = ? AND r.agent_name = ? COLLATE NOCASE`,
		projectID, agent,
	).Scan(&unread, &ackPending)
	if err != nil {
		return 0, 0, fmt.Errorf("unread counts: %w", err)
	}
	return unread, ackPending, nil
}

// SearchHit is one full-text search result.
type SearchHit struct {
	Message domain.Message
	Snippet string
}

// Search runs an FTS5 MATCH over subjects and bodies. The query string
// uses the FTS5 grammar directly (phrases, prefix *, AND/OR/NOT); input
// that fails to parse is retried as plain implicit-AND tokens. Hits come
// back newest first.
func (s *Store) Search(projectID int64, query string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	hits, err := s.searchMatch(projectID, query, limit)
	if isFTSSyntaxError(err) {
		fallback := sanitizeFTSQuery(query)
		if fallback == "" {
			return nil, nil
		}
		hits, err = s.searchMatch(projectID, fallback, limit)
	}
	return hits, err
}

func (s *Store) searchMatch(projectID int64, match string, limit int) ([]SearchHit, error) {
	rows, err := s.db.Query(
		`SELECT m.id, m.project_id, m.thread_id, m.subject, m.body_md, m.from_agent, m.created_ts, m.importance, m.ack_required,
			snippet(fts_messages, 1, '>>>', '<<<', '...', 24)
		 FROM fts_messages f
		 JOIN messages m ON m.rowid = f.rowid
		 WHERE fts_messages MATCH ? AND m.project_id = ?
		 ORDER BY m.created_ts DESC, m.id DESC
		 LIMIT ?`,
		match, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var hit SearchHit
		var created, importance string
		var ack int
		m := &hit.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.ThreadID, &m.Subject, &m.BodyMD, &m.From, &created, &importance, &ack, &hit.Snippet); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		if m.CreatedTS, err = parseTime(created, "search "+m.ID); err != nil {
			return nil, err
		}
		m.Importance, _ = domain.ParseImportance(importance)
		m.AckRequired = ack != 0
		out = append(out, hit)
	}
	return out, rows.Err()
}

// sanitizeFTSQuery strips FTS5 operators and joins the remaining tokens
// with implicit AND. Fallback path for queries the parser rejects.
func sanitizeFTSQuery(q string) string {
	replacer := strings.NewReplacer(
		"\"", "",
		"'", "",
		"(", "",
		")", "",
		"*", "",
		":", "",
		"^", "",
		"{", "",
		"}", "",
	)
	cleaned := replacer.Replace(q)

	words := strings.Fields(cleaned)
	var tokens []string
	for _, w := range words {
		if w != "" && w != "AND" && w != "OR" && w != "NOT" && w != "NEAR" {
			tokens = append(tokens, w)
		}
	}
	return strings.Join(tokens, " ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
