package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

// InsertClaim records a granted lease.
func (s *Store) InsertClaim(c domain.Claim) error {
	_, err := s.db.Exec(
		`INSERT INTO file_claims (id, project_id, agent_name, path, exclusive, reason, created_ts, expires_ts, released_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.AgentName, c.Path, boolInt(c.Exclusive), c.Reason,
		fmtTime(c.CreatedTS), fmtTime(c.ExpiresTS), fmtNullTime(c.ReleasedTS),
	)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

// ActiveClaims returns the project's live leases: not released, not expired.
func (s *Store) ActiveClaims(projectID int64, now time.Time) ([]domain.Claim, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, agent_name, path, exclusive, reason, created_ts, expires_ts, released_ts
		 FROM file_claims
		 WHERE project_id = ? AND released_ts IS NULL AND expires_ts > ?
		 ORDER BY created_ts ASC, id ASC`,
		projectID, fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("active claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ClaimsByAgent returns the agent's unreleased leases, expired ones
// included unless activeOnly.
func (s *Store) ClaimsByAgent(projectID int64, agent string, now time.Time, activeOnly bool) ([]domain.Claim, error) {
	query := `SELECT id, project_id, agent_name, path, exclusive, reason, created_ts, expires_ts, released_ts
		 FROM file_claims
		 WHERE project_id = ? AND agent_name = ? COLLATE NOCASE AND released_ts IS NULL`
	args := []any{projectID, agent}
	if activeOnly {
		query += ` AND expires_ts > ?`
		args = append(args, fmtTime(now))
	}
	query += ` ORDER BY created_ts ASC, id ASC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("claims by agent: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ReleaseClaim stamps one lease released. No-op when already released.
func (s *Store) ReleaseClaim(id string, ts time.Time) error {
	_, err := s.db.Exec(
		`UPDATE file_claims SET released_ts = ? WHERE id = ? AND released_ts IS NULL`,
		fmtTime(ts), id,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// RenewClaim moves one lease's expiry.
func (s *Store) RenewClaim(id string, expires time.Time) error {
	res, err := s.db.Exec(
		`UPDATE file_claims SET expires_ts = ? WHERE id = ? AND released_ts IS NULL`,
		fmtTime(expires), id,
	)
	if err != nil {
		return fmt.Errorf("renew claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.ErrInvalidArgument, "claim %q is not active", id)
	}
	return nil
}

// SweepExpiredClaims marks one project's expired unreleased leases as
// released at now. Runs at the top of every reservation call.
func (s *Store) SweepExpiredClaims(projectID int64, now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE file_claims SET released_ts = ? WHERE project_id = ? AND released_ts IS NULL AND expires_ts < ?`,
		fmtTime(now), projectID, fmtTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ProjectClaims lists a project's leases newest first, released and expired
// ones included unless activeOnly.
func (s *Store) ProjectClaims(projectID int64, now time.Time, activeOnly bool) ([]domain.Claim, error) {
	query := `SELECT id, project_id, agent_name, path, exclusive, reason, created_ts, expires_ts, released_ts
		 FROM file_claims WHERE project_id = ?`
	args := []any{projectID}
	if activeOnly {
		query += ` AND released_ts IS NULL AND expires_ts > ?`
		args = append(args, fmtTime(now))
	}
	query += ` ORDER BY created_ts DESC, id DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("project claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ExpiredClaims returns unreleased leases whose expiry has passed, across
// all projects. The janitor releases these.
func (s *Store) ExpiredClaims(now time.Time) ([]domain.Claim, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, agent_name, path, exclusive, reason, created_ts, expires_ts, released_ts
		 FROM file_claims
		 WHERE released_ts IS NULL AND expires_ts <= ?
		 ORDER BY project_id ASC, created_ts ASC`,
		fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("expired claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

func collectClaims(rows *sql.Rows) ([]domain.Claim, error) {
	var out []domain.Claim
	for rows.Next() {
		var c domain.Claim
		var exclusive int
		var created, expires string
		var released sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.AgentName, &c.Path, &exclusive, &c.Reason, &created, &expires, &released); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.Exclusive = exclusive != 0
		var err error
		if c.CreatedTS, err = parseTime(created, "claim "+c.ID); err != nil {
			return nil, err
		}
		if c.ExpiresTS, err = parseTime(expires, "claim "+c.ID); err != nil {
			return nil, err
		}
		if c.ReleasedTS, err = nullTime(released, "claim "+c.ID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertContact records a same-project contact request, keeping an
// existing decided row unless the new row changes state.
func (s *Store) UpsertContact(c domain.Contact) error {
	_, err := s.db.Exec(
		`INSERT INTO contacts (project_id, from_agent, to_agent, state, reason, created_ts, decided_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, from_agent, to_agent) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			decided_ts = excluded.decided_ts`,
		c.ProjectID, c.FromAgent, c.ToAgent, string(c.State), c.Reason,
		fmtTime(c.CreatedTS), fmtNullTime(c.DecidedTS),
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// ContactBetween fetches the directed contact row from one agent to
// another. sql.ErrNoRows surfaces as ok=false.
func (s *Store) ContactBetween(projectID int64, from, to string) (domain.Contact, bool, error) {
	row := s.db.QueryRow(
		`SELECT project_id, from_agent, to_agent, state, reason, created_ts, decided_ts
		 FROM contacts WHERE project_id = ? AND from_agent = ? COLLATE NOCASE AND to_agent = ? COLLATE NOCASE`,
		projectID, from, to,
	)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return domain.Contact{}, false, nil
	}
	if err != nil {
		return domain.Contact{}, false, err
	}
	return c, true, nil
}

func scanContact(row rowScanner) (domain.Contact, error) {
	var c domain.Contact
	var state, created string
	var decided sql.NullString
	err := row.Scan(&c.ProjectID, &c.FromAgent, &c.ToAgent, &state, &c.Reason, &created, &decided)
	if err != nil {
		return domain.Contact{}, err
	}
	c.State = domain.LinkState(state)
	if c.CreatedTS, err = parseTime(created, "contact"); err != nil {
		return domain.Contact{}, err
	}
	if c.DecidedTS, err = nullTime(decided, "contact decided_ts"); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

// ContactsOf lists contact rows touching the agent in either direction,
// newest first.
func (s *Store) ContactsOf(projectID int64, agent string) ([]domain.Contact, error) {
	rows, err := s.db.Query(
		`SELECT project_id, from_agent, to_agent, state, reason, created_ts, decided_ts
		 FROM contacts
		 WHERE project_id = ? AND (from_agent = ? COLLATE NOCASE OR to_agent = ? COLLATE NOCASE)
		 ORDER BY created_ts DESC`,
		projectID, agent, agent,
	)
	if err != nil {
		return nil, fmt.Errorf("contacts of: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertLink records a directed cross-project link row.
func (s *Store) UpsertLink(l domain.AgentLink) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_links (from_project_id, from_agent, to_project_id, to_agent, state, reason, created_ts, decided_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(from_project_id, from_agent, to_project_id, to_agent) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			decided_ts = excluded.decided_ts`,
		l.FromProjectID, l.FromAgent, l.ToProjectID, l.ToAgent, string(l.State), l.Reason,
		fmtTime(l.CreatedTS), fmtNullTime(l.DecidedTS),
	)
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

// LinkBetween fetches the directed link row between two project-qualified
// agents.
func (s *Store) LinkBetween(fromProjectID int64, fromAgent string, toProjectID int64, toAgent string) (domain.AgentLink, bool, error) {
	row := s.db.QueryRow(
		`SELECT from_project_id, from_agent, to_project_id, to_agent, state, reason, created_ts, decided_ts
		 FROM agent_links
		 WHERE from_project_id = ? AND from_agent = ? COLLATE NOCASE AND to_project_id = ? AND to_agent = ? COLLATE NOCASE`,
		fromProjectID, fromAgent, toProjectID, toAgent,
	)
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return domain.AgentLink{}, false, nil
	}
	if err != nil {
		return domain.AgentLink{}, false, err
	}
	return l, true, nil
}

func scanLink(row rowScanner) (domain.AgentLink, error) {
	var l domain.AgentLink
	var state, created string
	var decided sql.NullString
	err := row.Scan(&l.FromProjectID, &l.FromAgent, &l.ToProjectID, &l.ToAgent, &state, &l.Reason, &created, &decided)
	if err != nil {
		return domain.AgentLink{}, err
	}
	l.State = domain.LinkState(state)
	if l.CreatedTS, err = parseTime(created, "link"); err != nil {
		return domain.AgentLink{}, err
	}
	if l.DecidedTS, err = nullTime(decided, "link decided_ts"); err != nil {
		return domain.AgentLink{}, err
	}
	return l, nil
}

// LinksOf lists link rows touching the agent in either direction.
func (s *Store) LinksOf(projectID int64, agent string) ([]domain.AgentLink, error) {
	rows, err := s.db.Query(
		`SELECT from_project_id, from_agent, to_project_id, to_agent, state, reason, created_ts, decided_ts
		 FROM agent_links
		 WHERE (from_project_id = ? AND from_agent = ? COLLATE NOCASE)
			OR (to_project_id = ? AND to_agent = ? COLLATE NOCASE)
		 ORDER BY created_ts DESC`,
		projectID, agent, projectID, agent,
	)
	if err != nil {
		return nil, fmt.Errorf("links of: %w", err)
	}
	defer rows.Close()

	var out []domain.AgentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
