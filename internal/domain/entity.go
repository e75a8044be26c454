// Package domain holds the coordination entities: projects, agents,
// messages, file claims, and contact links. It has no dependencies on
// other packages.
package domain

import "time"

// ContactPolicy controls who may send messages to an agent.
type ContactPolicy string

const (
	PolicyOpen         ContactPolicy = "open"
	PolicyAuto         ContactPolicy = "auto"
	PolicyContactsOnly ContactPolicy = "contacts_only"
	PolicyBlockAll     ContactPolicy = "block_all"
)

// ParseContactPolicy maps a string to a ContactPolicy. Unknown values
// return PolicyAuto and false.
func ParseContactPolicy(s string) (ContactPolicy, bool) {
	switch ContactPolicy(s) {
	case PolicyOpen, PolicyAuto, PolicyContactsOnly, PolicyBlockAll:
		return ContactPolicy(s), true
	}
	return PolicyAuto, false
}

// Importance is the urgency level of a message.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// ParseImportance maps a string to an Importance. Unknown values return
// ImportanceNormal and false.
func ParseImportance(s string) (Importance, bool) {
	switch Importance(s) {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return Importance(s), true
	}
	return ImportanceNormal, false
}

// Urgent reports whether the importance counts for urgent-only inbox filters.
func (i Importance) Urgent() bool {
	return i == ImportanceHigh || i == ImportanceUrgent
}

// RecipientKind is the delivery role of a recipient on a message.
type RecipientKind string

const (
	KindTo  RecipientKind = "to"
	KindCC  RecipientKind = "cc"
	KindBCC RecipientKind = "bcc"
)

// LinkState is the lifecycle state of a contact or cross-project link.
type LinkState string

const (
	LinkPending  LinkState = "pending"
	LinkAccepted LinkState = "accepted"
	LinkBlocked  LinkState = "blocked"
)

// Project is a workspace identity under which agents and messages live.
type Project struct {
	ID        int64             `json:"id"`
	HumanKey  string            `json:"human_key"`
	Slug      string            `json:"slug"`
	CreatedTS time.Time         `json:"created_ts"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Agent is an addressable participant in a project.
type Agent struct {
	ID              int64         `json:"id"`
	ProjectID       int64         `json:"project_id"`
	Name            string        `json:"name"`
	Program         string        `json:"program"`
	Model           string        `json:"model"`
	TaskDescription string        `json:"task_description,omitempty"`
	InceptionTS     time.Time     `json:"inception_ts"`
	LastActiveTS    time.Time     `json:"last_active_ts"`
	ContactPolicy   ContactPolicy `json:"contact_policy"`
}

// ActiveWindow is how recently an agent must have been seen to count as
// active in list_agents and the directory views.
const ActiveWindow = 7 * 24 * time.Hour

// ActiveAt reports whether the agent was active within ActiveWindow of now.
func (a Agent) ActiveAt(now time.Time) bool {
	return now.Sub(a.LastActiveTS) <= ActiveWindow
}

// Message is an immutable markdown message between agents.
// ThreadID defaults to the root message's own ID.
type Message struct {
	ID          string     `json:"id"`
	ProjectID   int64      `json:"project_id"`
	ThreadID    string     `json:"thread_id"`
	Subject     string     `json:"subject"`
	BodyMD      string     `json:"body_md,omitempty"`
	From        string     `json:"from"`
	CreatedTS   time.Time  `json:"created_ts"`
	Importance  Importance `json:"importance"`
	AckRequired bool       `json:"ack_required"`
}

// Recipient records one agent's copy of a message and its read/ack marks.
type Recipient struct {
	MessageID string        `json:"message_id"`
	AgentName string        `json:"agent_name"`
	Kind      RecipientKind `json:"kind"`
	ReadTS    *time.Time    `json:"read_ts,omitempty"`
	AckTS     *time.Time    `json:"ack_ts,omitempty"`
}

// Claim is an advisory time-bounded reservation of a file path (literal or
// glob) by one agent.
type Claim struct {
	ID         string     `json:"id"`
	ProjectID  int64      `json:"project_id"`
	AgentName  string     `json:"agent_name"`
	Path       string     `json:"path"`
	Exclusive  bool       `json:"exclusive"`
	Reason     string     `json:"reason,omitempty"`
	CreatedTS  time.Time  `json:"created_ts"`
	ExpiresTS  time.Time  `json:"expires_ts"`
	ReleasedTS *time.Time `json:"released_ts,omitempty"`
}

// Active reports whether the claim is live: not released and not expired.
func (c Claim) Active(now time.Time) bool {
	return c.ReleasedTS == nil && c.ExpiresTS.After(now)
}

// Contact is a same-project authorization record from one agent to another.
// A pending contact is carried to the target as a specially-marked message;
// the state here is what the policy layer consults.
type Contact struct {
	ProjectID int64      `json:"project_id"`
	FromAgent string     `json:"from_agent"`
	ToAgent   string     `json:"to_agent"`
	State     LinkState  `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	CreatedTS time.Time  `json:"created_ts"`
	DecidedTS *time.Time `json:"decided_ts,omitempty"`
}

// AgentLink is a directed cross-project authorization row. Traffic between
// two agents in different projects requires the rows in both directions to
// be accepted.
type AgentLink struct {
	FromProjectID int64      `json:"from_project_id"`
	FromAgent     string     `json:"from_agent"`
	ToProjectID   int64      `json:"to_project_id"`
	ToAgent       string     `json:"to_agent"`
	State         LinkState  `json:"state"`
	Reason        string     `json:"reason,omitempty"`
	CreatedTS     time.Time  `json:"created_ts"`
	DecidedTS     *time.Time `json:"decided_ts,omitempty"`
}

// OverseerName is the reserved sender name for human-injected messages.
// Sends from the overseer bypass contact policy and UIs must render them
// distinctly.
const OverseerName = "Overseer (human)"
