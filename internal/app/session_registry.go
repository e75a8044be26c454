package app

import (
	"sync"
	"time"
)

// SessionIdentity is the project and agent a connected MCP session last
// acted as. Tool calls that name both bind it; later calls in the same
// session can then be decorated (unread banners) without repeating the
// identity.
type SessionIdentity struct {
	ProjectKey string
	Agent      string
}

// SessionRegistry tracks connected MCP client sessions and the identity
// each one last used. Multiple transports can be active at once (SSE and
// streamable HTTP), so entries are keyed by the transport session id.
type SessionRegistry struct {
	mu           sync.RWMutex
	sessions     map[string]SessionIdentity
	lastActivity map[string]time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions:     make(map[string]SessionIdentity),
		lastActivity: make(map[string]time.Time),
	}
}

// Bind associates a session with a project and agent. Later binds from the
// same session overwrite earlier ones; agents may re-register mid-session.
func (r *SessionRegistry) Bind(sessionID, projectKey, agent string) {
	if sessionID == "" || projectKey == "" || agent == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = SessionIdentity{ProjectKey: projectKey, Agent: agent}
	r.lastActivity[sessionID] = time.Now()
}

// Identity returns the identity bound to a session.
func (r *SessionRegistry) Identity(sessionID string) (SessionIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessions[sessionID]
	return id, ok
}

// Touch records activity for a session (called on every tool invocation).
func (r *SessionRegistry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		r.lastActivity[sessionID] = time.Now()
	}
}

// LastActivity returns when the session last called a tool, zero when the
// session is unknown.
func (r *SessionRegistry) LastActivity(sessionID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity[sessionID]
}

// Remove unregisters a session (on transport disconnect).
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	delete(r.lastActivity, sessionID)
}

// ConnectedIdentities returns the currently bound identities, one per
// session.
func (r *SessionRegistry) ConnectedIdentities() []SessionIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionIdentity, 0, len(r.sessions))
	for _, id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// Bindings returns a snapshot of session id -> identity.
func (r *SessionRegistry) Bindings() map[string]SessionIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]SessionIdentity, len(r.sessions))
	for sid, id := range r.sessions {
		out[sid] = id
	}
	return out
}

// Count returns the number of bound sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BackdateActivity sets a session's last activity to a specific time.
// Primarily for testing staleness handling.
func (r *SessionRegistry) BackdateActivity(sessionID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		r.lastActivity[sessionID] = t
	}
}
