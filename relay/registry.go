package relay

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Registry is the authoritative map of connections. A session lives in the
// pending map from accept until it registers, then moves to the active map
// under its username. A username holds at most one session, and a session
// appears in at most one map; both are enforced under a single lock.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*Session
	pending map[uuid.UUID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:  make(map[string]*Session),
		pending: make(map[uuid.UUID]*Session),
	}
}

// AddPending records a freshly accepted, unregistered session.
func (r *Registry) AddPending(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[s.ID()] = s
}

// Claim attempts to register a session under a username. The uniqueness
// check, the pending→active move and the session's state transition all
// happen under one lock, so two racing registrations cannot both win.
func (r *Registry) Claim(username string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.active[username]; taken {
		return false
	}

	delete(r.pending, s.ID())
	r.active[username] = s
	s.markRegistered(username)
	return true
}

// Remove drops a session from whichever map holds it. It reports the
// username and whether the session was active, so the caller knows whether
// a roster update is due.
func (r *Registry) Remove(s *Session) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username := s.Username()
	if username != "" {
		if current, ok := r.active[username]; ok && current == s {
			delete(r.active, username)
			return username, true
		}
	}
	delete(r.pending, s.ID())
	return username, false
}

// Lookup returns the active session for a username, if any.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[username]
	return s, ok
}

// Usernames returns the sorted list of registered usernames.
func (r *Registry) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := lo.Keys(r.active)
	sort.Strings(users)
	return users
}

// ActiveSessions returns a snapshot of all registered sessions.
func (r *Registry) ActiveSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Values(r.active)
}

// PendingSessions returns a snapshot of accepted sessions that have not
// registered yet.
func (r *Registry) PendingSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Values(r.pending)
}
