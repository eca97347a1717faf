package ws

import (
	"sync"

	"github.com/agora/forum-chat/internal/metrics"
)

// Predicate selects the subset of sessions an event is delivered to.
type Predicate func(*Session) bool

// All matches every live session.
func All() Predicate {
	return func(*Session) bool { return true }
}

// InTopic matches sessions subscribed to the given topic.
func InTopic(topicID int64) Predicate {
	return func(s *Session) bool { return s.TopicID() == topicID }
}

// OfUser matches the authenticated sessions of one user.
func OfUser(userID int64) Predicate {
	return func(s *Session) bool {
		id, ok := s.Identity()
		return ok && id.ID == userID
	}
}

// Registry owns the set of live sessions. It is the single piece of shared
// mutable state in the core: membership changes and fan-out iteration are
// kept from interleaving, and every fan-out goes through one dispatch
// point so subscribers of a topic observe events in a single order.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// dispatchMu serializes Broadcast calls. Enqueues are non-blocking,
	// so holding it for a full fan-out is cheap.
	dispatchMu sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Remove deregisters a session and closes it. The map delete happens
// before the close, so a concurrent broadcast either misses the session
// entirely or hits a queue that rejects cleanly — never a dangling handle.
// Returns false if the session was already gone, guarding against double
// teardown when a read error and the heartbeat race.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Get returns a session by id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	s := r.sessions[id]
	r.mu.RUnlock()
	return s
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	return n
}

// Snapshot returns all sessions, safe to iterate without the lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	return out
}

// Matching returns the sessions the predicate selects.
func (r *Registry) Matching(pred Predicate) []*Session {
	r.mu.RLock()
	var out []*Session
	for _, s := range r.sessions {
		if pred(s) {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	return out
}

// Broadcast delivers an event to every session matching the predicate.
// Sends are per-session and non-blocking; a failed enqueue marks that
// session dead for the next sweep and never fails the broadcast as a
// whole. Returns the number of sessions the event was queued for.
func (r *Registry) Broadcast(pred Predicate, event []byte) int {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	delivered := 0
	for _, s := range r.Matching(pred) {
		if err := s.Enqueue(event); err != nil {
			s.SetAlive(false)
			metrics.SendsDropped.Inc()
			continue
		}
		delivered++
	}
	return delivered
}
