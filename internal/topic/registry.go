// Package topic keeps the authoritative in-memory view of which topics
// exist and whether they are closed, so fan-out decisions never need a
// round trip to storage. Mutating HTTP handlers commit to Postgres first,
// update the registry, and only then broadcast — a client observing the
// event can never see a stale open/closed flag here.
package topic

import (
	"context"
	"sort"
	"sync"

	"github.com/agora/forum-chat/internal/store"
)

// Source is the storage read the registry needs to warm itself.
type Source interface {
	Topics(ctx context.Context) ([]store.Topic, error)
}

// Registry is a concurrency-safe map of live topics.
type Registry struct {
	mu     sync.RWMutex
	topics map[int64]store.Topic
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{topics: make(map[int64]store.Topic)}
}

// Load replaces the registry contents with the rows in storage. Called at
// startup before the server accepts connections.
func (r *Registry) Load(ctx context.Context, src Source) error {
	topics, err := src.Topics(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.topics = make(map[int64]store.Topic, len(topics))
	for _, t := range topics {
		r.topics[t.ID] = t
	}
	r.mu.Unlock()
	return nil
}

// Put inserts or replaces a topic.
func (r *Registry) Put(t store.Topic) {
	r.mu.Lock()
	r.topics[t.ID] = t
	r.mu.Unlock()
}

// SetClosed updates the closed flag. Idempotent; reports whether the topic
// exists.
func (r *Registry) SetClosed(id int64, closed bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[id]
	if !ok {
		return false
	}
	t.IsClosed = closed
	r.topics[id] = t
	return true
}

// Delete removes a topic; reports whether it was present.
func (r *Registry) Delete(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[id]; !ok {
		return false
	}
	delete(r.topics, id)
	return true
}

// Get returns a topic by id.
func (r *Registry) Get(id int64) (store.Topic, bool) {
	r.mu.RLock()
	t, ok := r.topics[id]
	r.mu.RUnlock()
	return t, ok
}

// All returns a snapshot of every topic, newest first.
func (r *Registry) All() []store.Topic {
	r.mu.RLock()
	topics := make([]store.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, t)
	}
	r.mu.RUnlock()

	sort.Slice(topics, func(i, j int) bool {
		if !topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].CreatedAt.After(topics[j].CreatedAt)
		}
		return topics[i].ID > topics[j].ID
	})
	return topics
}

// Count returns the number of known topics.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.topics)
	r.mu.RUnlock()
	return n
}
