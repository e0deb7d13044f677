package registry

import (
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

// Registry holds the live actors of one role keyed by connection id.
// Snapshot order is registration order so broadcast fan-out and
// nearest-hospital tie breaking stay deterministic.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*models.Actor
	order  []string
}

func New() *Registry {
	return &Registry{actors: make(map[string]*models.Actor)}
}

// Register creates or silently overwrites the record for connID.
// An overwrite keeps the original registration position.
func (r *Registry) Register(connID string, a models.Actor) models.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ConnID = connID
	a.RegisteredAt = time.Now()
	if _, exists := r.actors[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.actors[connID] = &a
	return a
}

// Remove deletes the record for connID. Removing an unknown id is a no-op.
func (r *Registry) Remove(connID string) (models.Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[connID]
	if !ok {
		return models.Actor{}, false
	}
	delete(r.actors, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *a, true
}

func (r *Registry) Get(connID string) (models.Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[connID]
	if !ok {
		return models.Actor{}, false
	}
	return *a, true
}

// Snapshot returns copies of all records in registration order.
func (r *Registry) Snapshot() []models.Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Actor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.actors[id])
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}
