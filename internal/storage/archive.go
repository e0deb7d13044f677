package storage

import (
	"sync"

	"github.com/example/emergency-dispatch/internal/models"
)

// Archive is a write-only sink for requests leaving the ledger (completed
// or evicted). It is never read back at runtime; the in-memory ledger stays
// authoritative.
type Archive interface {
	ArchiveRequest(r models.SOSRequest) error
}

type MemoryArchive struct {
	mu       sync.RWMutex
	requests map[string]models.SOSRequest
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{requests: make(map[string]models.SOSRequest)}
}

func (m *MemoryArchive) ArchiveRequest(r models.SOSRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *MemoryArchive) Get(id string) (models.SOSRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return r, ok
}

func (m *MemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}
