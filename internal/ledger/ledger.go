package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

var (
	ErrNotFound         = errors.New("request not found")
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// TransitionError reports a status precondition that did not hold.
type TransitionError struct {
	ID       string
	Expected models.SOSStatus
	Actual   models.SOSStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: expected status %s, got %s", e.ID, e.Expected, e.Actual)
}

// Ledger is the authoritative in-memory store of every emergency request in
// flight. All check-and-mutate operations run under a single lock so
// concurrent transitions on the same id cannot interleave.
type Ledger struct {
	mu       sync.Mutex
	requests map[string]*models.SOSRequest
}

func New() *Ledger {
	return &Ledger{requests: make(map[string]*models.SOSRequest)}
}

// Submit creates a pending record. A reused id is rejected so an in-flight
// acceptance can never be silently discarded.
func (l *Ledger) Submit(p models.SendSOSPayload) (models.SOSRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.requests[p.SOSID]; exists {
		return models.SOSRequest{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, p.SOSID)
	}
	r := &models.SOSRequest{
		ID:         p.SOSID,
		UserName:   p.UserName,
		UserMobile: p.UserMobile,
		Location:   p.Location,
		Type:       p.Type,
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
	l.requests[p.SOSID] = r
	return *r, nil
}

func (l *Ledger) Get(id string) (models.SOSRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[id]
	if !ok {
		return models.SOSRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *r, nil
}

// Transition verifies the current status equals expected, then applies
// mutator, atomically with respect to any other transition on the same id.
func (l *Ledger) Transition(id string, expected models.SOSStatus, mutator func(*models.SOSRequest)) (models.SOSRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[id]
	if !ok {
		return models.SOSRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status != expected {
		return models.SOSRequest{}, &TransitionError{ID: id, Expected: expected, Actual: r.Status}
	}
	mutator(r)
	return *r, nil
}

// Mutate applies mutator if the record exists, with no status precondition.
// Arrival reporting uses this: it is best-effort and tolerated out of order.
func (l *Ledger) Mutate(id string, mutator func(*models.SOSRequest)) (models.SOSRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[id]
	if !ok {
		return models.SOSRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	mutator(r)
	return *r, nil
}

// ReleaseByConn reverts every accepted request held by connID back to
// pending, clearing the acceptance and nearest-hospital snapshot. It visits
// every record once and returns the reopened requests.
func (l *Ledger) ReleaseByConn(connID string) []models.SOSRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var reopened []models.SOSRequest
	for _, r := range l.requests {
		if r.Status != models.StatusAccepted || r.AcceptedConn != connID {
			continue
		}
		ref := r.PaymentRef
		r.Status = models.StatusPending
		r.AcceptedBy = ""
		r.AcceptedLicense = ""
		r.AcceptedConn = ""
		r.Nearest = nil
		r.AcceptedAt = time.Time{}
		r.PaymentRef = ""
		cp := *r
		cp.PaymentRef = ref // carried out so the caller can release the hold
		reopened = append(reopened, cp)
	}
	return reopened
}

// Active returns pending and accepted requests, oldest first. Late-joining
// hospitals receive this snapshot on registration.
func (l *Ledger) Active() []models.SOSRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.SOSRequest
	for _, r := range l.requests {
		if r.Status == models.StatusCompleted {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep evicts every record created before now-maxAge, regardless of status.
// This is a blunt memory bound, not a cleanup mechanism.
func (l *Ledger) Sweep(maxAge time.Duration) []models.SOSRequest {
	cutoff := time.Now().Add(-maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	var evicted []models.SOSRequest
	for id, r := range l.requests {
		if r.CreatedAt.Before(cutoff) {
			evicted = append(evicted, *r)
			delete(l.requests, id)
		}
	}
	return evicted
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}
