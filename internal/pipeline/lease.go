package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// leaseTable hands out at most one in-process lease per document id. The
// database CAS on every transition is the authoritative guard; the lease
// only keeps two workers of the same process from burning a round trip on
// the same document.
type leaseTable struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func newLeaseTable() *leaseTable {
	return &leaseTable{held: make(map[uuid.UUID]struct{})}
}

// TryAcquire takes the lease for id, reporting false when another goroutine
// holds it.
func (l *leaseTable) TryAcquire(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *leaseTable) Release(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
