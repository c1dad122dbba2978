package materialize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chronolake/chronolake/internal/errors"
)

// LeaseMap serializes builds of the same partition key within the process.
// Builds of different keys proceed in parallel; a second builder of the
// same key waits with a bounded timeout instead of duplicating the work.
// Entries are reference counted and removed once no builder holds or
// waits on them, so the map stays bounded by in-flight builds rather
// than growing with every key ever built.
type LeaseMap struct {
	mu     sync.Mutex
	leases map[string]*leaseEntry
}

type leaseEntry struct {
	sem  chan struct{}
	refs int
}

// NewLeaseMap creates an empty lease map.
func NewLeaseMap() *LeaseMap {
	return &LeaseMap{leases: make(map[string]*leaseEntry)}
}

// refLease returns the entry for a key, creating one if needed, and takes
// a reference on it.
func (m *LeaseMap) refLease(key string) *leaseEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.leases[key]
	if !exists {
		e = &leaseEntry{sem: make(chan struct{}, 1)}
		m.leases[key] = e
	}
	e.refs++
	return e
}

// unrefLease drops a reference, removing the entry once unused.
func (m *LeaseMap) unrefLease(key string, e *leaseEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.leases, key)
	}
}

// Acquire takes the lease for key, waiting at most timeout. On success the
// returned function releases the lease and must be called exactly once.
func (m *LeaseMap) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	e := m.refLease(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			m.unrefLease(key, e)
		}, nil
	case <-timer.C:
		m.unrefLease(key, e)
		return nil, errors.New(errors.ErrCategoryMaterialize, errors.CodeLeaseTimeout,
			fmt.Sprintf("timed out after %v waiting for build lease on %s", timeout, key))
	case <-ctx.Done():
		m.unrefLease(key, e)
		return nil, ctx.Err()
	}
}

// ActiveKeys returns the number of keys currently held or waited on.
func (m *LeaseMap) ActiveKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}
