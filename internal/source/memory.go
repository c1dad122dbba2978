package source

import (
	"context"
	"sort"
	"sync"

	"github.com/chronolake/chronolake/pkg/types"
)

// MemoryAccessor is an in-process Accessor backed by a map. It serves
// tests and the single-node command-line tools.
type MemoryAccessor struct {
	mu      sync.RWMutex
	streams map[string][]types.Event
}

// NewMemoryAccessor creates an empty in-memory event store.
func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{streams: make(map[string][]types.Event)}
}

// Add ingests events, keeping each stream sorted by insert time.
func (m *MemoryAccessor) Add(events ...types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make(map[string]bool)
	for _, ev := range events {
		m.streams[ev.StreamID] = append(m.streams[ev.StreamID], ev)
		touched[ev.StreamID] = true
	}
	for streamID := range touched {
		evs := m.streams[streamID]
		sort.SliceStable(evs, func(i, j int) bool {
			return evs[i].InsertTime.Before(evs[j].InsertTime)
		})
	}
}

// ReadEvents returns the stream's events with insert time in r.
func (m *MemoryAccessor) ReadEvents(ctx context.Context, streamID string, r types.TimeRange) ([]types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	evs := m.streams[streamID]
	lo := sort.Search(len(evs), func(i int) bool {
		return !evs[i].InsertTime.Before(r.Begin)
	})
	hi := sort.Search(len(evs), func(i int) bool {
		return !evs[i].InsertTime.Before(r.End)
	})

	out := make([]types.Event, hi-lo)
	copy(out, evs[lo:hi])
	return out, nil
}

// CountEvents returns the number of stream events with insert time in r.
func (m *MemoryAccessor) CountEvents(ctx context.Context, streamID string, r types.TimeRange) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	evs := m.streams[streamID]
	lo := sort.Search(len(evs), func(i int) bool {
		return !evs[i].InsertTime.Before(r.Begin)
	})
	hi := sort.Search(len(evs), func(i int) bool {
		return !evs[i].InsertTime.Before(r.End)
	})
	return int64(hi - lo), nil
}

// ListStreams returns the known stream IDs, sorted.
func (m *MemoryAccessor) ListStreams(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
