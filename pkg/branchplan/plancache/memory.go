package plancache

import (
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps plans in process memory. Entries optionally expire
// after a TTL, and each graph keeps at most a bounded number of entries,
// evicting the oldest first. Data is lost when the process exits.
type MemoryStore struct {
	mu         sync.RWMutex
	graphs     map[string]map[string]storedPlan // graphID -> key -> plan
	seq        map[string]int
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	closed     bool
}

type storedPlan struct {
	data      []byte
	sequence  int
	timestamp time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL expires entries ttl after they were saved. Zero disables
// expiry.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.ttl = ttl }
}

// WithMaxEntries bounds the entries kept per graph. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryStore) { m.maxEntries = n }
}

// withClock overrides the time source for expiry tests.
func withClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates an in-memory plan store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		graphs: make(map[string]map[string]storedPlan),
		seq:    make(map[string]int),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save implements Store.
func (m *MemoryStore) Save(graphID, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	plans := m.graphs[graphID]
	if plans == nil {
		plans = make(map[string]storedPlan)
		m.graphs[graphID] = plans
	}
	m.seq[graphID]++
	plans[key] = storedPlan{
		data:      slices.Clone(data),
		sequence:  m.seq[graphID],
		timestamp: m.now().UTC(),
	}

	if m.maxEntries > 0 && len(plans) > m.maxEntries {
		m.evictOldest(plans)
	}
	return nil
}

// evictOldest drops the lowest-sequence entries until the bound holds.
func (m *MemoryStore) evictOldest(plans map[string]storedPlan) {
	for len(plans) > m.maxEntries {
		oldestKey, oldestSeq := "", 0
		for k, p := range plans {
			if oldestSeq == 0 || p.sequence < oldestSeq {
				oldestKey, oldestSeq = k, p.sequence
			}
		}
		delete(plans, oldestKey)
	}
}

func (m *MemoryStore) expired(p storedPlan) bool {
	return m.ttl > 0 && m.now().UTC().Sub(p.timestamp) >= m.ttl
}

// Load implements Store.
func (m *MemoryStore) Load(graphID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	p, ok := m.graphs[graphID][key]
	if !ok || m.expired(p) {
		return nil, ErrNotFound
	}
	return slices.Clone(p.data), nil
}

// List implements Store. Expired entries are omitted.
func (m *MemoryStore) List(graphID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	infos := make([]Info, 0, len(m.graphs[graphID]))
	for key, p := range m.graphs[graphID] {
		if m.expired(p) {
			continue
		}
		infos = append(infos, Info{
			GraphID:   graphID,
			Key:       key,
			Sequence:  p.sequence,
			Timestamp: p.timestamp,
			Size:      int64(len(p.data)),
		})
	}
	slices.SortFunc(infos, func(a, b Info) int { return a.Sequence - b.Sequence })
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(graphID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.graphs[graphID], key)
	return nil
}

// DeleteGraph implements Store.
func (m *MemoryStore) DeleteGraph(graphID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.graphs, graphID)
	delete(m.seq, graphID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.graphs = nil
	return nil
}

// Len returns the number of stored entries across all graphs, expired
// ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, plans := range m.graphs {
		count += len(plans)
	}
	return count
}
