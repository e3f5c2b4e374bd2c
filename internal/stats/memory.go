package stats

import (
	"sort"
	"sync"
)

// Recorder is told about every dispatch pass and how many listeners returned
// normally. Record runs on the consumer goroutine, so implementations must
// not block.
type Recorder interface {
	Record(id int, delivered int)
}

// Count holds the totals for one message id
type Count struct {
	ID int
	// Dispatched counts dispatch passes, including ones with no listeners
	Dispatched int64
	// Delivered counts listener invocations
	Delivered int64
}

// Memory keeps counters in process
type Memory struct {
	mu     sync.Mutex
	counts map[int]Count
}

// NewMemory creates an empty in-memory recorder
func NewMemory() *Memory {
	return &Memory{counts: make(map[int]Count)}
}

// Record implements Recorder
func (m *Memory) Record(id int, delivered int) {
	m.Add(Count{ID: id, Dispatched: 1, Delivered: int64(delivered)})
}

// Add merges c into the counters for c.ID
func (m *Memory) Add(c Count) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.counts[c.ID]
	cur.ID = c.ID
	cur.Dispatched += c.Dispatched
	cur.Delivered += c.Delivered
	m.counts[c.ID] = cur
}

// Counts returns a snapshot sorted by id
func (m *Memory) Counts() []Count {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sorted(m.counts)
}

// Take returns the counters sorted by id and resets them
func (m *Memory) Take() []Count {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := sorted(m.counts)
	m.counts = make(map[int]Count)
	return out
}

func sorted(counts map[int]Count) []Count {
	out := make([]Count, 0, len(counts))
	for _, c := range counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
