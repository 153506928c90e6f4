package state

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
)

// MemoryStateBackend keeps window entries in memory
type MemoryStateBackend struct {
	data   map[int64]*Entry
	mu     sync.RWMutex
	logger *zap.Logger

	// Metrics
	getCount    int64
	putCount    int64
	deleteCount int64
}

// NewMemoryStateBackend creates a new in-memory state backend
func NewMemoryStateBackend(logger *zap.Logger) *MemoryStateBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStateBackend{
		data:   make(map[int64]*Entry),
		logger: logger,
	}
}

// Append adds rec to the window starting at start and returns the new record
// count. The first record's headers become the entry's header snapshot.
func (m *MemoryStateBackend) Append(start int64, rec *stream.Record, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[start]
	if !exists {
		entry = &Entry{
			Start:   start,
			Headers: rec.CopyHeaders(),
		}
		m.data[start] = entry
	}
	entry.Records = append(entry.Records, rec)
	entry.LastUpdated = now
	m.putCount++

	return len(entry.Records)
}

// Get returns a copy of the entry for start
func (m *MemoryStateBackend) Get(start int64) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getCount++
	entry, exists := m.data[start]
	if !exists {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Delete removes and returns the entry for start
func (m *MemoryStateBackend) Delete(start int64) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[start]
	if !exists {
		return Entry{}, false
	}
	delete(m.data, start)
	m.deleteCount++
	return *entry, true
}

// MarkFired flags the window as emitted and returns the previous flag
func (m *MemoryStateBackend) MarkFired(start int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[start]
	if !exists {
		return false
	}
	prev := entry.Fired
	entry.Fired = true
	return prev
}

// Keys returns the window starts in ascending order
func (m *MemoryStateBackend) Keys() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]int64, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Size returns the number of windows held
func (m *MemoryStateBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

// GetMetrics returns current operation metrics
func (m *MemoryStateBackend) GetMetrics() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"gets":    m.getCount,
		"puts":    m.putCount,
		"deletes": m.deleteCount,
		"keys":    int64(len(m.data)),
	}
}

// Close drops all state
func (m *MemoryStateBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[int64]*Entry)

	m.logger.Info("Closed memory state backend",
		zap.Int64("total_gets", m.getCount),
		zap.Int64("total_puts", m.putCount),
		zap.Int64("total_deletes", m.deleteCount),
	)

	return nil
}

func (e *Entry) clone() Entry {
	out := *e
	out.Records = append([]*stream.Record(nil), e.Records...)
	return out
}

// Verify interface implementation
var _ Backend = (*MemoryStateBackend)(nil)
