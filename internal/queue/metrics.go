package queue

import (
	"sync"
	"time"
)

// Metrics tracks scheduler throughput.
type Metrics struct {
	mu              sync.Mutex
	dispatched      int64
	succeeded       int64
	failed          int64
	cancelled       int64
	totalRenderTime time.Duration
}

// MetricsSnapshot is the serializable view of Metrics.
type MetricsSnapshot struct {
	Dispatched        int64         `json:"dispatched"`
	Succeeded         int64         `json:"succeeded"`
	Failed            int64         `json:"failed"`
	Cancelled         int64         `json:"cancelled"`
	TotalRenderTime   time.Duration `json:"totalRenderTime"`
	AverageRenderTime time.Duration `json:"averageRenderTime"`
}

func (m *Metrics) recordDispatched() {
	m.mu.Lock()
	m.dispatched++
	m.mu.Unlock()
}

func (m *Metrics) recordSuccess(d time.Duration) {
	m.mu.Lock()
	m.succeeded++
	m.totalRenderTime += d
	m.mu.Unlock()
}

func (m *Metrics) recordFailure() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *Metrics) recordCancelled() {
	m.mu.Lock()
	m.cancelled++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := MetricsSnapshot{
		Dispatched:      m.dispatched,
		Succeeded:       m.succeeded,
		Failed:          m.failed,
		Cancelled:       m.cancelled,
		TotalRenderTime: m.totalRenderTime,
	}
	if m.succeeded > 0 {
		snapshot.AverageRenderTime = m.totalRenderTime / time.Duration(m.succeeded)
	}
	return snapshot
}
