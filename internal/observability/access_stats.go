// Package observability tracks dataset access frequency and exports
// Prometheus metrics for queries, schema inspection and sessions.
package observability

import (
	"sort"
	"sync"
	"time"
)

// AccessStats tracks how often each dataset is touched and by which
// operation, pruned by a sliding window of inactivity.
type AccessStats struct {
	mu       sync.RWMutex
	datasets map[string]*DatasetStats
	window   time.Duration
	now      func() time.Time
}

// DatasetStats holds access statistics for one dataset.
type DatasetStats struct {
	DatasetID  string         `json:"dataset_id"`
	Frequency  int64          `json:"frequency"`
	LastSeen   time.Time      `json:"last_seen"`
	Operations map[string]int `json:"operations"` // operation -> count, e.g. "query" -> 5
}

// NewAccessStats creates a tracker. window is the inactivity period after
// which Prune drops an entry.
func NewAccessStats(window time.Duration) *AccessStats {
	return &AccessStats{
		datasets: make(map[string]*DatasetStats),
		window:   window,
		now:      time.Now,
	}
}

// Record notes one access of datasetID by operation.
func (a *AccessStats) Record(datasetID, operation string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, ok := a.datasets[datasetID]
	if !ok {
		stats = &DatasetStats{DatasetID: datasetID, Operations: make(map[string]int)}
		a.datasets[datasetID] = stats
	}
	stats.Frequency++
	stats.LastSeen = a.now()
	stats.Operations[operation]++
}

// Top returns copies of the n most frequently accessed datasets, most
// frequent first; ties go to the most recent.
func (a *AccessStats) Top(n int) []DatasetStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n <= 0 || len(a.datasets) == 0 {
		return []DatasetStats{}
	}

	out := make([]DatasetStats, 0, len(a.datasets))
	for _, s := range a.datasets {
		ops := make(map[string]int, len(s.Operations))
		for op, c := range s.Operations {
			ops[op] = c
		}
		out = append(out, DatasetStats{DatasetID: s.DatasetID, Frequency: s.Frequency, LastSeen: s.LastSeen, Operations: ops})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Len returns the number of tracked datasets.
func (a *AccessStats) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.datasets)
}

// Prune removes entries idle for longer than the window and returns how
// many were removed.
func (a *AccessStats) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	threshold := a.now().Add(-a.window)
	removed := 0
	for id, s := range a.datasets {
		if s.LastSeen.Before(threshold) {
			delete(a.datasets, id)
			removed++
		}
	}
	return removed
}
