package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/use-agent/pinpoint/models"
)

type entry struct {
	seq uint64
	rec models.PerformanceRecord
}

// Memory is an in-process ledger. Records are bucketed per selector so that
// Append is O(1) amortized and Query only touches one selector.
type Memory struct {
	mu    sync.RWMutex
	seq   uint64
	store map[string][]entry
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]entry)}
}

// Append adds rec to the selector's bucket.
func (m *Memory) Append(ctx context.Context, rec models.PerformanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.seq++
	m.store[rec.SelectorID] = append(m.store[rec.SelectorID], entry{seq: m.seq, rec: rec})
	m.mu.Unlock()
	return nil
}

// Query returns copies of the matching records.
func (m *Memory) Query(ctx context.Context, selectorID string, from, to time.Time) ([]models.PerformanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	bucket := m.store[selectorID]
	matched := make([]entry, 0, len(bucket))
	for _, e := range bucket {
		if e.rec.Timestamp.Before(from) || e.rec.Timestamp.After(to) {
			continue
		}
		matched = append(matched, e)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.Timestamp.Equal(b.rec.Timestamp) {
			return a.rec.Timestamp.Before(b.rec.Timestamp)
		}
		return a.seq < b.seq
	})

	out := make([]models.PerformanceRecord, len(matched))
	for i, e := range matched {
		out[i] = e.rec
	}
	return out, nil
}

// Prune drops every record older than cutoff.
func (m *Memory) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, bucket := range m.store {
		kept := bucket[:0:0]
		for _, e := range bucket {
			if e.rec.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.store, id)
			continue
		}
		m.store[id] = kept
	}
	return removed, nil
}

// Len returns the total number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, bucket := range m.store {
		n += len(bucket)
	}
	return n
}
