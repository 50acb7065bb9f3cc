package bot

import (
	"sync"
	"time"
)

type quotaRecord struct {
	count int
	start time.Time
}

// QuotaTracker counts bot replies per chat within a fixed window.
type QuotaTracker struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	now     func() time.Time
	records map[string]*quotaRecord
}

// NewQuotaTracker allows at most max replies per chat in each window.
func NewQuotaTracker(window time.Duration, max int) *QuotaTracker {
	return &QuotaTracker{
		window:  window,
		max:     max,
		now:     time.Now,
		records: make(map[string]*quotaRecord),
	}
}

// HasQuota reports whether chatID may receive another reply. Below the
// ceiling nothing changes; at the ceiling an expired window is reset.
func (q *QuotaTracker) HasQuota(chatID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[chatID]
	if !ok || rec.count < q.max {
		return true
	}
	now := q.now()
	if now.Sub(rec.start) >= q.window {
		rec.count = 0
		rec.start = now
		return true
	}
	return false
}

// Record counts one reply sent to chatID.
func (q *QuotaTracker) Record(chatID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[chatID]
	if !ok {
		q.records[chatID] = &quotaRecord{count: 1, start: q.now()}
		return
	}
	rec.count++
}

// Count returns the replies recorded for chatID in the current window.
func (q *QuotaTracker) Count(chatID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.records[chatID]; ok {
		return rec.count
	}
	return 0
}
