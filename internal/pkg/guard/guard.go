// Package guard provides in-process duplicate suppression for activity
// completion processing. It rejects a second concurrent attempt on the same
// activity id without a database round trip. It is advisory only: the
// authoritative cross-process mutual exclusion is the database lock row.
package guard

import (
	"sync"
	"time"
)

// InflightGuard tracks activity ids currently being processed by this
// process. It is constructed once and shared by the coordinator.
type InflightGuard struct {
	mu       sync.Mutex
	inflight map[int64]time.Time
}

// NewInflightGuard creates a new InflightGuard instance.
func NewInflightGuard() *InflightGuard {
	return &InflightGuard{
		inflight: make(map[int64]time.Time),
	}
}

// TryAcquire marks an activity as in flight. Returns false if another
// goroutine in this process already holds it.
func (g *InflightGuard) TryAcquire(activityID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inflight[activityID]; held {
		return false
	}
	g.inflight[activityID] = time.Now()
	return true
}

// Release removes an activity from the in-flight set. Safe to call for an
// id that was never acquired.
func (g *InflightGuard) Release(activityID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, activityID)
}

// IsInflight reports whether an activity is currently being processed.
// Point-in-time check; may change immediately after.
func (g *InflightGuard) IsInflight(activityID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inflight[activityID]
	return held
}

// Count returns the number of activities currently in flight.
func (g *InflightGuard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// NoopGuard is a guard that always admits. Used by single-flight test
// harnesses where duplicate suppression would get in the way.
type NoopGuard struct{}

// TryAcquire always returns true.
func (NoopGuard) TryAcquire(int64) bool { return true }

// Release does nothing.
func (NoopGuard) Release(int64) {}
