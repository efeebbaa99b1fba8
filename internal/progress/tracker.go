// Package progress keeps the last-known completion percentage of every job
// in this process.
package progress

import (
	"fmt"
	"sync"
)

// Failed is the percentage reported for a job that ended in failure.
const Failed = -1

// Retention decides what happens to a terminal entry once a poller has read it.
type Retention string

const (
	// Retain keeps terminal entries until the job is deleted.
	Retain Retention = "retain"
	// Evict drops a terminal entry after it has been read once.
	Evict Retention = "evict"
)

// ParseRetention accepts "retain" or "evict".
func ParseRetention(s string) (Retention, error) {
	switch Retention(s) {
	case Retain, Evict:
		return Retention(s), nil
	default:
		return "", fmt.Errorf("invalid progress retention %q: expected retain or evict", s)
	}
}

// Tracker maps job IDs to a percentage in [0, 100] or Failed. Values only
// move forward; 100 and Failed are final.
type Tracker struct {
	retention Retention

	mu     sync.RWMutex
	values map[string]int
}

// NewTracker returns an empty tracker.
func NewTracker(retention Retention) *Tracker {
	return &Tracker{retention: retention, values: make(map[string]int)}
}

// Start registers a job at 0%. Registering an existing job is a no-op.
func (t *Tracker) Start(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.values[jobID]; !ok {
		t.values[jobID] = 0
	}
}

// Set raises the job's percentage. Lower values, values for unknown jobs and
// updates after a final value are ignored. It reports whether the value changed.
func (t *Tracker) Set(jobID string, pct int) bool {
	if pct < 0 {
		return false
	}
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.values[jobID]
	if !ok || isFinal(cur) || pct <= cur {
		return false
	}
	t.values[jobID] = pct
	return true
}

// Fail marks the job failed unless it already completed.
func (t *Tracker) Fail(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.values[jobID]
	if ok && isFinal(cur) {
		return
	}
	t.values[jobID] = Failed
}

// Get returns the job's percentage without affecting retention.
func (t *Tracker) Get(jobID string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[jobID]
	return v, ok
}

// Consume returns the job's percentage for a polling caller and applies the
// retention policy to final values.
func (t *Tracker) Consume(jobID string) (int, bool) {
	if t.retention != Evict {
		return t.Get(jobID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[jobID]
	if ok && isFinal(v) {
		delete(t.values, jobID)
	}
	return v, ok
}

// Delete forgets the job.
func (t *Tracker) Delete(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, jobID)
}

// Percent is floor(done*100/total). An empty job is complete.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	if done >= total {
		return 100
	}
	return done * 100 / total
}

func isFinal(v int) bool {
	return v == 100 || v == Failed
}
