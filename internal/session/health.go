package session

import (
	"sync"
	"time"
)

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// Level is the numeric form exported as a metric.
func (s HealthStatus) Level() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusFailed:
		return 2
	}
	return 0
}

// tickHealth tracks consecutive sync tick failures. A single failure
// degrades, threshold consecutive failures mark the loop failed, and one
// clean tick resets it.
type tickHealth struct {
	mu        sync.Mutex
	threshold int
	failures  int
	lastErr   string
	lastFail  time.Time
}

func newTickHealth(threshold int) *tickHealth {
	if threshold <= 0 {
		threshold = 3
	}
	return &tickHealth{threshold: threshold}
}

func (h *tickHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
}

func (h *tickHealth) recordFailure(err error, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = now
}

func (h *tickHealth) status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *tickHealth) statusLocked() HealthStatus {
	switch {
	case h.failures >= h.threshold:
		return StatusFailed
	case h.failures > 0:
		return StatusDegraded
	}
	return StatusHealthy
}

// lastFailure returns the most recent failure message and when it happened.
// The message is empty once a tick succeeds.
func (h *tickHealth) lastFailure() (string, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr, h.lastFail
}
