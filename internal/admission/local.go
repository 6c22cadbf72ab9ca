package admission

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	count   int
	touched time.Time
}

// LocalLimiter tracks per-address connection counts in process memory.
// Entries untouched for longer than the TTL are treated as leaked (e.g. a
// Release lost to a crash mid-connection) and reset on next contact.
type LocalLimiter struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[string]*localEntry
}

func NewLocalLimiter(max int, ttl time.Duration) *LocalLimiter {
	if max <= 0 {
		max = 5
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalLimiter{
		max:     max,
		ttl:     ttl,
		entries: make(map[string]*localEntry),
	}
}

func (l *LocalLimiter) Acquire(_ context.Context, addr string) error {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[addr]
	if e == nil {
		e = &localEntry{}
		l.entries[addr] = e
	} else if now.Sub(e.touched) > l.ttl {
		e.count = 0
	}

	if e.count >= l.max {
		return ErrLimitExceeded
	}
	e.count++
	e.touched = now
	return nil
}

func (l *LocalLimiter) Release(_ context.Context, addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[addr]
	if e == nil {
		return
	}
	if e.count > 0 {
		e.count--
	}
	if e.count == 0 {
		delete(l.entries, addr)
		return
	}
	e.touched = time.Now()
}
