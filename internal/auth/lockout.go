package auth

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Lockout counts consecutive failed logins per client and username.
type Lockout struct {
	mu          sync.Mutex
	maxFailures int
	duration    time.Duration
	entries     map[string]*lockEntry
	now         func() time.Time
}

type lockEntry struct {
	failures int
	until    time.Time
}

// NewLockout locks a key for duration after maxFailures consecutive failures.
func NewLockout(maxFailures int, duration time.Duration) *Lockout {
	return &Lockout{
		maxFailures: maxFailures,
		duration:    duration,
		entries:     map[string]*lockEntry{},
		now:         time.Now,
	}
}

// LockKey combines the client address and the case-folded username.
func LockKey(clientIP, username string) string {
	return clientIP + "|" + strings.ToLower(strings.TrimSpace(username))
}

// Locked returns the lock expiry when key is locked. An expired lock
// clears the counter.
func (l *Lockout) Locked(key string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.until.IsZero() {
		return time.Time{}, false
	}
	if !l.now().Before(e.until) {
		delete(l.entries, key)
		return time.Time{}, false
	}
	return e.until, true
}

// Fail records a failure. It returns the attempts left before lockout, and
// the lock expiry when this failure triggered one.
func (l *Lockout) Fail(key string) (remaining int, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.failures++
	if e.failures >= l.maxFailures {
		e.until = l.now().Add(l.duration)
		return 0, e.until
	}
	return l.maxFailures - e.failures, time.Time{}
}

// Reset clears key after a successful login.
func (l *Lockout) Reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// Sweep forgets expired locks.
func (l *Lockout) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if !e.until.IsZero() && !now.Before(e.until) {
			delete(l.entries, k)
		}
	}
}

// MinutesLeft rounds the time until `until` up to whole minutes.
func MinutesLeft(until, now time.Time) int {
	d := until.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}
