package ratelimit

import (
	"sync"
	"time"

	"dealbot/internal/metrics"
)

// DefaultWindow is the minimum gap between two invocations of the same
// action by the same user.
const DefaultWindow = 5 * time.Second

type key struct {
	userID int64
	action string
}

// Limiter enforces a fixed per-(user, action) cooldown window. The stamp is
// taken the moment TryAcquire grants, before the action runs, so a slow
// handler cannot be re-entered by a fast second tap.
type Limiter struct {
	window time.Duration
	exempt map[string]struct{}
	mets   *metrics.Collector

	mu   sync.Mutex
	last map[key]time.Time

	now func() time.Time
}

func New(window time.Duration, exemptActions []string, mets *metrics.Collector) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	exempt := make(map[string]struct{}, len(exemptActions))
	for _, a := range exemptActions {
		exempt[a] = struct{}{}
	}
	return &Limiter{
		window: window,
		exempt: exempt,
		mets:   mets,
		last:   map[key]time.Time{},
		now:    time.Now,
	}
}

// TryAcquire reports whether the user may run the action now. A granted
// acquire stamps the window immediately; a denied one leaves the existing
// stamp untouched, so hammering a command does not extend the cooldown.
func (l *Limiter) TryAcquire(userID int64, action string) bool {
	if _, ok := l.exempt[action]; ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{userID: userID, action: action}
	if at, ok := l.last[k]; ok && now.Sub(at) <= l.window {
		l.mets.RateLimited()
		return false
	}
	l.last[k] = now
	l.pruneLocked(now)
	return true
}

// Retain at most this many stamps before sweeping expired ones.
const pruneThreshold = 1024

func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.last) < pruneThreshold {
		return
	}
	for k, at := range l.last {
		if now.Sub(at) > l.window {
			delete(l.last, k)
		}
	}
}
