package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupThreshold = 10000
	limiterMaxIdle          = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PlayerLimiter hands out one token bucket per player. Idle buckets are
// pruned once the map grows past limiterCleanupThreshold.
type PlayerLimiter struct {
	mu      sync.Mutex
	players map[int64]*limiterEntry
	r       rate.Limit
	b       int
	now     func() time.Time
}

// NewPlayerLimiter creates a limiter allowing perSecond commands with the
// given burst. A non-positive rate disables limiting.
func NewPlayerLimiter(perSecond float64, burst int) *PlayerLimiter {
	r := rate.Limit(perSecond)
	if perSecond <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &PlayerLimiter{
		players: make(map[int64]*limiterEntry),
		r:       r,
		b:       burst,
		now:     time.Now,
	}
}

// Allow reports whether playerID may run a command now.
func (l *PlayerLimiter) Allow(playerID int64) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.players) > limiterCleanupThreshold {
		cutoff := now.Add(-limiterMaxIdle)
		for id, e := range l.players {
			if e.lastSeen.Before(cutoff) {
				delete(l.players, id)
			}
		}
	}

	e, ok := l.players[playerID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.players[playerID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked players.
func (l *PlayerLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.players)
}
