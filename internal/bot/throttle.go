package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxTrackedPlayers = 10_000

// Throttle keeps one token bucket per player.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*bucket
	rate     rate.Limit
	burst    int
}

type bucket struct {
	limiter *rate.Limiter
	warned  bool
}

// NewThrottle allows perMinute commands per player with the given burst.
// A non-positive perMinute disables throttling.
func NewThrottle(perMinute float64, burst int) *Throttle {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Duration(float64(time.Minute) / perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limiters: make(map[string]*bucket),
		rate:     limit,
		burst:    burst,
	}
}

// Allow reports whether playerID may run a command now. When it may not,
// notify is true only for the first rejection since the last allowed command.
func (t *Throttle) Allow(playerID string) (ok, notify bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, found := t.limiters[playerID]
	if !found {
		if len(t.limiters) >= maxTrackedPlayers {
			t.limiters = make(map[string]*bucket)
		}
		b = &bucket{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.limiters[playerID] = b
	}
	if b.limiter.Allow() {
		b.warned = false
		return true, false
	}
	notify = !b.warned
	b.warned = true
	return false, notify
}
