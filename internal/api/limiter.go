package api

import (
	"sync"
	"time"

	"transfit/internal/config"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long a client bucket survives without requests.
const clientIdleTTL = 10 * time.Minute

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client key. Buckets of clients idle for
// longer than idleTTL are evicted, at most once per idleTTL.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*clientBucket
	cfg       config.RateLimitConfig
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		buckets: map[string]*clientBucket{},
		cfg:     cfg,
		idleTTL: clientIdleTTL,
		now:     time.Now,
	}
}

func (l *rateLimiter) enabled() bool {
	return l.cfg.RPS > 0
}

// allow spends one token from the client's bucket.
func (l *rateLimiter) allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.evictIdleLocked(now)
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		burst := l.cfg.Burst
		if burst <= 0 {
			burst = 5
		}
		b = &clientBucket{lim: rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

func (l *rateLimiter) evictIdleLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
