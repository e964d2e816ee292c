package core

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hookrouter/internal/types"
)

// minSweepInterval keeps the idle sweeper from spinning on tiny windows.
const minSweepInterval = 10 * time.Second

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter is a set of token buckets keyed by client identity. Each
// bucket holds max tokens and refills at max per window, so a client can
// burst its whole budget and then sustains max/window.
type ClientLimiter struct {
	max    int
	window time.Duration
	every  rate.Limit
	clock  types.Clock

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

// NewClientLimiter returns nil when max or window is not positive, which
// disables rate limiting.
func NewClientLimiter(limit int, window time.Duration, clock types.Clock) *ClientLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ClientLimiter{
		max:     limit,
		window:  window,
		every:   rate.Every(window / time.Duration(limit)),
		clock:   clock,
		clients: make(map[string]*limiterEntry),
	}
}

// Allow takes one token from key's bucket. When none is available it
// reports how long until the next token.
func (l *ClientLimiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	e, found := l.clients[key]
	if !found {
		e = &limiterEntry{lim: rate.NewLimiter(l.every, l.max)}
		l.clients[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	res := e.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, 0, delay
	}
	return true, int(math.Max(0, math.Floor(e.lim.TokensAt(now)))), 0
}

// Sweep drops buckets idle for a full window. A bucket idle that long is
// full again, so dropping it changes nothing for the client.
func (l *ClientLimiter) Sweep() int {
	cutoff := l.clock.Now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.clients {
		if e.lastSeen.Before(cutoff) {
			delete(l.clients, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked clients.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RunSweeper calls Sweep once per window until ctx is cancelled.
func (l *ClientLimiter) RunSweeper(ctx context.Context) {
	interval := max(l.window, minSweepInterval)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

// RateLimit enforces the per-client budget. The identity comes from
// APIKeyMiddleware, falling back to the client IP. /health is not limited.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil || r.URL.Path == healthPath {
			next.ServeHTTP(w, r)
			return
		}

		key := types.GetClientKey(r.Context())
		if key == "" {
			key = "ip:" + clientIP(r)
		}

		ok, remaining, retryAfter := s.Limiter.Allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.Limiter.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeRateLimit,
				"too many requests",
				nil,
				map[string]any{"retry_after_ms": retryAfter.Milliseconds()},
			))
			return
		}
		next.ServeHTTP(w, r)
	})
}
