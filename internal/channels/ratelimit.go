package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GlobalRequestsPerSecond is Discord's account-wide REST ceiling.
const GlobalRequestsPerSecond = 50

const (
	idleLimiterTTL = 10 * time.Minute
	pruneThreshold = 1024
)

// RateLimiter paces outbound Discord REST calls. Each channel gets its own
// bucket, and every call also draws from one shared global bucket.
type RateLimiter struct {
	global *rate.Limiter
	limit  rate.Limit
	burst  int

	mu       sync.Mutex
	channels map[string]*channelBucket
	now      func() time.Time
}

type channelBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRateLimiter allows perSecond calls per channel with bursts of burst.
// A non-positive rate disables per-channel pacing.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:   rate.NewLimiter(GlobalRequestsPerSecond, GlobalRequestsPerSecond),
		limit:    limit,
		burst:    burst,
		channels: make(map[string]*channelBucket),
		now:      time.Now,
	}
}

// Wait blocks until channelID and the global bucket both have a token, or
// ctx ends.
func (r *RateLimiter) Wait(ctx context.Context, channelID string) error {
	if err := r.bucket(channelID).Wait(ctx); err != nil {
		return err
	}
	return r.global.Wait(ctx)
}

func (r *RateLimiter) bucket(channelID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if b, ok := r.channels[channelID]; ok {
		b.lastUsed = now
		return b.limiter
	}
	if len(r.channels) >= pruneThreshold {
		for id, b := range r.channels {
			if now.Sub(b.lastUsed) > idleLimiterTTL {
				delete(r.channels, id)
			}
		}
	}
	b := &channelBucket{limiter: rate.NewLimiter(r.limit, r.burst), lastUsed: now}
	r.channels[channelID] = b
	return b.limiter
}

// tracked reports how many channel buckets are held.
func (r *RateLimiter) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
