package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket over a one-minute window. A 429 with
// Retry-After pauses the bucket until that deadline.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	tokens            float64
	lastUpdate        time.Time
	blockedUntil      time.Time

	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter allowing requestsPerMinute requests.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		tokens:            float64(requestsPerMinute),
		lastUpdate:        time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		now := time.Now()
		var waitTime time.Duration
		switch {
		case now.Before(r.blockedUntil):
			waitTime = r.blockedUntil.Sub(now)
		case r.tokens >= 1.0:
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		default:
			waitTime = time.Duration((1.0 - r.tokens) / r.refillRate() * float64(time.Second))
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			r.mu.Lock()
			r.totalWaited += waitTime
			r.mu.Unlock()
		}
	}
}

// Record429 drains the bucket and, when retryAfter is positive, blocks
// further requests until it elapses.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last429Time = time.Now()
	r.tokens = 0
	if retryAfter > 0 {
		r.blockedUntil = r.last429Time.Add(retryAfter)
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.requestsPerMinute,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		Last429Time:     r.last429Time,
	}
}

func (r *RateLimiter) refillRate() float64 {
	return float64(r.requestsPerMinute) / 60.0
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * r.refillRate()
	if r.tokens > float64(r.requestsPerMinute) {
		r.tokens = float64(r.requestsPerMinute)
	}
}
