package tools

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

// Limiter enforces a token bucket per (user, tool) pair. Breaches block
// the caller until a slot is available; requests are never dropped.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// NewLimiter creates a limiter with the given requests-per-second and
// burst. Zero values fall back to 5 req/s with a burst of 5.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (l *Limiter) bucket(userID, toolName string) *rate.Limiter {
	key := userID + "|" + toolName

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = bucket
	}
	return bucket
}

// Wait blocks until the (user, tool) bucket grants a slot or the context
// is cancelled.
func (l *Limiter) Wait(ctx context.Context, userID, toolName string) error {
	err := l.bucket(userID, toolName).Wait(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code, _ := execution.Classify(err)
		return execution.NewError(code, "Limiter", "Wait", "rate-limit wait interrupted", err)
	}
	return execution.NewError(execution.CodeResourceExhausted, "Limiter", "Wait",
		"rate budget not available within wait window", err)
}

// Allow reports whether a slot is available right now without blocking.
func (l *Limiter) Allow(userID, toolName string) bool {
	return l.bucket(userID, toolName).Allow()
}
