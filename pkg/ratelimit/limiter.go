package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter gates outgoing requests by host
type Limiter interface {
	// Allow reports whether a request to host may proceed right now
	Allow(host string) bool
	// Wait blocks until a request to host is allowed or ctx is done
	Wait(ctx context.Context, host string) error
	// Reset drops all per-host state
	Reset()
}

// HostLimiter keeps one token bucket per host so that requests to different
// hosts never wait on each other.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

var _ Limiter = (*HostLimiter)(nil)

// NewHostLimiter creates a limiter allowing rps requests per second per host.
// A non-positive rps disables limiting.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()

	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(h.rps), h.burst)
		h.limiters[host] = limiter
	}
	return limiter
}

func (h *HostLimiter) enabled(host string) bool {
	return h != nil && h.rps > 0 && host != ""
}

// Allow checks if a request to host can proceed without waiting
func (h *HostLimiter) Allow(host string) bool {
	if !h.enabled(host) {
		return true
	}
	return h.limiterFor(host).Allow()
}

// Wait blocks until the host's bucket has a token
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if !h.enabled(host) {
		return ctx.Err()
	}
	return h.limiterFor(host).Wait(ctx)
}

// Reset forgets every host
func (h *HostLimiter) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limiters = make(map[string]*rate.Limiter)
}

// Hosts returns the number of hosts seen since the last reset
func (h *HostLimiter) Hosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.limiters)
}
