// Package ratelimit provides per-host request pacing for image downloads.
//
// Every host gets its own token bucket from golang.org/x/time/rate, so a
// slow CDN does not hold back requests to other hosts while the download
// pool stays bounded by its worker count.
//
// Usage:
//
//	limiter := ratelimit.NewHostLimiter(10, 5)
//	if err := limiter.Wait(ctx, req.URL.Host); err != nil {
//	    return err
//	}
package ratelimit
