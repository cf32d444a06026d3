// Package retry provides exponential backoff and retry logic for transient
// failures while fetching images.
//
// Only errors classified as transient by pkg/errors are retried: network
// failures, timeouts, 408/429 responses and 5xx responses. Cancellation of
// the surrounding context stops the loop immediately.
//
// Basic usage:
//
//	body, err := retry.DoWithResult(func() ([]byte, error) {
//		return client.FetchImage(ctx, url)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.NewExponentialBackoff(500 * time.Millisecond),
//		Context:     ctx,
//		Logger:      log,
//	})
package retry
