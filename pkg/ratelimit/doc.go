// Package ratelimit paces outbound image requests.
//
// Interval enforces a minimum gap between consecutive requests, which is how
// the downloader keeps successive records delay_between_requests apart:
//
//	limiter := ratelimit.NewInterval(500 * time.Millisecond)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled
//	}
//	// issue request
package ratelimit
