package proxy

import (
	"context"
	"fmt"
)

// ResilientClient wraps an UpstreamClient with retry-with-backoff and a
// single circuit breaker guarding the one configured upstream. It is
// consulted only on the path that actually dials out; a fully-cached
// request never reaches it.
type ResilientClient struct {
	client *UpstreamClient
	cb     *CircuitBreaker
	retry  RetryConfig
}

// NewResilientClient builds a ResilientClient around client, guarded by a
// circuit breaker cb and the retry policy retry.
func NewResilientClient(client *UpstreamClient, cb *CircuitBreaker, retry RetryConfig) *ResilientClient {
	return &ResilientClient{client: client, cb: cb, retry: retry}
}

// Generate calls the upstream, retrying retryable statuses with full-jitter
// exponential backoff up to retry.MaxAttempts. A tripped circuit breaker
// short-circuits to UpstreamUnavailable without dialing out.
func (r *ResilientClient) Generate(ctx context.Context, body []byte) ([]byte, error) {
	if !r.cb.Allow() {
		return nil, unavailable("circuit breaker open: upstream considered unavailable", nil)
	}

	maxAttempts := r.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		respBody, status, err := r.client.Generate(ctx, body)
		if err != nil {
			r.cb.RecordFailure()
			lastErr = err
			if attempt == maxAttempts-1 {
				return nil, err
			}
			if sleepErr := sleepWithContext(ctx, backoffDelay(attempt, r.retry.BaseDelay, r.retry.MaxDelay)); sleepErr != nil {
				return nil, unavailable("waiting to retry upstream call", sleepErr)
			}
			continue
		}

		if isRetryableStatus(status) {
			r.cb.RecordFailure()
			lastErr = protocolError("upstream returned retryable status", statusError(status))
			if attempt == maxAttempts-1 {
				return nil, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDelay(attempt, r.retry.BaseDelay, r.retry.MaxDelay)); sleepErr != nil {
				return nil, unavailable("waiting to retry upstream call", sleepErr)
			}
			continue
		}

		if status >= 500 {
			r.cb.RecordFailure()
			return nil, protocolError("upstream returned server error", statusError(status))
		}
		if status >= 400 {
			// Client-shaped error from upstream is not a breaker failure:
			// the upstream itself is reachable and responding.
			return nil, protocolError("upstream rejected request", statusError(status))
		}

		r.cb.RecordSuccess()
		return respBody, nil
	}

	return nil, lastErr
}

func statusError(status int) error {
	return fmt.Errorf("status %d", status)
}
