// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages.
package httputil

import (
	"context"
	"io"
	"math"
	"net/http"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff
// between retries. Tests override this to avoid real sleeps.
var RetryBaseDelay = 500 * time.Millisecond

const defaultMaxRetries = 5

// DoWithRetry executes an HTTP request, retrying on a transport error or
// any non-200 response, with exponential backoff starting at
// RetryBaseDelay and doubling each attempt. This mirrors the original
// harvester's `wget --tries=5` behavior: unlike a rate-limit-only retry
// policy, any failed attempt (404, 5xx, connection reset, ...) consumes
// one of the bounded retries.
//
// When maxRetries is 0 the default (5) is used. Once retries are
// exhausted, DoWithRetry returns the outcome of the final attempt: its
// response, even if non-200, or a nil response and its transport error
// if that attempt failed at the transport level. If the context is
// cancelled during a backoff wait it returns ctx.Err().
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = nil
		}

		if attempt >= maxRetries {
			return resp, lastErr
		}
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
