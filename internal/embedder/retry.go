package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// embedMaxRetries bounds attempts for transient embedding failures.
const embedMaxRetries = 3

// transientStatus reports whether an HTTP status is worth retrying.
// Auth failures and other client errors are permanent.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// embedWithRetry runs one embedding round trip up to embedMaxRetries times
// with exponential backoff between transient failures. attempt reports via
// its second return value whether its error is worth retrying.
func embedWithRetry(ctx context.Context, name string, attempt func() ([][]float32, bool, error)) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.RandomizationFactor = 0
	bo.Reset()

	var lastErr error
	for i := 1; i <= embedMaxRetries; i++ {
		vecs, retryable, err := attempt()
		if err == nil {
			return vecs, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		if i < embedMaxRetries {
			wait := bo.NextBackOff()
			slog.Default().Warn(name+": transient failure, retrying",
				slog.Int("attempt", i),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%s: exhausted %d attempts: %w", name, embedMaxRetries, lastErr)
}
