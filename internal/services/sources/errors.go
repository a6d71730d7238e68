package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error taxonomy for source adapters. The aggregator retries
// ErrSourceUnavailable with backoff, records ErrSourceRejected immediately,
// and treats ErrSourceExhausted as a benign partial yield.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceRejected    = errors.New("source rejected request")
	ErrSourceExhausted   = errors.New("source exhausted")
)

// IsRetryable reports whether an error should be retried with backoff
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// classifyStatus maps an HTTP status to the source error taxonomy.
// Timeouts, rate limiting and server errors are transient; other client
// errors mean the request itself is wrong and will not succeed on retry.
func classifyStatus(source string, statusCode int, endpoint string) error {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return fmt.Errorf("%s returned HTTP %d on %s: %w", source, statusCode, endpoint, ErrSourceUnavailable)
	case statusCode >= 400:
		return fmt.Errorf("%s returned HTTP %d on %s: %w", source, statusCode, endpoint, ErrSourceRejected)
	default:
		return nil
	}
}

// classifyTransport maps transport-level failures. Anything that kept the
// request from completing (timeout, reset, refused connection) is transient.
func classifyTransport(source string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out: %w", source, ErrSourceUnavailable)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s timed out: %w", source, ErrSourceUnavailable)
	}
	return fmt.Errorf("%s request failed: %v: %w", source, err, ErrSourceUnavailable)
}
