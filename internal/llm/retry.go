package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/samsaffron/agentrun/internal/xerrors"
)

// RetryConfig controls the provider retry policy: up to MaxRetries
// retries on {429,502,503,504}, exponential backoff
// starting at BaseDelay and doubling, all other failures propagate
// after one attempt.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Second}
}

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// HTTPStatusError carries a status code out of a transport round trip
// so isRetryable and classify can classify it.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *HTTPStatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "...(truncated)"
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}

func isRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus[statusErr.StatusCode]
	}
	return false
}

// classify maps a terminal HTTP status into the sentinel error taxonomy.
func classify(err error) error {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return xerrors.Wrap(xerrors.ErrAuth, err.Error())
		case statusErr.StatusCode == 429:
			return xerrors.Wrap(xerrors.ErrRateLimit, err.Error())
		case statusErr.StatusCode >= 500:
			return xerrors.Wrap(xerrors.ErrProviderServer, err.Error())
		}
	}
	return err
}

var retryAfterRegex = regexp.MustCompile(`(?i)retry.?after["\s:]+(\d+(?:\.\d+)?)`)

// parseRetryAfter extracts a delay from a Retry-After header or, failing
// that, a "retry after N" substring in the error body.
func parseRetryAfter(header, body string) (time.Duration, bool) {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil {
			return time.Duration(secs) * time.Second, true
		}
	}
	if m := retryAfterRegex.FindStringSubmatch(body); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(f * float64(time.Second)), true
		}
	}
	return 0, false
}

func calculateBackoff(cfg RetryConfig, attempt int, err error) time.Duration {
	if d, ok := retryAfterFromErr(err); ok {
		return d
	}
	delay := cfg.BaseDelay * time.Duration(math.Pow(2, float64(attempt)))
	jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
	return delay + jitter
}

func retryAfterFromErr(err error) (time.Duration, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return parseRetryAfter(statusErr.RetryAfter, statusErr.Body)
	}
	return 0, false
}

// WithRetry runs op up to cfg.MaxRetries+1 times, retrying only on
// classified-retryable errors and sleeping an exponential backoff
// between attempts. The returned error, if any, is classified into the
// sentinel taxonomy in package xerrors.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == cfg.MaxRetries {
			return classify(lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateBackoff(cfg, attempt, lastErr)):
		}
	}
	return classify(lastErr)
}
