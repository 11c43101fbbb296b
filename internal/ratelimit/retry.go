package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
)

// Policy controls retries of transient failures.
type Policy struct {
	MaxAttempts int           // total attempts, default 3
	BaseDelay   time.Duration // default 500ms
	MaxDelay    time.Duration // default 8s
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * time.Second
	}
	return p
}

// Backoff returns the delay before attempt+1, doubling from BaseDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(body))
}

// NewStatusError builds a StatusError from a response, reading Retry-After.
func NewStatusError(provider string, resp *http.Response, body []byte) *StatusError {
	e := &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// IsTransient reports whether err is worth retrying: timeouts, 5xx,
// rate limits and dropped connections. Cancellation, bad input and auth
// failures are deterministic and never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, common.ErrNotConfigured) || errors.Is(err, common.ErrUnauthorized) ||
		errors.Is(err, common.ErrInvalidInput) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusTooEarly,
			se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode >= 500:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// IsAuthFailure reports a credential problem.
func IsAuthFailure(err error) bool {
	if errors.Is(err, common.ErrUnauthorized) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden)
}

// Do runs fn under the provider's admission limit, retrying transient
// failures. The slot is released before sleeping so a backoff never holds
// capacity other callers could use.
func Do[T any](ctx context.Context, l *Limiter, providerName string, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		release, err := l.Acquire(ctx, providerName)
		if err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (after: %v)", err, lastErr)
			}
			return zero, err
		}
		start := time.Now()
		v, err := fn(ctx)
		release()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == p.MaxAttempts || !IsTransient(err) || ctx.Err() != nil {
			break
		}
		delay := p.Backoff(attempt)
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > delay {
			delay = min(se.RetryAfter, p.MaxDelay)
		}
		l.logger.Warn("ratelimit.retry",
			"provider", providerName,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if err := l.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w (after: %v)", err, lastErr)
		}
	}
	return zero, lastErr
}
