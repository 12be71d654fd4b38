package platform

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
)

// RetryPolicy bounds how often a platform call is retried.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// DefaultRetryPolicy keeps the worst case well under one polling interval.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: defaultMaxRetries, InitialDelay: defaultInitialDelay}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	return p
}

// Retry runs fn until it succeeds, fails permanently or the policy is spent.
// The delay doubles after every attempt (1s -> 2s -> 4s).
func Retry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func() error) error {
	return retry(ctx, policy, logger, IsRetryable, fn)
}

// RetryWrite is Retry for calls that create something on the platform, such
// as posting a reply. Only failures where the request never reached the server
// are repeated, so a reply is not posted twice.
func RetryWrite(ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func() error) error {
	return retry(ctx, policy, logger, IsUnsent, fn)
}

func retry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, retryable func(error) bool, fn func() error) error {
	policy = policy.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	delay := policy.InitialDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", policy.MaxRetries+1),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			logger.Debug("retryable error", zap.Int("attempt", attempt+1), zap.Error(lastErr))
		}
	}

	logger.Warn("all attempts failed", zap.Int("attempts", policy.MaxRetries+1), zap.Error(lastErr))
	return lastErr
}

// IsRetryable reports whether err is a transient network or throttling failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var svcErr *ExternalServiceError
	if errors.As(err, &svcErr) && svcErr.StatusCode != 0 {
		return svcErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"eof",
		"timeout",
		"connection refused",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsUnsent reports whether err shows the request was never processed by the
// server: the connection could not be opened, or the server throttled it.
func IsUnsent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var svcErr *ExternalServiceError
	if errors.As(err, &svcErr) && svcErr.StatusCode != 0 {
		return svcErr.StatusCode == http.StatusTooManyRequests
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "no such host", "network is unreachable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
