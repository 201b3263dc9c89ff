package health

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/metrics"
)

const defaultRetryAfter = 60 * time.Second

// DetectFromResponse inspects an upstream response for rate limiting or
// overload. A 429 marks the provider rate_limited and captures the
// rate-limit headers; 502/503/504 mark it overloaded. Any other status
// leaves the health state untouched so the caller decides recovery.
func (t *Tracker) DetectFromResponse(provider string, statusCode int, headers http.Header, body string) {
	state, ok := t.states[provider]
	if !ok {
		return
	}

	now := t.now()

	switch {
	case statusCode == http.StatusTooManyRequests:
		info := t.parseRateLimitHeaders(headers, now)

		state.mu.Lock()
		state.status = StatusRateLimited
		state.rateLimit = info
		state.hardUntil = now.Add(info.RetryAfter)
		state.mu.Unlock()

		metrics.RateLimitsDetected.WithLabelValues(provider, "active").Inc()
		t.logger.WithFields(logrus.Fields{
			"provider":    provider,
			"retry_after": info.RetryAfter,
		}).Warn("Rate limit detected")

	case statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout:
		state.mu.Lock()
		state.status = StatusOverloaded
		state.hardUntil = now.Add(t.cfg.OverloadedHold)
		state.mu.Unlock()

		t.logger.WithFields(logrus.Fields{
			"provider":    provider,
			"status_code": statusCode,
		}).Warn("Provider overloaded")
	}
}

// parseRateLimitHeaders extracts rate limit information from the common
// retry-after / x-ratelimit-* headers. Absent or malformed values fall
// back to a 60s retry-after and a reset one minute out; parse failures
// are logged, never propagated.
func (t *Tracker) parseRateLimitHeaders(headers http.Header, now time.Time) *RateLimitInfo {
	info := &RateLimitInfo{
		RetryAfter: defaultRetryAfter,
		ResetTime:  now.Add(time.Minute),
	}

	if raw := headers.Get("Retry-After"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else {
			t.logger.WithField("retry_after", raw).Warn("Failed to parse rate limit headers")
		}
	}

	if raw := headers.Get("X-RateLimit-Limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			info.RequestsPerMinute = limit
		}
	}

	if raw := headers.Get("X-RateLimit-Remaining"); raw != "" {
		if remaining, err := strconv.Atoi(raw); err == nil {
			info.RequestsRemaining = remaining
		}
	}

	if raw := headers.Get("X-RateLimit-Reset"); raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.ResetTime = time.Unix(unix, 0).UTC()
		} else {
			t.logger.WithField("reset", raw).Warn("Failed to parse rate limit headers")
		}
	}

	return info
}
