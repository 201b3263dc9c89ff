package health

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFromResponse_RateLimitWithHeaders(t *testing.T) {
	tracker, _ := newTestTracker(t)

	headers := http.Header{}
	headers.Set("Retry-After", "30")
	headers.Set("X-RateLimit-Limit", "1000")
	headers.Set("X-RateLimit-Remaining", "0")
	headers.Set("X-RateLimit-Reset", "1787572800")

	tracker.DetectFromResponse("vertex", http.StatusTooManyRequests, headers, "")

	snap, ok := tracker.Health("vertex")
	require.True(t, ok)
	assert.Equal(t, StatusRateLimited, snap.Status)

	require.NotNil(t, snap.RateLimit)
	assert.Equal(t, 30*time.Second, snap.RateLimit.RetryAfter)
	assert.Equal(t, 1000, snap.RateLimit.RequestsPerMinute)
	assert.Equal(t, 0, snap.RateLimit.RequestsRemaining)
	assert.Equal(t, time.Unix(1787572800, 0).UTC(), snap.RateLimit.ResetTime)
}

func TestDetectFromResponse_RateLimitDefaults(t *testing.T) {
	tracker, current := newTestTracker(t)

	tracker.DetectFromResponse("vertex", http.StatusTooManyRequests, http.Header{}, "")

	snap, _ := tracker.Health("vertex")
	require.NotNil(t, snap.RateLimit)
	assert.Equal(t, 60*time.Second, snap.RateLimit.RetryAfter)
	assert.Equal(t, current.Add(time.Minute), snap.RateLimit.ResetTime)
}

func TestDetectFromResponse_MalformedHeadersFallBack(t *testing.T) {
	tracker, _ := newTestTracker(t)

	headers := http.Header{}
	headers.Set("Retry-After", "soon")
	headers.Set("X-RateLimit-Reset", "tomorrow")

	tracker.DetectFromResponse("vertex", http.StatusTooManyRequests, headers, "")

	snap, _ := tracker.Health("vertex")
	assert.Equal(t, StatusRateLimited, snap.Status)
	require.NotNil(t, snap.RateLimit)
	assert.Equal(t, 60*time.Second, snap.RateLimit.RetryAfter)
}

func TestDetectFromResponse_Overloaded(t *testing.T) {
	for _, code := range []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout} {
		tracker, _ := newTestTracker(t)

		tracker.DetectFromResponse("vertex", code, http.Header{}, "")

		snap, _ := tracker.Health("vertex")
		assert.Equal(t, StatusOverloaded, snap.Status, "status %d", code)
	}
}

func TestDetectFromResponse_OtherStatusUntouched(t *testing.T) {
	tracker, _ := newTestTracker(t)

	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		tracker.DetectFromResponse("vertex", code, http.Header{}, "")
		snap, _ := tracker.Health("vertex")
		assert.Equal(t, StatusAvailable, snap.Status, "status %d", code)
	}
}

func TestDetectFromResponse_RetryAfterHoldsThroughRefresh(t *testing.T) {
	tracker, current := newTestTracker(t)

	headers := http.Header{}
	headers.Set("Retry-After", "30")
	tracker.DetectFromResponse("vertex", http.StatusTooManyRequests, headers, "")

	// Refresh inside the retry window cannot downgrade the status even
	// though recorded traffic is nowhere near the ceiling.
	tracker.RefreshAll()
	snap, _ := tracker.Health("vertex")
	assert.Equal(t, StatusRateLimited, snap.Status)

	// Once the retry window passes the provider recovers.
	*current = current.Add(31 * time.Second)
	tracker.RefreshAll()
	snap, _ = tracker.Health("vertex")
	assert.Equal(t, StatusAvailable, snap.Status)
}

func TestDetectFromResponse_OverloadHoldExpires(t *testing.T) {
	tracker, current := newTestTracker(t)

	tracker.DetectFromResponse("vertex", http.StatusServiceUnavailable, http.Header{}, "")

	tracker.RefreshAll()
	snap, _ := tracker.Health("vertex")
	assert.Equal(t, StatusOverloaded, snap.Status)

	*current = current.Add(31 * time.Second)
	tracker.RefreshAll()
	snap, _ = tracker.Health("vertex")
	assert.Equal(t, StatusAvailable, snap.Status)
}
