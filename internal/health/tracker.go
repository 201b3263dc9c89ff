// Package health tracks per-provider availability, counters, and
// rate-limit proximity for the routing engine.
package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/metrics"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
)

// Status is the availability state of a provider.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusRateLimited Status = "rate_limited"
	StatusOverloaded  Status = "overloaded"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// RateLimitInfo holds rate limit details parsed from provider responses.
type RateLimitInfo struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	RequestsRemaining int           `json:"requests_remaining"`
	ResetTime         time.Time     `json:"reset_time"`
	RetryAfter        time.Duration `json:"retry_after"`
}

// Snapshot is a read-only copy of a provider's health state. The scorer
// and routing engine only ever see snapshots; the tracker owns the
// mutable state exclusively.
type Snapshot struct {
	Status          Status        `json:"status"`
	SuccessCount    int64         `json:"success_count"`
	ErrorCount      int64         `json:"error_count"`
	AvgResponseTime float64       `json:"avg_response_time"` // seconds
	LastSuccess     time.Time     `json:"last_success,omitempty"`
	LastError       time.Time     `json:"last_error,omitempty"`
	RateLimit       *RateLimitInfo `json:"rate_limit_info,omitempty"`
}

// SuccessRate returns successCount/(successCount+errorCount), or 1.0 when
// no outcomes have been recorded yet (neutral, never divides by zero).
func (s Snapshot) SuccessRate() float64 {
	total := s.SuccessCount + s.ErrorCount
	if total == 0 {
		return 1.0
	}
	return float64(s.SuccessCount) / float64(total)
}

// Config holds detection tuning for the tracker.
type Config struct {
	// DetectionWindow is the rolling window used to approximate
	// requests/tokens per minute against configured ceilings.
	DetectionWindow time.Duration
	// Threshold is the fraction of a ceiling at which a provider counts
	// as approaching its limit.
	Threshold float64
	// HistoryRetention bounds the raw request/token history.
	HistoryRetention time.Duration
	// OverloadedHold is how long an overloaded status observed from a
	// 502/503/504 response resists being refreshed away.
	OverloadedHold time.Duration
}

// DefaultConfig returns the standard detection tuning.
func DefaultConfig() Config {
	return Config{
		DetectionWindow:  60 * time.Second,
		Threshold:        0.8,
		HistoryRetention: time.Hour,
		OverloadedHold:   30 * time.Second,
	}
}

type tokenSample struct {
	at    time.Time
	count int
}

// providerState is the mutable health record for one provider. All fields
// are guarded by mu; appending and pruning the history slices happens
// under the same lock.
type providerState struct {
	mu sync.Mutex

	status Status
	// hardUntil protects a status set from a concrete HTTP response
	// (429 or 502/503/504) from being downgraded by RefreshAll until it
	// expires.
	hardUntil time.Time
	// pinned marks a status forced through SetStatus. Pinned statuses
	// hold until an administrator sets the provider available again.
	pinned bool

	successCount    int64
	errorCount      int64
	avgResponseTime float64
	lastSuccess     time.Time
	lastError       time.Time
	rateLimit       *RateLimitInfo

	requests []time.Time
	tokens   []tokenSample
}

// Tracker maintains health state for every registered provider.
type Tracker struct {
	registry *registry.Registry
	cfg      Config
	logger   *logrus.Logger
	states   map[string]*providerState

	// now is replaceable in tests.
	now func() time.Time
}

// NewTracker creates a tracker with one state record per registered
// provider, all initially available.
func NewTracker(reg *registry.Registry, cfg Config, logger *logrus.Logger) *Tracker {
	if cfg.DetectionWindow <= 0 {
		cfg.DetectionWindow = 60 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = time.Hour
	}
	if cfg.OverloadedHold <= 0 {
		cfg.OverloadedHold = 30 * time.Second
	}

	t := &Tracker{
		registry: reg,
		cfg:      cfg,
		logger:   logger,
		states:   make(map[string]*providerState, reg.Len()),
		now:      time.Now,
	}

	for _, name := range reg.Names() {
		t.states[name] = &providerState{status: StatusAvailable}
	}

	return t
}

// RecordOutcome records one completed attempt against a provider. It
// appends to the request/token history (pruned to the retention window),
// bumps the lifetime counters, and folds the response time into the
// running average. Unknown providers are ignored.
func (t *Tracker) RecordOutcome(provider string, success bool, responseTime time.Duration, tokensUsed int) {
	state, ok := t.states[provider]
	if !ok {
		t.logger.WithField("provider", provider).Warn("Outcome recorded for unknown provider")
		return
	}

	now := t.now()

	state.mu.Lock()
	defer state.mu.Unlock()

	state.requests = append(state.requests, now)
	state.tokens = append(state.tokens, tokenSample{at: now, count: tokensUsed})
	t.pruneLocked(state, now)

	if success {
		state.successCount++
		state.lastSuccess = now
	} else {
		state.errorCount++
		state.lastError = now
	}

	sample := responseTime.Seconds()
	if state.avgResponseTime == 0 {
		state.avgResponseTime = sample
	} else {
		state.avgResponseTime = (state.avgResponseTime + sample) / 2
	}
}

// pruneLocked drops history entries older than the retention window.
// Caller must hold state.mu.
func (t *Tracker) pruneLocked(state *providerState, now time.Time) {
	cutoff := now.Add(-t.cfg.HistoryRetention)

	kept := state.requests[:0]
	for _, at := range state.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	state.requests = kept

	keptTokens := state.tokens[:0]
	for _, sample := range state.tokens {
		if sample.at.After(cutoff) {
			keptTokens = append(keptTokens, sample)
		}
	}
	state.tokens = keptTokens
}

// IsApproachingLimit reports whether a provider's recent request or token
// volume exceeds the configured fraction of its per-minute ceilings,
// scaled to the detection window.
func (t *Tracker) IsApproachingLimit(provider string) bool {
	state, ok := t.states[provider]
	if !ok {
		return false
	}
	p, ok := t.registry.Get(provider)
	if !ok {
		return false
	}

	now := t.now()
	windowStart := now.Add(-t.cfg.DetectionWindow)
	windowFraction := t.cfg.DetectionWindow.Seconds() / 60.0

	state.mu.Lock()
	defer state.mu.Unlock()

	recentRequests := 0
	for _, at := range state.requests {
		if at.After(windowStart) {
			recentRequests++
		}
	}

	if p.MaxRequestsPerMinute > 0 {
		maxRequests := float64(p.MaxRequestsPerMinute) * windowFraction
		if float64(recentRequests) > maxRequests*t.cfg.Threshold {
			t.logger.WithFields(logrus.Fields{
				"provider": provider,
				"current":  recentRequests,
				"limit":    maxRequests,
			}).Warn("Approaching request rate limit")
			return true
		}
	}

	recentTokens := 0
	for _, sample := range state.tokens {
		if sample.at.After(windowStart) {
			recentTokens += sample.count
		}
	}

	if p.MaxTokensPerMinute > 0 {
		maxTokens := float64(p.MaxTokensPerMinute) * windowFraction
		if float64(recentTokens) > maxTokens*t.cfg.Threshold {
			t.logger.WithFields(logrus.Fields{
				"provider": provider,
				"current":  recentTokens,
				"limit":    maxTokens,
			}).Warn("Approaching token rate limit")
			return true
		}
	}

	return false
}

// RefreshAll recomputes each provider's status from its recent history.
// Statuses set from concrete HTTP responses hold until their expiry;
// administratively pinned statuses are never overwritten.
func (t *Tracker) RefreshAll() {
	now := t.now()

	for _, name := range t.registry.Names() {
		state := t.states[name]

		approaching := t.IsApproachingLimit(name)

		state.mu.Lock()
		if !state.pinned && !now.Before(state.hardUntil) {
			if approaching {
				if state.status != StatusRateLimited {
					metrics.RateLimitsDetected.WithLabelValues(name, "approaching").Inc()
				}
				state.status = StatusRateLimited
			} else {
				state.status = StatusAvailable
			}
		}
		state.mu.Unlock()

		metrics.ProviderHealthScore.WithLabelValues(name).Set(t.HealthScore(name))
	}
}

// SetStatus forces a provider's status. Any status other than available
// is pinned: RefreshAll will not recompute it until an administrator
// sets the provider available again.
func (t *Tracker) SetStatus(provider string, status Status) bool {
	state, ok := t.states[provider]
	if !ok {
		return false
	}

	state.mu.Lock()
	state.status = status
	state.hardUntil = time.Time{}
	state.pinned = status != StatusAvailable
	state.mu.Unlock()

	return true
}

// HealthScore derives a 0-1 score from status and success rate.
func (t *Tracker) HealthScore(provider string) float64 {
	snapshot, ok := t.Health(provider)
	if !ok {
		return 0
	}

	var base float64
	switch snapshot.Status {
	case StatusAvailable:
		base = 1.0
	case StatusOverloaded:
		base = 0.7
	case StatusRateLimited:
		base = 0.3
	default:
		base = 0.1
	}

	if snapshot.SuccessCount+snapshot.ErrorCount > 0 {
		base *= snapshot.SuccessRate()
	}

	return base
}

// Health returns a read-only snapshot for one provider.
func (t *Tracker) Health(provider string) (Snapshot, bool) {
	state, ok := t.states[provider]
	if !ok {
		return Snapshot{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	snapshot := Snapshot{
		Status:          state.status,
		SuccessCount:    state.successCount,
		ErrorCount:      state.errorCount,
		AvgResponseTime: state.avgResponseTime,
		LastSuccess:     state.lastSuccess,
		LastError:       state.lastError,
	}
	if state.rateLimit != nil {
		info := *state.rateLimit
		snapshot.RateLimit = &info
	}

	return snapshot, true
}

// SnapshotAll returns snapshots for every registered provider.
func (t *Tracker) SnapshotAll() map[string]Snapshot {
	all := make(map[string]Snapshot, len(t.states))
	for _, name := range t.registry.Names() {
		if snapshot, ok := t.Health(name); ok {
			all[name] = snapshot
		}
	}
	return all
}
