// Package dispatch executes a routing decision: it tries the selected
// provider first, then each fallback in order, feeding every outcome
// back into health tracking so the next decision sees fresh state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/health"
	"github.com/multimodel-ai/intelligent-proxy/internal/metrics"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/routing"
	"github.com/multimodel-ai/intelligent-proxy/internal/telemetry"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream"
)

// Config tunes the dispatch loop.
type Config struct {
	// FallbackDelay is the pause before each fallback attempt, giving a
	// briefly overloaded provider room to recover.
	FallbackDelay time.Duration
	// AttemptTimeout bounds a single attempt when the provider sets no
	// timeout of its own.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the standard dispatch tuning.
func DefaultConfig() Config {
	return Config{
		FallbackDelay:  time.Second,
		AttemptTimeout: 120 * time.Second,
	}
}

// Loop walks a decision's attempt chain until one provider answers.
type Loop struct {
	registry *registry.Registry
	tracker  *health.Tracker
	client   upstream.Client
	sink     telemetry.Sink
	cfg      Config
	logger   *logrus.Logger
}

// NewLoop creates a dispatch loop. The sink may be nil when no request
// accounting is wanted.
func NewLoop(reg *registry.Registry, tracker *health.Tracker, client upstream.Client, sink telemetry.Sink, cfg Config, logger *logrus.Logger) *Loop {
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 120 * time.Second
	}
	return &Loop{
		registry: reg,
		tracker:  tracker,
		client:   client,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

// Trace summarizes how a dispatch went, for request accounting.
type Trace struct {
	// Attempts is the number of providers tried.
	Attempts int
	// ServedBy is the provider that answered, empty on total failure.
	ServedBy string
	// RateLimited reports whether any attempt hit a 429.
	RateLimited bool
}

// UsedFallback reports whether the request was served by a provider
// other than the originally selected one.
func (t *Trace) UsedFallback() bool {
	return t.ServedBy != "" && t.Attempts > 1
}

// Dispatch tries each attempt in the decision until one returns a
// non-error response. Every attempt's outcome is recorded against its
// provider, including failed ones that trigger a fallback. Returns the
// first successful result, the caller's context error on cancellation,
// or ErrAllProvidersUnavailable once the chain is exhausted. The trace
// is non-nil in every case.
func (l *Loop) Dispatch(ctx context.Context, decision *routing.Decision, req *upstream.Request) (*upstream.Result, *Trace, error) {
	trace := &Trace{}

	// Attempts always includes the primary slot, so an empty decision
	// shows up as a blank selected provider.
	if decision.SelectedProvider == "" {
		return nil, trace, ErrAllProvidersUnavailable
	}
	attempts := decision.Attempts()

	var lastErr error

	for i, attempt := range attempts {
		if i > 0 {
			if err := l.pause(ctx); err != nil {
				return nil, trace, err
			}
		}

		p, ok := l.registry.Get(attempt.Provider)
		if !ok {
			// Decisions come from the same registry, so this only
			// happens if configuration was swapped mid-flight.
			lastErr = &AttemptError{Provider: attempt.Provider, Err: fmt.Errorf("provider not configured")}
			continue
		}

		trace.Attempts++
		result, err := l.attempt(ctx, p, attempt.Model, req)

		var attemptErr *AttemptError
		if errors.As(err, &attemptErr) && attemptErr.StatusCode == http.StatusTooManyRequests {
			trace.RateLimited = true
		}

		if i > 0 {
			outcome := "failure"
			if err == nil {
				outcome = "success"
			}
			metrics.FallbackAttempts.WithLabelValues(attempts[0].Provider, attempt.Provider, outcome).Inc()
		}
		if err == nil {
			trace.ServedBy = p.Name
			return result, trace, nil
		}

		if ctx.Err() != nil {
			return nil, trace, ctx.Err()
		}
		lastErr = err

		l.logger.WithFields(logrus.Fields{
			"provider": attempt.Provider,
			"model":    attempt.Model,
			"attempt":  i + 1,
			"of":       len(attempts),
		}).WithError(err).Warn("Provider attempt failed")
	}

	return nil, trace, fmt.Errorf("%w: %v", ErrAllProvidersUnavailable, lastErr)
}

// attempt sends one request to one provider and feeds the outcome back
// into health tracking and the telemetry sink.
func (l *Loop) attempt(ctx context.Context, p *registry.Provider, model string, req *upstream.Request) (*upstream.Result, error) {
	attemptReq := *req
	attemptReq.Model = model

	timeout := l.cfg.AttemptTimeout
	if p.Timeout > 0 {
		timeout = p.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := l.client.Send(attemptCtx, p, &attemptReq)
	elapsed := time.Since(start)

	if err != nil {
		l.tracker.RecordOutcome(p.Name, false, elapsed, 0)
		metrics.AttemptDuration.WithLabelValues(p.Name, model, "transport_error").Observe(elapsed.Seconds())
		l.record(p.Name, model, false, elapsed, 0)
		return nil, &AttemptError{Provider: p.Name, Err: err}
	}

	tokens := 0
	if result.Usage != nil {
		tokens = result.Usage.TotalTokens()
	}
	success := result.OK()

	l.tracker.RecordOutcome(p.Name, success, elapsed, tokens)
	metrics.AttemptDuration.WithLabelValues(p.Name, model, strconv.Itoa(result.StatusCode)).Observe(elapsed.Seconds())
	l.record(p.Name, model, success, elapsed, tokens)

	if !success {
		l.tracker.DetectFromResponse(p.Name, result.StatusCode, result.Headers, string(result.Body))
		return nil, &AttemptError{Provider: p.Name, StatusCode: result.StatusCode}
	}

	return result, nil
}

// pause waits out the fallback delay, bailing early on cancellation.
func (l *Loop) pause(ctx context.Context) error {
	timer := time.NewTimer(l.cfg.FallbackDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record hands the attempt to the telemetry sink without ever blocking
// or failing the request path.
func (l *Loop) record(provider, model string, success bool, elapsed time.Duration, tokens int) {
	if l.sink == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.WithField("panic", r).Error("Telemetry sink panicked")
			}
		}()
		l.sink.RecordRequest(provider, model, success, elapsed, tokens)
	}()
}
