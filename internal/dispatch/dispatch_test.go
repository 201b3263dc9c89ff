package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multimodel-ai/intelligent-proxy/internal/health"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/routing"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]*registry.Provider{
		{Name: "vertex", BaseURL: "https://vertex.example.com", Wire: registry.WireAnthropic, PrimaryModel: "claude-sonnet-4-20250514", CostMultiplier: 1.0, Priority: 10},
		{Name: "github", BaseURL: "https://models.github.ai/inference", Wire: registry.WireOpenAI, PrimaryModel: "gpt-4o", CostMultiplier: 0.8, Priority: 8},
		{Name: "openrouter", BaseURL: "https://openrouter.ai/api", Wire: registry.WireOpenAI, PrimaryModel: "anthropic/claude-3.5-sonnet", CostMultiplier: 1.2, Priority: 6},
	})
	require.NoError(t, err)
	return reg
}

// scriptedClient returns canned results per provider and records the
// order providers were tried in.
type scriptedClient struct {
	mu      sync.Mutex
	results map[string]*upstream.Result
	errs    map[string]error
	calls   []string
}

func (c *scriptedClient) Send(ctx context.Context, p *registry.Provider, req *upstream.Request) (*upstream.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, p.Name)
	c.mu.Unlock()

	if err, ok := c.errs[p.Name]; ok {
		return nil, err
	}
	if result, ok := c.results[p.Name]; ok {
		return result, nil
	}
	return &upstream.Result{StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(`{}`)}, nil
}

func (c *scriptedClient) callOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// channelSink delivers each record to a channel so tests can wait for
// the async handoff.
type channelSink struct {
	records chan sinkRecord
}

type sinkRecord struct {
	provider string
	success  bool
	tokens   int
}

func (s *channelSink) RecordRequest(provider, model string, success bool, responseTime time.Duration, tokensUsed int) {
	s.records <- sinkRecord{provider: provider, success: success, tokens: tokensUsed}
}

func testDecision() *routing.Decision {
	return &routing.Decision{
		SelectedProvider: "vertex",
		SelectedModel:    "claude-sonnet-4-20250514",
		Fallbacks: []routing.Fallback{
			{Provider: "github", Model: "gpt-4o"},
			{Provider: "openrouter", Model: "anthropic/claude-3.5-sonnet"},
		},
	}
}

func testRequest() *upstream.Request {
	return &upstream.Request{
		RequestID: "req-test",
		Body: &types.MessageRequest{
			Model:    "claude-sonnet-4-20250514",
			Messages: []types.Message{{Role: "user", Content: "hello"}},
		},
		Headers: http.Header{},
	}
}

func newTestLoop(t *testing.T, client upstream.Client, sink *channelSink) (*Loop, *health.Tracker) {
	t.Helper()
	reg := testRegistry(t)
	tracker := health.NewTracker(reg, health.DefaultConfig(), testLogger())
	cfg := Config{FallbackDelay: time.Millisecond, AttemptTimeout: time.Second}
	var loop *Loop
	if sink != nil {
		loop = NewLoop(reg, tracker, client, sink, cfg, testLogger())
	} else {
		loop = NewLoop(reg, tracker, client, nil, cfg, testLogger())
	}
	return loop, tracker
}

func TestDispatch_PrimarySucceeds(t *testing.T) {
	client := &scriptedClient{
		results: map[string]*upstream.Result{
			"vertex": {StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(`{"id":"msg_1"}`), Usage: &types.Usage{InputTokens: 10, OutputTokens: 5}},
		},
	}
	loop, tracker := newTestLoop(t, client, nil)

	result, trace, err := loop.Dispatch(context.Background(), testDecision(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "vertex", trace.ServedBy)
	assert.Equal(t, 1, trace.Attempts)
	assert.False(t, trace.UsedFallback())
	assert.Equal(t, []string{"vertex"}, client.callOrder())

	snap, _ := tracker.Health("vertex")
	assert.Equal(t, int64(1), snap.SuccessCount)
}

func TestDispatch_RateLimitedPrimaryFallsBack(t *testing.T) {
	rateLimitHeaders := http.Header{}
	rateLimitHeaders.Set("Retry-After", "30")

	client := &scriptedClient{
		results: map[string]*upstream.Result{
			"vertex": {StatusCode: http.StatusTooManyRequests, Headers: rateLimitHeaders, Body: []byte(`{"type":"error"}`)},
			"github": {StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(`{"id":"msg_2"}`)},
		},
	}
	loop, tracker := newTestLoop(t, client, nil)

	result, trace, err := loop.Dispatch(context.Background(), testDecision(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, []byte(`{"id":"msg_2"}`), result.Body)
	assert.Equal(t, "github", trace.ServedBy)
	assert.Equal(t, 2, trace.Attempts)
	assert.True(t, trace.UsedFallback())
	assert.True(t, trace.RateLimited)
	assert.Equal(t, []string{"vertex", "github"}, client.callOrder())

	// The 429 marks the primary rate limited with the parsed retry-after.
	snap, _ := tracker.Health("vertex")
	assert.Equal(t, health.StatusRateLimited, snap.Status)
	require.NotNil(t, snap.RateLimit)
	assert.Equal(t, 30*time.Second, snap.RateLimit.RetryAfter)
	assert.Equal(t, int64(1), snap.ErrorCount)

	snap, _ = tracker.Health("github")
	assert.Equal(t, int64(1), snap.SuccessCount)
}

func TestDispatch_TransportErrorFallsBack(t *testing.T) {
	client := &scriptedClient{
		errs: map[string]error{
			"vertex": errors.New("connection refused"),
		},
		results: map[string]*upstream.Result{
			"github": {StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(`{}`)},
		},
	}
	loop, tracker := newTestLoop(t, client, nil)

	_, trace, err := loop.Dispatch(context.Background(), testDecision(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "github", trace.ServedBy)
	assert.False(t, trace.RateLimited)

	snap, _ := tracker.Health("vertex")
	assert.Equal(t, int64(1), snap.ErrorCount)
}

func TestDispatch_AllProvidersFail(t *testing.T) {
	client := &scriptedClient{
		results: map[string]*upstream.Result{
			"vertex":     {StatusCode: http.StatusTooManyRequests, Headers: http.Header{}, Body: []byte(`{}`)},
			"github":     {StatusCode: http.StatusServiceUnavailable, Headers: http.Header{}, Body: []byte(`{}`)},
			"openrouter": {StatusCode: http.StatusInternalServerError, Headers: http.Header{}, Body: []byte(`{}`)},
		},
	}
	loop, tracker := newTestLoop(t, client, nil)

	_, trace, err := loop.Dispatch(context.Background(), testDecision(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersUnavailable))
	assert.Equal(t, 3, trace.Attempts)
	assert.Empty(t, trace.ServedBy)
	assert.True(t, trace.RateLimited)
	assert.Equal(t, []string{"vertex", "github", "openrouter"}, client.callOrder())

	snap, _ := tracker.Health("github")
	assert.Equal(t, health.StatusOverloaded, snap.Status)
}

func TestDispatch_ContextCancelledDuringFallback(t *testing.T) {
	client := &scriptedClient{
		results: map[string]*upstream.Result{
			"vertex": {StatusCode: http.StatusInternalServerError, Headers: http.Header{}, Body: []byte(`{}`)},
		},
	}
	reg := testRegistry(t)
	tracker := health.NewTracker(reg, health.DefaultConfig(), testLogger())
	loop := NewLoop(reg, tracker, client, nil, Config{FallbackDelay: time.Hour, AttemptTimeout: time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := loop.Dispatch(ctx, testDecision(), testRequest())
	assert.ErrorIs(t, err, context.Canceled)

	// Only the primary was tried; the cancel interrupted the pause.
	assert.Equal(t, []string{"vertex"}, client.callOrder())
}

func TestDispatch_SinkReceivesEveryAttempt(t *testing.T) {
	client := &scriptedClient{
		results: map[string]*upstream.Result{
			"vertex": {StatusCode: http.StatusTooManyRequests, Headers: http.Header{}, Body: []byte(`{}`)},
			"github": {StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(`{}`), Usage: &types.Usage{InputTokens: 7, OutputTokens: 3}},
		},
	}
	sink := &channelSink{records: make(chan sinkRecord, 4)}
	loop, _ := newTestLoop(t, client, sink)

	_, _, err := loop.Dispatch(context.Background(), testDecision(), testRequest())
	require.NoError(t, err)

	got := make(map[string]sinkRecord, 2)
	for i := 0; i < 2; i++ {
		select {
		case rec := <-sink.records:
			got[rec.provider] = rec
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for sink records")
		}
	}

	assert.False(t, got["vertex"].success)
	assert.True(t, got["github"].success)
	assert.Equal(t, 10, got["github"].tokens)
}

func TestDispatch_EmptyDecision(t *testing.T) {
	loop, _ := newTestLoop(t, &scriptedClient{}, nil)

	_, _, err := loop.Dispatch(context.Background(), &routing.Decision{}, testRequest())
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)
}
