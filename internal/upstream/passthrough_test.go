package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPassthrough_ForwardsRawBodyWithModelOverwritten(t *testing.T) {
	var gotBody map[string]interface{}
	var gotHeaders http.Header

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","usage":{"input_tokens":12,"output_tokens":34}}`))
	}))
	defer upstreamSrv.Close()

	client := NewPassthroughClient(testLogger())
	p := &registry.Provider{Name: "vertex", BaseURL: upstreamSrv.URL, Wire: registry.WirePassthrough, CostMultiplier: 1.0}

	headers := http.Header{}
	headers.Set("x-api-key", "secret")
	headers.Set("Authorization", "Bearer tok")
	headers.Set("Cookie", "do-not-forward")

	result, err := client.Send(context.Background(), p, &Request{
		RequestID: "req-1",
		Model:     "claude-3-5-haiku-20241022",
		RawBody: map[string]interface{}{
			"model":       "claude-3-haiku-20240307",
			"messages":    []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
			"extra_field": "survives",
			"metadata":    map[string]interface{}{"user_id": "u1"},
		},
		Headers: headers,
	})
	require.NoError(t, err)

	assert.True(t, result.OK())
	require.NotNil(t, result.Usage)
	assert.Equal(t, 46, result.Usage.TotalTokens())

	// The routed model replaces the requested one; everything else is
	// forwarded untouched.
	assert.Equal(t, "claude-3-5-haiku-20241022", gotBody["model"])
	assert.Equal(t, "survives", gotBody["extra_field"])

	assert.Equal(t, "secret", gotHeaders.Get("x-api-key"))
	assert.Equal(t, "Bearer tok", gotHeaders.Get("Authorization"))
	assert.Empty(t, gotHeaders.Get("Cookie"))
	assert.Equal(t, "req-1", gotHeaders.Get("X-Request-ID"))
}

func TestPassthrough_TypedBodyFallback(t *testing.T) {
	var gotBody map[string]interface{}

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id":"msg_2"}`))
	}))
	defer upstreamSrv.Close()

	client := NewPassthroughClient(testLogger())
	p := &registry.Provider{Name: "vertex", BaseURL: upstreamSrv.URL, Wire: registry.WirePassthrough, CostMultiplier: 1.0}

	result, err := client.Send(context.Background(), p, &Request{
		Model: "claude-sonnet-4-20250514",
		Body: &types.MessageRequest{
			Model:    "claude-3-opus-20240229",
			Messages: []types.Message{{Role: "user", Content: "hi"}},
		},
		Headers: http.Header{},
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-20250514", gotBody["model"])
	assert.Nil(t, result.Usage, "no usage in response body")
}

func TestPassthrough_ErrorStatusIsResultNotError(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error"}`))
	}))
	defer upstreamSrv.Close()

	client := NewPassthroughClient(testLogger())
	p := &registry.Provider{Name: "vertex", BaseURL: upstreamSrv.URL, Wire: registry.WirePassthrough, CostMultiplier: 1.0}

	result, err := client.Send(context.Background(), p, &Request{
		Model:   "claude-sonnet-4-20250514",
		RawBody: map[string]interface{}{"model": "m", "messages": []interface{}{}},
		Headers: http.Header{},
	})
	require.NoError(t, err)

	assert.False(t, result.OK())
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	assert.Equal(t, "30", result.Headers.Get("Retry-After"))
}

func TestMux_DispatchesByWire(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"msg_3"}`))
	}))
	defer upstreamSrv.Close()

	m := NewMux()
	m.Register(registry.WirePassthrough, NewPassthroughClient(testLogger()))

	p := &registry.Provider{Name: "vertex", BaseURL: upstreamSrv.URL, Wire: registry.WirePassthrough, CostMultiplier: 1.0}
	result, err := m.Send(context.Background(), p, &Request{
		Model:   "claude-sonnet-4-20250514",
		RawBody: map[string]interface{}{"model": "m"},
		Headers: http.Header{},
	})
	require.NoError(t, err)
	assert.True(t, result.OK())

	unknown := &registry.Provider{Name: "other", Wire: registry.WireAnthropic, CostMultiplier: 1.0}
	_, err = m.Send(context.Background(), unknown, &Request{Headers: http.Header{}})
	assert.Error(t, err)
}
