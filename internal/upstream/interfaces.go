// Package upstream contains the per-provider HTTP clients used by the
// dispatch loop. Each client speaks one wire dialect; the composite
// client picks the dialect from the provider's configuration.
package upstream

import (
	"context"
	"net/http"

	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
)

// Request is one outbound attempt. Body is the typed request; RawBody,
// when set, is the caller's original decoded JSON and takes precedence
// on passthrough providers so unknown extension fields survive.
type Request struct {
	RequestID string
	Model     string
	Body      *types.MessageRequest
	RawBody   map[string]interface{}
	// Headers are the inbound request headers; only Authorization and
	// x-api-key are forwarded upstream.
	Headers http.Header
}

// Result is one attempt's outcome when an HTTP response was received,
// regardless of status code. Transport-level failures are returned as
// errors instead.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Usage      *types.Usage
}

// OK reports whether the attempt succeeded (status below 400).
func (r *Result) OK() bool {
	return r.StatusCode < 400
}

// Client sends one attempt to one provider.
type Client interface {
	Send(ctx context.Context, p *registry.Provider, req *Request) (*Result, error)
}

// forwardAuth copies the caller's credentials onto an outbound header
// set. Authentication itself is a pass-through concern here.
func forwardAuth(src http.Header, dst http.Header) {
	if auth := src.Get("Authorization"); auth != "" {
		dst.Set("Authorization", auth)
	}
	if key := src.Get("x-api-key"); key != "" {
		dst.Set("x-api-key", key)
	}
}
