package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
)

// PassthroughClient forwards the caller's original message body to an
// Anthropic-compatible endpoint with only the model field overwritten.
type PassthroughClient struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewPassthroughClient creates a passthrough client. Per-attempt
// deadlines come from the request context; the underlying client carries
// no timeout of its own.
func NewPassthroughClient(logger *logrus.Logger) *PassthroughClient {
	return &PassthroughClient{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Send implements Client.
func (c *PassthroughClient) Send(ctx context.Context, p *registry.Provider, req *Request) (*Result, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "intelligent-proxy/1.0")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	forwardAuth(req.Headers, httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Usage:      extractUsage(body),
	}, nil
}

// buildPayload serializes the outbound body with the model overwritten.
// The raw decoded body wins over the typed one so extension fields the
// typed struct doesn't model are forwarded untouched.
func (c *PassthroughClient) buildPayload(req *Request) ([]byte, error) {
	if req.RawBody != nil {
		payload := make(map[string]interface{}, len(req.RawBody))
		for k, v := range req.RawBody {
			payload[k] = v
		}
		payload["model"] = req.Model
		return json.Marshal(payload)
	}

	body := *req.Body
	body.Model = req.Model
	return json.Marshal(&body)
}

// extractUsage pulls token usage out of an Anthropic-style response
// body. Missing or malformed usage yields nil.
func extractUsage(body []byte) *types.Usage {
	var envelope struct {
		Usage *types.Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Usage
}
