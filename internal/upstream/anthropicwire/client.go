// Package anthropicwire sends attempts to providers speaking the native
// Anthropic Messages API through the official SDK.
package anthropicwire

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream"
)

const defaultMaxTokens = 1024

// Client speaks the Anthropic Messages API. A fresh SDK client is built
// per attempt because the base URL and credentials vary by provider and
// by caller.
type Client struct {
	logger *logrus.Logger
}

// NewClient creates an Anthropic wire client.
func NewClient(logger *logrus.Logger) *Client {
	return &Client{logger: logger}
}

// Send implements upstream.Client. API-level failures (a response with
// an error status) are returned as a Result so the caller can inspect
// the status code and rate limit headers; only transport failures are
// returned as errors.
func (c *Client) Send(ctx context.Context, p *registry.Provider, req *upstream.Request) (*upstream.Result, error) {
	opts := []option.RequestOption{
		option.WithBaseURL(p.BaseURL),
		option.WithMaxRetries(0), // retries are the dispatch loop's job
	}
	if key := req.Headers.Get("x-api-key"); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if auth := req.Headers.Get("Authorization"); auth != "" {
		opts = append(opts, option.WithHeader("Authorization", auth))
	}

	client := anthropic.NewClient(opts...)

	params, err := buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	var httpResp *http.Response
	msg, err := client.Messages.New(ctx, params, option.WithResponseInto(&httpResp))
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			headers := http.Header{}
			if apierr.Response != nil {
				headers = apierr.Response.Header
			}
			return &upstream.Result{
				StatusCode: apierr.StatusCode,
				Headers:    headers,
				Body:       []byte(apierr.RawJSON()),
			}, nil
		}
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	headers := http.Header{}
	if httpResp != nil {
		headers = httpResp.Header
	}

	return &upstream.Result{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       []byte(msg.RawJSON()),
		Usage: &types.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// buildParams converts the typed message body into SDK parameters with
// the routed model substituted in.
func buildParams(req *upstream.Request) (anthropic.MessageNewParams, error) {
	body := req.Body
	if body == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("missing request body")
	}

	messages := make([]anthropic.MessageParam, 0, len(body.Messages))
	for _, msg := range body.Messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		messages = append(messages, converted)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}

	if body.MaxTokens != nil {
		params.MaxTokens = int64(*body.MaxTokens)
	}
	if body.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: body.System, Type: "text"},
		}
	}
	if body.Temperature != nil {
		params.Temperature = anthropic.Float(*body.Temperature)
	}
	if body.TopP != nil {
		params.TopP = anthropic.Float(*body.TopP)
	}
	if len(body.Stop) > 0 {
		stop := make([]string, len(body.Stop))
		copy(stop, body.Stop)
		params.StopSequences = stop
	}

	return params, nil
}

// convertMessage turns one inbound message into SDK form. Non-text
// content blocks are dropped; text is what routing forwards today.
func convertMessage(msg types.Message) (anthropic.MessageParam, error) {
	blocks, err := contentBlocks(msg.Content)
	if err != nil {
		return anthropic.MessageParam{}, err
	}
	if len(blocks) == 0 {
		return anthropic.MessageParam{}, fmt.Errorf("message with role %q has no text content", msg.Role)
	}

	if msg.Role == "assistant" {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

func contentBlocks(content interface{}) ([]anthropic.ContentBlockParamUnion, error) {
	switch v := content.(type) {
	case string:
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(v)}, nil
	case []types.ContentPart:
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range v {
			if part.Type == "text" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		return blocks, nil
	case []interface{}:
		var blocks []anthropic.ContentBlockParamUnion
		for _, raw := range v {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if partType, _ := part["type"].(string); partType == "text" {
				if text, ok := part["text"].(string); ok {
					blocks = append(blocks, anthropic.NewTextBlock(text))
				}
			}
		}
		return blocks, nil
	default:
		return nil, fmt.Errorf("unsupported message content type %T", content)
	}
}
