// Package openaiwire sends attempts to providers speaking the OpenAI
// chat completions dialect (OpenRouter and compatible gateways) and
// translates responses back into the Anthropic message shape callers
// expect.
package openaiwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream"
)

// Client speaks the OpenAI chat completions API on behalf of the
// Anthropic-style inbound surface.
type Client struct {
	logger *logrus.Logger
}

// NewClient creates an OpenAI wire client.
func NewClient(logger *logrus.Logger) *Client {
	return &Client{logger: logger}
}

// Send implements upstream.Client. API errors with a status code come
// back as a Result; transport failures come back as errors.
func (c *Client) Send(ctx context.Context, p *registry.Provider, req *upstream.Request) (*upstream.Result, error) {
	cfg := openai.DefaultConfig(bearerToken(req.Headers))
	cfg.BaseURL = strings.TrimSuffix(p.BaseURL, "/") + "/v1"
	client := openai.NewClientWithConfig(cfg)

	chatReq, err := buildChatRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
			body, _ := json.Marshal(map[string]interface{}{
				"type": "error",
				"error": map[string]interface{}{
					"type":    apiErr.Type,
					"message": apiErr.Message,
				},
			})
			return &upstream.Result{
				StatusCode: apiErr.HTTPStatusCode,
				Headers:    http.Header{},
				Body:       body,
			}, nil
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	return convertResponse(req.Model, &resp)
}

// bearerToken extracts the caller's API key. OpenRouter expects a plain
// bearer token, so an x-api-key header is accepted as a fallback.
func bearerToken(headers http.Header) string {
	if auth := headers.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return headers.Get("x-api-key")
}

// buildChatRequest converts the Anthropic-style body into an OpenAI
// chat completion request. The system prompt becomes the leading
// system message.
func buildChatRequest(req *upstream.Request) (openai.ChatCompletionRequest, error) {
	body := req.Body
	if body == nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("missing request body")
	}

	var messages []openai.ChatCompletionMessage
	if body.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: body.System,
		})
	}

	for _, msg := range body.Messages {
		text, err := flattenContent(msg.Content)
		if err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("message with role %q: %w", msg.Role, err)
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: text,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}

	if body.MaxTokens != nil {
		chatReq.MaxTokens = *body.MaxTokens
	}
	if body.Temperature != nil {
		chatReq.Temperature = float32(*body.Temperature)
	}
	if body.TopP != nil {
		chatReq.TopP = float32(*body.TopP)
	}
	if len(body.Stop) > 0 {
		chatReq.Stop = body.Stop
	}

	return chatReq, nil
}

// flattenContent reduces Anthropic content blocks to the single string
// the chat completions dialect carries per message.
func flattenContent(content interface{}) (string, error) {
	switch v := content.(type) {
	case string:
		return v, nil
	case []types.ContentPart:
		var b strings.Builder
		for _, part := range v {
			if part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		return b.String(), nil
	case []interface{}:
		var b strings.Builder
		for _, raw := range v {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if partType, _ := part["type"].(string); partType == "text" {
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported content type %T", content)
	}
}

// convertResponse rebuilds an Anthropic-style message envelope from the
// chat completion so callers see one response shape regardless of which
// provider served the request.
func convertResponse(model string, resp *openai.ChatCompletionResponse) (*upstream.Result, error) {
	var text, finishReason string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
	}

	usage := &types.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	envelope := map[string]interface{}{
		"id":    resp.ID,
		"type":  "message",
		"role":  "assistant",
		"model": model,
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"stop_reason":   stopReason(finishReason),
		"stop_sequence": nil,
		"usage": map[string]interface{}{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	return &upstream.Result{
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       body,
		Usage:      usage,
	}, nil
}

func stopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "stop", "":
		return "end_turn"
	default:
		return finishReason
	}
}
