package anthropicwire

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multimodel-ai/intelligent-proxy/internal/types"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream"
)

func intPtr(v int) *int { return &v }

func TestBuildParams(t *testing.T) {
	req := &upstream.Request{
		Model: "claude-3-5-haiku-20241022",
		Body: &types.MessageRequest{
			Model:  "claude-3-haiku-20240307",
			System: "stay brief",
			Messages: []types.Message{
				{Role: "user", Content: "hello"},
				{Role: "assistant", Content: "hi"},
			},
			MaxTokens: intPtr(512),
			Stop:      []string{"STOP"},
		},
	}

	params, err := buildParams(req)
	require.NoError(t, err)

	// The routed model wins over the model in the body.
	assert.Equal(t, anthropic.Model("claude-3-5-haiku-20241022"), params.Model)
	assert.Equal(t, int64(512), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "stay brief", params.System[0].Text)
	assert.Len(t, params.Messages, 2)
	assert.Equal(t, []string{"STOP"}, params.StopSequences)
}

func TestBuildParams_DefaultMaxTokens(t *testing.T) {
	req := &upstream.Request{
		Model: "claude-sonnet-4-20250514",
		Body: &types.MessageRequest{
			Messages: []types.Message{{Role: "user", Content: "hello"}},
		},
	}

	params, err := buildParams(req)
	require.NoError(t, err)
	assert.Equal(t, int64(defaultMaxTokens), params.MaxTokens)
}

func TestBuildParams_MissingBody(t *testing.T) {
	_, err := buildParams(&upstream.Request{Model: "m"})
	assert.Error(t, err)
}

func TestContentBlocks(t *testing.T) {
	blocks, err := contentBlocks("plain text")
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	blocks, err = contentBlocks([]types.ContentPart{
		{Type: "text", Text: "a"},
		{Type: "image"},
		{Type: "text", Text: "b"},
	})
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	blocks, err = contentBlocks([]interface{}{
		map[string]interface{}{"type": "text", "text": "raw"},
		map[string]interface{}{"type": "tool_use"},
	})
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	_, err = contentBlocks(42)
	assert.Error(t, err)
}

func TestConvertMessage_EmptyContentRejected(t *testing.T) {
	_, err := convertMessage(types.Message{Role: "user", Content: []types.ContentPart{{Type: "image"}}})
	assert.Error(t, err)
}
