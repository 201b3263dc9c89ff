package types

// Core request types for the Anthropic-style /v1/messages surface.
// Unknown extension fields are preserved separately by the dispatch layer,
// so this struct only models the fields routing actually inspects.
type MessageRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Stop        []string  `json:"stop_sequences,omitempty"`
}

type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []ContentPart
}

type ContentPart struct {
	Type string `json:"type"` // "text", "image", ...
	Text string `json:"text,omitempty"`
}

// Preferences carries optional per-request routing hints supplied by the
// caller alongside the message body.
type Preferences struct {
	PreferFast        bool   `json:"prefer_fast,omitempty"`
	PreferCheap       bool   `json:"prefer_cheap,omitempty"`
	PreferredProvider string `json:"preferred_provider,omitempty"`
	UseCase           string `json:"use_case,omitempty"`
}

// Usage reports token counts from an upstream response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TotalTokens returns input + output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// TextLength sums the character count of all text content in a message,
// ignoring non-text blocks. Used by token estimation.
func (m Message) TextLength() int {
	switch content := m.Content.(type) {
	case string:
		return len(content)
	case []ContentPart:
		total := 0
		for _, part := range content {
			if part.Type == "text" {
				total += len(part.Text)
			}
		}
		return total
	case []interface{}:
		// Content decoded from raw JSON arrives as []interface{}.
		total := 0
		for _, raw := range content {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if partType, _ := part["type"].(string); partType == "text" {
				if text, ok := part["text"].(string); ok {
					total += len(text)
				}
			}
		}
		return total
	default:
		return 0
	}
}
