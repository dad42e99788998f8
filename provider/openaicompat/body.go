package openaicompat

import "github.com/nevindra/relay"

// Message is one chat message in the wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the wire-format request body for /chat/completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// BuildBody converts a relay request into the wire format. The compiled
// prompt travels as a single user message; an optional system text comes
// from req.Metadata["system"]. A request temperature wins over the
// provider default.
func BuildBody(model string, req relay.ProviderRequest, defaultTemp *float64) ChatRequest {
	var messages []Message
	if sys := req.Metadata["system"]; sys != "" {
		messages = append(messages, Message{Role: "system", Content: sys})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	body := ChatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxOutputTokens,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	} else if defaultTemp != nil {
		body.Temperature = defaultTemp
	}
	return body
}
