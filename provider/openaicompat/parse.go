package openaicompat

import (
	"fmt"

	"github.com/nevindra/relay"
)

// ChatResponse is the wire-format response body from /chat/completions.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts the first choice's text into a relay response.
// An empty choices list is an error; an empty content string is not.
func ParseResponse(provider, model string, resp ChatResponse) (relay.ProviderResponse, error) {
	if len(resp.Choices) == 0 {
		return relay.ProviderResponse{}, fmt.Errorf("empty choices in response %s", resp.ID)
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return relay.ProviderResponse{
		Provider:   provider,
		Model:      model,
		OutputText: resp.Choices[0].Message.Content,
		Raw: map[string]any{
			"id":                resp.ID,
			"finish_reason":     resp.Choices[0].FinishReason,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}
