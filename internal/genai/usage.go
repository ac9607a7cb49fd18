package genai

import (
	"encoding/json"

	"github.com/openai/openai-go"
)

// TokenUsage captures token counts for one completion.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// modelRate holds USD prices per one million tokens.
type modelRate struct {
	promptPerM     float64
	completionPerM float64
}

// rateTable maps model prefixes to their current list prices. Unknown models
// fall back to the primary tier's rate so cost is never silently zero.
var rateTable = map[string]modelRate{
	string(openai.ChatModelGPT4o):     {promptPerM: 2.50, completionPerM: 10.00},
	string(openai.ChatModelGPT4oMini): {promptPerM: 0.15, completionPerM: 0.60},
}

var defaultRate = rateTable[string(openai.ChatModelGPT4o)]

// Cost estimates the USD cost of a completion for the given model.
func Cost(model string, usage TokenUsage) float64 {
	rate, ok := rateTable[model]
	if !ok {
		rate = defaultRate
	}
	return float64(usage.PromptTokens)/1e6*rate.promptPerM +
		float64(usage.CompletionTokens)/1e6*rate.completionPerM
}

// EstimateUsage approximates token counts when the provider omits usage,
// using the rough four-characters-per-token heuristic over the serialized
// prompt.
func EstimateUsage(messages []openai.ChatCompletionMessageParamUnion, completion string) TokenUsage {
	var promptChars int
	for _, m := range messages {
		if raw, err := json.Marshal(m); err == nil {
			promptChars += len(raw)
		}
	}
	return TokenUsage{
		PromptTokens:     int64(promptChars / 4),
		CompletionTokens: int64(len(completion) / 4),
	}
}
