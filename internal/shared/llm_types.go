package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Add sums two usages. The model of u is kept unless it is empty.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	model := u.Model
	if model == "" {
		model = o.Model
	}
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		Model:            model,
	}
}

// AgentMeta holds operational metadata for one generation call.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
	// Outcome of the call as judged by the caller, e.g. "selected".
	Outcome string
}

// TotalUsage sums the usage of every meta.
func TotalUsage(metas []AgentMeta) TokenUsage {
	var total TokenUsage
	for _, m := range metas {
		total = total.Add(m.Usage)
	}
	return total
}
