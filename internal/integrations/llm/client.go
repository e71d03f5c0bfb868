// Package llm holds the provider clients for text classification and
// paraphrase generation, the provider factory, the response cache
// plumbing and the Labeler that turns raw completions into taxonomy
// labels.
package llm

import "context"

// Client is a single-turn completion client. Generate sends one
// system+user exchange at the given sampling temperature and returns
// the raw text of the reply.
type Client interface {
	Generate(ctx context.Context, system, user string, temperature float64) (string, Usage, error)
}

// Usage counts tokens across one or more calls. Cache fields stay zero
// for providers without prompt caching.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}
