package resilience

import (
	"context"

	"github.com/cadenza-ai/cadenza/pkg/provider/llm"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// LLMFallback is an [llm.Provider] with model-level failover. Each backend
// sits behind its own circuit breaker; when the primary fails or its breaker
// is open, the next healthy backend handles the request.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates a failover provider with primary as the preferred
// backend. primaryName labels the backend in logs, typically the model name.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a further backend, tried after all earlier entries.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete forwards to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy backend. Failover
// covers the connection attempt only; once a stream is established,
// mid-stream errors surface to the caller as chunks with an "error"
// FinishReason, like any single provider.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend. Counts from different
// backends may disagree slightly; the pipeline only needs an upper bound.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does not
// participate in failover.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
