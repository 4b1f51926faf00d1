package proxy

import (
	"strings"
)

// TokenCounter counts tokens in text. Implementations report their counting
// method so usage blocks can say how the numbers were produced.
type TokenCounter interface {
	CountTokens(text string) int
	Method() string
}

// EstimateTokens provides a rough estimate of token count for text
// This is a simple heuristic - for accurate counts, use a proper tokenizer
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	// Simple heuristic: ~1 token per 4 characters (typical for English)
	// This is a rough approximation that works reasonably well for:
	// - English text
	// - Code
	// - Mixed content

	// Count characters
	charCount := len(text)

	// Estimate tokens (1 token ≈ 4 characters on average)
	tokenEstimate := charCount / 4

	// Minimum 1 token for non-empty text
	if tokenEstimate == 0 && charCount > 0 {
		tokenEstimate = 1
	}

	return tokenEstimate
}

// HeuristicCounter counts tokens with the 4-characters-per-token estimate
type HeuristicCounter struct{}

// CountTokens returns the estimated token count for text
func (HeuristicCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}

// Method returns the counting method name
func (HeuristicCounter) Method() string {
	return "heuristic"
}

// UsageTracker accumulates relayed output during streaming, keeping assistant
// prose and extracted tool payload apart so both can be reported separately.
type UsageTracker struct {
	counter TokenCounter
	prose   strings.Builder
	tool    strings.Builder
}

// NewUsageTracker creates a new usage tracker. A nil counter falls back to
// the heuristic estimate.
func NewUsageTracker(counter TokenCounter) *UsageTracker {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &UsageTracker{counter: counter}
}

// AddProse adds pass-through assistant text to the prose bucket
func (ut *UsageTracker) AddProse(text string) {
	ut.prose.WriteString(text)
}

// AddTool adds extracted tool payload to the tool bucket
func (ut *UsageTracker) AddTool(text string) {
	ut.tool.WriteString(text)
}

// ProseTokens returns the token count of accumulated prose
func (ut *UsageTracker) ProseTokens() int {
	return ut.counter.CountTokens(ut.prose.String())
}

// ToolTokens returns the token count of accumulated tool payload
func (ut *UsageTracker) ToolTokens() int {
	return ut.counter.CountTokens(ut.tool.String())
}

// TotalTokens returns the combined token count
func (ut *UsageTracker) TotalTokens() int {
	return ut.ProseTokens() + ut.ToolTokens()
}

// Usage returns the current usage block
func (ut *UsageTracker) Usage() map[string]interface{} {
	proseTokens := ut.ProseTokens()
	toolTokens := ut.ToolTokens()
	return map[string]interface{}{
		"prose_tokens": proseTokens,
		"tool_tokens":  toolTokens,
		"total_tokens": proseTokens + toolTokens,
		"method":       ut.counter.Method(),
	}
}
