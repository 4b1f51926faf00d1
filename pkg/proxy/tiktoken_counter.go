package proxy

import (
	"log"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter provides accurate token counting using tiktoken
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a new tiktoken-based counter
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	// Map model to tiktoken encoding
	encodingName := getEncodingForModel(model)

	// Get encoding
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		// Fallback to cl100k_base (GPT-4/Claude encoding)
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("Failed to get tiktoken encoding: %v", err)
			return nil, err
		}
	}

	return &TiktokenCounter{
		encoding: enc,
	}, nil
}

// getEncodingForModel returns the appropriate encoding for a model
func getEncodingForModel(model string) string {
	// Claude models use cl100k_base (same as GPT-4)
	if strings.Contains(model, "claude") {
		return "cl100k_base"
	}

	// GPT-4 models
	if strings.Contains(model, "gpt-4") {
		return "cl100k_base"
	}

	// GPT-3.5 models
	if strings.Contains(model, "gpt-3.5") {
		return "cl100k_base"
	}

	// Qwen models - use cl100k_base as approximation
	if strings.Contains(model, "qwen") {
		return "cl100k_base"
	}

	// Default to cl100k_base
	return "cl100k_base"
}

// CountTokens returns the exact token count for text
func (tc *TiktokenCounter) CountTokens(text string) int {
	if tc.encoding == nil {
		// Fallback to estimation if encoding failed
		return EstimateTokens(text)
	}

	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// Method returns the counting method name
func (tc *TiktokenCounter) Method() string {
	return "tiktoken"
}

// NewTokenCounter returns a tiktoken counter for model, falling back to the
// heuristic estimate when the encoding cannot be loaded.
func NewTokenCounter(model string) TokenCounter {
	counter, err := NewTiktokenCounter(model)
	if err != nil {
		log.Printf("Failed to create tiktoken counter, using estimation: %v", err)
		return HeuristicCounter{}
	}
	return counter
}
