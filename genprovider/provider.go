// Package genprovider wraps the external generation/embedding provider behind
// a small interface so workflows and tests can inject fakes.
package genprovider

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// GenerationResult is one chat-completion call's output plus its induced cost.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	CostUsd          decimal.Decimal
}

// EmbeddingResult is one embedding call's output plus its induced cost.
type EmbeddingResult struct {
	Vector  []float32
	Tokens  int
	CostUsd decimal.Decimal
}

type Provider interface {
	Generate(ctx context.Context, prompt string) (*GenerationResult, error)
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
}

var (
	mu       sync.RWMutex
	override Provider
)

var ErrProviderUnavailable = errors.New("generation provider not configured")

// Get returns the injected provider if one was Set, otherwise the OpenAI
// provider (which errors per call when no API key is configured).
func Get() Provider {
	mu.RLock()
	defer mu.RUnlock()
	if override != nil {
		return override
	}
	return openAIProvider{}
}

// Set injects a provider; pass nil to restore the default.
func Set(p Provider) {
	mu.Lock()
	defer mu.Unlock()
	override = p
}
