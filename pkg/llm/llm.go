// Package llm provides a provider-neutral chat completion client. The
// pipeline talks to the Client interface only; backends cover Anthropic,
// any OpenAI-compatible endpoint (vLLM, SiliconFlow, OpenAI itself) and a
// local Ollama server.
package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Provider selects a backend implementation.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// Params tunes a single completion call.
type Params struct {
	Model       string
	MaxTokens   int64
	Temperature *float64
	TopP        *float64
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns the combined token count.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Completion is the provider-neutral result of one chat completion.
type Completion struct {
	Text  string
	Usage Usage
}

// Client performs one chat completion with a system and a user prompt.
type Client interface {
	Complete(ctx context.Context, system, user string, p Params) (*Completion, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

// New builds the backend named by cfg.Provider.
func New(cfg Config) (Client, error) {
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, eris.New("llm: anthropic provider requires an API key")
		}
		return NewAnthropic(cfg.APIKey, cfg.Model), nil
	case ProviderOpenAI:
		opts := []OpenAIOption{}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		return NewOpenAI(cfg.APIKey, opts...), nil
	case ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
