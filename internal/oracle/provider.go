// Package oracle wraps the generative-language-model backends behind one
// contract: a prompt goes in, raw text comes out, and every caller shares a
// single retry-with-timeout client instead of ad hoc timeout logic.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotInitialized is returned when a provider is used before Init.
var ErrNotInitialized = errors.New("oracle provider not initialized")

// Config selects and configures a backend.
type Config struct {
	Backend    string // gemini, ollama
	Model      string // default model override
	OllamaHost string
}

// Provider is one LLM backend. Implementations must be safe for concurrent
// use after Init.
type Provider interface {
	Init(cfg Config) error
	Name() string
	DefaultModel() string
	AllowedModelOrDefault(model string) string
	Generate(ctx context.Context, prompt, model string) (string, error)
	GenerateJSON(ctx context.Context, prompt, model string) (string, error)
}

// NewProvider builds and initializes the backend named in cfg.
func NewProvider(cfg Config) (Provider, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "gemini"
	}
	var p Provider
	switch backend {
	case "gemini":
		p = &geminiProvider{}
	case "ollama":
		p = &ollamaProvider{}
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", cfg.Backend)
	}
	if err := p.Init(cfg); err != nil {
		return nil, err
	}
	return p, nil
}
