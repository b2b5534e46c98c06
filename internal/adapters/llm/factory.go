package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/parrot-api/internal/config"
	"github.com/PabloGalante/parrot-api/internal/domain"
)

// Provider is a configured model backend with the token counter that
// matches it.
type Provider struct {
	Name    string
	Client  domain.LLMClient
	Counter domain.TokenCounter
}

// NewProvider builds the backend selected by cfg.LLMProvider.
func NewProvider(ctx context.Context, cfg *config.Config) (*Provider, error) {
	switch cfg.LLMProvider {
	case "vertex", "gemini":
		opts := GenAIOptions{
			Backend:   genai.BackendVertexAI,
			Project:   cfg.GCPProjectID,
			Location:  cfg.GCPLocation,
			ModelName: cfg.ModelName,
		}
		if cfg.LLMProvider == "gemini" {
			opts = GenAIOptions{
				Backend:   genai.BackendGeminiAPI,
				APIKey:    cfg.GeminiAPIKey,
				ModelName: cfg.ModelName,
			}
		}
		c, err := NewGenAIClient(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Provider{Name: cfg.LLMProvider, Client: c, Counter: NewCachedCounter(c)}, nil

	case "openai":
		c, err := NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ModelName)
		if err != nil {
			return nil, err
		}
		return &Provider{Name: "openai", Client: c, Counter: NewCachedCounter(NewTiktokenCounter(c.modelName))}, nil

	case "mock":
		return &Provider{Name: "mock", Client: NewMockLLM(), Counter: NewCachedCounter(NewTiktokenCounter(""))}, nil

	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
}
