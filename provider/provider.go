package provider

import (
	"context"
	"errors"

	"github.com/promtior/rag-assistant/config"
	ollama_provider "github.com/promtior/rag-assistant/provider/ollama"
	openai_provider "github.com/promtior/rag-assistant/provider/openai"
)

// Provider is the capability interface the answer pipeline consumes. It
// carries exactly the two operations the pipeline needs; implementations
// are interchangeable and chosen once at startup.
type Provider interface {
	// Generate produces a completion for the prompt at the given
	// sampling temperature.
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)

	// CreateEmbedding returns one vector per input text, in input order.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Info describes the embedding side of a provider, persisted at ingest
// time so a later configuration change can be detected.
type Info struct {
	Name           string
	EmbeddingModel string
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, Info, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, Info{}, errors.New("OPENAI_API_KEY not set")
		}
		p := openai_provider.NewClient(cfg.OpenAI)
		return p, Info{Name: "openai", EmbeddingModel: cfg.OpenAI.EmbeddingModel}, nil
	case "ollama":
		p := ollama_provider.NewClient(cfg.Ollama)
		return p, Info{Name: "ollama", EmbeddingModel: cfg.Ollama.EmbeddingModel}, nil
	default:
		return nil, Info{}, errors.New("unsupported LLM provider: " + cfg.Provider)
	}
}
