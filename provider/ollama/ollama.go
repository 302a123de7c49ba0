package ollama_provider

import (
	"context"
	"fmt"

	"github.com/promtior/rag-assistant/config"
	"github.com/promtior/rag-assistant/internal/httpx"
)

// client implements the provider interface against an Ollama server.
type client struct {
	baseURL        string
	model          string
	embeddingModel string
	http           *httpx.Client
}

// NewClient creates a new Ollama-backed provider.
func NewClient(cfg config.OllamaConfig) *client {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	return &client{
		baseURL:        base,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		// transport-level retries stay at zero: the answer pipeline owns
		// the retry budget for generation
		http: httpx.NewClient(cfg.Timeout, 0, 0),
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate produces a completion using Ollama's generate API.
func (c *client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	req := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": temperature},
	}
	var resp generateResponse
	if err := c.http.DoJSON(ctx, "POST", c.baseURL+"/api/generate", nil, req, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return resp.Response, nil
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// CreateEmbedding generates embeddings one text at a time; Ollama's
// embeddings endpoint takes a single prompt per call.
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		var resp embeddingResponse
		if err := c.http.DoJSON(ctx, "POST", c.baseURL+"/api/embeddings", nil, embeddingRequest{Model: c.embeddingModel, Prompt: text}, &resp); err != nil {
			return nil, fmt.Errorf("ollama embeddings: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("ollama embeddings: empty vector for text %d", i)
		}
		vecs[i] = resp.Embedding
	}
	return vecs, nil
}
