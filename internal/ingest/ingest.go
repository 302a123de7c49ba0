package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/promtior/rag-assistant/internal/store"
	"github.com/promtior/rag-assistant/provider"
)

// Embedder is the slice of the provider interface ingestion needs.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline fetches the configured sources, chunks them and writes
// embedded chunks to the store.
type Pipeline struct {
	Fetcher   Fetcher
	Chunker   *SentenceChunker
	Embedder  Embedder
	Store     *store.Store
	Info      provider.Info
	BatchSize int
	Logger    *log.Logger
}

// Summary reports what one run ingested.
type Summary struct {
	RunID     string `json:"run_id"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

// Run ingests all sources. A run is recorded even when it fails, so
// operators can see what the scheduler has been doing. A source that
// yields no text is an error: shipping an empty index silently would be
// worse than failing loudly.
func (p *Pipeline) Run(ctx context.Context, sources []string) (Summary, error) {
	logger := p.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = 16
	}

	runID, err := p.Store.CreateIngestRun(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("create ingest run: %w", err)
	}
	sum := Summary{RunID: runID}

	fail := func(err error) (Summary, error) {
		msg := err.Error()
		if ferr := p.Store.FinishIngestRun(ctx, runID, "failed", &msg); ferr != nil {
			logger.Printf("mark ingest run failed: %v", ferr)
		}
		return sum, err
	}

	if len(sources) == 0 {
		return fail(fmt.Errorf("no sources configured"))
	}

	dimension := 0
	for _, src := range sources {
		page, err := p.Fetcher.Fetch(ctx, src)
		if err != nil {
			return fail(err)
		}
		if page.Text == "" {
			return fail(fmt.Errorf("source %s yielded no text", src))
		}

		chunks := p.Chunker.Chunk(page.Text)
		logger.Printf("source %s: %d chars, %d chunks", src, len(page.Text), len(chunks))

		stored := make([]store.Chunk, 0, len(chunks))
		for start := 0; start < len(chunks); start += batch {
			end := start + batch
			if end > len(chunks) {
				end = len(chunks)
			}
			vecs, err := p.Embedder.CreateEmbedding(ctx, chunks[start:end])
			if err != nil {
				return fail(fmt.Errorf("embed chunks for %s: %w", src, err))
			}
			if len(vecs) != end-start {
				return fail(fmt.Errorf("embed chunks for %s: got %d vectors for %d texts", src, len(vecs), end-start))
			}
			for i, vec := range vecs {
				dimension = len(vec)
				stored = append(stored, store.Chunk{
					Index:     start + i,
					Content:   chunks[start+i],
					Embedding: vec,
					Metadata:  map[string]any{"source": src, "title": page.Title},
				})
			}
		}

		doc := store.Document{Source: src, Title: page.Title, ContentHash: page.ContentHash}
		if err := p.Store.ReplaceDocument(ctx, doc, stored); err != nil {
			return fail(fmt.Errorf("store %s: %w", src, err))
		}
		sum.Documents++
		sum.Chunks += len(stored)
	}

	meta := store.EmbeddingMeta{Provider: p.Info.Name, Model: p.Info.EmbeddingModel, Dimension: dimension}
	if err := p.Store.SetEmbeddingMeta(ctx, meta); err != nil {
		return fail(fmt.Errorf("record embedding metadata: %w", err))
	}
	if err := p.Store.FinishIngestRun(ctx, runID, "succeeded", nil); err != nil {
		logger.Printf("mark ingest run succeeded: %v", err)
	}
	logger.Printf("ingest %s done: %d documents, %d chunks", runID, sum.Documents, sum.Chunks)
	return sum, nil
}
