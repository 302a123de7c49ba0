// Package retriever implements the document retrieval capability
// consumed by the answer pipeline: pgvector similarity search as the
// primary path, with an in-memory keyword index as fallback.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/promtior/rag-assistant/internal/rag"
	"github.com/promtior/rag-assistant/internal/store"
	"github.com/promtior/rag-assistant/provider"
)

// Embedder is the slice of the provider interface retrieval needs.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Vector retrieves chunks by embedding the query and running a pgvector
// similarity search.
type Vector struct {
	Store    *store.Store
	Embedder Embedder
}

func (v *Vector) RetrieveDocuments(ctx context.Context, query string, k int) ([]rag.Document, error) {
	vecs, err := v.Embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: no vector returned")
	}
	hits, err := v.Store.SearchChunks(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	docs := make([]rag.Document, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, rag.Document{Content: hit.Chunk.Content, Metadata: hit.Chunk.Metadata})
	}
	return docs, nil
}

// Hybrid tries the vector path first and falls back to the keyword index
// when vector retrieval errors or comes back empty. Failures of both
// paths surface the primary error so the answer loop's retry budget sees
// the real cause.
type Hybrid struct {
	Primary  rag.Retriever
	Fallback rag.Retriever
	Logger   *log.Logger
}

func (h *Hybrid) RetrieveDocuments(ctx context.Context, query string, k int) ([]rag.Document, error) {
	docs, err := h.Primary.RetrieveDocuments(ctx, query, k)
	if err == nil && len(docs) > 0 {
		return docs, nil
	}
	if h.Fallback == nil {
		return docs, err
	}
	if err != nil && h.Logger != nil {
		h.Logger.Printf("vector retrieval failed, falling back to keyword index: %v", err)
	}
	fbDocs, fbErr := h.Fallback.RetrieveDocuments(ctx, query, k)
	if fbErr != nil {
		if err != nil {
			return nil, err
		}
		// the primary's empty result is valid; the pipeline proceeds
		// with an empty context
		return docs, nil
	}
	return fbDocs, nil
}

// CheckEmbeddingMeta verifies that the configured provider matches the
// one the index was built with. A mismatch would make query vectors
// incomparable with the stored ones; the fix is to re-ingest.
func CheckEmbeddingMeta(ctx context.Context, st *store.Store, info provider.Info) error {
	meta, err := st.GetEmbeddingMeta(ctx)
	if errors.Is(err, store.ErrNoEmbeddingMeta) {
		// nothing ingested yet; the index is empty and searches return
		// no documents, which the pipeline tolerates
		return nil
	}
	if err != nil {
		return fmt.Errorf("read embedding metadata: %w", err)
	}
	if meta.Provider != info.Name || meta.Model != info.EmbeddingModel {
		return fmt.Errorf(
			"embedding configuration mismatch: index built with %s/%s but configured %s/%s; re-ingest with the current provider (POST /admin/reingest)",
			meta.Provider, meta.Model, info.Name, info.EmbeddingModel)
	}
	return nil
}
