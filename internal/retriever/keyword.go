package retriever

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve"

	"github.com/promtior/rag-assistant/internal/rag"
	"github.com/promtior/rag-assistant/internal/store"
)

// Keyword is an in-memory full-text index over the chunk corpus, built
// at startup and rebuilt after each ingest. It keeps /ask usable when
// the embedding provider is down.
type Keyword struct {
	index bleve.Index
	byID  map[string]store.Chunk
}

type keywordDoc struct {
	Content string `json:"content"`
}

// NewKeyword builds the index from the given chunks.
func NewKeyword(chunks []store.Chunk) (*Keyword, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	byID := make(map[string]store.Chunk, len(chunks))
	for _, ch := range chunks {
		if err := idx.Index(ch.ID, keywordDoc{Content: ch.Content}); err != nil {
			return nil, fmt.Errorf("index chunk %s: %w", ch.ID, err)
		}
		byID[ch.ID] = ch
	}
	return &Keyword{index: idx, byID: byID}, nil
}

func (kw *Keyword) RetrieveDocuments(ctx context.Context, query string, k int) ([]rag.Document, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	res, err := kw.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	docs := make([]rag.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ch, ok := kw.byID[hit.ID]
		if !ok {
			continue
		}
		docs = append(docs, rag.Document{Content: ch.Content, Metadata: ch.Metadata})
	}
	return docs, nil
}

// Close releases the index.
func (kw *Keyword) Close() error { return kw.index.Close() }
