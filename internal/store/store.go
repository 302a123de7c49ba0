// Package store persists the document index, usage log and ingest runs
// in Postgres. Chunk embeddings live in a pgvector column and similarity
// search is delegated to the database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection pool and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Document is an ingested source page.
type Document struct {
	ID          string
	Source      string
	Title       string
	ContentHash string
	CreatedAt   time.Time
}

// Chunk is one embedded passage of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
	Metadata   map[string]any
}

// ChunkHit is a similarity search result; lower distance is closer.
type ChunkHit struct {
	Chunk    Chunk
	Distance float64
}

// ReplaceDocument upserts a document and replaces all of its chunks in
// one transaction. The document is keyed by source URL.
func (s *Store) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	var docID string
	err = tx.QueryRowContext(ctx, `
INSERT INTO documents (id, source, title, content_hash, created_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (source) DO UPDATE SET
  title = EXCLUDED.title,
  content_hash = EXCLUDED.content_hash,
  created_at = NOW()
RETURNING id;
`, doc.ID, doc.Source, doc.Title, doc.ContentHash).Scan(&docID)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, docID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, document_id, idx, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5::vector,$6,NOW());
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("embedding vector required for chunk %d", ch.Index)
		}
		vectorLiteral, verr := encodeVectorLiteral(ch.Embedding)
		if verr != nil {
			return verr
		}
		meta := ch.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaBytes, merr := json.Marshal(meta)
		if merr != nil {
			return fmt.Errorf("marshal metadata: %w", merr)
		}
		id := ch.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err = stmt.ExecContext(ctx, id, docID, ch.Index, ch.Content, vectorLiteral, metaBytes); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Index, err)
		}
	}
	return nil
}

// SearchChunks returns the k closest chunks to the supplied vector.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, k int) ([]ChunkHit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if k <= 0 {
		k = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.document_id, c.idx, c.content, c.metadata, c.embedding <=> $1::vector AS distance
FROM chunks c
ORDER BY c.embedding <=> $1::vector
LIMIT $2
`, vecLiteral, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []ChunkHit
	for rows.Next() {
		var (
			hit       ChunkHit
			metaBytes []byte
		)
		if err := rows.Scan(&hit.Chunk.ID, &hit.Chunk.DocumentID, &hit.Chunk.Index, &hit.Chunk.Content, &metaBytes, &hit.Distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &hit.Chunk.Metadata)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ListChunkContents returns every chunk's id, content and metadata, used
// to build the keyword fallback index at startup.
func (s *Store) ListChunkContents(ctx context.Context) ([]Chunk, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, document_id, idx, content, metadata FROM chunks ORDER BY document_id, idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []Chunk
	for rows.Next() {
		var (
			ch        Chunk
			metaBytes []byte
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Index, &ch.Content, &metaBytes); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &ch.Metadata)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// EmbeddingMeta records which provider/model produced the stored vectors.
type EmbeddingMeta struct {
	Provider  string
	Model     string
	Dimension int
	UpdatedAt time.Time
}

// ErrNoEmbeddingMeta is returned when the index has never been ingested.
var ErrNoEmbeddingMeta = errors.New("no embedding metadata recorded")

// GetEmbeddingMeta returns the embedding configuration recorded at the
// last ingest.
func (s *Store) GetEmbeddingMeta(ctx context.Context) (EmbeddingMeta, error) {
	var meta EmbeddingMeta
	err := s.DB.QueryRowContext(ctx, `SELECT provider, model, dimension, updated_at FROM embedding_meta WHERE id=1`).
		Scan(&meta.Provider, &meta.Model, &meta.Dimension, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EmbeddingMeta{}, ErrNoEmbeddingMeta
	}
	if err != nil {
		return EmbeddingMeta{}, err
	}
	return meta, nil
}

// SetEmbeddingMeta records the embedding configuration used by an ingest.
func (s *Store) SetEmbeddingMeta(ctx context.Context, meta EmbeddingMeta) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO embedding_meta (id, provider, model, dimension, updated_at)
VALUES (1,$1,$2,$3,NOW())
ON CONFLICT (id) DO UPDATE SET
  provider = EXCLUDED.provider,
  model = EXCLUDED.model,
  dimension = EXCLUDED.dimension,
  updated_at = NOW();
`, meta.Provider, meta.Model, meta.Dimension)
	return err
}

// encodeVectorLiteral renders a pgvector literal like [0.1,0.2,...].
func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
