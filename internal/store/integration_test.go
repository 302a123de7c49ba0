package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/promtior/rag-assistant/internal/store"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Exercises the real pgvector search path against a disposable Postgres.
func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("PROMTIOR_INTEGRATION") == "" {
		t.Skip("set PROMTIOR_INTEGRATION=1 to run container-backed tests")
	}

	ctx := context.Background()

	migration, err := filepath.Abs(filepath.Join("..", "..", "migrations", "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("migration path: %v", err)
	}

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase("promtior"),
		tcPostgres.WithUsername("promtior"),
		tcPostgres.WithPassword("promtior"),
		tcPostgres.WithInitScripts(migration),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://promtior:promtior@%s:%s/promtior?sslmode=disable", host, port.Port())

	ctxOpen, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s, err := store.NewWithDSN(ctxOpen, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer s.Close()

	doc := store.Document{Source: "https://promtior.ai", Title: "Promtior"}
	chunks := []store.Chunk{
		{Index: 0, Content: "Promtior ofrece consultoría en IA.", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"source": "https://promtior.ai"}},
		{Index: 1, Content: "Fundada en mayo de 2023.", Embedding: []float32{0, 1, 0}},
	}
	if err := s.ReplaceDocument(ctx, doc, chunks); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	hits, err := s.SearchChunks(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.Content != "Promtior ofrece consultoría en IA." {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	// replacing the same source must not duplicate chunks
	if err := s.ReplaceDocument(ctx, doc, chunks[:1]); err != nil {
		t.Fatalf("ReplaceDocument again: %v", err)
	}
	all, err := s.ListChunkContents(ctx)
	if err != nil {
		t.Fatalf("ListChunkContents: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 chunk after replace, got %d", len(all))
	}
}
