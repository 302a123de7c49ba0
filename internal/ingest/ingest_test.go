package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/promtior/rag-assistant/internal/httpx"
	"github.com/promtior/rag-assistant/internal/store"
	"github.com/promtior/rag-assistant/provider"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>Promtior - AI Consulting</title></head>
<body><article>
<p>Promtior offers AI consulting services to companies across Latin America. The company was founded in May 2023 by a team of engineers. It helps organizations adopt generative AI through its GenAI Product Delivery approach. Promtior partners with AWS to deploy solutions in the cloud. The team is headquartered in Montevideo.</p>
<script>alert("never indexed")</script>
</article></body></html>`

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, samplePage)
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: httpx.NewClient(5*time.Second, 0, 0), MaxChars: 20000}
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.Title != "Promtior - AI Consulting" {
		t.Fatalf("unexpected title: %q", page.Title)
	}
	if !strings.Contains(page.Text, "founded in May 2023") {
		t.Fatalf("article text missing: %q", page.Text)
	}
	if strings.Contains(page.Text, "alert(") {
		t.Fatalf("script content leaked into text: %q", page.Text)
	}
	if page.ContentHash == "" {
		t.Fatalf("expected content hash")
	}
}

func TestHTTPFetcher_MaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, samplePage)
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: httpx.NewClient(5*time.Second, 0, 0), MaxChars: 50}
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(page.Text) > 50 {
		t.Fatalf("text not truncated: %d chars", len(page.Text))
	}
}

type fetchFunc func(ctx context.Context, url string) (Page, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (Page, error) { return f(ctx, url) }

type stubEmbedder struct {
	err   error
	calls int
}

func (s *stubEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func TestPipelineRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO ingest_runs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO documents`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectExec(`DELETE FROM chunks`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(`INSERT INTO chunks`)
	mock.ExpectExec(`INSERT INTO chunks`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chunks`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO embedding_meta`).
		WithArgs("openai", "text-embedding-3-small", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ingest_runs SET status=\$2`).
		WithArgs("run-1", "succeeded", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	emb := &stubEmbedder{}
	p := &Pipeline{
		Fetcher: fetchFunc(func(ctx context.Context, url string) (Page, error) {
			return Page{URL: url, Title: "Promtior", Text: "One. Two. Three.", ContentHash: "h"}, nil
		}),
		Chunker:   NewSentenceChunker(2, 0),
		Embedder:  emb,
		Store:     &store.Store{DB: db},
		Info:      provider.Info{Name: "openai", EmbeddingModel: "text-embedding-3-small"},
		BatchSize: 16,
		Logger:    log.New(io.Discard, "", 0),
	}

	sum, err := p.Run(context.Background(), []string{"https://promtior.ai"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Documents != 1 || sum.Chunks != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if emb.calls != 1 {
		t.Fatalf("expected one embedding batch, got %d", emb.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPipelineRun_EmbedFailureMarksRunFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO ingest_runs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-2"))
	mock.ExpectExec(`UPDATE ingest_runs SET status=\$2`).
		WithArgs("run-2", "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &Pipeline{
		Fetcher: fetchFunc(func(ctx context.Context, url string) (Page, error) {
			return Page{URL: url, Text: "One. Two.", ContentHash: "h"}, nil
		}),
		Chunker:  NewSentenceChunker(2, 0),
		Embedder: &stubEmbedder{err: errors.New("provider down")},
		Store:    &store.Store{DB: db},
		Logger:   log.New(io.Discard, "", 0),
	}

	if _, err := p.Run(context.Background(), []string{"https://promtior.ai"}); err == nil {
		t.Fatalf("expected error from embedding failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPipelineRun_NoSources(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO ingest_runs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-3"))
	mock.ExpectExec(`UPDATE ingest_runs SET status=\$2`).
		WithArgs("run-3", "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &Pipeline{
		Fetcher:  fetchFunc(func(ctx context.Context, url string) (Page, error) { return Page{}, nil }),
		Chunker:  NewSentenceChunker(2, 0),
		Embedder: &stubEmbedder{},
		Store:    &store.Store{DB: db},
		Logger:   log.New(io.Discard, "", 0),
	}

	if _, err := p.Run(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty source list")
	}
}
