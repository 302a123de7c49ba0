package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/promtior/rag-assistant/internal/ingest"
	"github.com/promtior/rag-assistant/internal/rag"
	"github.com/promtior/rag-assistant/internal/store"
	"github.com/promtior/rag-assistant/internal/validate"
)

type stubAnswerer struct {
	answer string
	err    error
	calls  int
}

func (s *stubAnswerer) Execute(context.Context, string) (string, error) {
	s.calls++
	return s.answer, s.err
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func doAsk(t *testing.T, e *echo.Echo, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAsk_Success(t *testing.T) {
	e := newTestEcho()
	h := &AskHandler{
		Answerer: &stubAnswerer{answer: "Promtior was founded in May 2023."},
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e)

	rec := doAsk(t, e, "/ask?q=when+was+Promtior+founded%3F")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "Promtior was founded in May 2023." {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if resp.Question == "" {
		t.Fatalf("response should echo the question")
	}
	if resp.Status != "success" {
		t.Fatalf("expected status %q, got %q", "success", resp.Status)
	}
}

type stubCache struct {
	answers map[string]string
	sets    int
}

func (s *stubCache) Get(_ context.Context, question string) string { return s.answers[question] }

func (s *stubCache) Set(context.Context, string, string) { s.sets++ }

func TestAsk_CacheHitRecordsUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(`INSERT INTO usage_log`).
		WithArgs("what does Promtior do?", "Consulting services.", store.UsageStatusSuccess, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := newTestEcho()
	stub := &stubAnswerer{}
	h := &AskHandler{
		Answerer: stub,
		Cache:    &stubCache{answers: map[string]string{"what does Promtior do?": "Consulting services."}},
		Store:    &store.Store{DB: db},
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e)

	rec := doAsk(t, e, "/ask?q=what+does+Promtior+do%3F")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.calls != 0 {
		t.Fatalf("cache hit must not reach the pipeline")
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "Consulting services." || resp.Status != "success" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAsk_MissingQuery(t *testing.T) {
	e := newTestEcho()
	h := &AskHandler{Answerer: &stubAnswerer{}, Logger: log.New(io.Discard, "", 0)}
	h.Register(e)

	rec := doAsk(t, e, "/ask")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAsk_QueryTooLongAtBoundary(t *testing.T) {
	e := newTestEcho()
	stub := &stubAnswerer{}
	h := &AskHandler{Answerer: stub, Logger: log.New(io.Discard, "", 0)}
	h.Register(e)

	rec := doAsk(t, e, "/ask?q="+strings.Repeat("a", 501))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if stub.calls != 0 {
		t.Fatalf("oversized query must not reach the pipeline")
	}
}

func TestAsk_InvalidInput(t *testing.T) {
	e := newTestEcho()
	h := &AskHandler{
		Answerer: &stubAnswerer{err: fmt.Errorf("%w: question too short", validate.ErrInvalidInput)},
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e)

	rec := doAsk(t, e, "/ask?q=hi")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestAsk_ExhaustedHidesDetails(t *testing.T) {
	e := newTestEcho()
	inner := fmt.Errorf("%w: openai: rate limited", rag.ErrGeneration)
	h := &AskHandler{
		Answerer: &stubAnswerer{err: &rag.ExhaustedError{Attempts: 3, Err: inner}},
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e)

	rec := doAsk(t, e, "/ask?q=what+does+Promtior+do%3F")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "openai") {
		t.Fatalf("provider details leaked to client: %s", rec.Body.String())
	}
}

func TestAsk_UnknownError(t *testing.T) {
	e := newTestEcho()
	h := &AskHandler{
		Answerer: &stubAnswerer{err: errors.New("boom")},
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e)

	rec := doAsk(t, e, "/ask?q=what+does+Promtior+do%3F")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestAsk_APIv1Alias(t *testing.T) {
	e := newTestEcho()
	h := &AskHandler{
		Answerer: &stubAnswerer{answer: "Consulting services."},
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e)

	rec := doAsk(t, e, "/api/v1/ask?q=what+does+Promtior+offer%3F")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

type stubIngester struct {
	sum   ingest.Summary
	err   error
	calls int
}

func (s *stubIngester) Run(context.Context, []string) (ingest.Summary, error) {
	s.calls++
	return s.sum, s.err
}

func TestAdminReingest(t *testing.T) {
	e := newTestEcho()
	ing := &stubIngester{sum: ingest.Summary{RunID: "run-1", Documents: 2, Chunks: 14}}
	refreshed := false
	h := &AdminHandler{
		Ingester:     ing,
		Sources:      []string{"https://promtior.ai"},
		Logger:       log.New(io.Discard, "", 0),
		RefreshIndex: func(context.Context) error { refreshed = true; return nil },
	}
	h.Register(e.Group("/admin"))

	req := httptest.NewRequest(http.MethodPost, "/admin/reingest", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ing.calls != 1 {
		t.Fatalf("expected one ingest run, got %d", ing.calls)
	}
	if !refreshed {
		t.Fatalf("keyword index not refreshed after ingest")
	}
	var sum ingest.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Documents != 2 || sum.Chunks != 14 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestAdminReingest_Failure(t *testing.T) {
	e := newTestEcho()
	h := &AdminHandler{
		Ingester: &stubIngester{err: errors.New("source unreachable")},
		Logger:   log.New(io.Discard, "", 0),
	}
	h.Register(e.Group("/admin"))

	req := httptest.NewRequest(http.MethodPost, "/admin/reingest", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
