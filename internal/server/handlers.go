package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/promtior/rag-assistant/internal/ingest"
	"github.com/promtior/rag-assistant/internal/rag"
	"github.com/promtior/rag-assistant/internal/store"
	"github.com/promtior/rag-assistant/internal/validate"
)

// maxQueryParamLen caps the raw q parameter before it reaches the
// pipeline, which applies the real validation rules.
const maxQueryParamLen = 500

// Answerer is the answer pipeline as the HTTP layer sees it.
type Answerer interface {
	Execute(ctx context.Context, question string) (string, error)
}

// Cache is the answer cache as the HTTP layer sees it; satisfied by
// *AnswerCache, whose methods tolerate a nil receiver.
type Cache interface {
	Get(ctx context.Context, question string) string
	Set(ctx context.Context, question, answer string)
}

// AskHandler serves the question-answering endpoints.
type AskHandler struct {
	Answerer Answerer
	Cache    Cache
	Store    *store.Store
	Metrics  *Metrics
	Logger   *log.Logger
}

type askResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Status   string `json:"status"`
}

func (h *AskHandler) Register(e *echo.Echo) {
	e.GET("/ask", h.ask)
	e.GET("/api/v1/ask", h.ask)
}

func (h *AskHandler) ask(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query parameter q")
	}
	if len(q) > maxQueryParamLen {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q too long")
	}

	ctx := c.Request().Context()
	start := time.Now()

	if cached := h.cacheGet(ctx, q); cached != "" {
		if h.Metrics != nil {
			h.Metrics.CacheHits.Inc()
			h.Metrics.Questions.WithLabelValues("cache_hit").Inc()
		}
		// cache hits count as answered questions in the usage log too;
		// zero attempts marks that no generation ran
		h.record(ctx, store.UsageRecord{
			Question:  q,
			Answer:    cached,
			Status:    store.UsageStatusSuccess,
			Attempts:  0,
			Duration:  time.Since(start),
			RequestID: requestID(c),
		})
		return c.JSON(http.StatusOK, askResponse{Question: q, Answer: cached, Status: "success"})
	}
	if h.Metrics != nil {
		h.Metrics.CacheMisses.Inc()
	}

	answer, err := h.Answerer.Execute(ctx, q)
	elapsed := time.Since(start)
	if h.Metrics != nil {
		h.Metrics.AnswerLatency.Observe(elapsed.Seconds())
	}

	if err != nil {
		return h.fail(c, q, elapsed, err)
	}

	if h.Cache != nil {
		h.Cache.Set(ctx, q, answer)
	}
	h.record(ctx, store.UsageRecord{
		Question:  q,
		Answer:    answer,
		Status:    store.UsageStatusSuccess,
		Attempts:  1,
		Duration:  elapsed,
		RequestID: requestID(c),
	})
	if h.Metrics != nil {
		h.Metrics.Questions.WithLabelValues(store.UsageStatusSuccess).Inc()
		h.Metrics.AnswerAttempts.Observe(1)
	}
	return c.JSON(http.StatusOK, askResponse{Question: q, Answer: answer, Status: "success"})
}

func (h *AskHandler) cacheGet(ctx context.Context, q string) string {
	if h.Cache == nil {
		return ""
	}
	return h.Cache.Get(ctx, q)
}

// fail maps pipeline errors to HTTP status codes. Exhaustion details go
// to the logs, not the client.
func (h *AskHandler) fail(c echo.Context, q string, elapsed time.Duration, err error) error {
	var exhausted *rag.ExhaustedError
	switch {
	case errors.Is(err, validate.ErrInvalidInput):
		h.record(c.Request().Context(), store.UsageRecord{
			Question:  q,
			Status:    store.UsageStatusInvalidInput,
			Duration:  elapsed,
			RequestID: requestID(c),
		})
		if h.Metrics != nil {
			h.Metrics.Questions.WithLabelValues(store.UsageStatusInvalidInput).Inc()
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &exhausted):
		h.record(c.Request().Context(), store.UsageRecord{
			Question:  q,
			Status:    store.UsageStatusExhausted,
			Attempts:  exhausted.Attempts,
			Duration:  elapsed,
			RequestID: requestID(c),
		})
		if h.Metrics != nil {
			h.Metrics.Questions.WithLabelValues(store.UsageStatusExhausted).Inc()
			h.Metrics.AnswerAttempts.Observe(float64(exhausted.Attempts))
		}
		if h.Logger != nil {
			h.Logger.Printf("question exhausted retries: %v", err)
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "unable to generate an answer right now, please try again later")
	default:
		if h.Metrics != nil {
			h.Metrics.Questions.WithLabelValues("error").Inc()
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// record writes the usage row; failures are logged, never surfaced.
func (h *AskHandler) record(ctx context.Context, rec store.UsageRecord) {
	if h.Store == nil {
		return
	}
	if err := h.Store.RecordUsage(ctx, rec); err != nil && h.Logger != nil {
		h.Logger.Printf("record usage: %v", err)
	}
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// Ingester runs the document pipeline; satisfied by *ingest.Pipeline.
type Ingester interface {
	Run(ctx context.Context, sources []string) (ingest.Summary, error)
}

// AdminHandler serves the operator endpoints behind the admin JWT.
type AdminHandler struct {
	Ingester Ingester
	Sources  []string
	Cache    *AnswerCache
	Metrics  *Metrics
	Logger   *log.Logger

	// RefreshIndex rebuilds the keyword fallback index after an ingest.
	RefreshIndex func(ctx context.Context) error
}

func (h *AdminHandler) Register(g *echo.Group) {
	g.POST("/reingest", h.reingest)
}

func (h *AdminHandler) reingest(c echo.Context) error {
	ctx := c.Request().Context()
	sum, err := h.Ingester.Run(ctx, h.Sources)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.IngestRuns.WithLabelValues("failed").Inc()
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.Metrics != nil {
		h.Metrics.IngestRuns.WithLabelValues("succeeded").Inc()
	}
	h.Cache.Flush(ctx)
	if h.RefreshIndex != nil {
		if err := h.RefreshIndex(ctx); err != nil && h.Logger != nil {
			h.Logger.Printf("refresh keyword index: %v", err)
		}
	}
	return c.JSON(http.StatusOK, sum)
}
