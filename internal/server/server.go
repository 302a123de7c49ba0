package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/promtior/rag-assistant/config"
	"github.com/promtior/rag-assistant/internal/ingest"
	"github.com/promtior/rag-assistant/internal/rag"
	"github.com/promtior/rag-assistant/internal/retriever"
	"github.com/promtior/rag-assistant/internal/store"
	"github.com/promtior/rag-assistant/provider"
)

// Run wires the whole service and blocks serving HTTP.
func Run(cfg *config.Config, addr string) error {
	e := newEcho(cfg)

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	llm, info, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	if err := retriever.CheckEmbeddingMeta(ctx, st, info); err != nil {
		return err
	}

	// redis is optional; without it the answer cache and scheduler lock
	// are disabled
	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}
	cache := NewAnswerCache(rdb, cfg.Server.CacheTTL)

	tmpl, err := rag.TemplateByName(cfg.RAG.PromptTemplate)
	if err != nil {
		return err
	}

	retLogger := log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	keywordIdx := newKeywordHolder(st, retLogger)
	if err := keywordIdx.refresh(ctx); err != nil {
		retLogger.Printf("keyword index unavailable: %v", err)
	}
	ret := &retriever.Hybrid{
		Primary:  &retriever.Vector{Store: st, Embedder: llm},
		Fallback: keywordIdx,
		Logger:   retLogger,
	}

	answerer := rag.NewAnswerer(llm, ret, tmpl, nil, rag.Params{
		TopK:        cfg.RAG.TopK,
		Temperature: cfg.RAG.Temperature,
		MaxRetries:  cfg.RAG.MaxRetries,
		Backoff:     cfg.RAG.Backoff,
	})

	metrics := NewMetrics(prometheus.DefaultRegisterer)
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	ah := &AskHandler{Answerer: answerer, Cache: cache, Store: st, Metrics: metrics, Logger: httpLogger}
	ah.Register(e)

	pipeline := &ingest.Pipeline{
		Fetcher:   ingest.NewFetcher(cfg.Ingest.RenderJS, 0, cfg.Ingest.MaxChars),
		Chunker:   ingest.NewSentenceChunker(cfg.Ingest.ChunkSentences, cfg.Ingest.ChunkOverlap),
		Embedder:  llm,
		Store:     st,
		Info:      info,
		BatchSize: cfg.Ingest.EmbedBatchSize,
	}

	if cfg.Server.JWTSecret != "" {
		auth := &AuthHandler{Secret: []byte(cfg.Server.JWTSecret), KeyHash: cfg.Server.AdminKeyHash}
		admin := e.Group("/admin")
		auth.Register(admin)
		protected := e.Group("/admin", requireAdmin(auth.Secret))
		adminH := &AdminHandler{
			Ingester:     pipeline,
			Sources:      cfg.Ingest.Sources,
			Cache:        cache,
			Metrics:      metrics,
			Logger:       httpLogger,
			RefreshIndex: keywordIdx.refresh,
		}
		adminH.Register(protected)
	} else {
		httpLogger.Printf("admin endpoints disabled (server.jwt_secret not set)")
	}

	registerHealth(e, st, rdb)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	sched := &Scheduler{
		Store:        st,
		Ingester:     pipeline,
		Sources:      cfg.Ingest.Sources,
		Schedule:     cfg.Ingest.Schedule,
		Rdb:          rdb,
		Cache:        cache,
		Metrics:      metrics,
		Stop:         make(chan struct{}),
		RefreshIndex: keywordIdx.refresh,
	}
	sched.Start()

	if addr == "" {
		addr = cfg.General.Listen
		if addr == "" {
			addr = ":8000"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with the shared middleware stack.
func newEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	if cfg.Server.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.Server.RateLimit),
				Burst:     cfg.Server.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		}))
	}
	if cfg.Server.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.Server.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				// re-ingest legitimately outlives the request budget
				return c.Path() == "/admin/reingest"
			},
		}))
	}
	return e
}

func registerHealth(e *echo.Echo, st *store.Store, rdb *redis.Client) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health/live", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health/ready", func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := st.DB.PingContext(ctx); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "redis unavailable")
			}
		}
		return c.String(http.StatusOK, "ready")
	})
}

// keywordHolder wraps the bleve fallback index behind a mutex so the
// ingest endpoints can swap it while /ask keeps serving.
type keywordHolder struct {
	st     *store.Store
	logger *log.Logger

	mu  sync.RWMutex
	idx *retriever.Keyword
}

func newKeywordHolder(st *store.Store, logger *log.Logger) *keywordHolder {
	return &keywordHolder{st: st, logger: logger}
}

func (h *keywordHolder) refresh(ctx context.Context) error {
	chunks, err := h.st.ListChunkContents(ctx)
	if err != nil {
		return err
	}
	idx, err := retriever.NewKeyword(chunks)
	if err != nil {
		return err
	}
	h.mu.Lock()
	old := h.idx
	h.idx = idx
	h.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	h.logger.Printf("keyword index rebuilt with %d chunks", len(chunks))
	return nil
}

func (h *keywordHolder) RetrieveDocuments(ctx context.Context, query string, k int) ([]rag.Document, error) {
	h.mu.RLock()
	idx := h.idx
	h.mu.RUnlock()
	if idx == nil {
		return nil, fmt.Errorf("keyword index not built")
	}
	return idx.RetrieveDocuments(ctx, query, k)
}
