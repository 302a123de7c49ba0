package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/promtior/rag-assistant/config"
	"github.com/promtior/rag-assistant/internal/ingest"
	"github.com/promtior/rag-assistant/internal/rag"
	"github.com/promtior/rag-assistant/internal/retriever"
	srv "github.com/promtior/rag-assistant/internal/server"
	"github.com/promtior/rag-assistant/internal/store"
	"github.com/promtior/rag-assistant/provider"
)

func main() {
	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{Use: "assistant", Short: "Promtior question-answering assistant"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.yaml")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to general.listen)")

	var migDir, direction string
	var steps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	ingestCmd := &cobra.Command{
		Use:   "ingest [url ...]",
		Short: "Fetch, chunk and embed the knowledge sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			sources := cfg.Ingest.Sources
			if len(args) > 0 {
				sources = args
			}
			return runIngest(cmd.Context(), cfg, sources)
		},
	}

	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return runAsk(cmd.Context(), cfg, strings.Join(args, " "))
		},
	}

	hashKey := &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the bcrypt hash of an admin key for server.admin_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Println(string(hash))
			return nil
		},
	}

	root.AddCommand(serve, migrate, ingestCmd, ask, hashKey)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	return store.NewWithDSN(ctx, dsn)
}

func runIngest(ctx context.Context, cfg *config.Config, sources []string) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	llm, info, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	pipeline := &ingest.Pipeline{
		Fetcher:   ingest.NewFetcher(cfg.Ingest.RenderJS, 0, cfg.Ingest.MaxChars),
		Chunker:   ingest.NewSentenceChunker(cfg.Ingest.ChunkSentences, cfg.Ingest.ChunkOverlap),
		Embedder:  llm,
		Store:     st,
		Info:      info,
		BatchSize: cfg.Ingest.EmbedBatchSize,
	}
	sum, err := pipeline.Run(ctx, sources)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d documents (%d chunks), run %s\n", sum.Documents, sum.Chunks, sum.RunID)
	return nil
}

func runAsk(ctx context.Context, cfg *config.Config, question string) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	llm, info, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	if err := retriever.CheckEmbeddingMeta(ctx, st, info); err != nil {
		return err
	}
	tmpl, err := rag.TemplateByName(cfg.RAG.PromptTemplate)
	if err != nil {
		return err
	}
	answerer := rag.NewAnswerer(llm, &retriever.Vector{Store: st, Embedder: llm}, tmpl, nil, rag.Params{
		TopK:        cfg.RAG.TopK,
		Temperature: cfg.RAG.Temperature,
		MaxRetries:  cfg.RAG.MaxRetries,
		Backoff:     cfg.RAG.Backoff,
	})
	answer, err := answerer.Execute(ctx, question)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}
