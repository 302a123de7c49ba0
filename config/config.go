package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	LLM     LLMConfig     `mapstructure:"llm"`
	RAG     RAGConfig     `mapstructure:"rag"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Environment string `mapstructure:"environment"` // development | production
	Listen      string `mapstructure:"listen"`
	LogLevel    string `mapstructure:"log_level"`
	Debug       bool   `mapstructure:"debug"`
}

// LLMConfig selects and configures the generation/embedding provider.
// The provider is chosen once at startup; the answer pipeline never
// branches on provider identity.
type LLMConfig struct {
	Provider string       `mapstructure:"provider"` // openai | ollama
	OpenAI   OpenAIConfig `mapstructure:"openai"`
	Ollama   OllamaConfig `mapstructure:"ollama"`
}

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// OllamaConfig configures the self-hosted Ollama provider.
type OllamaConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RAGConfig tunes the answer pipeline.
type RAGConfig struct {
	TopK           int           `mapstructure:"top_k"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Temperature    float64       `mapstructure:"temperature"`
	Backoff        time.Duration `mapstructure:"backoff"`
	PromptTemplate string        `mapstructure:"prompt_template"` // plain | fewshot
}

// ServerConfig contains HTTP server, auth and caching settings.
type ServerConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AdminKeyHash   string        `mapstructure:"admin_key_hash"` // bcrypt hash of the admin key
	RateLimit      float64       `mapstructure:"rate_limit"`     // requests per second per IP
	RateBurst      int           `mapstructure:"rate_burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// StorageConfig contains database settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig configures the document/chunk store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from either the URL or the
// individual fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig configures the answer cache and scheduler locks.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// IngestConfig configures the document ingestion pipeline.
type IngestConfig struct {
	Sources        []string `mapstructure:"sources"`
	RenderJS       bool     `mapstructure:"render_js"`
	Schedule       string   `mapstructure:"schedule"` // cron spec, @daily, @hourly or empty to disable
	ChunkSentences int      `mapstructure:"chunk_sentences"`
	ChunkOverlap   int      `mapstructure:"chunk_overlap"`
	EmbedBatchSize int      `mapstructure:"embed_batch_size"`
	MaxChars       int      `mapstructure:"max_chars"`
}

// LoadConfig reads configuration from the given file, or searches the
// usual locations when path is empty. Environment variables with the
// PROMTIOR_ prefix override file values (PROMTIOR_LLM_PROVIDER, ...).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.environment", "development")
	viper.SetDefault("general.listen", ":8000")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("llm.provider", "ollama")
	viper.SetDefault("llm.openai.model", "gpt-4o-mini")
	viper.SetDefault("llm.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.openai.max_tokens", 1024)
	viper.SetDefault("llm.openai.timeout", 30*time.Second)
	viper.SetDefault("llm.ollama.base_url", "http://localhost:11434")
	viper.SetDefault("llm.ollama.model", "llama2")
	viper.SetDefault("llm.ollama.embedding_model", "nomic-embed-text")
	viper.SetDefault("llm.ollama.timeout", 120*time.Second)
	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.max_retries", 3)
	viper.SetDefault("rag.temperature", 0.1)
	viper.SetDefault("rag.backoff", time.Second)
	viper.SetDefault("rag.prompt_template", "fewshot")
	viper.SetDefault("server.rate_limit", 0.5) // 30 requests per minute
	viper.SetDefault("server.rate_burst", 10)
	viper.SetDefault("server.request_timeout", 60*time.Second)
	viper.SetDefault("server.cache_ttl", time.Hour)
	viper.SetDefault("ingest.chunk_sentences", 5)
	viper.SetDefault("ingest.chunk_overlap", 1)
	viper.SetDefault("ingest.embed_batch_size", 16)
	viper.SetDefault("ingest.max_chars", 20000)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("PROMTIOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("llm.openai.api_key", "PROMTIOR_LLM_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("storage.postgres.url", "PROMTIOR_STORAGE_POSTGRES_URL", "DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
