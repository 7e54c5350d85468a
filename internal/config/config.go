// Package config holds configuration loading and logger setup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies an LLM/embedding backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
)

// StoreBackend selects the vector store implementation.
type StoreBackend string

const (
	// StoreSurreal uses SurrealDB with HNSW indexes (the ANN path).
	StoreSurreal StoreBackend = "surreal"
	// StoreLocal uses the in-process brute-force store persisted to disk.
	StoreLocal StoreBackend = "local"
)

// Models names the model used by each pipeline stage.
type Models struct {
	Planner      string `yaml:"planner"`
	Reviewer     string `yaml:"reviewer"`
	VariationMgr string `yaml:"variation_mgr"`
	FastQA       string `yaml:"fast_qa"`
	VisionQA     string `yaml:"vision_qa"`
	RerankText   string `yaml:"reranker_text"`
	RerankVision string `yaml:"reranker_vision"`
	RendererNew  string `yaml:"renderer_new"`
	RendererEdit string `yaml:"renderer_edit"`
	Embedding    string `yaml:"embedding_text"`
}

// Retrieval configures the hybrid retrieval engine.
type Retrieval struct {
	KText        int  `yaml:"k_text"`
	KImage       int  `yaml:"k_image"`
	TextRerank   bool `yaml:"text_rerank"`
	VisionRerank bool `yaml:"vision_rerank"`
	CtxWindow    int  `yaml:"ctx_window"`
	CtxImages    int  `yaml:"ctx_images"`
}

// Config holds all configuration values.
type Config struct {
	// Vector store
	StoreBackend StoreBackend `yaml:"store_backend"`
	StorePath    string       `yaml:"store_path"` // local backend root, independent of run dir

	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// LLM / embedding providers
	LLMProvider     Provider `yaml:"llm_provider"`
	OpenAIAPIKey    string   `yaml:"-"`
	AnthropicAPIKey string   `yaml:"-"`
	OllamaHost      string   `yaml:"ollama_host"`
	EmbedDimension  int      `yaml:"embed_dimension"`

	Models    Models    `yaml:"models"`
	Retrieval Retrieval `yaml:"retrieval"`

	// Run limits
	BudgetUSD        float64 `yaml:"budget_usd"`
	NVariations      int     `yaml:"n_variations"`
	MaxRetries       int     `yaml:"max_retries"`
	MaxEditRetries   int     `yaml:"max_edit_retries"`
	ShotsPerScene    int     `yaml:"shots_per_scene"`
	ParallelRender   int     `yaml:"parallel_render"`
	VisionSampleRate float64 `yaml:"vision_sample_rate"`

	// External call policy
	CallTimeout time.Duration `yaml:"call_timeout"`
	MaxAttempts int           `yaml:"max_attempts"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables over built-in
// defaults.
func Load() Config {
	return Config{
		StoreBackend: StoreBackend(getEnv("SBG_STORE_BACKEND", string(StoreLocal))),
		StorePath:    getEnv("SBG_STORE_PATH", defaultStorePath()),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "storyboard"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "memory"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     Provider(getEnv("SBG_LLM_PROVIDER", string(ProviderOpenAI))),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		EmbedDimension:  getEnvInt("SBG_EMBED_DIMENSION", 1536),

		Models: Models{
			Planner:      getEnv("SBG_MODEL_PLANNER", "gpt-4o"),
			Reviewer:     getEnv("SBG_MODEL_REVIEWER", "gpt-4o"),
			VariationMgr: getEnv("SBG_MODEL_VARIATION", "gpt-4o-mini"),
			FastQA:       getEnv("SBG_MODEL_FAST_QA", "gpt-4o-mini"),
			VisionQA:     getEnv("SBG_MODEL_VISION_QA", "gpt-4o"),
			RerankText:   getEnv("SBG_MODEL_RERANK_TEXT", "gpt-4o-mini"),
			RerankVision: getEnv("SBG_MODEL_RERANK_VISION", "gpt-4o-mini"),
			RendererNew:  getEnv("SBG_MODEL_RENDERER", "gpt-image-1"),
			RendererEdit: getEnv("SBG_MODEL_RENDERER_EDIT", "gpt-image-1"),
			Embedding:    getEnv("SBG_MODEL_EMBEDDING", "text-embedding-3-large"),
		},

		Retrieval: Retrieval{
			KText:        getEnvInt("SBG_RETRIEVAL_K_TEXT", 5),
			KImage:       getEnvInt("SBG_RETRIEVAL_K_IMAGE", 3),
			TextRerank:   getEnvBool("SBG_RETRIEVAL_TEXT_RERANK", true),
			VisionRerank: getEnvBool("SBG_RETRIEVAL_VISION_RERANK", false),
			CtxWindow:    getEnvInt("SBG_CTX_WINDOW", 4),
			CtxImages:    getEnvInt("SBG_CTX_IMAGES", 3),
		},

		BudgetUSD:        getEnvFloat("SBG_BUDGET_USD", 35.0),
		NVariations:      getEnvInt("SBG_N_VARIATIONS", 3),
		MaxRetries:       getEnvInt("SBG_MAX_RETRIES", 2),
		MaxEditRetries:   getEnvInt("SBG_MAX_EDIT_RETRIES", 1),
		ShotsPerScene:    getEnvInt("SBG_SHOTS_PER_SCENE", 3),
		ParallelRender:   getEnvInt("SBG_PARALLEL_RENDER", 1),
		VisionSampleRate: getEnvFloat("SBG_VISION_SAMPLE_RATE", 0.1),

		CallTimeout: getEnvDuration("SBG_CALL_TIMEOUT", 60*time.Second),
		MaxAttempts: getEnvInt("SBG_MAX_ATTEMPTS", 3),

		LogFile:  getEnv("SBG_LOG_FILE", "/tmp/storyboard.log"),
		LogLevel: parseLogLevel(getEnv("SBG_LOG_LEVEL", "INFO")),
	}
}

// LoadFile merges a yaml config file over cfg. Missing file is an error;
// missing keys keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks values the loop depends on.
func (c Config) Validate() error {
	if c.ShotsPerScene <= 0 {
		return fmt.Errorf("shots_per_scene must be positive, got %d", c.ShotsPerScene)
	}
	if c.NVariations <= 0 {
		return fmt.Errorf("n_variations must be positive, got %d", c.NVariations)
	}
	if c.BudgetUSD <= 0 {
		return fmt.Errorf("budget_usd must be positive, got %v", c.BudgetUSD)
	}
	if c.ParallelRender < 1 || c.ParallelRender > 4 {
		return fmt.Errorf("parallel_render must be in [1,4], got %d", c.ParallelRender)
	}
	return nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cache/storyboard"
	}
	return filepath.Join(home, ".cache", "storyboard")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
