package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dshills/codeindex-mcp/internal/embedder"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "CODEINDEX"

// EmbeddingSettings configuration for the embedding provider
type EmbeddingSettings struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
}

// QdrantSettings configuration for the vector database
type QdrantSettings struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// IndexingSettings configuration for indexing runs
type IndexingSettings struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxFileSize        int64         `mapstructure:"max_file_size"`
	BatchSize          int           `mapstructure:"batch_size"`
	ParsingConcurrency int           `mapstructure:"parsing_concurrency"`
	MaxConcurrentJobs  int           `mapstructure:"max_concurrent_jobs"`
	MaxBatchRetries    int           `mapstructure:"max_batch_retries"`
	LossThreshold      float64       `mapstructure:"loss_threshold"`
	Watch              bool          `mapstructure:"watch"`
	WatchDebounce      time.Duration `mapstructure:"watch_debounce"`
}

// SearchSettings configuration for search
type SearchSettings struct {
	MinScore   float64 `mapstructure:"min_score"`
	MaxResults int     `mapstructure:"max_results"`
	CacheSize  int     `mapstructure:"cache_size"`
}

// TracingSettings configuration for OpenTelemetry export
type TracingSettings struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Settings application settings
type Settings struct {
	Embedding EmbeddingSettings `mapstructure:"embedding"`
	Qdrant    QdrantSettings    `mapstructure:"qdrant"`
	Indexing  IndexingSettings  `mapstructure:"indexing"`
	Search    SearchSettings    `mapstructure:"search"`
	Tracing   TracingSettings   `mapstructure:"tracing"`
	DBPath    string            `mapstructure:"db_path"`
	LogLevel  string            `mapstructure:"log_level"`
}

// flagKeys maps CLI flags to settings keys
var flagKeys = map[string]string{
	"provider":       "embedding.provider",
	"api-key":        "embedding.api_key",
	"model":          "embedding.model",
	"base-url":       "embedding.base_url",
	"dimension":      "embedding.dimension",
	"qdrant-host":    "qdrant.host",
	"qdrant-port":    "qdrant.port",
	"qdrant-api-key": "qdrant.api_key",
	"qdrant-tls":     "qdrant.use_tls",
	"batch-size":     "indexing.batch_size",
	"max-file-size":  "indexing.max_file_size",
	"watch":          "indexing.watch",
	"min-score":      "search.min_score",
	"max-results":    "search.max_results",
	"db-path":        "db_path",
	"log-level":      "log_level",
	"otlp-endpoint":  "tracing.endpoint",
}

// LoadSettings loads settings from environment variables and defaults
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil, "")
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides and
// an optional config file. Priority: CLI flags > environment variables >
// config file > defaults. Without an explicit file, codeindex.yaml is
// looked up in the working directory and ~/.codeindex.
func LoadSettingsWithFlags(flags *pflag.FlagSet, configFile string) (*Settings, error) {
	v := viper.New()

	// Embedding defaults
	v.SetDefault("embedding.provider", embedder.ProviderOpenAI)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.dimension", 0)

	// Qdrant defaults
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.use_tls", false)

	// Indexing defaults
	v.SetDefault("indexing.enabled", true)
	v.SetDefault("indexing.max_file_size", int64(1<<20)) // 1MiB
	v.SetDefault("indexing.batch_size", 60)
	v.SetDefault("indexing.parsing_concurrency", 10)
	v.SetDefault("indexing.max_concurrent_jobs", 10)
	v.SetDefault("indexing.max_batch_retries", 3)
	v.SetDefault("indexing.loss_threshold", 0.1)
	v.SetDefault("indexing.watch", false)
	v.SetDefault("indexing.watch_debounce", 2*time.Second)

	// Search defaults
	v.SetDefault("search.min_score", 0.4)
	v.SetDefault("search.max_results", 50)
	v.SetDefault("search.cache_size", 1000)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("log_level", "info")

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional provider variables as fallbacks
	_ = v.BindEnv("embedding.api_key", EnvPrefix+"_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("qdrant.api_key", EnvPrefix+"_QDRANT_API_KEY", "QDRANT_API_KEY")
	_ = v.BindEnv("tracing.endpoint", EnvPrefix+"_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("codeindex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".codeindex"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Embedding.Provider = strings.ToLower(strings.TrimSpace(settings.Embedding.Provider))
	settings.Embedding.APIKey = strings.TrimSpace(settings.Embedding.APIKey)
	settings.DBPath = expandHomeDir(settings.DBPath)

	return &settings, nil
}

// defaultDBPath returns the default ledger location
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".codeindex", "ledger.db")
	}
	return filepath.Join(home, ".codeindex", "ledger.db")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// ValidateSettings checks for missing credentials and out-of-range values.
// All problems are reported together.
func ValidateSettings(s *Settings) error {
	var errs []error

	switch s.Embedding.Provider {
	case embedder.ProviderOpenAI, embedder.ProviderJina:
		if s.Embedding.APIKey == "" {
			errs = append(errs, fmt.Errorf("embedding provider %q requires an api key", s.Embedding.Provider))
		}
	case embedder.ProviderOpenAICompatible:
		if s.Embedding.BaseURL == "" {
			errs = append(errs, fmt.Errorf("embedding provider %q requires a base url", s.Embedding.Provider))
		}
	case embedder.ProviderLocal:
	case "":
		errs = append(errs, errors.New("embedding provider is required"))
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", s.Embedding.Provider))
	}
	if s.Embedding.Dimension < 0 {
		errs = append(errs, errors.New("embedding dimension must not be negative"))
	}

	if s.Qdrant.Host == "" {
		errs = append(errs, errors.New("qdrant host is required"))
	}
	if s.Qdrant.Port <= 0 || s.Qdrant.Port > 65535 {
		errs = append(errs, fmt.Errorf("qdrant port %d out of range", s.Qdrant.Port))
	}

	ix := s.Indexing
	positives := []struct {
		name  string
		value int64
	}{
		{"indexing max_file_size", ix.MaxFileSize},
		{"indexing batch_size", int64(ix.BatchSize)},
		{"indexing parsing_concurrency", int64(ix.ParsingConcurrency)},
		{"indexing max_concurrent_jobs", int64(ix.MaxConcurrentJobs)},
		{"indexing max_batch_retries", int64(ix.MaxBatchRetries)},
		{"search max_results", int64(s.Search.MaxResults)},
		{"search cache_size", int64(s.Search.CacheSize)},
	}
	for _, p := range positives {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if ix.LossThreshold <= 0 || ix.LossThreshold >= 1 {
		errs = append(errs, errors.New("indexing loss_threshold must be between 0 and 1"))
	}
	if s.Search.MinScore < 0 || s.Search.MinScore > 1 {
		errs = append(errs, errors.New("search min_score must be between 0 and 1"))
	}
	if s.Tracing.SampleRate < 0 || s.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing sample_rate must be between 0 and 1"))
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
