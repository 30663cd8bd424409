package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Suggest   SuggestConfig   `yaml:"suggest" mapstructure:"suggest"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Temporal  TemporalConfig  `yaml:"temporal" mapstructure:"temporal"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the vocabulary store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IndexConfig locates the documents table scanned by discovery.
type IndexConfig struct {
	Table             string `yaml:"table" mapstructure:"table"`
	IDColumn          string `yaml:"id_column" mapstructure:"id_column"`
	ContentTypeColumn string `yaml:"content_type_column" mapstructure:"content_type_column"`
	MetadataColumn    string `yaml:"metadata_column" mapstructure:"metadata_column"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries           int    `yaml:"retries" mapstructure:"retries"`
}

// SuggestConfig selects and tunes the suggestion provider.
type SuggestConfig struct {
	Provider            string  `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxValues           int     `yaml:"max_values" mapstructure:"max_values"`
	RequestsPerMinute   int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	FailureThreshold    int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs    int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// CacheConfig configures the Redis invalidation bus. An empty address
// disables cross-replica invalidation.
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
	Channel   string `yaml:"channel" mapstructure:"channel"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// TemporalConfig configures the discovery sweep worker.
type TemporalConfig struct {
	HostPort          string `yaml:"host_port" mapstructure:"host_port"`
	Namespace         string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue         string `yaml:"task_queue" mapstructure:"task_queue"`
	SweepIntervalMins int    `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Suggestion provider names.
const (
	ProviderNone      = "none"
	ProviderHeuristic = "heuristic"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Load reads .env, config.yaml and REFDATA_* environment variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REFDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("index.table", "documents")
	v.SetDefault("index.id_column", "id")
	v.SetDefault("index.content_type_column", "content_type")
	v.SetDefault("index.metadata_column", "metadata")
	v.SetDefault("index.timeout_secs", 30)
	v.SetDefault("index.retries", 3)
	v.SetDefault("suggest.provider", ProviderNone)
	v.SetDefault("suggest.timeout_secs", 45)
	v.SetDefault("suggest.similarity_threshold", 0.72)
	v.SetDefault("suggest.max_values", 500)
	v.SetDefault("suggest.requests_per_minute", 30)
	v.SetDefault("suggest.failure_threshold", 3)
	v.SetDefault("suggest.reset_timeout_secs", 60)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("cache.channel", "refdata:invalidate")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "refdata-discovery")
	v.SetDefault("temporal.sweep_interval_mins", 360)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode: "store",
// "serve", "discover", "worker" or "sweep".
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
		}
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	}
	requireSuggest := func() {
		switch c.Suggest.Provider {
		case ProviderNone, "":
		case ProviderHeuristic:
			require(c.Suggest.SimilarityThreshold > 0 && c.Suggest.SimilarityThreshold <= 1,
				"suggest.similarity_threshold must be in (0,1]")
		case ProviderAnthropic:
			require(c.Anthropic.Key != "", "anthropic.key is required")
		case ProviderGemini:
			require(c.Gemini.Key != "", "gemini.key is required")
		default:
			problems = append(problems, fmt.Sprintf("suggest.provider %q is not supported", c.Suggest.Provider))
		}
	}

	switch mode {
	case "store":
		requireStore()
	case "discover":
		requireStore()
		requireSuggest()
	case "serve":
		requireStore()
		requireSuggest()
		require(c.Server.Port > 0, "server.port must be > 0")
	case "worker":
		requireStore()
		requireSuggest()
		require(c.Temporal.HostPort != "", "temporal.host_port is required")
		require(c.Temporal.TaskQueue != "", "temporal.task_queue is required")
	case "sweep":
		require(c.Temporal.HostPort != "", "temporal.host_port is required")
		require(c.Temporal.TaskQueue != "", "temporal.task_queue is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger replaces the global zap logger according to cfg.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
