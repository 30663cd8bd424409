package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml or .env is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "documents", cfg.Index.Table)
	assert.Equal(t, "metadata", cfg.Index.MetadataColumn)
	assert.Equal(t, 30, cfg.Index.TimeoutSecs)
	assert.Equal(t, 3, cfg.Index.Retries)
	assert.Equal(t, ProviderNone, cfg.Suggest.Provider)
	assert.Equal(t, 45, cfg.Suggest.TimeoutSecs)
	assert.InDelta(t, 0.72, cfg.Suggest.SimilarityThreshold, 0.001)
	assert.Equal(t, 500, cfg.Suggest.MaxValues)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
	assert.Equal(t, "refdata:invalidate", cfg.Cache.Channel)
	assert.Empty(t, cfg.Cache.RedisAddr)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "refdata-discovery", cfg.Temporal.TaskQueue)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: refdata.db
suggest:
  provider: heuristic
  similarity_threshold: 0.8
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "refdata.db", cfg.Store.DatabaseURL)
	assert.Equal(t, ProviderHeuristic, cfg.Suggest.Provider)
	assert.InDelta(t, 0.8, cfg.Suggest.SimilarityThreshold, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Suggest.MaxValues)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("REFDATA_STORE_DRIVER", "postgres")
	t.Setenv("REFDATA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REFDATA_ANTHROPIC_KEY=sk-ant-from-dotenv\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("REFDATA_ANTHROPIC_KEY") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-from-dotenv", cfg.Anthropic.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("REFDATA_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the settings every mode needs.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "refdata.db"
	cfg.Suggest.Provider = ProviderNone
	cfg.Server.Port = 8080
	cfg.Temporal.HostPort = "localhost:7233"
	cfg.Temporal.TaskQueue = "refdata-discovery"
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"store", "discover", "serve", "worker", "sweep"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateStore_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateSuggest_ProviderKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Suggest.Provider = ProviderAnthropic
	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("discover"))

	cfg.Suggest.Provider = ProviderGemini
	err = cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key is required")
}

func TestValidateSuggest_HeuristicThreshold(t *testing.T) {
	cfg := validDefaults()
	cfg.Suggest.Provider = ProviderHeuristic
	cfg.Suggest.SimilarityThreshold = 1.5

	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "similarity_threshold")
}

func TestValidateSuggest_UnknownProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Suggest.Provider = "openai"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `suggest.provider "openai" is not supported`)
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateWorker_MissingTemporal(t *testing.T) {
	cfg := validDefaults()
	cfg.Temporal.HostPort = ""

	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.host_port is required")
}

func TestValidateSweep_OnlyNeedsTemporal(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("sweep"))

	cfg.Temporal.TaskQueue = ""
	err := cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.task_queue is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
