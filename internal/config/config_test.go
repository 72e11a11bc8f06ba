package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml or .env is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leadgen.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "store", cfg.Cache.Driver)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.SuccessTTL())
	assert.Equal(t, 24*time.Hour, cfg.Cache.FailureTTL())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Pipeline.RequireTaxID)
	assert.Equal(t, 30*24*time.Hour, cfg.Pipeline.FreshnessWindow())
	assert.Zero(t, cfg.Pipeline.Budget())
	assert.Equal(t, 85, cfg.Dedup.MatchThreshold)
	assert.InDelta(t, 30, cfg.Scoring.Revenue, 0.001)
	assert.InDelta(t, 15, cfg.Scoring.Triggers, 0.001)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)

	def, overrides := cfg.ProviderPolicies()
	assert.Equal(t, 3, def.Retry.MaxAttempts)
	assert.Equal(t, 5, def.Breaker.MaxFailures)
	assert.Equal(t, 60*time.Second, def.Breaker.ResetTimeout)
	assert.Equal(t, 4, def.RateLimit.Concurrency)
	assert.Empty(t, overrides)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leadgen
log:
  level: debug
  format: console
server:
  port: 9090
providers:
  perplexity:
    max_attempts: 5
    concurrency: 2
    max_per_window: 1
    window_ms: 2000
scoring:
  revenue: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 50, cfg.Scoring.Revenue, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, 20, cfg.Scoring.Employees, 0.001)

	def, overrides := cfg.ProviderPolicies()
	assert.Equal(t, 3, def.Retry.MaxAttempts)
	require.Contains(t, overrides, "perplexity")
	p := overrides["perplexity"]
	assert.Equal(t, 5, p.Retry.MaxAttempts)
	assert.Equal(t, 2, p.RateLimit.Concurrency)
	assert.Equal(t, 1, p.RateLimit.MaxPerWindow)
	assert.Equal(t, 2*time.Second, p.RateLimit.Window)
	assert.Equal(t, 5, p.Breaker.MaxFailures, "unset fields keep package defaults")
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

	t.Setenv("LEADGEN_STORE_DRIVER", "postgres")
	t.Setenv("LEADGEN_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEADGEN_PERPLEXITY_KEY=pplx-from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("LEADGEN_PERPLEXITY_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pplx-from-dotenv", cfg.Perplexity.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LEADGEN_SERVER_PORT", "3000")

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

// validDefaults returns a Config with the defaults needed by validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "leadgen.db"
	cfg.Cache.Driver = "store"
	cfg.Pipeline.RequireTaxID = true
	cfg.Pipeline.NameMatchThreshold = 85
	cfg.Registry.BaseURL = "https://brasilapi.com.br/api/cnpj/v1"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_NoIdentifyProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Registry.BaseURL = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identify provider")

	cfg.Pipeline.RequireTaxID = false
	assert.NoError(t, cfg.Validate("run"))

	cfg.Pipeline.RequireTaxID = true
	cfg.Perplexity.Key = "pplx"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateStore_MissingFields(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "cache.driver")
}

func TestValidateStore_SkipsPipelineChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Registry.BaseURL = ""
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateRedisCacheNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Driver = "redis"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.redis_url")

	cfg.Cache.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be positive")
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.NameMatchThreshold = 101
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "name_match_threshold")

	cfg.Pipeline.NameMatchThreshold = 85
	cfg.Pipeline.BudgetSecs = -1
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must not be negative")

	cfg.Pipeline.BudgetSecs = 0
	cfg.Scoring.Recency = -5
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scoring weights must be >= 0")
}

func TestPricingRates(t *testing.T) {
	p := PricingConfig{
		Anthropic:  map[string]ModelPricing{"haiku": {Input: 1, Output: 5}},
		Perplexity: PerplexityPricing{PerQuery: 0.01},
		PerCall:    map[string]float64{"cnpj": 0.002},
	}
	rates := p.Rates()
	assert.Len(t, rates.Anthropic, 1)
	assert.InDelta(t, 1.0, rates.Anthropic["haiku"].Input, 1e-9)
	assert.InDelta(t, 0.01, rates.Perplexity.PerQuery, 1e-9)
	assert.InDelta(t, 0.002, rates.PerCall["cnpj"], 1e-9)
	assert.Contains(t, rates.PerCall, "notion", "built-in per-call entries kept")
}
