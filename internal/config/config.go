package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadgen-cli/internal/cost"
	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig               `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig               `yaml:"cache" mapstructure:"cache"`
	Providers  map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Pipeline   PipelineConfig            `yaml:"pipeline" mapstructure:"pipeline"`
	Scoring    ScoringConfig             `yaml:"scoring" mapstructure:"scoring"`
	Dedup      DedupConfig               `yaml:"dedup" mapstructure:"dedup"`
	Anthropic  AnthropicConfig           `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig          `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig                `yaml:"jina" mapstructure:"jina"`
	Registry   RegistryConfig            `yaml:"registry" mapstructure:"registry"`
	Notion     NotionConfig              `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig          `yaml:"salesforce" mapstructure:"salesforce"`
	Monitoring MonitoringConfig          `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig             `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig              `yaml:"server" mapstructure:"server"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the enrichment cache. Driver "store" keeps entries
// in the main database, "redis" in Redis, "memory" in process.
type CacheConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	RedisURL        string `yaml:"redis_url" mapstructure:"redis_url"`
	RedisPrefix     string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	RetentionHours  int    `yaml:"retention_hours" mapstructure:"retention_hours"`
	SuccessTTLDays  int    `yaml:"success_ttl_days" mapstructure:"success_ttl_days"`
	FailureTTLHours int    `yaml:"failure_ttl_hours" mapstructure:"failure_ttl_hours"`
}

// SuccessTTL returns the success TTL as a duration.
func (c CacheConfig) SuccessTTL() time.Duration {
	return time.Duration(c.SuccessTTLDays) * 24 * time.Hour
}

// FailureTTL returns the failure TTL as a duration.
func (c CacheConfig) FailureTTL() time.Duration {
	return time.Duration(c.FailureTTLHours) * time.Hour
}

// ProviderConfig is the resilience policy of one provider. The "default"
// entry applies to providers without their own entry.
type ProviderConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	MinDelayMs       int     `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs       int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	BackoffFactor    float64 `yaml:"backoff_factor" mapstructure:"backoff_factor"`
	MaxFailures      int     `yaml:"max_failures" mapstructure:"max_failures"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	WindowMs         int     `yaml:"window_ms" mapstructure:"window_ms"`
	MaxPerWindow     int     `yaml:"max_per_window" mapstructure:"max_per_window"`
}

// Policy converts the config to a resilience policy. Zero values keep the
// package defaults.
func (p ProviderConfig) Policy() resilience.Policy {
	return resilience.Policy{
		Retry:     resilience.FromRetryConfig(p.MaxAttempts, p.MinDelayMs, p.MaxDelayMs, p.BackoffFactor),
		Breaker:   resilience.FromCircuitConfig(p.MaxFailures, p.ResetTimeoutSecs),
		RateLimit: resilience.FromRateLimitConfig(p.Concurrency, p.WindowMs, p.MaxPerWindow),
	}
}

// PipelineConfig configures the per-company state machine.
type PipelineConfig struct {
	RequireTaxID       bool   `yaml:"require_tax_id" mapstructure:"require_tax_id"`
	FreshnessDays      int    `yaml:"freshness_days" mapstructure:"freshness_days"`
	MaxCompanies       int    `yaml:"max_companies" mapstructure:"max_companies"`
	BudgetSecs         int    `yaml:"budget_secs" mapstructure:"budget_secs"`
	NameMatchThreshold int    `yaml:"name_match_threshold" mapstructure:"name_match_threshold"`
	ValidateThreshold  int    `yaml:"validate_threshold" mapstructure:"validate_threshold"`
	EnrichConcurrency  int    `yaml:"enrich_concurrency" mapstructure:"enrich_concurrency"`
	PolicyFile         string `yaml:"policy_file" mapstructure:"policy_file"`
}

// FreshnessWindow returns the freshness window as a duration.
func (p PipelineConfig) FreshnessWindow() time.Duration {
	return time.Duration(p.FreshnessDays) * 24 * time.Hour
}

// Budget returns the batch wall-clock budget; zero means unlimited.
func (p PipelineConfig) Budget() time.Duration {
	return time.Duration(p.BudgetSecs) * time.Second
}

// ScoringConfig holds lead score weights. They need not sum to 100; the
// score is clamped to [0,100].
type ScoringConfig struct {
	Revenue     float64 `yaml:"revenue" mapstructure:"revenue"`
	Employees   float64 `yaml:"employees" mapstructure:"employees"`
	Recency     float64 `yaml:"recency" mapstructure:"recency"`
	Competition float64 `yaml:"competition" mapstructure:"competition"`
	Triggers    float64 `yaml:"triggers" mapstructure:"triggers"`
}

// DedupConfig configures the deduplication engine.
type DedupConfig struct {
	MatchThreshold int    `yaml:"match_threshold" mapstructure:"match_threshold"`
	AutoResolve    string `yaml:"auto_resolve" mapstructure:"auto_resolve"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RegistryConfig configures the corporate registry lookup API and the
// bulk file used by `registry load`.
type RegistryConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	BulkURL string `yaml:"bulk_url" mapstructure:"bulk_url"`
}

// NotionConfig holds Notion API credentials and the leads database ID.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID       string  `yaml:"client_id" mapstructure:"client_id"`
	Username       string  `yaml:"username" mapstructure:"username"`
	KeyPath        string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL       string  `yaml:"login_url" mapstructure:"login_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// MonitoringConfig configures webhook alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CooldownMins         int     `yaml:"cooldown_mins" mapstructure:"cooldown_mins"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Cooldown is the minimum gap between two alerts of the same kind.
func (m MonitoringConfig) Cooldown() time.Duration {
	return time.Duration(m.CooldownMins) * time.Minute
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaPricing             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
	PerCall    map[string]float64      `yaml:"per_call" mapstructure:"per_call"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// JinaPricing holds Jina Reader pricing.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// Rates converts pricing config to cost rates, falling back to the
// built-in model table when none is configured.
func (p PricingConfig) Rates() cost.Rates {
	rates := cost.DefaultRates()
	if len(p.Anthropic) > 0 {
		rates.Anthropic = make(map[string]cost.ModelRate, len(p.Anthropic))
		for name, m := range p.Anthropic {
			rates.Anthropic[name] = cost.ModelRate(m)
		}
	}
	rates.Jina.PerMTok = p.Jina.PerMTok
	rates.Perplexity.PerQuery = p.Perplexity.PerQuery
	for name, v := range p.PerCall {
		rates.PerCall[name] = v
	}
	return rates
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestsPerSec float64  `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst          int      `yaml:"burst" mapstructure:"burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ProviderPolicies returns the default policy and the per-provider
// overrides.
func (c *Config) ProviderPolicies() (resilience.Policy, map[string]resilience.Policy) {
	def := resilience.DefaultPolicy()
	if p, ok := c.Providers["default"]; ok {
		def = p.Policy()
	}
	out := make(map[string]resilience.Policy, len(c.Providers))
	for name, p := range c.Providers {
		if name == "default" {
			continue
		}
		out[name] = p.Policy()
	}
	return def, out
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.driver", "store")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_prefix", "leadgen")
	v.SetDefault("cache.retention_hours", 24*7)
	v.SetDefault("cache.success_ttl_days", 30)
	v.SetDefault("cache.failure_ttl_hours", 24)
	v.SetDefault("providers.default.max_attempts", 3)
	v.SetDefault("providers.default.min_delay_ms", 500)
	v.SetDefault("providers.default.max_delay_ms", 30000)
	v.SetDefault("providers.default.backoff_factor", 2.0)
	v.SetDefault("providers.default.max_failures", 5)
	v.SetDefault("providers.default.reset_timeout_secs", 60)
	v.SetDefault("providers.default.concurrency", 4)
	v.SetDefault("providers.default.window_ms", 1000)
	v.SetDefault("providers.default.max_per_window", 10)
	v.SetDefault("pipeline.require_tax_id", true)
	v.SetDefault("pipeline.freshness_days", 30)
	v.SetDefault("pipeline.max_companies", 0)
	v.SetDefault("pipeline.budget_secs", 0)
	v.SetDefault("pipeline.name_match_threshold", 85)
	v.SetDefault("pipeline.validate_threshold", 70)
	v.SetDefault("pipeline.enrich_concurrency", 3)
	v.SetDefault("pipeline.policy_file", "")
	v.SetDefault("scoring.revenue", 30)
	v.SetDefault("scoring.employees", 20)
	v.SetDefault("scoring.recency", 20)
	v.SetDefault("scoring.competition", 15)
	v.SetDefault("scoring.triggers", 15)
	v.SetDefault("dedup.match_threshold", 85)
	v.SetDefault("dedup.auto_resolve", "high")
	// Secrets default to empty so AutomaticEnv can bind them on Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("jina.key", "")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.lead_db", "")
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("registry.bulk_url", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("registry.base_url", "https://brasilapi.com.br/api/cnpj/v1")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.requests_per_sec", 5.0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.cooldown_mins", 30)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.requests_per_sec", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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

// Validate checks the fields required by mode: "run" and "serve" need a
// runnable pipeline, "store" only a reachable database.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "run", "serve", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	switch c.Cache.Driver {
	case "store", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, "cache.redis_url is required for the redis cache")
		}
	default:
		errs = append(errs, "cache.driver must be store, redis or memory")
	}

	if mode == "run" || mode == "serve" {
		if c.Pipeline.RequireTaxID && c.Perplexity.Key == "" && c.Jina.Key == "" && c.Registry.BaseURL == "" {
			errs = append(errs, "pipeline.require_tax_id needs at least one identify provider (perplexity.key, jina.key or registry.base_url)")
		}
		if c.Pipeline.FreshnessDays < 0 || c.Pipeline.BudgetSecs < 0 || c.Pipeline.MaxCompanies < 0 {
			errs = append(errs, "pipeline limits must not be negative")
		}
		if c.Pipeline.NameMatchThreshold < 0 || c.Pipeline.NameMatchThreshold > 100 {
			errs = append(errs, "pipeline.name_match_threshold must be within [0,100]")
		}
		w := c.Scoring
		if w.Revenue < 0 || w.Employees < 0 || w.Recency < 0 || w.Competition < 0 || w.Triggers < 0 {
			errs = append(errs, "scoring weights must be >= 0")
		}
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be positive")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
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
