package main

import (
	"context"
	"os"
	"time"

	r "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/cache"
	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/cost"
	"github.com/sells-group/leadgen-cli/internal/fetcher"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/internal/store"
	anthropicpkg "github.com/sells-group/leadgen-cli/pkg/anthropic"
	"github.com/sells-group/leadgen-cli/pkg/cnpj"
	"github.com/sells-group/leadgen-cli/pkg/jina"
	"github.com/sells-group/leadgen-cli/pkg/perplexity"
	sfpkg "github.com/sells-group/leadgen-cli/pkg/salesforce"
)

// pipelineEnv holds the store, cache, provider registry and pipeline
// needed by the run and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Cache    *cache.Cache
	Engine   *company.Engine
	Registry *resilience.ProviderRegistry
	Recorder *cost.Recorder
	Alerter  *monitoring.Alerter
	Pipeline *pipeline.Pipeline
	Fetcher  *fetcher.Router

	redis *r.Client
}

// Close waits for pending alerts and releases the store and cache.
func (pe *pipelineEnv) Close() {
	if pe.Alerter != nil {
		pe.Alerter.Wait()
	}
	if pe.redis != nil {
		_ = pe.redis.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initCache builds the enrichment cache on the configured backend. The
// returned client is nil unless the redis driver is used.
func initCache(st store.Store) (*cache.Cache, *r.Client, error) {
	opts := []cache.Option{cache.WithTTLs(cfg.Cache.SuccessTTL(), cfg.Cache.FailureTTL())}
	switch cfg.Cache.Driver {
	case "", "store":
		return cache.New(st, opts...), nil, nil
	case "memory":
		return cache.New(cache.NewMemoryBackend(), opts...), nil, nil
	case "redis":
		ropts, err := r.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "parse cache.redis_url")
		}
		rdb := r.NewClient(ropts)
		retention := time.Duration(cfg.Cache.RetentionHours) * time.Hour
		return cache.New(cache.NewRedisBackend(rdb, cfg.Cache.RedisPrefix, retention), opts...), rdb, nil
	default:
		return nil, nil, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// initRegistry builds the provider registry from the providers section.
func initRegistry(alerter *monitoring.Alerter) *resilience.ProviderRegistry {
	def, overrides := cfg.ProviderPolicies()
	opts := make([]resilience.RegistryOption, 0, len(overrides)+1)
	for name, p := range overrides {
		opts = append(opts, resilience.WithPolicy(name, p))
	}
	if alerter != nil {
		opts = append(opts, resilience.WithStateChangeHook(alerter.BreakerHook))
	}
	return resilience.NewProviderRegistry(def, opts...)
}

// initFetcher builds the HTTP/FTP download router. HTTP downloads are
// retried under the "fetcher" provider policy.
func initFetcher(reg *resilience.ProviderRegistry) *fetcher.Router {
	httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: "leadgen-cli/1.0",
		Timeout:   5 * time.Minute,
		Registry:  reg,
		Provider:  "fetcher",
	})
	ftpF := fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: 5 * time.Minute, Resume: true})
	return fetcher.NewRouter(httpF, ftpF)
}

// collaborators wires the external clients the pipeline stages call.
// Providers without credentials are left out.
func collaborators(st store.Store) pipeline.Collaborators {
	c := pipeline.Collaborators{
		Registry: pipeline.CNPJRegistry{Client: cnpj.NewClient(cnpj.WithBaseURL(cfg.Registry.BaseURL))},
		Local:    st,
	}

	if cfg.Jina.Key != "" {
		jc := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
		c.Profile = pipeline.JinaProfile{Client: jc}
	} else {
		zap.L().Debug("jina.key not set, profile extraction disabled")
	}

	if cfg.Perplexity.Key != "" {
		pc := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		c.Search = pipeline.PerplexitySearch{Client: pc}
		c.Contacts = pipeline.PerplexityContacts{Client: pc}
		c.Events = pipeline.PerplexityEvents{Client: pc}
	} else {
		zap.L().Debug("perplexity.key not set, web search and event discovery disabled")
	}

	if cfg.Anthropic.Key != "" {
		c.Financials = pipeline.AnthropicFinancials{
			Client:    anthropicpkg.NewClient(cfg.Anthropic.Key),
			Model:     cfg.Anthropic.Model,
			MaxTokens: int64(cfg.Anthropic.MaxTokens),
		}
	} else {
		zap.L().Debug("anthropic.key not set, financial estimation disabled")
	}
	return c
}

// initPipeline sets up the store, cache, clients and the Pipeline for
// mode ("run" or "serve"). Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	policy, err := pipeline.LoadPolicy(cfg.Pipeline.PolicyFile)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	env.Cache, env.redis, err = initCache(st)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Alerter = monitoring.NewAlerter(cfg.Monitoring)
	env.Registry = initRegistry(env.Alerter)
	env.Fetcher = initFetcher(env.Registry)
	env.Recorder = cost.NewRecorder(st, cost.NewCalculator(cfg.Pricing.Rates()))
	env.Engine = company.NewEngine(st, company.WithMatchThreshold(cfg.Pipeline.NameMatchThreshold))
	env.Pipeline = pipeline.New(st, env.Engine, env.Registry, collaborators(st),
		pipeline.OptionsFromConfig(cfg, policy),
		pipeline.WithRecorder(env.Recorder),
		pipeline.WithCache(env.Cache),
		pipeline.WithBatchHook(env.Alerter.BatchHook(ctx)),
	)
	return env, nil
}

// initSalesforce connects to Salesforce with the JWT bearer flow.
func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADGEN_SALESFORCE_CLIENT_ID)")
	}
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}
	return sfpkg.Connect(sfpkg.Creds{
		LoginURL:       cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ClientID:       cfg.Salesforce.ClientID,
		PrivateKey:     string(pemData),
		RequestsPerSec: cfg.Salesforce.RequestsPerSec,
	})
}
