package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

const defaultHostRate = 2

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration

	// HostRate is the sustained requests per second allowed per host.
	HostRate float64
	Burst    int

	// Registry, when set, retries downloads under Provider's policy.
	Registry *resilience.ProviderRegistry
	Provider string
}

// HTTPFetcher downloads files over HTTP with a limiter per host.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "leadgen-cli/1.0"
	}
	if opts.HostRate <= 0 {
		opts.HostRate = defaultHostRate
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Provider == "" {
		opts.Provider = "fetch"
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.opts.HostRate), f.opts.Burst)
		f.limiters[host] = l
	}
	return l
}

// Download issues a GET and returns the body of a 200 response.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, resilience.NewValidationError(eris.Errorf("fetcher: invalid url %q", rawURL))
	}

	get := func(ctx context.Context) (io.ReadCloser, error) {
		return f.get(ctx, rawURL, u.Host)
	}
	if f.opts.Registry == nil {
		return get(ctx)
	}
	return resilience.WithRetry(ctx, f.opts.Registry, f.opts.Provider, get)
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL, host string) (io.ReadCloser, error) {
	if err := f.limiter(host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.NewValidationError(eris.Wrap(err, "fetcher: create request"))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	zap.L().Debug("fetcher: http get", zap.String("url", rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close() //nolint:errcheck
		return nil, eris.Wrapf(
			resilience.NewHTTPError(resp.StatusCode, string(body), resp.Header.Get("Retry-After")),
			"fetcher: get %s", rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile downloads rawURL to path. Returns bytes written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	rc, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	return copyToFile(rc, path)
}
