// Package notion wraps the Notion API and mirrors leads into a Notion database.
package notion

import (
	"context"
	"errors"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// Client is the slice of the Notion API the lead mirror uses.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*apiClient)

// WithRateLimit overrides the 3 req/s throttle. rps <= 0 disables it.
func WithRateLimit(rps float64) ClientOption {
	return func(c *apiClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type apiClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
}

// NewClient returns a Client for the integration token.
func NewClient(token string, opts ...ClientOption) Client {
	c := &apiClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(3, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *apiClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "notion: rate limit")
}

// call throttles fn and maps API failures onto the resilience error kinds
// so sinks can tell a retryable 429/5xx from a bad request.
func call[T any](ctx context.Context, c *apiClient, what string, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.wait(ctx); err != nil {
		return zero, err
	}
	v, err := fn()
	if err != nil {
		return zero, eris.Wrap(classify(err), "notion: "+what)
	}
	return v, nil
}

func classify(err error) error {
	var apiErr *notionapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
		return resilience.NewAuthError(err)
	case resilience.IsTransientHTTPStatus(apiErr.Status):
		return resilience.NewTransientError(err, apiErr.Status)
	case apiErr.Status >= 400 && apiErr.Status < 500:
		return resilience.NewValidationError(err)
	}
	return err
}

func (c *apiClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *apiClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "create page", func() (*notionapi.Page, error) {
		return c.inner.Page.Create(ctx, req)
	})
}

func (c *apiClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "update page "+pageID, func() (*notionapi.Page, error) {
		return c.inner.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}
