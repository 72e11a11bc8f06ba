// Package jina reads public web pages as markdown through the Jina Reader API.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// DefaultBaseURL is the public Reader endpoint.
const DefaultBaseURL = "https://r.jina.ai"

// maxBody caps how much of a rendered page is kept. Company profiles are a
// few KB; anything larger is a listing page we do not want to scan.
const maxBody = 4 << 20

// Page is one rendered page.
type Page struct {
	Title   string
	URL     string
	Content string
	// Tokens is the billed size of the page.
	Tokens int
}

// Client renders pages. Read makes exactly one request; failures come back
// classified for the caller's resilience policy.
type Client interface {
	Read(ctx context.Context, pageURL string) (*Page, error)
}

// Option configures the client.
type Option func(*reader)

// WithBaseURL points the client at another Reader endpoint.
func WithBaseURL(u string) Option {
	return func(r *reader) {
		if u != "" {
			r.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *reader) { r.http = hc }
}

type reader struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient returns a Client. An empty apiKey uses the anonymous tier.
func NewClient(apiKey string, opts ...Option) Client {
	r := &reader{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// envelope is the Reader JSON response.
type envelope struct {
	Code int `json:"code"`
	Data struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Usage   struct {
			Tokens int `json:"tokens"`
		} `json:"usage"`
	} `json:"data"`
}

func (r *reader) Read(ctx context.Context, pageURL string) (*Page, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, resilience.NewValidationError(eris.New("jina: page url is required"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+pageURL, nil)
	if err != nil {
		return nil, resilience.NewValidationError(eris.Wrapf(err, "jina: build request for %s", pageURL))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", pageURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, eris.Wrapf(err, "jina: read body of %s", pageURL)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, resilience.NewAuthError(eris.Errorf("jina: status %d", resp.StatusCode))
	default:
		return nil, eris.Wrapf(resilience.NewHTTPError(resp.StatusCode, string(body), resp.Header.Get("Retry-After")),
			"jina: read %s", pageURL)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(err, "jina: decode %s", pageURL)
	}
	// The Reader sometimes reports upstream failures inside a 200.
	if env.Code != 0 && env.Code != http.StatusOK {
		return nil, eris.Wrapf(resilience.NewHTTPError(env.Code, env.Data.Content, ""), "jina: read %s", pageURL)
	}

	return &Page{
		Title:   env.Data.Title,
		URL:     env.Data.URL,
		Content: env.Data.Content,
		Tokens:  env.Data.Usage.Tokens,
	}, nil
}
