// Package perplexity asks questions of the Perplexity Sonar web-search models.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

const (
	DefaultBaseURL = "https://api.perplexity.ai"
	DefaultModel   = "sonar-pro"
)

// Query is one grounded web-search question.
type Query struct {
	System   string
	Question string
	// After restricts sources to pages published on or after this date.
	After time.Time
	// Domains restricts sources to these hosts.
	Domains []string
	Model   string
}

// Answer is the model's reply and the pages it cited.
type Answer struct {
	Text         string
	Citations    []string
	InputTokens  int
	OutputTokens int
}

// Client runs queries. Search makes one request; retries belong to the
// caller's resilience policy.
type Client interface {
	Search(ctx context.Context, q Query) (*Answer, error)
}

// Option configures the client.
type Option func(*sonar)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(s *sonar) {
		if u != "" {
			s.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithModel overrides the default model.
func WithModel(m string) Option {
	return func(s *sonar) {
		if m != "" {
			s.model = m
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *sonar) { s.http = hc }
}

type sonar struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient returns a Client for apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	s := &sonar{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	// Perplexity expects m/d/yyyy, e.g. 3/1/2025.
	SearchAfter   string   `json:"search_after_date_filter,omitempty"`
	SearchDomains []string `json:"search_domain_filter,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *sonar) Search(ctx context.Context, q Query) (*Answer, error) {
	if strings.TrimSpace(q.Question) == "" {
		return nil, resilience.NewValidationError(eris.New("perplexity: empty question"))
	}

	body, err := json.Marshal(s.request(q))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewValidationError(eris.Wrap(err, "perplexity: build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: read response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, resilience.NewAuthError(eris.Errorf("perplexity: status %d: %s", resp.StatusCode, raw))
	default:
		return nil, eris.Wrap(resilience.NewHTTPError(resp.StatusCode, string(raw), resp.Header.Get("Retry-After")),
			"perplexity: search")
	}

	var cr completionResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, eris.Wrap(err, "perplexity: decode response")
	}
	a := &Answer{
		Citations:    cr.Citations,
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
	}
	if len(cr.Choices) > 0 {
		a.Text = strings.TrimSpace(cr.Choices[0].Message.Content)
	}
	return a, nil
}

func (s *sonar) request(q Query) completionRequest {
	req := completionRequest{Model: s.model, SearchDomains: q.Domains}
	if q.Model != "" {
		req.Model = q.Model
	}
	if q.System != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: q.System})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: q.Question})
	if !q.After.IsZero() {
		req.SearchAfter = q.After.Format("1/2/2006")
	}
	return req
}
