// Package cnpj looks companies up in the Brazilian corporate registry
// through a BrasilAPI-compatible endpoint.
package cnpj

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
)

const defaultBaseURL = "https://brasilapi.com.br/api/cnpj/v1"

// ErrNotFound is returned when the registry has no entry for a tax ID.
var ErrNotFound = errors.New("cnpj: not found")

// Client looks up registry entries by tax ID.
type Client interface {
	Lookup(ctx context.Context, taxID string) (*Company, error)
}

// Company is the registry response for one CNPJ.
type Company struct {
	CNPJ         string    `json:"cnpj"`
	LegalName    string    `json:"razao_social"`
	TradeName    string    `json:"nome_fantasia"`
	Activity     string    `json:"cnae_fiscal_descricao"`
	City         string    `json:"municipio"`
	State        string    `json:"uf"`
	Status       string    `json:"descricao_situacao_cadastral"`
	Size         string    `json:"porte"`
	ShareCapital float64   `json:"capital_social"`
	Phone        string    `json:"ddd_telefone_1"`
	Email        string    `json:"email"`
	Partners     []Partner `json:"qsa"`
}

// Partner is one entry of the registry's partner list (QSA).
type Partner struct {
	Name string `json:"nome_socio"`
	Role string `json:"qualificacao_socio"`
}

// Active reports whether the registration status is active.
func (c *Company) Active() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), "ATIVA")
}

// Record converts the response to the local registry form.
func (c *Company) Record() model.RegistryRecord {
	rec := model.RegistryRecord{
		TaxID:     c.CNPJ,
		LegalName: strings.TrimSpace(c.LegalName),
		TradeName: strings.TrimSpace(c.TradeName),
		Sector:    c.Activity,
		City:      c.City,
		State:     c.State,
		Status:    c.Status,
		Capital:   c.ShareCapital,
	}
	for _, p := range c.Partners {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		rec.Partners = append(rec.Partners, model.Contact{
			Name:   strings.TrimSpace(p.Name),
			Role:   p.Role,
			Source: "cnpj",
		})
	}
	return rec
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default pacing (3 req/s). Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
		limiter: rate.NewLimiter(3, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, taxID string) (*Company, error) {
	digits := onlyDigits(taxID)
	if len(digits) != 14 {
		return nil, resilience.NewValidationError(eris.Errorf("cnpj: invalid tax id %q", taxID))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "cnpj: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+digits, nil)
	if err != nil {
		return nil, eris.Wrap(err, "cnpj: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "cnpj: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "cnpj: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, resilience.NewValidationError(eris.Wrap(ErrNotFound, digits))
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Wrapf(
			resilience.NewHTTPError(resp.StatusCode, string(body), resp.Header.Get("Retry-After")),
			"cnpj: lookup %s", digits,
		)
	}

	var out Company
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "cnpj: unmarshal response")
	}
	if out.CNPJ == "" {
		out.CNPJ = digits
	}
	out.CNPJ = onlyDigits(out.CNPJ)
	return &out, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
