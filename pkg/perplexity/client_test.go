package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// sonarServer answers every request with a fixed completion and hands the
// decoded request to check.
func sonarServer(t *testing.T, check func(r *http.Request, req completionRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":" CNPJ: 11.222.333/0001-81 "}}],
			"citations":["https://acme.com.br"],
			"usage":{"prompt_tokens":10,"completion_tokens":5}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch(t *testing.T) {
	srv := sonarServer(t, func(r *http.Request, req completionRequest) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultModel, req.Model)
		assert.Zero(t, req.Temperature)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, message{Role: "system", Content: "be terse"}, req.Messages[0])
		assert.Equal(t, message{Role: "user", Content: "cnpj of acme?"}, req.Messages[1])
		assert.Empty(t, req.SearchAfter)
		assert.Empty(t, req.SearchDomains)
	})

	a, err := NewClient("test-key", WithBaseURL(srv.URL+"/")).Search(context.Background(), Query{
		System:   "be terse",
		Question: "cnpj of acme?",
	})
	require.NoError(t, err)
	assert.Equal(t, &Answer{
		Text:         "CNPJ: 11.222.333/0001-81",
		Citations:    []string{"https://acme.com.br"},
		InputTokens:  10,
		OutputTokens: 5,
	}, a)
}

func TestSearch_Filters(t *testing.T) {
	srv := sonarServer(t, func(_ *http.Request, req completionRequest) {
		assert.Equal(t, "sonar", req.Model)
		assert.Equal(t, "3/1/2026", req.SearchAfter)
		assert.Equal(t, []string{"valor.globo.com"}, req.SearchDomains)
		require.Len(t, req.Messages, 1)
	})

	_, err := NewClient("k", WithBaseURL(srv.URL)).Search(context.Background(), Query{
		Question: "acme news",
		After:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Domains:  []string{"valor.globo.com"},
		Model:    "sonar",
	})
	require.NoError(t, err)
}

func TestSearch_ClientModel(t *testing.T) {
	srv := sonarServer(t, func(_ *http.Request, req completionRequest) {
		assert.Equal(t, "sonar-reasoning", req.Model)
	})

	_, err := NewClient("k", WithBaseURL(srv.URL), WithModel("sonar-reasoning")).
		Search(context.Background(), Query{Question: "q"})
	require.NoError(t, err)
}

func TestSearch_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
		auth      bool
	}{
		{"rate limited", http.StatusTooManyRequests, true, false},
		{"server error", http.StatusInternalServerError, true, false},
		{"bad request", http.StatusBadRequest, false, false},
		{"unauthorized", http.StatusUnauthorized, false, true},
		{"forbidden", http.StatusForbidden, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewClient("k", WithBaseURL(srv.URL)).Search(context.Background(), Query{Question: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, resilience.IsRetryable(err))

			var pe *resilience.PermanentError
			assert.Equal(t, tt.auth, errors.As(err, &pe))

			if !tt.auth {
				var he *resilience.HTTPError
				require.ErrorAs(t, err, &he)
				assert.Equal(t, tt.status, he.StatusCode)
				assert.Equal(t, 2*time.Second, he.RetryAfter)
			}
		})
	}
}

func TestSearch_EmptyQuestion(t *testing.T) {
	_, err := NewClient("k", WithBaseURL("http://127.0.0.1:1")).Search(context.Background(), Query{Question: "  "})
	require.Error(t, err)
	assert.False(t, resilience.IsRetryable(err))
}

func TestSearch_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	a, err := NewClient("k", WithBaseURL(srv.URL)).Search(context.Background(), Query{Question: "q"})
	require.NoError(t, err)
	assert.Empty(t, a.Text)
}

func TestSearch_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Search(ctx, Query{Question: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("k").(*sonar)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultModel, c.model)
	assert.Equal(t, 60*time.Second, c.http.Timeout)

	hc := &http.Client{Timeout: time.Second}
	assert.Same(t, hc, NewClient("k", WithHTTPClient(hc)).(*sonar).http)
}
