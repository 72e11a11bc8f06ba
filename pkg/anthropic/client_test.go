package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

const haiku = "claude-haiku-4-5-20251001"

// claudeServer answers the messages endpoint with text and hands the
// decoded request body to check.
func claudeServer(t *testing.T, text, stop string, check func(body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_01",
			"type":        "message",
			"role":        "assistant",
			"model":       haiku,
			"content":     []map[string]any{{"type": "text", "text": text}},
			"stop_reason": stop,
			"usage": map[string]any{
				"input_tokens":                120,
				"output_tokens":               30,
				"cache_creation_input_tokens": 900,
				"cache_read_input_tokens":     0,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	srv := claudeServer(t, ` "revenue": 5000000}`, "end_turn", func(body map[string]any) {
		assert.Equal(t, haiku, body["model"])
		assert.EqualValues(t, 256, body["max_tokens"])

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])

		sys := body["system"].([]any)
		require.Len(t, sys, 1)
		block := sys[0].(map[string]any)
		assert.Equal(t, "estimate size", block["text"])
		assert.Equal(t, map[string]any{"type": "ephemeral"}, block["cache_control"])
	})

	c, err := NewClient("test-key", WithBaseURL(srv.URL)).Complete(context.Background(), Prompt{
		Model:       haiku,
		MaxTokens:   256,
		System:      "estimate size",
		User:        "Company: \"Acme\"",
		Prefill:     "{",
		CacheSystem: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{ "revenue": 5000000}`, c.Text)
	assert.False(t, c.Truncated())
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 30, CacheWrite: 900}, c.Usage)
}

func TestComplete_NoSystemNoPrefill(t *testing.T) {
	srv := claudeServer(t, "plain", "max_tokens", func(body map[string]any) {
		assert.NotContains(t, body, "system")
		assert.Len(t, body["messages"].([]any), 1)
	})

	c, err := NewClient("test-key", WithBaseURL(srv.URL)).Complete(context.Background(), Prompt{
		Model: haiku, MaxTokens: 8, User: "q",
	})
	require.NoError(t, err)
	assert.Equal(t, "plain", c.Text)
	assert.True(t, c.Truncated())
}

func TestComplete_Invalid(t *testing.T) {
	client := NewClient("k", WithBaseURL("http://127.0.0.1:1"))
	for name, p := range map[string]Prompt{
		"empty user": {Model: haiku, MaxTokens: 8, User: " "},
		"no model":   {MaxTokens: 8, User: "q"},
		"no budget":  {Model: haiku, User: "q"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := client.Complete(context.Background(), p)
			require.Error(t, err)
			assert.False(t, resilience.IsRetryable(err))
		})
	}
}

func TestComplete_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{529, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
			}))
			defer srv.Close()

			_, err := NewClient("k", WithBaseURL(srv.URL)).Complete(context.Background(), Prompt{
				Model: haiku, MaxTokens: 16, User: "q",
			})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, resilience.IsRetryable(err))
			assert.Equal(t, 1, calls, "SDK retries are disabled")
		})
	}
}

func TestCompletion_TruncatedNil(t *testing.T) {
	var c *Completion
	assert.False(t, c.Truncated())
}
