// Package anthropic asks Claude single-turn questions whose answers are
// expected back as a JSON object.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// Client completes prompts. Complete makes one request; retrying is up to
// the caller.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
}

// Prompt is one single-turn question.
type Prompt struct {
	Model     string
	MaxTokens int64
	System    string
	User      string
	// Prefill starts the assistant turn, e.g. "{" to force a JSON reply.
	// It is included at the start of Completion.Text.
	Prefill string
	// CacheSystem marks the system prompt for prompt caching. Worth it when
	// the same system prompt is sent for every company in a run.
	CacheSystem bool
	Temperature float64
}

// Completion is the reply to a Prompt.
type Completion struct {
	Text       string
	StopReason string
	Usage      Usage
}

// Truncated reports whether the reply hit MaxTokens.
func (c *Completion) Truncated() bool {
	return c != nil && c.StopReason == string(sdk.StopReasonMaxTokens)
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CacheWrite   int
	CacheRead    int
}

// Option configures the SDK client.
type Option = option.RequestOption

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return option.WithBaseURL(u)
}

type claude struct {
	sdk sdk.Client
}

// NewClient returns a Client for apiKey. The SDK's own retries are off.
func NewClient(apiKey string, opts ...Option) Client {
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &claude{sdk: sdk.NewClient(all...)}
}

func (c *claude) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	if strings.TrimSpace(p.User) == "" {
		return nil, resilience.NewValidationError(eris.New("anthropic: empty prompt"))
	}
	if p.Model == "" || p.MaxTokens <= 0 {
		return nil, resilience.NewValidationError(eris.Errorf("anthropic: model %q with max tokens %d", p.Model, p.MaxTokens))
	}

	msg, err := c.sdk.Messages.New(ctx, params(p))
	if err != nil {
		return nil, eris.Wrap(classify(err), "anthropic: complete")
	}

	var b strings.Builder
	b.WriteString(p.Prefill)
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return &Completion{
		Text:       strings.TrimSpace(b.String()),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			CacheWrite:   int(msg.Usage.CacheCreationInputTokens),
			CacheRead:    int(msg.Usage.CacheReadInputTokens),
		},
	}, nil
}

func params(p Prompt) sdk.MessageNewParams {
	msgs := []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))}
	if p.Prefill != "" {
		msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(p.Prefill)))
	}
	out := sdk.MessageNewParams{
		Model:       sdk.Model(p.Model),
		MaxTokens:   p.MaxTokens,
		Messages:    msgs,
		Temperature: sdk.Float(p.Temperature),
	}
	if p.System != "" {
		sys := sdk.TextBlockParam{Text: p.System}
		if p.CacheSystem {
			sys.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		out.System = []sdk.TextBlockParam{sys}
	}
	return out
}

// classify maps SDK API errors onto the resilience error kinds.
func classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
		return resilience.NewAuthError(err)
	}
	retryAfter := ""
	if apiErr.Response != nil {
		retryAfter = apiErr.Response.Header.Get("Retry-After")
	}
	he := resilience.NewHTTPError(apiErr.StatusCode, "", retryAfter)
	he.Err = err
	return he
}
