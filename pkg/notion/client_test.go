package notion

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestNewClient_DefaultThrottle(t *testing.T) {
	c := NewClient("test-token")
	require.NotNil(t, c)

	ac := c.(*apiClient)
	require.NotNil(t, ac.limiter)
	assert.Equal(t, rate.Limit(3), ac.limiter.Limit())
}

func TestWithRateLimit(t *testing.T) {
	ac := NewClient("tok", WithRateLimit(10)).(*apiClient)
	assert.Equal(t, rate.Limit(10), ac.limiter.Limit())
	assert.Equal(t, 10, ac.limiter.Burst())

	ac = NewClient("tok", WithRateLimit(0)).(*apiClient)
	assert.Nil(t, ac.limiter)
	assert.NoError(t, ac.wait(context.Background()))
}

func TestWait_Cancelled(t *testing.T) {
	ac := &apiClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	require.NoError(t, ac.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, ac.wait(ctx))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		class     string
	}{
		{"rate limited", &notionapi.Error{Status: http.StatusTooManyRequests, Code: "rate_limited"}, true, resilience.ClassTransient},
		{"server error", &notionapi.Error{Status: http.StatusBadGateway}, true, resilience.ClassTransient},
		{"unauthorized", &notionapi.Error{Status: http.StatusUnauthorized, Code: "unauthorized"}, false, resilience.ClassPermanent},
		{"bad property", &notionapi.Error{Status: http.StatusBadRequest, Code: "validation_error"}, false, resilience.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.retryable, resilience.IsRetryable(got))
			assert.Equal(t, tt.class, resilience.ClassifyError(got))
		})
	}

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, classify(plain))
}

func TestCall_WrapsAndClassifies(t *testing.T) {
	ac := &apiClient{}
	_, err := call(context.Background(), ac, "create page", func() (*notionapi.Page, error) {
		return nil, &notionapi.Error{Status: http.StatusServiceUnavailable}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: create page")
	assert.True(t, resilience.IsRetryable(err))

	page, err := call(context.Background(), ac, "create page", func() (*notionapi.Page, error) {
		return &notionapi.Page{ID: "p1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, notionapi.ObjectID("p1"), page.ID)
}
