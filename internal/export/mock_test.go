package export

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/salesforce"
)

type mockSource struct{ mock.Mock }

func (m *mockSource) ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

func (m *mockSource) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Company), args.Error(1)
}

type mockNotion struct{ mock.Mock }

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

type mockSalesforce struct{ mock.Mock }

func (m *mockSalesforce) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	if fn, ok := args.Get(0).(func(any)); ok {
		fn(out)
		return nil
	}
	return args.Error(0)
}

func (m *mockSalesforce) Create(ctx context.Context, object string, fields map[string]any) (string, error) {
	args := m.Called(ctx, object, fields)
	return args.String(0), args.Error(1)
}

func (m *mockSalesforce) Update(ctx context.Context, object, id string, fields map[string]any) error {
	args := m.Called(ctx, object, id, fields)
	return args.Error(0)
}

func (m *mockSalesforce) CreateMany(ctx context.Context, object string, records []map[string]any) ([]salesforce.Result, error) {
	args := m.Called(ctx, object, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]salesforce.Result), args.Error(1)
}
