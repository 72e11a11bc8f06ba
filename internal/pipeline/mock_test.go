package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadgen-cli/internal/model"
)

type mockProfile struct{ mock.Mock }

func (m *mockProfile) Name() string { return "jina" }

func (m *mockProfile) ExtractTaxID(ctx context.Context, profileURL string) (string, error) {
	args := m.Called(ctx, profileURL)
	return args.String(0), args.Error(1)
}

type mockRegistry struct{ mock.Mock }

func (m *mockRegistry) Name() string { return "cnpj" }

func (m *mockRegistry) Lookup(ctx context.Context, taxID string) (*model.RegistryRecord, error) {
	args := m.Called(ctx, taxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistryRecord), args.Error(1)
}

type mockSearch struct{ mock.Mock }

func (m *mockSearch) Name() string { return "perplexity" }

func (m *mockSearch) FindTaxID(ctx context.Context, name, location string) (string, error) {
	args := m.Called(ctx, name, location)
	return args.String(0), args.Error(1)
}

type mockFinancials struct{ mock.Mock }

func (m *mockFinancials) Name() string { return "anthropic" }

func (m *mockFinancials) Estimate(ctx context.Context, c *model.Company) (*Financials, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Financials), args.Error(1)
}

type mockContacts struct{ mock.Mock }

func (m *mockContacts) Name() string { return "perplexity" }

func (m *mockContacts) FindContacts(ctx context.Context, c *model.Company) ([]model.Contact, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

type mockEvents struct{ mock.Mock }

func (m *mockEvents) Name() string { return "perplexity" }

func (m *mockEvents) FindEvents(ctx context.Context, c *model.Company) ([]model.Trigger, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Trigger), args.Error(1)
}

type mockLocal struct{ mock.Mock }

func (m *mockLocal) GetRegistryRecord(ctx context.Context, taxID string) (*model.RegistryRecord, error) {
	args := m.Called(ctx, taxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistryRecord), args.Error(1)
}

func (m *mockLocal) FindRegistryByName(ctx context.Context, name string) (*model.RegistryRecord, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RegistryRecord), args.Error(1)
}
