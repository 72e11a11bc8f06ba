package export

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/pkg/notion"
	"github.com/sells-group/leadgen-cli/pkg/salesforce"
)

type fakeSink struct {
	fail map[int64]bool
	seen []int64
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Push(_ context.Context, r Row) (string, bool, error) {
	f.seen = append(f.seen, r.Lead.ID)
	if f.fail[r.Lead.ID] {
		return "", false, errors.New("rejected")
	}
	return "remote", r.Lead.ID%2 == 1, nil
}

func TestPush_TalliesAndContinues(t *testing.T) {
	sink := &fakeSink{fail: map[int64]bool{2: true}}
	rows := []Row{
		{Lead: model.Lead{ID: 1}},
		{Lead: model.Lead{ID: 2}, Company: model.Company{Name: "Beta"}},
		{Lead: model.Lead{ID: 3}},
		{Lead: model.Lead{ID: 4}},
	}

	res, err := Push(context.Background(), sink, rows)
	require.NoError(t, err)
	assert.Equal(t, "fake", res.Sink)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "lead 2 (Beta)")
	assert.Equal(t, []int64{1, 2, 3, 4}, sink.seen)
}

func TestPush_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &fakeSink{}

	_, err := Push(ctx, sink, []Row{{Lead: model.Lead{ID: 1}}})
	require.Error(t, err)
	assert.Empty(t, sink.seen)
}

func TestNotionSink_CreatesPage(t *testing.T) {
	ctx := context.Background()
	mc := new(mockNotion)
	mc.On("QueryDatabase", ctx, "db-leads", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		sel, ok := req.Properties[notion.PropPriority].(notionapi.SelectProperty)
		tax, taxOK := req.Properties[notion.PropTaxID].(notionapi.RichTextProperty)
		return ok && sel.Select.Name == "hot" &&
			taxOK && len(tax.RichText) == 1 && tax.RichText[0].Text.Content == "11.222.333/0001-81"
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	sink := NewNotionSink(mc, "db-leads")
	id, created, err := sink.Push(ctx, testRow())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "page-1", id)
	mc.AssertExpectations(t)
}

func TestPush_PreloadsNotionIndex(t *testing.T) {
	ctx := context.Background()
	mc := new(mockNotion)
	existing := notionapi.Page{ID: "page-7", Properties: notionapi.Properties{
		notion.PropLeadKey: &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: "lead-7"}}},
	}}
	mc.On("QueryDatabase", ctx, "db-leads", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.Filter == nil
	})).Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{existing}}, nil).Once()
	mc.On("UpdatePage", ctx, "page-7", mock.Anything).Return(&notionapi.Page{ID: "page-7"}, nil).Once()
	mc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "page-8"}, nil).Once()

	first, second := testRow(), testRow()
	first.Lead.ID, second.Lead.ID = 7, 8
	res, err := Push(ctx, NewNotionSink(mc, "db-leads"), []Row{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	mc.AssertExpectations(t)
}

func TestSalesforceSink_NewAccountGetsContacts(t *testing.T) {
	ctx := context.Background()
	sf := new(mockSalesforce)
	sf.On("Query", ctx, mock.Anything, mock.Anything).Return(nil).Once()
	sf.On("Create", ctx, "Account", mock.MatchedBy(func(f map[string]any) bool {
		return f["Name"] == "ACME SOLUCOES LTDA" && f["Rating"] == "Hot" && f[salesforce.TaxIDField] == "11222333000181"
	})).Return("001N", nil).Once()
	sf.On("CreateMany", ctx, "Contact", mock.MatchedBy(func(recs []map[string]any) bool {
		return len(recs) == 2 && recs[0]["AccountId"] == "001N" && recs[0]["LastName"] == "Souza"
	})).Return([]salesforce.Result{{ID: "003A", Success: true}, {ID: "003B", Success: true}}, nil).Once()

	id, created, err := SalesforceSink{Client: sf}.Push(ctx, testRow())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "001N", id)
	sf.AssertExpectations(t)
}

func TestSalesforceSink_ExistingAccountSkipsContacts(t *testing.T) {
	ctx := context.Background()
	sf := new(mockSalesforce)
	sf.On("Query", ctx, mock.Anything, mock.Anything).Return(func(out any) {
		*(out.(*[]salesforce.Account)) = []salesforce.Account{{ID: "001X"}}
	}).Once()
	sf.On("Update", ctx, "Account", "001X", mock.Anything).Return(nil).Once()

	id, created, err := SalesforceSink{Client: sf}.Push(ctx, testRow())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "001X", id)
	sf.AssertNotCalled(t, "CreateMany", mock.Anything, mock.Anything, mock.Anything)
}

func TestSalesforceSink_RejectedContact(t *testing.T) {
	ctx := context.Background()
	sf := new(mockSalesforce)
	sf.On("Query", ctx, mock.Anything, mock.Anything).Return(nil).Once()
	sf.On("Create", ctx, "Account", mock.Anything).Return("001N", nil).Once()
	sf.On("CreateMany", ctx, "Contact", mock.Anything).
		Return([]salesforce.Result{{Success: false, Errors: []string{"DUPLICATE_VALUE"}}}, nil).Once()

	id, _, err := SalesforceSink{Client: sf}.Push(ctx, testRow())
	require.Error(t, err)
	assert.Equal(t, "001N", id)
	assert.Contains(t, err.Error(), "DUPLICATE_VALUE")
}

func TestRatingAndDescription(t *testing.T) {
	assert.Equal(t, "Hot", rating(90))
	assert.Equal(t, "Warm", rating(50))
	assert.Equal(t, "Cold", rating(10))

	d := description(testRow())
	assert.Contains(t, d, "Lead score 77.")
	assert.Contains(t, d, "Hiring: Backend Engineer (https://jobs.example.com/1).")
	assert.Contains(t, d, "2 open postings.")
}
