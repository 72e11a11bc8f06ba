package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/fetcher"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

func testRow() Row {
	posted := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	return Row{
		Company: model.Company{
			ID:        7,
			Name:      "Acme Soluções",
			LegalName: "ACME SOLUCOES LTDA",
			TaxID:     "11222333000181",
			Domain:    "acme.com.br",
			Sector:    "Software",
			City:      "São Paulo",
			State:     "SP",
			Employees: 120,
			Revenue:   5000000,
		},
		Lead: model.Lead{
			ID:          42,
			CompanyID:   7,
			TriggerJob:  model.RelatedJob{Title: "Backend Engineer", URL: "https://jobs.example.com/1", PostedAt: posted},
			RelatedJobs: []model.RelatedJob{{Title: "Backend Engineer"}, {Title: "SRE"}},
			Contacts: []model.Contact{
				{Name: "Ana Souza", Role: "CTO", Email: "ana@acme.com.br"},
				{Name: "Rui Lima"},
			},
			Score:     77,
			Fresh:     true,
			UpdatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestPriority(t *testing.T) {
	assert.Equal(t, "hot", Priority(100))
	assert.Equal(t, "hot", Priority(70))
	assert.Equal(t, "warm", Priority(69))
	assert.Equal(t, "warm", Priority(40))
	assert.Equal(t, "cold", Priority(39))
	assert.Equal(t, "cold", Priority(0))
}

func TestContactLines(t *testing.T) {
	got := ContactLines(testRow().Lead.Contacts, "; ")
	assert.Equal(t, "Ana Souza (CTO) <ana@acme.com.br>; Rui Lima", got)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Row{testRow()}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, columns, records[0])

	rec := records[1]
	assert.Equal(t, "42", rec[0])
	assert.Equal(t, "Acme Soluções", rec[1])
	assert.Equal(t, "11.222.333/0001-81", rec[3])
	assert.Equal(t, "120", rec[8])
	assert.Equal(t, "5000000", rec[9])
	assert.Equal(t, "77", rec[10])
	assert.Equal(t, "hot", rec[11])
	assert.Equal(t, "true", rec[12])
	assert.Equal(t, "2026-04-20", rec[15])
	assert.Equal(t, "2", rec[16])
	assert.Equal(t, "2026-05-01T12:00:00Z", rec[18])
}

func TestWriteCSV_EmptyValues(t *testing.T) {
	r := Row{Company: model.Company{Name: "Bare"}, Lead: model.Lead{ID: 1}}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Row{r}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	rec := records[1]
	assert.Empty(t, rec[3])
	assert.Empty(t, rec[8])
	assert.Empty(t, rec[9])
	assert.Empty(t, rec[15])
	assert.Equal(t, "cold", rec[11])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, []Row{testRow()}))

	tbl, err := fetcher.ReadXLSX(&buf, fetcher.XLSXOptions{})
	require.NoError(t, err)
	rows := tbl.Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "Lead ID", rows[0][0])
	assert.Equal(t, "Updated At", rows[0][len(columns)-1])
	assert.Equal(t, "Acme Soluções", rows[1][1])
	assert.Equal(t, "11.222.333/0001-81", rows[1][3])
	assert.Equal(t, "77", rows[1][10])
	assert.Equal(t, "hot", rows[1][11])
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	src := new(mockSource)
	filter := store.LeadFilter{MinScore: 50}
	src.On("ListLeads", ctx, filter).Return([]model.Lead{
		{ID: 1, CompanyID: 7},
		{ID: 2, CompanyID: 7},
		{ID: 3, CompanyID: 9},
	}, nil)
	src.On("GetCompany", ctx, int64(7)).Return(&model.Company{ID: 7, Name: "Acme"}, nil).Once()
	src.On("GetCompany", ctx, int64(9)).Return(nil, nil).Once()

	rows, err := Load(ctx, src, filter)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[1].Lead.ID)
	assert.Equal(t, "Acme", rows[1].Company.Name)
	src.AssertExpectations(t)
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()

	src := new(mockSource)
	src.On("ListLeads", ctx, mock.Anything).Return(nil, errors.New("db down"))
	_, err := Load(ctx, src, store.LeadFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list leads")

	src = new(mockSource)
	src.On("ListLeads", ctx, mock.Anything).Return([]model.Lead{{ID: 1, CompanyID: 7}}, nil)
	src.On("GetCompany", ctx, int64(7)).Return(nil, errors.New("boom"))
	_, err = Load(ctx, src, store.LeadFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get company 7")
}
