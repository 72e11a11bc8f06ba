package fetcher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type testSheet struct {
	name string
	rows [][]string
}

func workbook(t *testing.T, sheets ...testSheet) *bytes.Buffer {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sh, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, cells := range s.rows {
			row := sh.AddRow()
			for _, c := range cells {
				row.AddCell().SetString(c)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestReadXLSX_FirstSheet(t *testing.T) {
	buf := workbook(t, testSheet{"Jobs", [][]string{
		{"Title", "Company"},
		{" Go Engineer ", "Acme"},
		{"", ""},
		{"SRE", "Umbrella"},
	}})

	tbl, err := ReadXLSX(buf, XLSXOptions{})
	require.NoError(t, err)
	assert.Nil(t, tbl.Header)
	assert.Equal(t, [][]string{{"Title", "Company"}, {"Go Engineer", "Acme"}, {"SRE", "Umbrella"}}, tbl.Rows)
}

func TestReadXLSX_NamedSheetWithHeader(t *testing.T) {
	buf := workbook(t,
		testSheet{"Cover", [][]string{{"ignore"}}},
		testSheet{"Jobs", [][]string{{"", ""}, {"Title", "Company"}, {"SRE", "Acme"}}},
	)

	tbl, err := ReadXLSX(buf, XLSXOptions{Sheet: "Jobs", Header: true})
	require.NoError(t, err)
	assert.Equal(t, Header{"title": 0, "company": 1}, tbl.Header)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Acme", tbl.Header.Get(tbl.Rows[0], "company"))
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	_, err := ReadXLSX(workbook(t, testSheet{"Jobs", [][]string{{"a"}}}), XLSXOptions{Sheet: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	_, err := ReadXLSX(bytes.NewBufferString("plain text"), XLSXOptions{})
	require.Error(t, err)
}
