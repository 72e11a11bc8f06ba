package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, s *CSVStream) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range s.Rows() {
		rows = append(rows, row)
	}
	return rows, s.Err()
}

func TestStreamCSV_NoHeader(t *testing.T) {
	s, err := StreamCSV(context.Background(), strings.NewReader("a,b,c\n1,2,3\n4,5\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Nil(t, s.Header)

	rows, err := readAll(t, s)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2", "3"}, {"4", "5"}}, rows)
}

func TestStreamCSV_RegistryDump(t *testing.T) {
	input := "CNPJ ; Razao\n11222333000181; ACME \"LTDA\n"
	s, err := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{Comma: ';', Header: true})
	require.NoError(t, err)
	assert.Equal(t, Header{"cnpj": 0, "razao": 1}, s.Header)

	rows, err := readAll(t, s)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"11222333000181", "ACME \"LTDA"}}, rows)
}

func TestStreamCSV_Latin1(t *testing.T) {
	// "SÃO PAULO" in ISO-8859-1.
	s, err := StreamCSV(context.Background(), strings.NewReader("1;S\xc3O PAULO\n"), CSVOptions{Comma: ';', Latin1: true})
	require.NoError(t, err)
	rows, err := readAll(t, s)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SÃO PAULO", rows[0][1])
}

func TestStreamCSV_EmptyWithHeader(t *testing.T) {
	s, err := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{Header: true})
	require.NoError(t, err)
	rows, err := readAll(t, s)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	require.NoError(t, err)
	_, err = readAll(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
