package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "registry",
		Columns:      []string{"tax_id", "legal_name"},
		ConflictKeys: []string{"tax_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	rows := [][]any{{"1", "a"}}
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no columns", UpsertConfig{Table: "registry", ConflictKeys: []string{"tax_id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "registry", Columns: []string{"tax_id", "legal_name"}}, "no conflict keys specified"},
		{"unknown key", UpsertConfig{Table: "registry", Columns: []string{"tax_id", "legal_name"}, ConflictKeys: []string{"cnpj"}}, `conflict key "cnpj"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.TODO(), nil, tt.cfg, rows)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_registry"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_registry"}, []string{"tax_id", "legal_name"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "registry" AS t .* ON CONFLICT \("tax_id"\) DO UPDATE SET "legal_name" = EXCLUDED."legal_name"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "registry",
		Columns:      []string{"tax_id", "legal_name"},
		ConflictKeys: []string{"tax_id"},
	}, [][]any{{"11222333000181", "Acme"}, {"12345678000195", "Umbrella"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBulkUpsert_RollsBackOnInsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_registry"}, []string{"tax_id", "legal_name"}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "registry"`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "registry",
		Columns:      []string{"tax_id", "legal_name"},
		ConflictKeys: []string{"tax_id"},
	}, [][]any{{"11222333000181", "Acme"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT for registry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_leadgen_registry" \(LIKE "leadgen"."registry" INCLUDING DEFAULTS\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_leadgen_registry"}, []string{"tax_id"}).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "leadgen.registry",
		Columns:      []string{"tax_id"},
		ConflictKeys: []string{"tax_id"},
	}, [][]any{{"11222333000181"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into staging for leadgen.registry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	cfg := UpsertConfig{
		Table:         "leadgen.registry",
		Columns:       []string{"tax_id", "legal_name", "city"},
		ConflictKeys:  []string{"tax_id"},
		SkipUnchanged: true,
	}
	assert.Equal(t,
		`INSERT INTO "leadgen"."registry" AS t ("tax_id", "legal_name", "city") SELECT "tax_id", "legal_name", "city" FROM "_tmp" `+
			`ON CONFLICT ("tax_id") DO UPDATE SET "legal_name" = EXCLUDED."legal_name", "city" = EXCLUDED."city" `+
			`WHERE (t."legal_name", t."city") IS DISTINCT FROM (EXCLUDED."legal_name", EXCLUDED."city")`,
		upsertSQL(cfg, "_tmp"))

	cfg = UpsertConfig{Table: "seen", Columns: []string{"tax_id"}, ConflictKeys: []string{"tax_id"}}
	assert.Equal(t, `INSERT INTO "seen" AS t ("tax_id") SELECT "tax_id" FROM "_tmp" ON CONFLICT ("tax_id") DO NOTHING`, upsertSQL(cfg, "_tmp"))
}

func TestLastPerKey(t *testing.T) {
	rows := [][]any{
		{"111", "Acme"},
		{"222", "Umbrella"},
		{"111", "Acme Ltda"},
	}
	got := lastPerKey(rows, []int{0})
	assert.Equal(t, [][]any{{"222", "Umbrella"}, {"111", "Acme Ltda"}}, got)

	unique := rows[:2]
	assert.Equal(t, unique, lastPerKey(unique, []int{0}))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"leadgen.registry", `"leadgen"."registry"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"tax_id", "legal_name", "city"})
	assert.Equal(t, `"tax_id", "legal_name", "city"`, result)
}
