// Package db holds Postgres bulk-write helpers shared by the stores.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	// SkipUnchanged leaves conflicting rows alone when no update column
	// differs, so RowsAffected counts only real changes.
	SkipUnchanged bool
}

// BulkUpsert loads rows through a temp table and one INSERT ... ON CONFLICT.
// Rows repeating a conflict key collapse to the last one; Postgres rejects
// a statement that updates the same row twice.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	keyIdx, err := columnIndexes(cfg.Columns, cfg.ConflictKeys)
	if err != nil {
		return 0, err
	}
	rows = lastPerKey(rows, keyIdx)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into staging for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, upsertSQL(cfg, tempTable))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// upsertSQL renders the INSERT ... SELECT ... ON CONFLICT statement.
func upsertSQL(cfg UpsertConfig, tempTable string) string {
	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflict := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflict[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflict[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	colList := quoteAndJoin(cfg.Columns)
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		sanitizeTable(cfg.Table), colList, colList,
		pgx.Identifier{tempTable}.Sanitize(), quoteAndJoin(cfg.ConflictKeys))

	if len(updateCols) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	set := make([]string, len(updateCols))
	for i, col := range updateCols {
		q := pgx.Identifier{col}.Sanitize()
		set[i] = q + " = EXCLUDED." + q
	}
	b.WriteString(" DO UPDATE SET ")
	b.WriteString(strings.Join(set, ", "))

	if cfg.SkipUnchanged {
		target := make([]string, len(updateCols))
		excluded := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pgx.Identifier{col}.Sanitize()
			target[i] = "t." + q
			excluded[i] = "EXCLUDED." + q
		}
		fmt.Fprintf(&b, " WHERE (%s) IS DISTINCT FROM (%s)",
			strings.Join(target, ", "), strings.Join(excluded, ", "))
	}
	return b.String()
}

func columnIndexes(columns, keys []string) ([]int, error) {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		found := -1
		for i, c := range columns {
			if c == k {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, eris.Errorf("db: upsert: conflict key %q is not a column", k)
		}
		idx = append(idx, found)
	}
	return idx, nil
}

// lastPerKey drops earlier rows whose conflict key repeats later in rows.
// Order of the surviving rows is kept.
func lastPerKey(rows [][]any, keyIdx []int) [][]any {
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		last[rowKey(row, keyIdx)] = i
	}
	if len(last) == len(rows) {
		return rows
	}
	out := make([][]any, 0, len(last))
	for i, row := range rows {
		if last[rowKey(row, keyIdx)] == i {
			out = append(out, row)
		}
	}
	return out
}

func rowKey(row []any, keyIdx []int) string {
	parts := make([]string, len(keyIdx))
	for i, k := range keyIdx {
		parts[i] = fmt.Sprint(row[k])
	}
	return strings.Join(parts, "\x00")
}

// sanitizeTable quotes a table name that may carry a schema ("leadgen.registry").
func sanitizeTable(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
