package ingest

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/fetcher"
	"github.com/sells-group/leadgen-cli/internal/model"
)

const defaultRegistryBatch = 1000

// RegistryWriter upserts registry records.
type RegistryWriter interface {
	UpsertRegistryRecords(ctx context.Context, recs []model.RegistryRecord) (int64, error)
}

// RegistryOptions configures a registry bulk load.
type RegistryOptions struct {
	// Latin1 decodes ISO-8859-1 input. Federal dumps ship in it.
	Latin1 bool
	// HasHeader skips the first row.
	HasHeader bool
	// BatchSize is the number of rows per upsert. Default 1000.
	BatchSize int
}

// RegistryStats summarizes a bulk load.
type RegistryStats struct {
	Rows     int64 `json:"rows"`
	Upserted int64 `json:"upserted"`
	Invalid  int64 `json:"invalid"`
}

// LoadRegistry streams a semicolon-separated registry file into w. Columns
// are tax id, legal name, trade name, city, state. Rows whose tax id does
// not normalize to 14 digits are counted and skipped.
func LoadRegistry(ctx context.Context, r io.Reader, w RegistryWriter, opts RegistryOptions) (RegistryStats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRegistryBatch
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, err := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Comma:  ';',
		Header: opts.HasHeader,
		Latin1: opts.Latin1,
	})
	if err != nil {
		return RegistryStats{}, eris.Wrap(err, "ingest: read registry")
	}

	var (
		stats RegistryStats
		batch = make([]model.RegistryRecord, 0, opts.BatchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := w.UpsertRegistryRecords(ctx, batch)
		if err != nil {
			return eris.Wrap(err, "ingest: upsert registry batch")
		}
		stats.Upserted += n
		batch = batch[:0]
		return nil
	}

	for row := range rows.Rows() {
		stats.Rows++
		rec, ok := registryFromRow(row)
		if !ok {
			stats.Invalid++
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return stats, eris.Wrap(err, "ingest: read registry")
	}
	if err := flush(); err != nil {
		return stats, err
	}

	zap.L().Info("ingest: registry loaded",
		zap.Int64("rows", stats.Rows),
		zap.Int64("upserted", stats.Upserted),
		zap.Int64("invalid", stats.Invalid),
	)
	return stats, nil
}

func registryFromRow(row []string) (model.RegistryRecord, bool) {
	col := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	taxID := company.NormalizeTaxID(col(0))
	if taxID == "" || col(1) == "" {
		return model.RegistryRecord{}, false
	}
	return model.RegistryRecord{
		TaxID:     taxID,
		LegalName: col(1),
		TradeName: col(2),
		City:      col(3),
		State:     strings.ToUpper(col(4)),
	}, true
}
