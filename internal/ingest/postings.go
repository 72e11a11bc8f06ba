// Package ingest turns postings exports and registry dumps into model records.
package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-cli/internal/fetcher"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// Format is the encoding of a postings file.
type Format string

// Supported postings formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates an explicit --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("ingest: unknown format %q", s)
	}
}

// DetectFormat infers the format from the source's extension.
func DetectFormat(source string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(source))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	switch ext {
	case ".json":
		return FormatJSON, nil
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("ingest: cannot infer format of %q", source)
	}
}

// Column aliases for header-mapped CSV and XLSX postings. Keys are lower-case.
var postingColumns = struct {
	title, company, url, location, postedAt, applicants, domain, profile, source []string
}{
	title:      []string{"title", "job_title", "position"},
	company:    []string{"company", "company_name", "employer"},
	url:        []string{"url", "job_url", "link"},
	location:   []string{"location", "city"},
	postedAt:   []string{"posted_at", "date", "posted"},
	applicants: []string{"applicants", "applicant_count"},
	domain:     []string{"company_domain", "domain", "website"},
	profile:    []string{"company_profile_url", "company_url", "linkedin_url"},
	source:     []string{"source", "board"},
}

// ReadPostings decodes every posting in r. Postings without a company name
// are dropped.
func ReadPostings(ctx context.Context, r io.Reader, format Format) ([]model.JobPosting, error) {
	var (
		postings []model.JobPosting
		err      error
	)
	switch format {
	case FormatJSON:
		postings, err = readJSON(ctx, r)
	case FormatCSV:
		postings, err = readCSV(ctx, r)
	case FormatXLSX:
		postings, err = readXLSX(r)
	default:
		return nil, eris.Errorf("ingest: unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return keepNamed(postings), nil
}

func readJSON(ctx context.Context, r io.Reader) ([]model.JobPosting, error) {
	var out []model.JobPosting
	for p, err := range fetcher.JSONItems[model.JobPosting](ctx, r) {
		if err != nil {
			return out, eris.Wrap(err, "ingest: decode json postings")
		}
		out = append(out, p)
	}
	return out, nil
}

func readCSV(ctx context.Context, r io.Reader) ([]model.JobPosting, error) {
	rows, err := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{Header: true})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv postings")
	}
	var out []model.JobPosting
	for row := range rows.Rows() {
		out = append(out, postingFromRow(row, rows.Header))
	}
	if err := rows.Err(); err != nil {
		return out, eris.Wrap(err, "ingest: read csv postings")
	}
	return out, nil
}

func readXLSX(r io.Reader) ([]model.JobPosting, error) {
	tbl, err := fetcher.ReadXLSX(r, fetcher.XLSXOptions{Header: true})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read xlsx postings")
	}
	out := make([]model.JobPosting, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		out = append(out, postingFromRow(row, tbl.Header))
	}
	return out, nil
}

func postingFromRow(row []string, h fetcher.Header) model.JobPosting {
	c := postingColumns
	p := model.JobPosting{
		Title:             h.Get(row, c.title...),
		Company:           h.Get(row, c.company...),
		URL:               h.Get(row, c.url...),
		Location:          h.Get(row, c.location...),
		CompanyDomain:     h.Get(row, c.domain...),
		CompanyProfileURL: h.Get(row, c.profile...),
		Source:            h.Get(row, c.source...),
	}
	p.PostedAt = parseDate(h.Get(row, c.postedAt...))
	if n, err := strconv.Atoi(h.Get(row, c.applicants...)); err == nil && n > 0 {
		p.Applicants = n
	}
	return p
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// parseDate accepts the layouts seen in board exports. Unparseable values
// yield the zero time.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func keepNamed(in []model.JobPosting) []model.JobPosting {
	out := in[:0]
	dropped := 0
	for _, p := range in {
		if strings.TrimSpace(p.Company) == "" {
			dropped++
			continue
		}
		out = append(out, p)
	}
	if dropped > 0 {
		zap.L().Warn("ingest: dropped postings without company", zap.Int("count", dropped))
	}
	return out
}

// LoadPostings downloads and decodes every source concurrently and returns
// the postings in source order. Format is inferred per source unless
// format is non-empty.
func LoadPostings(ctx context.Context, f fetcher.Fetcher, format Format, sources ...string) ([]model.JobPosting, error) {
	results := make([][]model.JobPosting, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range sources {
		g.Go(func() error {
			fmtFor := format
			if fmtFor == "" {
				var err error
				if fmtFor, err = DetectFormat(src); err != nil {
					return err
				}
			}
			rc, err := f.Download(gctx, src)
			if err != nil {
				return eris.Wrapf(err, "ingest: open %s", src)
			}
			defer rc.Close() //nolint:errcheck

			postings, err := ReadPostings(gctx, rc, fmtFor)
			if err != nil {
				return eris.Wrapf(err, "ingest: %s", src)
			}
			results[i] = postings
			zap.L().Info("ingest: postings loaded", zap.String("source", src), zap.Int("count", len(postings)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.JobPosting
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}
