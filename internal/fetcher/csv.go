package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

// CSVOptions configures StreamCSV. Quotes are parsed leniently, fields are
// trimmed and rows may be ragged; board exports and registry dumps need all
// three.
type CSVOptions struct {
	Comma rune // default ','
	// Latin1 decodes ISO-8859-1, the encoding of the federal registry dumps.
	Latin1 bool
	// Header treats the first record as column names.
	Header bool
}

// CSVStream delivers records from a background reader.
type CSVStream struct {
	Header Header

	rows chan []string
	err  error
}

// Rows is closed when the input ends, fails or ctx is done.
func (s *CSVStream) Rows() <-chan []string { return s.rows }

// Err reports why Rows closed early. Call it after Rows is drained.
func (s *CSVStream) Err() error { return s.err }

// StreamCSV starts reading r. The header, when requested, is read before
// StreamCSV returns so callers can map columns up front.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (*CSVStream, error) {
	if opts.Latin1 {
		r = charmap.ISO8859_1.NewDecoder().Reader(r)
	}
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	s := &CSVStream{rows: make(chan []string, 64)}
	if opts.Header {
		names, err := cr.Read()
		switch {
		case err == io.EOF:
			close(s.rows)
			return s, nil
		case err != nil:
			return nil, eris.Wrap(err, "csv: read header")
		}
		s.Header = NewHeader(names)
	}

	go s.run(ctx, cr)
	return s, nil
}

func (s *CSVStream) run(ctx context.Context, cr *csv.Reader) {
	defer close(s.rows)
	for {
		if err := ctx.Err(); err != nil {
			s.err = eris.Wrap(err, "csv: stopped")
			return
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.err = eris.Wrap(err, "csv: read record")
			return
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		select {
		case s.rows <- rec:
		case <-ctx.Done():
			s.err = eris.Wrap(ctx.Err(), "csv: stopped")
			return
		}
	}
}
