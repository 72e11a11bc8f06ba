package fetcher

import (
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects what ReadXLSX returns.
type XLSXOptions struct {
	// Sheet names the worksheet; "" is the first one.
	Sheet string
	// Header treats the first non-blank row as column names.
	Header bool
}

// Table is a worksheet as trimmed strings. Blank rows are dropped.
type Table struct {
	Header Header
	Rows   [][]string
}

// ReadXLSX loads one worksheet of the workbook in r. Workbooks are small
// spreadsheets exported by hand, so the whole file is read into memory.
func ReadXLSX(r io.Reader, opts XLSXOptions) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: read")
	}
	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheet, err := pickSheet(wb, opts.Sheet)
	if err != nil {
		return nil, err
	}

	t := &Table{}
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = strings.TrimSpace(c.String())
		}
		if !slices.ContainsFunc(cells, func(s string) bool { return s != "" }) {
			continue
		}
		if opts.Header && t.Header == nil {
			t.Header = NewHeader(cells)
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

func pickSheet(wb *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name == "" {
		if len(wb.Sheets) == 0 {
			return nil, eris.New("xlsx: workbook has no sheets")
		}
		return wb.Sheets[0], nil
	}
	s, ok := wb.Sheet[name]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", name)
	}
	return s, nil
}
