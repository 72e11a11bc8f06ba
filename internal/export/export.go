// Package export writes leads to spreadsheets and pushes them to CRM sinks.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// Row is one lead joined with its company.
type Row struct {
	Lead    model.Lead    `json:"lead"`
	Company model.Company `json:"company"`
}

// Priority buckets a lead score into hot, warm or cold.
func Priority(score int) string {
	switch {
	case score >= 70:
		return "hot"
	case score >= 40:
		return "warm"
	default:
		return "cold"
	}
}

// LeadSource is the slice of the store export reads from.
type LeadSource interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
}

// Load lists leads matching filter and joins each with its company.
// Leads whose company no longer exists are skipped.
func Load(ctx context.Context, src LeadSource, filter store.LeadFilter) ([]Row, error) {
	leads, err := src.ListLeads(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "export: list leads")
	}

	companies := make(map[int64]*model.Company)
	rows := make([]Row, 0, len(leads))
	for _, l := range leads {
		c, ok := companies[l.CompanyID]
		if !ok {
			c, err = src.GetCompany(ctx, l.CompanyID)
			if err != nil {
				return nil, eris.Wrapf(err, "export: get company %d", l.CompanyID)
			}
			companies[l.CompanyID] = c
		}
		if c == nil {
			continue
		}
		rows = append(rows, Row{Lead: l, Company: *c})
	}
	return rows, nil
}

// columns defines the ordered export columns.
var columns = []string{
	"Lead ID",
	"Company",
	"Legal Name",
	"CNPJ",
	"Domain",
	"Sector",
	"City",
	"State",
	"Employees",
	"Revenue",
	"Score",
	"Priority",
	"Fresh",
	"Trigger Job",
	"Trigger URL",
	"Posted At",
	"Related Jobs",
	"Contacts",
	"Updated At",
}

// record maps a Row to its column values.
func record(r Row) []string {
	c, l := r.Company, r.Lead
	taxID := ""
	if c.TaxID != "" {
		taxID = company.FormatTaxID(c.TaxID)
	}
	return []string{
		strconv.FormatInt(l.ID, 10),
		c.Name,
		c.LegalName,
		taxID,
		c.Domain,
		c.Sector,
		c.City,
		c.State,
		intOrEmpty(c.Employees),
		revenueOrEmpty(c.Revenue),
		strconv.Itoa(l.Score),
		Priority(l.Score),
		strconv.FormatBool(l.Fresh),
		l.TriggerJob.Title,
		l.TriggerJob.URL,
		dateOrEmpty(l.TriggerJob.PostedAt),
		strconv.Itoa(len(l.RelatedJobs)),
		ContactLines(l.Contacts, "; "),
		l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ContactLines renders contacts as "Name (Role) <email>" joined by sep.
func ContactLines(contacts []model.Contact, sep string) string {
	parts := make([]string, 0, len(contacts))
	for _, ct := range contacts {
		parts = append(parts, ContactLabel(ct))
	}
	return strings.Join(parts, sep)
}

// ContactLabel renders one contact for a spreadsheet cell or CRM note.
func ContactLabel(ct model.Contact) string {
	s := ct.Name
	if ct.Role != "" {
		s += " (" + ct.Role + ")"
	}
	if ct.Email != "" {
		s += " <" + ct.Email + ">"
	}
	return strings.TrimSpace(s)
}

// WriteCSV writes rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range rows {
		if err := cw.Write(record(r)); err != nil {
			return eris.Wrapf(err, "export: write csv lead %d", r.Lead.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes rows to a single "Leads" sheet. Numeric columns are
// written as numbers so they sort in a spreadsheet.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range columns {
		header.AddCell().SetString(col)
	}

	for _, r := range rows {
		xr := sheet.AddRow()
		for i, v := range record(r) {
			cell := xr.AddCell()
			switch columns[i] {
			case "Lead ID", "Score", "Employees", "Related Jobs":
				if n, err := strconv.Atoi(v); err == nil {
					cell.SetInt(n)
					continue
				}
			case "Revenue":
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					cell.SetFloat(n)
					continue
				}
			}
			cell.SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func intOrEmpty(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func revenueOrEmpty(v float64) string {
	if v <= 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 0, 64)
}

func dateOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
