package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/export"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/notion"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List, export and push scored leads",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads, highest score first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rows, err := loadLeadRows(cmd)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}
		formatLeads(os.Stdout, rows)
		return nil
	},
}

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write leads to an XLSX or CSV file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		var write func(io.Writer, []export.Row) error
		switch strings.ToLower(format) {
		case "xlsx":
			write = export.WriteXLSX
		case "csv":
			write = export.WriteCSV
		default:
			return eris.Errorf("unsupported export format %q (want xlsx or csv)", format)
		}

		rows, err := loadLeadRows(cmd)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrap(err, "leads export: create output")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := write(w, rows); err != nil {
			return err
		}
		zap.L().Info("leads exported", zap.Int("rows", len(rows)), zap.String("format", format), zap.String("out", out))
		return nil
	},
}

var leadsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push leads to Notion or Salesforce",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("sink")
		sink, err := buildSink(name)
		if err != nil {
			return err
		}

		rows, err := loadLeadRows(cmd)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No leads to push.")
			return nil
		}

		res, err := export.Push(ctx, sink, rows)
		if res != nil {
			_, _ = fmt.Fprintf(os.Stdout, "%s: %d created, %d updated, %d failed\n",
				res.Sink, res.Created, res.Updated, res.Failed)
			for _, e := range res.Errors {
				_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", e)
			}
		}
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return eris.Errorf("%d of %d leads failed to push", res.Failed, len(rows))
		}
		return nil
	},
}

// buildSink returns the named CRM sink.
func buildSink(name string) (export.Sink, error) {
	switch name {
	case "notion":
		if cfg.Notion.Token == "" || cfg.Notion.LeadDB == "" {
			return nil, eris.New("notion.token and notion.lead_db are required")
		}
		return export.NewNotionSink(notion.NewClient(cfg.Notion.Token), cfg.Notion.LeadDB), nil
	case "salesforce":
		sf, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return export.SalesforceSink{Client: sf}, nil
	default:
		return nil, eris.Errorf("unknown sink %q (want notion or salesforce)", name)
	}
}

// loadLeadRows reads the shared filter flags and loads matching leads.
func loadLeadRows(cmd *cobra.Command) ([]export.Row, error) {
	ctx := cmd.Context()

	filter, err := leadFilterFromFlags(cmd)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	return export.Load(ctx, st, filter)
}

func leadFilterFromFlags(cmd *cobra.Command) (store.LeadFilter, error) {
	var f store.LeadFilter
	f.MinScore, _ = cmd.Flags().GetInt("min-score")
	f.FreshOnly, _ = cmd.Flags().GetBool("fresh")
	f.CompanyID, _ = cmd.Flags().GetInt64("company")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if f.MinScore < 0 || f.MinScore > 100 {
		return f, eris.New("--min-score must be within [0,100]")
	}
	if f.Limit < 0 {
		return f, eris.New("--limit must not be negative")
	}
	return f, nil
}

// formatLeads writes lead rows as a table.
func formatLeads(out io.Writer, rows []export.Row) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tSCORE\tPRIORITY\tFRESH\tTRIGGER\tCONTACTS")
	_, _ = fmt.Fprintln(w, "--\t-------\t-----\t--------\t-----\t-------\t--------")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%t\t%s\t%d\n",
			r.Lead.ID,
			truncate(r.Company.Name, 30),
			r.Lead.Score,
			export.Priority(r.Lead.Score),
			r.Lead.Fresh,
			truncate(r.Lead.TriggerJob.Title, 40),
			len(r.Lead.Contacts),
		)
	}
	_ = w.Flush()
}

// -- usage --

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize paid API usage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		since, _ := cmd.Flags().GetDuration("since")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return printUsage(ctx, os.Stdout, st, since)
	},
}

type usageSummarizer interface {
	UsageSummary(ctx context.Context, since time.Time) ([]model.UsageTotal, error)
}

func printUsage(ctx context.Context, out io.Writer, src usageSummarizer, since time.Duration) error {
	totals, err := src.UsageSummary(ctx, time.Now().Add(-since))
	if err != nil {
		return eris.Wrap(err, "usage summary")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tCALLS\tCOST")
	_, _ = fmt.Fprintln(w, "--------\t-----\t----")
	var calls int
	var cost float64
	for _, t := range totals {
		_, _ = fmt.Fprintf(w, "%s\t%d\t$%.4f\n", t.Provider, t.Calls, t.CostUSD)
		calls += t.Calls
		cost += t.CostUSD
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\t$%.4f\n", calls, cost)
	return w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{leadsListCmd, leadsExportCmd, leadsPushCmd} {
		c.Flags().Int("min-score", 0, "minimum lead score")
		c.Flags().Bool("fresh", false, "only leads with a recent trigger")
		c.Flags().Int64("company", 0, "only leads of this company id")
		c.Flags().Int("limit", 0, "max leads (0 = store default)")
	}
	leadsListCmd.Flags().Bool("json", false, "print rows as JSON")
	leadsExportCmd.Flags().String("format", "xlsx", "xlsx or csv")
	leadsExportCmd.Flags().String("out", "leads.xlsx", "output path, - for stdout")
	leadsPushCmd.Flags().String("sink", "notion", "notion or salesforce")

	usageCmd.Flags().Duration("since", 24*time.Hour, "time window")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsExportCmd)
	leadsCmd.AddCommand(leadsPushCmd)
	rootCmd.AddCommand(leadsCmd)
	rootCmd.AddCommand(usageCmd)
}
