package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/ingest"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a batch of job postings into leads",
	Long: "Loads postings from one or more JSON, CSV or XLSX sources (local paths, http(s) or ftp URLs), " +
		"runs every hiring company through the pipeline and prints the batch summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		inputs, _ := cmd.Flags().GetStringSlice("input")
		format, _ := cmd.Flags().GetString("format")
		maxCompanies, _ := cmd.Flags().GetInt("max-companies")
		budget, _ := cmd.Flags().GetDuration("budget")
		asJSON, _ := cmd.Flags().GetBool("json")

		if len(inputs) == 0 {
			return eris.New("at least one --input is required")
		}
		var f ingest.Format
		if format != "" {
			var err error
			if f, err = ingest.ParseFormat(format); err != nil {
				return err
			}
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		postings, err := ingest.LoadPostings(ctx, env.Fetcher, f, inputs...)
		if err != nil {
			return eris.Wrap(err, "load postings")
		}

		ro := pipeline.RunOptions{MaxCompanies: cfg.Pipeline.MaxCompanies, Budget: cfg.Pipeline.Budget()}
		if cmd.Flags().Changed("max-companies") {
			ro.MaxCompanies = maxCompanies
		}
		if cmd.Flags().Changed("budget") {
			ro.Budget = budget
		}

		result, err := env.Pipeline.Run(ctx, postings, ro)
		if err != nil {
			return err
		}

		zap.L().Info("batch complete",
			zap.String("run_id", result.RunID),
			zap.Int("leads_created", result.LeadsCreated),
			zap.Int("leads_updated", result.LeadsUpdated),
			zap.Int("errors", len(result.Errors)),
		)

		if asJSON {
			return printJSON(os.Stdout, result)
		}
		formatBatchResult(os.Stdout, result)
		return nil
	},
}

// formatBatchResult writes a human-readable batch summary to out.
func formatBatchResult(out io.Writer, res *pipeline.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "Postings:\t%d\n", res.JobsSeen)
	_, _ = fmt.Fprintf(w, "Companies processed:\t%d\n", res.CompaniesProcessed)
	_, _ = fmt.Fprintf(w, "Companies skipped:\t%d\n", res.CompaniesSkipped)
	_, _ = fmt.Fprintf(w, "Companies discarded:\t%d\n", res.CompaniesDiscarded)
	_, _ = fmt.Fprintf(w, "Leads created:\t%d\n", res.LeadsCreated)
	_, _ = fmt.Fprintf(w, "Leads updated:\t%d\n", res.LeadsUpdated)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", res.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", res.CostUSD)
	_ = w.Flush()

	if len(res.Groups) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "COMPANY\tSTAGE\tREASON\tLEAD\tSCORE")
		_, _ = fmt.Fprintln(w, "-------\t-----\t------\t----\t-----")
		for _, g := range res.Groups {
			lead := ""
			if g.LeadID > 0 {
				lead = fmt.Sprintf("%d", g.LeadID)
				if g.LeadCreated {
					lead += " (new)"
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", truncate(g.Company, 30), g.Stage, g.Reason, lead, g.Score)
		}
		_ = w.Flush()
	}

	if len(res.Errors) > 0 {
		_, _ = fmt.Fprintf(out, "\nErrors (%d):\n", len(res.Errors))
		for _, e := range res.Errors {
			_, _ = fmt.Fprintf(out, "  - %s\n", e)
		}
	}
}

// printJSON writes v as indented JSON.
func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	runCmd.Flags().StringSlice("input", nil, "postings source (path or http/ftp URL); repeatable")
	runCmd.Flags().String("format", "", "input format: json, csv or xlsx (default: from extension)")
	runCmd.Flags().Int("max-companies", 0, "process at most N companies (default from config)")
	runCmd.Flags().Duration("budget", 0, "wall-clock budget for the batch (default from config)")
	runCmd.Flags().Bool("json", false, "print the batch result as JSON")
	rootCmd.AddCommand(runCmd)
}
