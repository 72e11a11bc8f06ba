package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect batch run history",
	Long:  "Commands for listing, viewing, and summarizing batch runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return printJSON(os.Stdout, run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		health, err := monitoring.NewCollector(st).Collect(ctx, since)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, health)
		}
		formatRunStats(os.Stdout, health)
		return nil
	},
}

// openStore validates the store settings and opens the migrated store,
// for commands that do not need the pipeline.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return initStore(ctx)
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 168h; 0 for all)")
	runsStatsCmd.Flags().Bool("json", false, "print the stats as JSON")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPOSTINGS\tNEW\tUPDATED\tCOST\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t---\t-------\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		created, updated, cost := "-", "-", "-"
		if r.Summary != nil {
			created = fmt.Sprintf("%d", r.Summary.LeadsCreated)
			updated = fmt.Sprintf("%d", r.Summary.LeadsUpdated)
			cost = fmt.Sprintf("$%.2f", r.Summary.CostUSD)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.Postings,
			created,
			updated,
			cost,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes h as an aligned summary.
func formatRunStats(out io.Writer, h *monitoring.RunHealth) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value any
	}{
		{"Total runs", h.RunsTotal},
		{"Complete", h.RunsComplete},
		{"Failed", fmt.Sprintf("%d (%.0f%%)", h.RunsFailed, h.RunFailRate*100)},
		{"Running", h.RunsRunning},
		{"Companies", fmt.Sprintf("%d processed, %d skipped, %d discarded", h.Processed, h.Skipped, h.Discarded)},
		{"Leads", fmt.Sprintf("%d created, %d updated", h.LeadsCreated, h.LeadsUpdated)},
		{"Cost", fmt.Sprintf("$%.2f", h.CostUSD)},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%v\n", r.label, r.value)
	}
	if h.AvgRunSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", h.AvgRunSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
