package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/company"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Find and merge duplicate companies",
}

var dedupFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Score stored companies against an identity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var id company.Identity
		id.Name, _ = cmd.Flags().GetString("name")
		id.TaxID, _ = cmd.Flags().GetString("tax-id")
		id.Domain, _ = cmd.Flags().GetString("domain")
		id.SocialURL, _ = cmd.Flags().GetString("social")
		if id.Name == "" && id.TaxID == "" && id.Domain == "" && id.SocialURL == "" {
			return eris.New("at least one of --name, --tax-id, --domain or --social is required")
		}
		threshold, _ := cmd.Flags().GetInt("threshold")
		if threshold == 0 {
			threshold = cfg.Dedup.MatchThreshold
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cands, err := company.NewEngine(st).FindDuplicates(ctx, id, threshold)
		if err != nil {
			return eris.Wrap(err, "dedup find")
		}
		if len(cands) == 0 {
			fmt.Fprintln(os.Stderr, "No duplicates found.")
			return nil
		}
		formatCandidates(os.Stdout, cands)
		return nil
	},
}

var dedupResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Merge every duplicate cluster at or above a confidence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		level, _ := cmd.Flags().GetString("min-confidence")
		if level == "" {
			level = cfg.Dedup.AutoResolve
		}
		conf, err := company.ParseConfidence(level)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		merges, err := company.NewEngine(st).AutoResolveDuplicates(ctx, conf)
		if err != nil {
			return eris.Wrap(err, "dedup resolve")
		}
		zap.L().Info("dedup resolve complete", zap.Int("merges", len(merges)), zap.Stringer("min_confidence", conf))
		if len(merges) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to merge.")
			return nil
		}
		for i := range merges {
			formatMerge(os.Stdout, &merges[i])
		}
		return nil
	},
}

var dedupMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge duplicates into a primary company",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		primary, _ := cmd.Flags().GetInt64("primary")
		dups, _ := cmd.Flags().GetInt64Slice("duplicate")
		if primary <= 0 || len(dups) == 0 {
			return eris.New("--primary and at least one --duplicate are required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := company.NewEngine(st).MergeCompanies(ctx, primary, dups)
		if err != nil {
			return eris.Wrap(err, "dedup merge")
		}
		formatMerge(os.Stdout, res)
		return nil
	},
}

var dedupSuggestCmd = &cobra.Command{
	Use:   "suggest <id> <id>...",
	Short: "Suggest which company of a cluster to keep",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		best, err := company.NewEngine(st).SuggestPrimary(ctx, ids)
		if err != nil {
			return eris.Wrap(err, "dedup suggest")
		}
		_, _ = fmt.Fprintln(os.Stdout, best)
		return nil
	},
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, eris.Errorf("invalid company id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// formatCandidates writes duplicate candidates as a table.
func formatCandidates(out io.Writer, cands []company.DuplicateCandidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSCORE\tCONFIDENCE\tREASONS")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t----------\t-------")
	for _, c := range cands {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
			c.CompanyID,
			truncate(c.Name, 40),
			c.Score,
			c.Confidence,
			strings.Join(c.Reasons, ","),
		)
	}
	_ = w.Flush()
}

func formatMerge(out io.Writer, m *company.MergeResult) {
	_, _ = fmt.Fprintf(out, "Merged %v into %d: %d leads, %d notes moved\n",
		m.AbsorbedIDs, m.PrimaryID, m.LeadsMoved, m.NotesMoved)
	if len(m.Missing) > 0 {
		_, _ = fmt.Fprintf(out, "  skipped missing: %v\n", m.Missing)
	}
}

func init() {
	dedupFindCmd.Flags().String("name", "", "company name")
	dedupFindCmd.Flags().String("tax-id", "", "CNPJ, formatted or bare")
	dedupFindCmd.Flags().String("domain", "", "company website or domain")
	dedupFindCmd.Flags().String("social", "", "social profile URL")
	dedupFindCmd.Flags().Int("threshold", 0, "minimum match score (default from config)")

	dedupResolveCmd.Flags().String("min-confidence", "", "low, medium or high (default from config)")

	dedupMergeCmd.Flags().Int64("primary", 0, "company id to keep")
	dedupMergeCmd.Flags().Int64Slice("duplicate", nil, "company ids to absorb")

	dedupCmd.AddCommand(dedupFindCmd)
	dedupCmd.AddCommand(dedupResolveCmd)
	dedupCmd.AddCommand(dedupMergeCmd)
	dedupCmd.AddCommand(dedupSuggestCmd)
	rootCmd.AddCommand(dedupCmd)
}
