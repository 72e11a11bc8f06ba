package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the enrichment cache",
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		c, closeFn, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := c.CleanupExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "cache cleanup")
		}
		zap.L().Info("cache cleanup complete", zap.Int64("deleted", n))
		_, _ = fmt.Fprintf(os.Stdout, "Deleted %d expired entries\n", n)
		return nil
	},
}

var cacheExpiringCmd = &cobra.Command{
	Use:   "expiring",
	Short: "List successful entries expiring soon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return eris.New("--days must be positive")
		}

		c, closeFn, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		entries, err := c.ExpiringSoon(ctx, days)
		if err != nil {
			return eris.Wrap(err, "cache expiring")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No entries expiring.")
			return nil
		}
		formatCacheEntries(os.Stdout, entries, time.Now())
		return nil
	},
}

// openCache opens the store and the configured cache backend. The returned
// func releases both.
func openCache(cmd *cobra.Command) (*cache.Cache, func(), error) {
	st, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	c, rdb, err := initCache(st)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return c, func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = st.Close()
	}, nil
}

// formatCacheEntries writes cache entries as a table.
func formatCacheEntries(out io.Writer, entries []cache.Entry, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAMESPACE\tKEY\tEXPIRES\tIN")
	_, _ = fmt.Fprintln(w, "---------\t---\t-------\t--")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Namespace,
			truncate(e.Key, 40),
			e.ExpiresAt.Format("2006-01-02 15:04"),
			e.ExpiresAt.Sub(now).Round(time.Hour),
		)
	}
	_ = w.Flush()
}

func init() {
	cacheExpiringCmd.Flags().Int("days", 7, "window in days")

	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheExpiringCmd)
	rootCmd.AddCommand(cacheCmd)
}
