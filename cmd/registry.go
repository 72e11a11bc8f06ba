package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/fetcher"
	"github.com/sells-group/leadgen-cli/internal/ingest"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage the local company registry",
}

var registryLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Bulk load a registry dump into the store",
	Long: "Downloads a semicolon-separated registry file (http, ftp or a local path), " +
		"optionally unzips it, and upserts every valid row into the local registry table. " +
		"A --url ending in / is listed and every file matching --files is loaded in name order.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		src, _ := cmd.Flags().GetString("url")
		if src == "" {
			src = cfg.Registry.BulkURL
		}
		if src == "" {
			return eris.New("--url or registry.bulk_url is required")
		}
		zipped, _ := cmd.Flags().GetBool("zip")
		member, _ := cmd.Flags().GetString("member")
		latin1, _ := cmd.Flags().GetBool("latin1")
		header, _ := cmd.Flags().GetBool("header")
		batch, _ := cmd.Flags().GetInt("batch-size")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tmp, err := os.MkdirTemp("", "leadgen-registry-*")
		if err != nil {
			return eris.Wrap(err, "registry load: temp dir")
		}
		defer os.RemoveAll(tmp) //nolint:errcheck

		start := time.Now()
		router := initFetcher(initRegistry(nil))
		files := []string{src}
		if strings.HasSuffix(src, "/") {
			pattern, _ := cmd.Flags().GetString("files")
			entries, err := router.List(ctx, src, pattern)
			if err != nil {
				return eris.Wrap(err, "registry load: list")
			}
			if len(entries) == 0 {
				return eris.Errorf("registry load: no files in %s match %q", src, pattern)
			}
			files = files[:0]
			for _, e := range entries {
				files = append(files, e.URL)
			}
		}

		var stats ingest.RegistryStats
		for i, file := range files {
			path := filepath.Join(tmp, fmt.Sprintf("registry-%d.download", i))
			if err := downloadResuming(ctx, router, file, path); err != nil {
				return eris.Wrap(err, "registry load: download")
			}
			if zipped {
				if path, err = fetcher.UnzipOne(path, filepath.Join(tmp, fmt.Sprint(i)), member); err != nil {
					return eris.Wrapf(err, "registry load: unzip %s", file)
				}
			}
			got, err := loadRegistryFile(ctx, st, path, ingest.RegistryOptions{
				Latin1:    latin1,
				HasHeader: header,
				BatchSize: batch,
			})
			if err != nil {
				return eris.Wrapf(err, "registry load: %s", file)
			}
			stats.Rows += got.Rows
			stats.Upserted += got.Upserted
			stats.Invalid += got.Invalid
			_ = os.Remove(path)
		}

		zap.L().Info("registry load complete",
			zap.Int("files", len(files)),
			zap.Int64("rows", stats.Rows),
			zap.Int64("upserted", stats.Upserted),
			zap.Int64("invalid", stats.Invalid),
			zap.Duration("elapsed", time.Since(start)),
		)
		_, _ = fmt.Fprintf(os.Stdout, "Rows: %d  Upserted: %d  Invalid: %d\n", stats.Rows, stats.Upserted, stats.Invalid)
		return nil
	},
}

// downloadAttempts bounds how often a dropped transfer is resumed.
const downloadAttempts = 3

// downloadResuming copies src to path, continuing from the bytes already
// written when the FTP fetcher resumes.
func downloadResuming(ctx context.Context, router *fetcher.Router, src, path string) error {
	var err error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		var n int64
		n, err = router.DownloadToFile(ctx, src, path)
		if err == nil {
			zap.L().Info("registry downloaded", zap.String("source", src), zap.Int64("bytes", n))
			return nil
		}
		if ctx.Err() != nil || !strings.HasPrefix(src, "ftp://") {
			return err
		}
		zap.L().Warn("registry download interrupted",
			zap.String("source", src),
			zap.Int("attempt", attempt),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
	}
	return err
}

func loadRegistryFile(ctx context.Context, st store.Store, path string, opts ingest.RegistryOptions) (ingest.RegistryStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.RegistryStats{}, eris.Wrap(err, "open")
	}
	defer f.Close() //nolint:errcheck
	return ingest.LoadRegistry(ctx, f, st, opts)
}

func init() {
	registryLoadCmd.Flags().String("url", "", "registry file URL or path (default registry.bulk_url)")
	registryLoadCmd.Flags().Bool("zip", false, "source is a ZIP archive")
	registryLoadCmd.Flags().String("files", "", "glob selecting files when --url is a directory ending in /")
	registryLoadCmd.Flags().String("member", "", "glob selecting the archive member to load (default: the only member)")
	registryLoadCmd.Flags().Bool("latin1", true, "decode ISO-8859-1 input")
	registryLoadCmd.Flags().Bool("header", false, "skip the first row")
	registryLoadCmd.Flags().Int("batch-size", 1000, "rows per upsert")

	registryCmd.AddCommand(registryLoadCmd)
	rootCmd.AddCommand(registryCmd)
}
