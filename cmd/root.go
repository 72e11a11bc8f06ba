package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadgen-cli",
	Short: "Turn job postings into enriched, scored sales leads",
	Long: "Groups job postings by hiring company, identifies each company in the tax registry, " +
		"enriches it through external providers, de-duplicates it and stores a scored lead.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyLogFlags(cmd, &loaded.Log)
		cfg = loaded

		return eris.Wrap(config.InitLogger(cfg.Log), "init logger")
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// applyLogFlags lets --log-level and --log-format win over the config file.
func applyLogFlags(cmd *cobra.Command, lc *config.LogConfig) {
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		lc.Level = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		lc.Format = f.Value.String()
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error (overrides log.level)")
	rootCmd.PersistentFlags().String("log-format", "json", "json or console (overrides log.format)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
