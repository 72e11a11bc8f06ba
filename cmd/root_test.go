package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"run", "serve", "runs", "leads", "dedup", "cache", "registry", "usage"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "leadgen-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestApplyLogFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("log-level", "info", "")
	cmd.Flags().String("log-format", "json", "")

	lc := config.LogConfig{Level: "warn", Format: "json"}
	applyLogFlags(cmd, &lc)
	assert.Equal(t, config.LogConfig{Level: "warn", Format: "json"}, lc, "unset flags keep the config values")

	require.NoError(t, cmd.Flags().Set("log-level", "debug"))
	require.NoError(t, cmd.Flags().Set("log-format", "console"))
	applyLogFlags(cmd, &lc)
	assert.Equal(t, config.LogConfig{Level: "debug", Format: "console"}, lc)

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "format", "max-companies", "budget", "json"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDedupCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range dedupCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"find", "resolve", "merge", "suggest"} {
		assert.True(t, names[name], "dedup should have subcommand %q", name)
	}
}

func TestLeadsCommand_Flags(t *testing.T) {
	for _, c := range leadsCmd.Commands() {
		for _, name := range []string{"min-score", "fresh", "company", "limit"} {
			assert.NotNil(t, c.Flags().Lookup(name), "leads %s should have --%s", c.Name(), name)
		}
	}
	assert.Equal(t, "xlsx", leadsExportCmd.Flags().Lookup("format").DefValue)
	assert.Equal(t, "notion", leadsPushCmd.Flags().Lookup("sink").DefValue)
}

func TestCacheExpiring_DefaultDays(t *testing.T) {
	flag := cacheExpiringCmd.Flags().Lookup("days")
	require.NotNil(t, flag)
	assert.Equal(t, "7", flag.DefValue)
}

func TestRegistryLoad_Flags(t *testing.T) {
	for _, name := range []string{"url", "zip", "files", "member", "latin1", "header", "batch-size"} {
		assert.NotNil(t, registryLoadCmd.Flags().Lookup(name), "registry load should have --%s", name)
	}
	assert.Equal(t, "true", registryLoadCmd.Flags().Lookup("latin1").DefValue)
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "11"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 11}, ids)

	_, err = parseIDs([]string{"3", "x"})
	assert.Error(t, err)
	_, err = parseIDs([]string{"0"})
	assert.Error(t, err)
}

func TestBuildSink_Unknown(t *testing.T) {
	_, err := buildSink("hubspot")
	assert.Error(t, err)
}
