package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// Breakers live in the serving process, so the command asks a running
// server rather than building a registry of its own.
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show circuit breaker and queue state of each provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			port := 8080
			if cfg.Server.Port > 0 {
				port = cfg.Server.Port
			}
			server = fmt.Sprintf("http://localhost:%d", port)
		}

		list, err := fetchProviders(cmd.Context(), http.DefaultClient, server)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No provider has been called yet.")
			return nil
		}
		formatProviders(os.Stdout, list)
		return nil
	},
}

// fetchProviders reads the provider snapshot from a running server.
func fetchProviders(ctx context.Context, client *http.Client, server string) ([]resilience.ProviderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimRight(server, "/") + "/v1/providers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "providers: build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "providers: is the server running at %s", server)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Errorf("providers: %s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var list []resilience.ProviderStatus
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, eris.Wrap(err, "providers: decode response")
	}
	return list, nil
}

// formatProviders writes one row per provider.
func formatProviders(out io.Writer, list []resilience.ProviderStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tSTATE\tFAILURES\tRUNNING\tWAITING\tIN WINDOW")
	_, _ = fmt.Fprintln(w, "--------\t-----\t--------\t-------\t-------\t---------")
	for _, p := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			p.Provider,
			p.State,
			p.ConsecutiveFailures,
			p.Queue.Running,
			p.Queue.Waiting,
			p.Queue.StartsInWindow,
		)
	}
	_ = w.Flush()
}

func init() {
	providersCmd.Flags().String("server", "", "base URL of a running serve process (default http://localhost:<server.port>)")
	providersCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(providersCmd)
}
