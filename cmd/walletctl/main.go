package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/walletd/walletd/internal/client"
)

var (
	// Global flags.
	flagAddr  string
	flagToken string
	flagJSON  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "Control a running walletd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", envOr("WALLETD_ADDR", "http://127.0.0.1:8080"), "walletd base URL (or WALLETD_ADDR)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("WALLETD_TOKEN"), "API token (or WALLETD_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")

	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(priceCmd())
	rootCmd.AddCommand(fiatCmd())
	rootCmd.AddCommand(npubCmd())
	rootCmd.AddCommand(invoiceDisplayCmd())
	rootCmd.AddCommand(backedUpCmd())
	rootCmd.AddCommand(betaWarnedCmd())
	rootCmd.AddCommand(subscriptionCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func httpClient() *client.HTTPClient {
	return client.NewHTTPClient(strings.TrimRight(flagAddr, "/"), flagToken)
}

func wsURL() string {
	addr := strings.TrimRight(flagAddr, "/")
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	}
	return addr + "/ws"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
