// Command banditctl simulates, reconciles and inspects bandit snapshots
// offline.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions are shared by every subcommand
type globalOptions struct {
	hmacKey  string
	logLevel string
}

func (g *globalOptions) key() []byte {
	if g.hmacKey == "" {
		return nil
	}
	return []byte(g.hmacKey)
}

func (g *globalOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	_ = level.UnmarshalText([]byte(g.logLevel))
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "banditctl",
		Short: "Offline tooling for multi-armed bandit snapshots",
		Long: `Simulates bandits against known reward rates, reconciles saved snapshots
against edited schema files, and inspects or verifies snapshot envelopes.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&g.hmacKey, "hmac-key", os.Getenv("BANDIT_STORE_HMAC_KEY"), "HMAC key for signing and verifying snapshots")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	// Subcommands
	rootCmd.AddCommand(simulateCmd(g))
	rootCmd.AddCommand(reconcileCmd(g))
	rootCmd.AddCommand(inspectCmd(g))
	rootCmd.AddCommand(verifyCmd(g))
	rootCmd.AddCommand(historyCmd(g))

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
