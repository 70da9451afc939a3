package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/bayesbandit/internal/snapshotstore"
)

// historyCmd lists, and optionally exports, versions kept by the Postgres store
func historyCmd(g *globalOptions) *cobra.Command {
	var (
		connStr string
		name    string
		limit   int
		restore int64
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved snapshot versions in the Postgres store",
		Long: `Lists the snapshot history the Postgres backend keeps for a bandit. With
--restore, exports one version to a file; this recovers state that a later
reconciliation dropped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if connStr == "" {
				return errors.New("--postgres-conn is required")
			}
			ctx := cmd.Context()

			store, err := snapshotstore.NewPostgresStore(ctx, connStr, g.key())
			if err != nil {
				return err
			}
			defer store.Close()

			if restore > 0 {
				if outPath == "" {
					return errors.New("--out is required with --restore")
				}
				snap, err := store.LoadVersion(ctx, name, restore)
				if err != nil {
					return err
				}
				env, err := writeEnvelope(outPath, name, snap, g.key())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Version %d written to %s (digest %s)\n", restore, outPath, env.Digest)
				return nil
			}

			versions, err := store.History(ctx, name, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSAVED AT\tDIGEST")
			for _, v := range versions {
				fmt.Fprintf(w, "%d\t%s\t%s\n", v.ID, v.SavedAt.Format("2006-01-02T15:04:05Z07:00"), v.Digest)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&connStr, "postgres-conn", "", "Postgres connection string")
	cmd.Flags().StringVar(&name, "name", "default", "Bandit name")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum versions to list")
	cmd.Flags().Int64Var(&restore, "restore", 0, "Export this version id")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file for --restore")

	return cmd
}
