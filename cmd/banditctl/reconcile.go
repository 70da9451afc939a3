package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/bayesbandit/internal/journal"
	"github.com/fractal-lba/bayesbandit/internal/schemafile"
	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// reconcileCmd applies an edited schema to a saved snapshot
func reconcileCmd(g *globalOptions) *cobra.Command {
	var (
		schemaPath string
		inPath     string
		outPath    string
		journalDir string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile a snapshot against a schema file",
		Long: `Loads a snapshot, reconciles it against the arms declared in a schema file
and writes the result. Arms in both keep their learned state, new arms start
from the prior, and arms no longer declared are dropped and listed.

Dropped state cannot be recovered from the output snapshot. Pass
--journal-dir to keep a record of it, or keep the input file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := schemafile.Load(schemaPath)
			if err != nil {
				return err
			}
			logger := g.logger(cmd)
			schema, err := file.Build(logger)
			if err != nil {
				return err
			}

			env, err := readEnvelope(inPath, g.key())
			if err != nil {
				return err
			}

			b, report, err := bandit.Reconcile(schema, env.Snapshot, bandit.WithName(file.Name), bandit.WithLogger(logger))
			if err != nil {
				return err
			}
			printReport(cmd, report)

			if journalDir != "" {
				j, err := journal.Open(journalDir)
				if err != nil {
					return err
				}
				defer j.Close()
				if err := j.RecordReconcile(file.Name, report); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Journal: %s\n", j.Path())
			}

			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "Dry run: no snapshot written")
				return nil
			}
			if outPath == "" {
				outPath = inPath
			}

			snap, err := b.Export()
			if err != nil {
				return err
			}
			written, err := writeEnvelope(outPath, file.Name, snap, g.key())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s (digest %s)\n", outPath, written.Digest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "bandit.yaml", "Schema file")
	cmd.Flags().StringVar(&inPath, "in", "", "Snapshot to reconcile")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Where to write the result (default: overwrite --in)")
	cmd.Flags().StringVar(&journalDir, "journal-dir", "", "Append reconcile and drop events to a journal in this directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the report without writing a snapshot")
	cmd.MarkFlagRequired("in")

	return cmd
}

func printReport(cmd *cobra.Command, report *bandit.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Reconciliation ===\n")
	fmt.Fprintf(out, "Retained:     %s\n", listOrNone(report.Retained))
	fmt.Fprintf(out, "Cold-started: %s\n", listOrNone(report.ColdStarted))
	fmt.Fprintf(out, "Dropped:      %s\n", listOrNone(report.Dropped))
	for _, name := range report.Dropped {
		st := report.DroppedState[name]
		fmt.Fprintf(out, "  %s: %s %v\n", name, st.Kind, formatParams(st.Params))
	}
	if report.DroppedTickets > 0 {
		fmt.Fprintf(out, "Dropped tickets: %d\n", report.DroppedTickets)
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintf(out, "Diagnostic: %s\n", d)
	}
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

func formatParams(params map[string]float64) string {
	parts := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		parts = append(parts, fmt.Sprintf("%s=%g", k, params[k]))
	}
	return strings.Join(parts, " ")
}
