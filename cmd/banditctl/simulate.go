package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fractal-lba/bayesbandit/internal/schemafile"
	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// simulateCmd plays a bandit against Poisson rewards with known rates
func simulateCmd(g *globalOptions) *cobra.Command {
	var (
		schemaPath string
		rates      []string
		rounds     int
		seed       uint64
		inPath     string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a bandit against Poisson rewards with known rates",
		Long: `Builds the bandit declared in a schema file, optionally resumes it from a
snapshot, then pulls it for the given number of rounds. Each round's reward
is drawn from a Poisson distribution with the pulled arm's true rate.`,
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

			truth, err := parseRates(rates)
			if err != nil {
				return err
			}
			for _, name := range schema.ArmNames() {
				if _, ok := truth[name]; !ok {
					return fmt.Errorf("no rate given for arm %s", name)
				}
			}

			var snap *bandit.Snapshot
			if inPath != "" {
				env, err := readEnvelope(inPath, g.key())
				if err != nil {
					return err
				}
				snap = env.Snapshot
			}

			b, _, err := bandit.Reconcile(schema, snap, bandit.WithName(file.Name), bandit.WithLogger(logger))
			if err != nil {
				return err
			}

			result, err := simulate(b, truth, rounds, seed)
			if err != nil {
				return err
			}
			printSimulation(cmd, b, truth, result)

			if outPath != "" {
				final, err := b.Export()
				if err != nil {
					return err
				}
				env, err := writeEnvelope(outPath, file.Name, final, g.key())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s (digest %s)\n", outPath, env.Digest)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "bandit.yaml", "Schema file")
	cmd.Flags().StringSliceVar(&rates, "rate", nil, "True Poisson rate per arm, as name=rate (repeatable)")
	cmd.Flags().IntVarP(&rounds, "rounds", "n", 1000, "Number of pulls")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Seed for the reward generator")
	cmd.Flags().StringVar(&inPath, "in", "", "Snapshot to resume from")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Where to write the final snapshot")

	return cmd
}

type simulation struct {
	Pulls       map[string]int
	TotalReward float64
	// Regret is the expected reward lost against always pulling the best arm
	Regret float64
}

func simulate(b *bandit.Bandit, truth map[string]float64, rounds int, seed uint64) (*simulation, error) {
	if rounds < 0 {
		return nil, errors.New("rounds must not be negative")
	}
	if b.Contextual() {
		return nil, fmt.Errorf("cannot simulate a contextual bandit: pulls need %d features", b.ContextDim())
	}
	src := rand.NewPCG(seed, seed+1)

	best := 0.0
	for _, rate := range truth {
		if rate > best {
			best = rate
		}
	}

	res := &simulation{Pulls: make(map[string]int)}
	for i := 0; i < rounds; i++ {
		arm, err := b.Pull()
		if err != nil {
			return nil, err
		}
		dist := distuv.Poisson{Lambda: truth[arm], Src: src}
		reward := dist.Rand()
		if err := b.Update(arm, reward); err != nil {
			return nil, err
		}
		res.Pulls[arm]++
		res.TotalReward += reward
		res.Regret += best - truth[arm]
	}
	return res, nil
}

func printSimulation(cmd *cobra.Command, b *bandit.Bandit, truth map[string]float64, res *simulation) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ARM\tTRUE RATE\tPULLS\tPOSTERIOR MEAN")
	for _, name := range b.ArmIDs() {
		arm, _ := b.Arm(name)
		fmt.Fprintf(w, "%s\t%.3f\t%d\t%.3f\n", name, truth[name], res.Pulls[name], arm.Predict())
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal reward: %.0f\n", res.TotalReward)
	fmt.Fprintf(cmd.OutOrStdout(), "Expected regret: %.2f\n", res.Regret)
}

// parseRates reads name=rate pairs
func parseRates(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid rate %q, want name=rate", pair)
		}
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil || rate < 0 {
			return nil, fmt.Errorf("invalid rate for %s: %q", name, value)
		}
		out[name] = rate
	}
	return out, nil
}

// sortedKeys is used for stable output of string-keyed maps
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

