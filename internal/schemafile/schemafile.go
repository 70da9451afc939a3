// Package schemafile reads bandit definitions from YAML documents.
package schemafile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

// File is a bandit definition as written on disk
type File struct {
	Name     string      `yaml:"name"`
	Seed     uint64      `yaml:"seed"`
	Restless bool        `yaml:"restless"`
	Learner  LearnerSpec `yaml:"learner"`
	Policy   PolicySpec  `yaml:"policy"`
	Arms     []ArmEntry  `yaml:"arms"`

	digest string
}

// LearnerSpec configures the cold-start learner template
type LearnerSpec struct {
	Kind         string  `yaml:"kind"`
	Alpha        float64 `yaml:"alpha"`
	Beta         float64 `yaml:"beta"`
	LearningRate float64 `yaml:"learning_rate"`

	// bayesian_linear only
	Dim            int     `yaml:"dim"`
	PriorPrecision float64 `yaml:"prior_precision"`
	NoiseVariance  float64 `yaml:"noise_variance"`
}

// PolicySpec configures the selection policy
type PolicySpec struct {
	Kind    string  `yaml:"kind"`
	Epsilon float64 `yaml:"epsilon"`
	C       float64 `yaml:"c"`
}

// ArmEntry declares one arm.
// Reward is one of identity, negate, scale:<f>, clip:<lo>:<hi>, threshold:<t>.
// Action is noop or log.
type ArmEntry struct {
	Name   string `yaml:"name"`
	Reward string `yaml:"reward"`
	Action string `yaml:"action"`
}

// ValidationError reports an unusable field in a schema file
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation error [%s]: %s", e.Field, e.Message)
}

// Load reads and validates a schema file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a schema document. Missing learner and policy
// fields take their defaults: gamma_poisson with alpha=beta=1, learning rate
// 1, and epsilon_greedy with epsilon 0.1. A bayesian_linear learner defaults
// to prior precision and noise variance 1 and requires dim.
func Parse(data []byte) (*File, error) {
	f := &File{
		Learner: LearnerSpec{
			Kind:           learner.KindGammaPoisson,
			Alpha:          1,
			Beta:           1,
			LearningRate:   1,
			PriorPrecision: 1,
			NoiseVariance:  1,
		},
		Policy: PolicySpec{Kind: policy.KindEpsilonGreedy, Epsilon: 0.1, C: 2},
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	f.digest = hex.EncodeToString(sum[:])
	return f, nil
}

// Digest returns the SHA-256 of the document the file was parsed from
func (f *File) Digest() string {
	return f.digest
}

// Validate checks names, kinds and reward expressions
func (f *File) Validate() error {
	if f.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}

	switch f.Learner.Kind {
	case learner.KindGammaPoisson, learner.KindBetaBernoulli:
		if f.Learner.Alpha <= 0 || f.Learner.Beta <= 0 {
			return &ValidationError{Field: "learner", Message: "alpha and beta must be positive"}
		}
	case learner.KindBayesianLinear:
		if f.Learner.Dim < 1 {
			return &ValidationError{Field: "learner.dim", Message: "must be at least 1"}
		}
		if f.Learner.PriorPrecision <= 0 || f.Learner.NoiseVariance <= 0 {
			return &ValidationError{Field: "learner", Message: "prior_precision and noise_variance must be positive"}
		}
	default:
		return &ValidationError{Field: "learner.kind", Message: fmt.Sprintf("unknown learner %q", f.Learner.Kind)}
	}
	if f.Learner.LearningRate <= 0 || f.Learner.LearningRate > 1 {
		return &ValidationError{Field: "learner.learning_rate", Message: "must be in (0, 1]"}
	}

	switch f.Policy.Kind {
	case policy.KindEpsilonGreedy:
		if f.Policy.Epsilon < 0 || f.Policy.Epsilon > 1 {
			return &ValidationError{Field: "policy.epsilon", Message: "must be in [0, 1]"}
		}
	case policy.KindThompsonSampling:
	case policy.KindUCB:
		if f.Policy.C < 0 {
			return &ValidationError{Field: "policy.c", Message: "must not be negative"}
		}
	default:
		return &ValidationError{Field: "policy.kind", Message: fmt.Sprintf("unknown policy %q", f.Policy.Kind)}
	}

	seen := make(map[string]bool, len(f.Arms))
	for i, arm := range f.Arms {
		field := fmt.Sprintf("arms[%d]", i)
		if arm.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "name is required"}
		}
		if seen[arm.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate arm %q", arm.Name)}
		}
		seen[arm.Name] = true

		if _, err := ParseReward(arm.Reward); err != nil {
			return &ValidationError{Field: field + ".reward", Message: err.Error()}
		}
		switch arm.Action {
		case "", "noop", "log":
		default:
			return &ValidationError{Field: field + ".action", Message: fmt.Sprintf("unknown action %q", arm.Action)}
		}
	}
	return nil
}

// Build turns the file into a bandit.Schema. Arms declared with action "log"
// write an info record to logger when pulled.
func (f *File) Build(logger *slog.Logger) (bandit.Schema, error) {
	template, err := f.template()
	if err != nil {
		return bandit.Schema{}, fmt.Errorf("learner: %w", err)
	}
	pol, err := policy.New(f.Policy.Kind, f.Policy.Epsilon, f.Policy.C)
	if err != nil {
		return bandit.Schema{}, fmt.Errorf("policy: %w", err)
	}

	specs := make([]bandit.ArmSpec, 0, len(f.Arms))
	for _, arm := range f.Arms {
		reward, err := ParseReward(arm.Reward)
		if err != nil {
			return bandit.Schema{}, fmt.Errorf("arm %s: %w", arm.Name, err)
		}
		specs = append(specs, bandit.ArmSpec{
			Name:   arm.Name,
			Action: f.action(arm, logger),
			Reward: reward,
		})
	}

	opts := []bandit.SchemaOption{bandit.WithSeed(f.Seed)}
	if f.Restless {
		opts = append(opts, bandit.WithRestless())
	}
	return bandit.NewSchema(template, pol, specs, opts...)
}

func (f *File) template() (learner.Learner, error) {
	spec := f.Learner
	if spec.Kind == learner.KindBayesianLinear {
		return learner.NewBayesianLinear(spec.Dim, spec.PriorPrecision, spec.NoiseVariance, spec.LearningRate)
	}
	return learner.New(spec.Kind, spec.Alpha, spec.Beta, spec.LearningRate)
}

func (f *File) action(arm ArmEntry, logger *slog.Logger) bandit.Action {
	if arm.Action != "log" || logger == nil {
		return nil
	}
	name, banditName := arm.Name, f.Name
	return func() error {
		logger.Info("arm action", "bandit", banditName, "arm", name)
		return nil
	}
}

// ParseReward compiles a reward expression. An empty expression is identity.
// NaN and infinite values pass through every expression unchanged so the
// learner rejects them.
func ParseReward(expr string) (bandit.RewardFunc, error) {
	parts := strings.Split(strings.TrimSpace(expr), ":")
	switch parts[0] {
	case "", "identity":
		if len(parts) != 1 {
			break
		}
		return bandit.Identity, nil

	case "negate":
		if len(parts) != 1 {
			break
		}
		return func(raw float64) float64 { return -raw }, nil

	case "scale":
		if len(parts) != 2 {
			break
		}
		k, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid scale factor %q", parts[1])
		}
		return func(raw float64) float64 { return k * raw }, nil

	case "clip":
		if len(parts) != 3 {
			break
		}
		lo, err1 := strconv.ParseFloat(parts[1], 64)
		hi, err2 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || lo > hi {
			return nil, fmt.Errorf("invalid clip bounds %q", expr)
		}
		return func(raw float64) float64 {
			if !finite(raw) {
				return raw
			}
			if raw < lo {
				return lo
			}
			if raw > hi {
				return hi
			}
			return raw
		}, nil

	case "threshold":
		if len(parts) != 2 {
			break
		}
		t, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q", parts[1])
		}
		return func(raw float64) float64 {
			if !finite(raw) {
				return raw
			}
			if raw >= t {
				return 1
			}
			return 0
		}, nil

	default:
		return nil, fmt.Errorf("unknown reward %q", expr)
	}
	return nil, fmt.Errorf("malformed reward %q", expr)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
