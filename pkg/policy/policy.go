// Package policy implements arm selection strategies.
//
// Policies are decision rules over the current posterior of each arm. They
// never own randomness: the caller passes the rng, so a fixed seed gives a
// reproducible sequence of choices.
package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrEmptyArmSet indicates selection over zero arms
	ErrEmptyArmSet = errors.New("empty arm set")

	// ErrStateMismatch indicates policy state that does not fit the live policy
	ErrStateMismatch = errors.New("policy state mismatch")

	// ErrInvalidParameter indicates an exploration parameter out of range
	ErrInvalidParameter = errors.New("invalid policy parameter")
)

// Estimator is the view of a learner a policy needs.
type Estimator interface {
	Predict() float64
	Sample(src rand.Source) float64
	Count() float64
}

// Candidate is one selectable arm. Candidates are passed in arm insertion
// order; ties are broken in favour of the earliest candidate.
type Candidate struct {
	ID    string
	Model Estimator
}

// Policy chooses one arm among candidates.
type Policy interface {
	// Kind names the strategy. It is embedded in exported state.
	Kind() string

	// Select returns the id of one of the candidates.
	Select(candidates []Candidate, rng *rand.Rand) (string, error)

	// Stats returns the decision counters.
	Stats() Stats

	// ExportState returns the policy's restorable state.
	ExportState() (State, error)

	// RestoreState loads counters from a blob produced by a policy of the same kind.
	RestoreState(s State) error

	// Fresh returns a policy with the same configuration and zeroed counters.
	Fresh() Policy
}

// Stats counts selection decisions.
type Stats struct {
	Selections   int64 `json:"selections"`
	Explorations int64 `json:"explorations"`
}

// State is the serialized form of a policy. Params records the configuration
// in force at export time; restoring never overrides live configuration.
type State struct {
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params,omitempty"`
	Stats  Stats              `json:"stats"`
}

// New builds a policy by kind name.
//
// Args:
//   - kind: "epsilon_greedy", "thompson_sampling" or "ucb"
//   - epsilon: exploration rate for epsilon_greedy
//   - c: exploration weight for ucb
func New(kind string, epsilon, c float64) (Policy, error) {
	switch kind {
	case KindEpsilonGreedy:
		return NewEpsilonGreedy(epsilon)
	case KindThompsonSampling:
		return NewThompsonSampling(), nil
	case KindUCB:
		return NewUpperConfidenceBound(c)
	default:
		return nil, fmt.Errorf("unknown policy kind: %s", kind)
	}
}

// counters is embedded by every strategy.
type counters struct {
	stats Stats
}

func (c *counters) Stats() Stats {
	return c.stats
}

func (c *counters) record(explored bool) {
	c.stats.Selections++
	if explored {
		c.stats.Explorations++
	}
}

func (c *counters) restore(s State, kind string) error {
	if s.Kind != kind {
		return fmt.Errorf("%w: expected kind %q, got %q", ErrStateMismatch, kind, s.Kind)
	}
	if s.Stats.Selections < 0 || s.Stats.Explorations < 0 || s.Stats.Explorations > s.Stats.Selections {
		return fmt.Errorf("%w: inconsistent counters %+v", ErrStateMismatch, s.Stats)
	}
	c.stats = s.Stats
	return nil
}

// argmax returns the index of the largest score; NaN never wins and the
// first index wins ties.
func argmax(scores []float64) int {
	best := 0
	bestScore := math.Inf(-1)
	for i, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		if s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}

// greedy returns the index of the arm with the highest posterior mean.
func greedy(candidates []Candidate) int {
	means := make([]float64, len(candidates))
	for i, c := range candidates {
		means[i] = c.Model.Predict()
	}
	return argmax(means)
}
