package policy

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// KindEpsilonGreedy identifies the epsilon-greedy strategy.
const KindEpsilonGreedy = "epsilon_greedy"

// EpsilonGreedy explores uniformly with probability Epsilon and otherwise
// exploits the arm with the highest posterior mean.
type EpsilonGreedy struct {
	counters
	Epsilon float64
}

// NewEpsilonGreedy creates an epsilon-greedy policy. Epsilon must be in [0, 1].
func NewEpsilonGreedy(epsilon float64) (*EpsilonGreedy, error) {
	if math.IsNaN(epsilon) || epsilon < 0 || epsilon > 1 {
		return nil, fmt.Errorf("%w: epsilon must be in [0, 1], got %v", ErrInvalidParameter, epsilon)
	}
	return &EpsilonGreedy{Epsilon: epsilon}, nil
}

func (p *EpsilonGreedy) Kind() string { return KindEpsilonGreedy }

func (p *EpsilonGreedy) Select(candidates []Candidate, rng *rand.Rand) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyArmSet
	}

	if rng.Float64() < p.Epsilon {
		p.record(true)
		return candidates[rng.IntN(len(candidates))].ID, nil
	}

	p.record(false)
	return candidates[greedy(candidates)].ID, nil
}

func (p *EpsilonGreedy) ExportState() (State, error) {
	return State{
		Kind:   KindEpsilonGreedy,
		Params: map[string]float64{"epsilon": p.Epsilon},
		Stats:  p.stats,
	}, nil
}

func (p *EpsilonGreedy) RestoreState(s State) error {
	return p.restore(s, KindEpsilonGreedy)
}

func (p *EpsilonGreedy) Fresh() Policy {
	return &EpsilonGreedy{Epsilon: p.Epsilon}
}
