package policy

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// KindUCB identifies the upper confidence bound strategy.
const KindUCB = "ucb"

// UpperConfidenceBound picks the arm maximizing
// mean + C*sqrt(ln(N)/n), where n is the arm's observation count and N the
// total. Arms with no observations are tried first.
type UpperConfidenceBound struct {
	counters
	C float64
}

// NewUpperConfidenceBound creates a UCB policy. C must be non-negative.
func NewUpperConfidenceBound(c float64) (*UpperConfidenceBound, error) {
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
		return nil, fmt.Errorf("%w: c must be non-negative, got %v", ErrInvalidParameter, c)
	}
	return &UpperConfidenceBound{C: c}, nil
}

func (p *UpperConfidenceBound) Kind() string { return KindUCB }

func (p *UpperConfidenceBound) Select(candidates []Candidate, _ *rand.Rand) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyArmSet
	}

	total := 0.0
	for i, c := range candidates {
		n := c.Model.Count()
		if n <= 0 {
			// Unpulled arm: infinite bound
			p.record(true)
			return candidates[i].ID, nil
		}
		total += n
	}

	// Decayed counts can sum below one; clamp so the bonus stays real.
	logTotal := math.Log(math.Max(total, 1))

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		bonus := p.C * math.Sqrt(logTotal/c.Model.Count())
		scores[i] = c.Model.Predict() + bonus
	}

	chosen := argmax(scores)
	p.record(chosen != greedy(candidates))
	return candidates[chosen].ID, nil
}

func (p *UpperConfidenceBound) ExportState() (State, error) {
	return State{
		Kind:   KindUCB,
		Params: map[string]float64{"c": p.C},
		Stats:  p.stats,
	}, nil
}

func (p *UpperConfidenceBound) RestoreState(s State) error {
	return p.restore(s, KindUCB)
}

func (p *UpperConfidenceBound) Fresh() Policy {
	return &UpperConfidenceBound{C: p.C}
}
