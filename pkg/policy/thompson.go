package policy

import (
	"math/rand/v2"
)

// KindThompsonSampling identifies the Thompson sampling strategy.
const KindThompsonSampling = "thompson_sampling"

// ThompsonSampling draws once from every arm's posterior and picks the
// largest draw. A choice that differs from the greedy arm counts as an
// exploration.
type ThompsonSampling struct {
	counters
}

// NewThompsonSampling creates a Thompson sampling policy.
func NewThompsonSampling() *ThompsonSampling {
	return &ThompsonSampling{}
}

func (p *ThompsonSampling) Kind() string { return KindThompsonSampling }

func (p *ThompsonSampling) Select(candidates []Candidate, rng *rand.Rand) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyArmSet
	}

	draws := make([]float64, len(candidates))
	for i, c := range candidates {
		draws[i] = c.Model.Sample(rng)
	}

	chosen := argmax(draws)
	p.record(chosen != greedy(candidates))
	return candidates[chosen].ID, nil
}

func (p *ThompsonSampling) ExportState() (State, error) {
	return State{Kind: KindThompsonSampling, Stats: p.stats}, nil
}

func (p *ThompsonSampling) RestoreState(s State) error {
	return p.restore(s, KindThompsonSampling)
}

func (p *ThompsonSampling) Fresh() Policy {
	return &ThompsonSampling{}
}
