package policy

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedModel is an Estimator with constant outputs.
type fixedModel struct {
	mean  float64
	draw  float64
	count float64
}

func (m fixedModel) Predict() float64             { return m.mean }
func (m fixedModel) Sample(_ rand.Source) float64 { return m.draw }
func (m fixedModel) Count() float64               { return m.count }

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func allPolicies(t *testing.T) []Policy {
	t.Helper()
	eg, err := NewEpsilonGreedy(0.3)
	require.NoError(t, err)
	ucb, err := NewUpperConfidenceBound(2)
	require.NoError(t, err)
	return []Policy{eg, NewThompsonSampling(), ucb}
}

func TestSelect_EmptyArmSet(t *testing.T) {
	for _, p := range allPolicies(t) {
		_, err := p.Select(nil, newRNG(1))
		assert.ErrorIs(t, err, ErrEmptyArmSet, p.Kind())
		assert.Equal(t, int64(0), p.Stats().Selections)
	}
}

func TestSelect_ReturnsKnownID(t *testing.T) {
	rng := newRNG(7)
	for _, p := range allPolicies(t) {
		for round := 0; round < 200; round++ {
			n := 1 + rng.IntN(6)
			candidates := make([]Candidate, n)
			known := make(map[string]bool, n)
			for i := range candidates {
				id := string(rune('a' + i))
				candidates[i] = Candidate{ID: id, Model: fixedModel{
					mean:  rng.Float64(),
					draw:  rng.Float64(),
					count: float64(rng.IntN(3)),
				}}
				known[id] = true
			}

			id, err := p.Select(candidates, rng)
			require.NoError(t, err)
			assert.True(t, known[id], "%s returned unknown id %q", p.Kind(), id)
		}
		assert.Equal(t, int64(200), p.Stats().Selections)
	}
}

func TestEpsilonGreedy_ExploitsWithTiesToFirst(t *testing.T) {
	p, err := NewEpsilonGreedy(0)
	require.NoError(t, err)

	candidates := []Candidate{
		{ID: "low", Model: fixedModel{mean: 0.1}},
		{ID: "tie1", Model: fixedModel{mean: 0.9}},
		{ID: "tie2", Model: fixedModel{mean: 0.9}},
	}

	for i := 0; i < 20; i++ {
		id, err := p.Select(candidates, newRNG(uint64(i)))
		require.NoError(t, err)
		assert.Equal(t, "tie1", id)
	}
	assert.Equal(t, int64(0), p.Stats().Explorations)
}

func TestEpsilonGreedy_FullExploration(t *testing.T) {
	p, err := NewEpsilonGreedy(1)
	require.NoError(t, err)

	candidates := []Candidate{
		{ID: "a", Model: fixedModel{mean: 1}},
		{ID: "b", Model: fixedModel{mean: 0}},
		{ID: "c", Model: fixedModel{mean: 0}},
	}

	seen := map[string]int{}
	rng := newRNG(99)
	for i := 0; i < 300; i++ {
		id, err := p.Select(candidates, rng)
		require.NoError(t, err)
		seen[id]++
	}

	assert.Len(t, seen, 3)
	assert.Equal(t, int64(300), p.Stats().Explorations)
}

func TestEpsilonGreedy_InvalidEpsilon(t *testing.T) {
	for _, eps := range []float64{-0.1, 1.1, math.NaN()} {
		_, err := NewEpsilonGreedy(eps)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}
}

func TestEpsilonGreedy_DeterministicForSeed(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Model: fixedModel{mean: 0.2}},
		{ID: "b", Model: fixedModel{mean: 0.5}},
		{ID: "c", Model: fixedModel{mean: 0.4}},
	}

	run := func() []string {
		p, _ := NewEpsilonGreedy(0.5)
		rng := newRNG(2024)
		var out []string
		for i := 0; i < 50; i++ {
			id, _ := p.Select(candidates, rng)
			out = append(out, id)
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestThompsonSampling_PicksLargestDraw(t *testing.T) {
	p := NewThompsonSampling()
	candidates := []Candidate{
		{ID: "a", Model: fixedModel{mean: 0.9, draw: 0.1}},
		{ID: "b", Model: fixedModel{mean: 0.1, draw: 0.8}},
		{ID: "c", Model: fixedModel{mean: 0.1, draw: math.NaN()}},
	}

	id, err := p.Select(candidates, newRNG(1))
	require.NoError(t, err)
	assert.Equal(t, "b", id)
	assert.Equal(t, Stats{Selections: 1, Explorations: 1}, p.Stats())
}

func TestUCB_UnpulledArmFirst(t *testing.T) {
	p, err := NewUpperConfidenceBound(2)
	require.NoError(t, err)

	candidates := []Candidate{
		{ID: "a", Model: fixedModel{mean: 5, count: 10}},
		{ID: "b", Model: fixedModel{mean: 0, count: 0}},
		{ID: "c", Model: fixedModel{mean: 0, count: 0}},
	}

	id, err := p.Select(candidates, newRNG(1))
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestUCB_BonusFavoursRarelyPulledArm(t *testing.T) {
	p, err := NewUpperConfidenceBound(2)
	require.NoError(t, err)

	candidates := []Candidate{
		{ID: "often", Model: fixedModel{mean: 0.6, count: 100}},
		{ID: "rare", Model: fixedModel{mean: 0.5, count: 2}},
	}

	id, err := p.Select(candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, "rare", id)

	greedyOnly, _ := NewUpperConfidenceBound(0)
	id, err = greedyOnly.Select(candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, "often", id)
}

func TestState_RoundTrip(t *testing.T) {
	p, _ := NewEpsilonGreedy(0.2)
	candidates := []Candidate{{ID: "a", Model: fixedModel{mean: 1}}}
	rng := newRNG(3)
	for i := 0; i < 10; i++ {
		_, _ = p.Select(candidates, rng)
	}

	state, err := p.ExportState()
	require.NoError(t, err)
	assert.Equal(t, 0.2, state.Params["epsilon"])

	live, _ := NewEpsilonGreedy(0.05)
	require.NoError(t, live.RestoreState(state))
	assert.Equal(t, p.Stats(), live.Stats())
	assert.Equal(t, 0.05, live.Epsilon, "live configuration wins")
}

func TestState_Mismatch(t *testing.T) {
	ts := NewThompsonSampling()
	state, _ := ts.ExportState()

	eg, _ := NewEpsilonGreedy(0.1)
	assert.ErrorIs(t, eg.RestoreState(state), ErrStateMismatch)

	bad := State{Kind: KindThompsonSampling, Stats: Stats{Selections: 1, Explorations: 5}}
	assert.ErrorIs(t, ts.RestoreState(bad), ErrStateMismatch)
}

func TestFresh_ResetsCounters(t *testing.T) {
	for _, p := range allPolicies(t) {
		_, _ = p.Select([]Candidate{{ID: "a", Model: fixedModel{count: 1}}}, newRNG(1))
		f := p.Fresh()
		assert.Equal(t, p.Kind(), f.Kind())
		assert.Equal(t, Stats{}, f.Stats())
	}
}

func TestNew(t *testing.T) {
	p, err := New(KindUCB, 0, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, p.(*UpperConfidenceBound).C)

	_, err = New("softmax", 0, 0)
	assert.Error(t, err)
}
