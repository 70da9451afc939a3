package learner

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// KindBetaBernoulli identifies the Beta-Bernoulli conjugate learner.
const KindBetaBernoulli = "beta_bernoulli"

// BetaBernoulli models success rewards in [0, 1] with a Beta(alpha, beta)
// prior. Fractional rewards split their weight between alpha and beta.
type BetaBernoulli struct {
	Alpha float64
	Beta  float64
	// N counts absorbed observations, shrunk by Decay along with the evidence
	N float64

	priorAlpha   float64
	priorBeta    float64
	learningRate float64
}

// NewBetaBernoulli creates a learner at the prior Beta(alpha, beta).
func NewBetaBernoulli(alpha, beta, learningRate float64) (*BetaBernoulli, error) {
	if err := validatePrior(alpha, beta, learningRate); err != nil {
		return nil, err
	}
	return &BetaBernoulli{
		Alpha:        alpha,
		Beta:         beta,
		priorAlpha:   alpha,
		priorBeta:    beta,
		learningRate: learningRate,
	}, nil
}

func (b *BetaBernoulli) Kind() string { return KindBetaBernoulli }

func (b *BetaBernoulli) Predict() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

func (b *BetaBernoulli) Sample(src rand.Source) float64 {
	dist := distuv.Beta{Alpha: b.Alpha, Beta: b.Beta, Src: src}
	return dist.Rand()
}

func (b *BetaBernoulli) Count() float64 { return b.N }

// Update absorbs one reward in [0, 1].
func (b *BetaBernoulli) Update(y float64) error {
	if !finite(y) || y < 0 || y > 1 {
		return fmt.Errorf("%w: %s requires a reward in [0, 1], got %v", ErrInvalidObservation, KindBetaBernoulli, y)
	}
	b.Alpha += y
	b.Beta += 1 - y
	b.N++
	return nil
}

func (b *BetaBernoulli) Decay() {
	if b.learningRate == 1 {
		return
	}
	b.Alpha = decayToward(b.Alpha, b.priorAlpha, b.learningRate)
	b.Beta = decayToward(b.Beta, b.priorBeta, b.learningRate)
	b.N *= b.learningRate
}

func (b *BetaBernoulli) Clone() Learner {
	c := *b
	return &c
}

func (b *BetaBernoulli) ExportState() (State, error) {
	return State{
		Kind: KindBetaBernoulli,
		Params: map[string]float64{
			"alpha": b.Alpha,
			"beta":  b.Beta,
			"n":     b.N,
		},
	}, nil
}

func (b *BetaBernoulli) FromState(s State) (Learner, error) {
	if err := checkKind(s, KindBetaBernoulli); err != nil {
		return nil, err
	}
	alpha, err := param(s, "alpha")
	if err != nil {
		return nil, err
	}
	beta, err := param(s, "beta")
	if err != nil {
		return nil, err
	}
	n, err := observations(s, (alpha+beta)-(b.priorAlpha+b.priorBeta))
	if err != nil {
		return nil, err
	}
	restored := *b
	restored.Alpha = alpha
	restored.Beta = beta
	restored.N = n
	return &restored, nil
}
