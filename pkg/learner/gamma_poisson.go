package learner

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// KindGammaPoisson identifies the Gamma-Poisson conjugate learner.
const KindGammaPoisson = "gamma_poisson"

// GammaPoisson models count rewards with a Gamma(alpha, beta) prior on the
// Poisson rate. Beta is a rate parameter, so the posterior mean is alpha/beta.
type GammaPoisson struct {
	Alpha float64
	Beta  float64
	// N counts absorbed observations, shrunk by Decay along with the evidence
	N float64

	priorAlpha   float64
	priorBeta    float64
	learningRate float64
}

// NewGammaPoisson creates a learner at the prior Gamma(alpha, beta).
//
// Args:
//   - alpha, beta: prior shape and rate (both > 0)
//   - learningRate: share of evidence kept on Decay, in (0, 1]; 1 disables decay
func NewGammaPoisson(alpha, beta, learningRate float64) (*GammaPoisson, error) {
	if err := validatePrior(alpha, beta, learningRate); err != nil {
		return nil, err
	}
	return &GammaPoisson{
		Alpha:        alpha,
		Beta:         beta,
		priorAlpha:   alpha,
		priorBeta:    beta,
		learningRate: learningRate,
	}, nil
}

func (g *GammaPoisson) Kind() string { return KindGammaPoisson }

func (g *GammaPoisson) Predict() float64 {
	return g.Alpha / g.Beta
}

func (g *GammaPoisson) Sample(src rand.Source) float64 {
	dist := distuv.Gamma{Alpha: g.Alpha, Beta: g.Beta, Src: src}
	return dist.Rand()
}

func (g *GammaPoisson) Count() float64 { return g.N }

// Update absorbs one count. Negative or non-finite counts are rejected.
func (g *GammaPoisson) Update(y float64) error {
	if !finite(y) || y < 0 {
		return fmt.Errorf("%w: %s requires a finite non-negative count, got %v", ErrInvalidObservation, KindGammaPoisson, y)
	}
	g.Alpha += y
	g.Beta++
	g.N++
	return nil
}

func (g *GammaPoisson) Decay() {
	if g.learningRate == 1 {
		return
	}
	g.Alpha = decayToward(g.Alpha, g.priorAlpha, g.learningRate)
	g.Beta = decayToward(g.Beta, g.priorBeta, g.learningRate)
	g.N *= g.learningRate
}

func (g *GammaPoisson) Clone() Learner {
	c := *g
	return &c
}

func (g *GammaPoisson) ExportState() (State, error) {
	return State{
		Kind: KindGammaPoisson,
		Params: map[string]float64{
			"alpha": g.Alpha,
			"beta":  g.Beta,
			"n":     g.N,
		},
	}, nil
}

func (g *GammaPoisson) FromState(s State) (Learner, error) {
	if err := checkKind(s, KindGammaPoisson); err != nil {
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
	n, err := observations(s, beta-g.priorBeta)
	if err != nil {
		return nil, err
	}
	restored := *g
	restored.Alpha = alpha
	restored.Beta = beta
	restored.N = n
	return &restored, nil
}
