// Package learner provides the per-arm reward models used by the bandit.
//
// A Learner holds the posterior of one arm. It is updated from shaped rewards,
// produces point estimates and posterior draws, and round-trips through an
// opaque State so that learned parameters survive a restart.
package learner

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrInvalidObservation indicates a reward outside the learner's supported domain
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrStateMismatch indicates a state blob that does not belong to the learner kind
	ErrStateMismatch = errors.New("learner state mismatch")

	// ErrInvalidHyperparameter indicates a prior or learning rate that cannot be used
	ErrInvalidHyperparameter = errors.New("invalid learner hyperparameter")

	// ErrInvalidContext indicates a feature vector of the wrong length or with non-finite values
	ErrInvalidContext = errors.New("invalid context")
)

// Learner is the statistical model owned by a single arm.
type Learner interface {
	// Kind names the model family. It is embedded in exported state.
	Kind() string

	// Predict returns the posterior mean.
	Predict() float64

	// Sample draws once from the posterior using src.
	Sample(src rand.Source) float64

	// Count returns the effective number of observations absorbed so far.
	Count() float64

	// Update absorbs one observation. Values outside the supported domain
	// fail with ErrInvalidObservation and leave the state untouched.
	Update(y float64) error

	// Decay pulls the posterior back toward the prior by the learning rate.
	Decay()

	// Clone returns a learner with the same hyperparameters and current state.
	// Cloning a template yields a cold-start learner.
	Clone() Learner

	// ExportState returns the learner's parameters in serializable form.
	ExportState() (State, error)

	// FromState builds a new learner from a blob, keeping the receiver's
	// static hyperparameters (prior and learning rate).
	FromState(s State) (Learner, error)
}

// State is the serialized form of a learner's parameters.
type State struct {
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params"`
}

// Equal reports whether two states carry the same kind and parameters.
func (s State) Equal(other State) bool {
	if s.Kind != other.Kind || len(s.Params) != len(other.Params) {
		return false
	}
	for k, v := range s.Params {
		ov, ok := other.Params[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	params := make(map[string]float64, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	return State{Kind: s.Kind, Params: params}
}

// param reads a required, finite, positive parameter from a state blob.
func param(s State, name string) (float64, error) {
	v, ok := s.Params[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s state missing %q", ErrStateMismatch, s.Kind, name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%w: %s state has invalid %q=%v", ErrStateMismatch, s.Kind, name, v)
	}
	return v, nil
}

// observations reads the "n" parameter. Blobs without it fall back to the
// evidence implied by the receiver's prior, floored at zero.
func observations(s State, fallback float64) (float64, error) {
	v, ok := s.Params["n"]
	if !ok {
		return math.Max(0, fallback), nil
	}
	if !finite(v) || v < 0 {
		return 0, fmt.Errorf("%w: %s state has invalid \"n\"=%v", ErrStateMismatch, s.Kind, v)
	}
	return v, nil
}

func checkKind(s State, kind string) error {
	if s.Kind != kind {
		return fmt.Errorf("%w: expected kind %q, got %q", ErrStateMismatch, kind, s.Kind)
	}
	return nil
}

func validatePrior(alpha, beta, learningRate float64) error {
	if !(alpha > 0) || math.IsInf(alpha, 0) {
		return fmt.Errorf("%w: alpha must be positive, got %v", ErrInvalidHyperparameter, alpha)
	}
	if !(beta > 0) || math.IsInf(beta, 0) {
		return fmt.Errorf("%w: beta must be positive, got %v", ErrInvalidHyperparameter, beta)
	}
	if !(learningRate > 0 && learningRate <= 1) {
		return fmt.Errorf("%w: learning rate must be in (0, 1], got %v", ErrInvalidHyperparameter, learningRate)
	}
	return nil
}

// decayToward moves v toward prior, keeping only a learningRate share of the
// accumulated evidence.
func decayToward(v, prior, learningRate float64) float64 {
	return prior + learningRate*(v-prior)
}

func finite(y float64) bool {
	return !math.IsNaN(y) && !math.IsInf(y, 0)
}

// New builds a context-free template learner by kind name. Contextual
// learners need a dimension and are built with NewBayesianLinear.
func New(kind string, alpha, beta, learningRate float64) (Learner, error) {
	switch kind {
	case KindGammaPoisson:
		return NewGammaPoisson(alpha, beta, learningRate)
	case KindBetaBernoulli:
		return NewBetaBernoulli(alpha, beta, learningRate)
	default:
		return nil, fmt.Errorf("unknown learner kind: %s", kind)
	}
}
