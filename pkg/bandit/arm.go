package bandit

import (
	"fmt"
	"math/rand/v2"

	"github.com/fractal-lba/bayesbandit/pkg/learner"
)

// Action is the effect of pulling an arm. Errors are returned to the caller
// of Pull unchanged.
type Action func() error

// RewardFunc shapes a raw observed value into the value the learner consumes.
type RewardFunc func(raw float64) float64

// Identity passes raw values through unchanged.
func Identity(raw float64) float64 { return raw }

// Arm binds an action and a reward function to one exclusively owned learner.
type Arm struct {
	name    string
	action  Action
	reward  RewardFunc
	learner learner.Learner
}

func newArm(spec ArmSpec, l learner.Learner) *Arm {
	return &Arm{
		name:    spec.Name,
		action:  spec.Action,
		reward:  spec.Reward,
		learner: l,
	}
}

// Name returns the arm's identity.
func (a *Arm) Name() string { return a.name }

// Pull runs the arm's action. The learner is not touched.
func (a *Arm) Pull() error {
	if a.action == nil {
		return nil
	}
	return a.action()
}

// Update shapes raw and forwards it to the learner.
func (a *Arm) Update(raw float64) error {
	return a.UpdateAt(nil, raw)
}

// UpdateAt shapes raw and forwards it to the learner conditioned on x. A nil
// x updates a context-free learner directly.
func (a *Arm) UpdateAt(x []float64, raw float64) error {
	m, err := a.model(x)
	if err != nil {
		return fmt.Errorf("arm %s: %w", a.name, err)
	}
	if err := m.Update(a.reward(raw)); err != nil {
		return fmt.Errorf("arm %s: %w", a.name, err)
	}
	return nil
}

// Sample draws from the learner's posterior and applies the reward function.
func (a *Arm) Sample(src rand.Source) float64 {
	return a.reward(a.learner.Sample(src))
}

// SampleAt draws from the posterior at x and applies the reward function.
func (a *Arm) SampleAt(x []float64, src rand.Source) (float64, error) {
	m, err := a.model(x)
	if err != nil {
		return 0, fmt.Errorf("arm %s: %w", a.name, err)
	}
	return a.reward(m.Sample(src)), nil
}

// PredictAt returns the posterior mean at x.
func (a *Arm) PredictAt(x []float64) (float64, error) {
	m, err := a.model(x)
	if err != nil {
		return 0, fmt.Errorf("arm %s: %w", a.name, err)
	}
	return m.Predict(), nil
}

// model returns the learner as seen under x
func (a *Arm) model(x []float64) (learner.Learner, error) {
	if x == nil {
		return a.learner, nil
	}
	cl, ok := a.learner.(learner.Contextual)
	if !ok {
		return nil, fmt.Errorf("%w: %s learner", ErrContextNotSupported, a.learner.Kind())
	}
	return cl.At(x)
}

// State exports the learner's parameters.
func (a *Arm) State() (learner.State, error) {
	return a.learner.ExportState()
}

// Predict returns the learner's posterior mean.
func (a *Arm) Predict() float64 { return a.learner.Predict() }

// Count returns the learner's effective observation count.
func (a *Arm) Count() float64 { return a.learner.Count() }
