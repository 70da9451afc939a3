package bandit

import (
	"fmt"

	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

// ArmSpec declares one arm of a schema.
type ArmSpec struct {
	Name   string
	Action Action     // nil means no-op
	Reward RewardFunc // nil means Identity
}

// Schema is the immutable definition of a bandit: its arms in declaration
// order, the learner template used to cold-start arms, and the policy.
//
// A Schema never carries learned state. Construct and Reconcile read it
// without modifying it, so one Schema can build any number of bandits.
type Schema struct {
	arms     []ArmSpec
	template learner.Learner
	policy   policy.Policy
	seed     uint64
	restless bool
}

// SchemaOption customizes a Schema.
type SchemaOption func(*Schema)

// WithSeed sets the seed of a fresh rng. Restored snapshots keep their rng.
func WithSeed(seed uint64) SchemaOption {
	return func(s *Schema) { s.seed = seed }
}

// WithRestless makes every update decay the learners of all other arms.
func WithRestless() SchemaOption {
	return func(s *Schema) { s.restless = true }
}

// NewSchema validates and freezes a bandit definition.
//
// Args:
//   - template: learner cloned for every cold-started arm
//   - pol: selection policy; bandits use fresh copies of it
//   - arms: arm declarations, names unique and non-empty
//
// Returns:
//   - Schema, or ErrInvalidSchema / ErrDuplicateArm
func NewSchema(template learner.Learner, pol policy.Policy, arms []ArmSpec, opts ...SchemaOption) (Schema, error) {
	if template == nil {
		return Schema{}, fmt.Errorf("%w: learner template is required", ErrInvalidSchema)
	}
	if pol == nil {
		return Schema{}, fmt.Errorf("%w: policy is required", ErrInvalidSchema)
	}

	seen := make(map[string]struct{}, len(arms))
	frozen := make([]ArmSpec, 0, len(arms))
	for _, spec := range arms {
		if spec.Name == "" {
			return Schema{}, fmt.Errorf("%w: arm name is required", ErrInvalidSchema)
		}
		if _, dup := seen[spec.Name]; dup {
			return Schema{}, fmt.Errorf("%w: %s", ErrDuplicateArm, spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if spec.Reward == nil {
			spec.Reward = Identity
		}
		frozen = append(frozen, spec)
	}

	s := Schema{
		arms:     frozen,
		template: template.Clone(),
		policy:   pol.Fresh(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s, nil
}

// ArmNames returns the declared arm names in order.
func (s Schema) ArmNames() []string {
	names := make([]string, len(s.arms))
	for i, spec := range s.arms {
		names[i] = spec.Name
	}
	return names
}

// Template returns a copy of the cold-start learner.
func (s Schema) Template() learner.Learner {
	if s.template == nil {
		return nil
	}
	return s.template.Clone()
}

// PolicyKind names the schema's policy strategy.
func (s Schema) PolicyKind() string {
	if s.policy == nil {
		return ""
	}
	return s.policy.Kind()
}

// Seed returns the seed used for a fresh rng.
func (s Schema) Seed() uint64 { return s.seed }

// Restless reports whether updates decay the other arms.
func (s Schema) Restless() bool { return s.restless }

func (s Schema) valid() error {
	if s.template == nil || s.policy == nil {
		return fmt.Errorf("%w: use NewSchema", ErrInvalidSchema)
	}
	return nil
}
