// Package bandit implements a multi-armed bandit whose arms pair an action
// with a Bayesian reward model, and the reconciliation that reloads a
// persisted bandit against a redefined set of arms.
//
// A bandit built on a learner.Contextual template is contextual: it is
// pulled, updated and sampled with the *At methods and a feature vector of
// the template's dimension.
//
// A Bandit is not safe for concurrent use. A pull and its matching update
// are separate calls; hosts serving concurrent callers must serialize them.
package bandit

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

// Bandit owns a fixed, ordered set of arms, a policy, the learner template
// and the rng threaded through every policy decision.
type Bandit struct {
	name     string
	arms     map[string]*Arm
	order    []string
	template learner.Learner
	policy   policy.Policy
	restless bool

	// contextDim is the feature vector length of a contextual template, or 0
	contextDim int

	src *rand.PCG
	rng *rand.Rand

	lastPulled string
	pending    PendingStore

	observer Observer
	logger   *slog.Logger
}

// Construct builds a bandit from a schema with every arm cold-started. It is
// reconciliation against an empty snapshot.
func Construct(schema Schema, opts ...Option) (*Bandit, error) {
	b, _, err := Reconcile(schema, nil, opts...)
	return b, err
}

// Name returns the label given by WithName.
func (b *Bandit) Name() string { return b.name }

// ArmIDs returns the arm names in schema order.
func (b *Bandit) ArmIDs() []string {
	return append([]string(nil), b.order...)
}

// Arm returns the arm with the given name.
func (b *Bandit) Arm(name string) (*Arm, bool) {
	a, ok := b.arms[name]
	return a, ok
}

// LastPulled returns the arm chosen by the most recent pull, or "".
func (b *Bandit) LastPulled() string { return b.lastPulled }

// PolicyKind names the active policy strategy.
func (b *Bandit) PolicyKind() string { return b.policy.Kind() }

// PolicyStats returns the active policy's decision counters.
func (b *Bandit) PolicyStats() policy.Stats { return b.policy.Stats() }

// Template returns a copy of the cold-start learner.
func (b *Bandit) Template() learner.Learner { return b.template.Clone() }

// PendingTickets returns the number of delayed-reward pulls awaiting an update.
func (b *Bandit) PendingTickets() int { return b.pending.Len() }

// Pull asks the policy for an arm, runs its action and returns its name.
//
// The chosen arm is recorded as LastPulled before the action runs. An action
// error is returned wrapped, together with the chosen name, since the bandit
// cannot know how much of the action took effect.
func (b *Bandit) Pull() (string, error) {
	return b.pull(nil)
}

// PullAt is Pull for a contextual bandit: every arm's model is evaluated at
// the feature vector x before the policy chooses.
func (b *Bandit) PullAt(x []float64) (string, error) {
	return b.pull(x)
}

// PullTicket pulls an arm and remembers the choice under ticket so a reward
// that arrives later can be routed with UpdateTicket. Nothing is remembered
// when the action fails.
func (b *Bandit) PullTicket(ticket string) (string, error) {
	return b.pullTicket(ticket, nil)
}

// PullTicketAt is PullTicket under context x. The context is not stored with
// the ticket; the caller passes it again to UpdateTicketAt.
func (b *Bandit) PullTicketAt(ticket string, x []float64) (string, error) {
	return b.pullTicket(ticket, x)
}

// Update routes raw through the arm's reward function into its learner.
// Unknown arms fail with ErrUnknownArm and leave every arm unchanged.
func (b *Bandit) Update(armID string, raw float64) error {
	return b.update(armID, nil, raw)
}

// UpdateAt updates a contextual arm with a reward observed under x.
func (b *Bandit) UpdateAt(armID string, x []float64, raw float64) error {
	return b.update(armID, x, raw)
}

// UpdateLast updates the arm chosen by the most recent pull.
func (b *Bandit) UpdateLast(raw float64) error {
	return b.UpdateLastAt(nil, raw)
}

// UpdateLastAt updates the most recently pulled arm under x.
func (b *Bandit) UpdateLastAt(x []float64, raw float64) error {
	if b.lastPulled == "" {
		return ErrNoArmPulled
	}
	return b.update(b.lastPulled, x, raw)
}

// TicketArm returns the arm pulled under a pending ticket.
func (b *Bandit) TicketArm(ticket string) (string, bool) {
	return b.pending.Peek(ticket)
}

// UpdateTicket updates the arm pulled under ticket and forgets the ticket.
// A rejected observation keeps the ticket so the caller can retry.
func (b *Bandit) UpdateTicket(ticket string, raw float64) error {
	return b.UpdateTicketAt(ticket, nil, raw)
}

// UpdateTicketAt is UpdateTicket under context x.
func (b *Bandit) UpdateTicketAt(ticket string, x []float64, raw float64) error {
	armID, ok := b.pending.Take(ticket)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTicket, ticket)
	}
	if err := b.update(armID, x, raw); err != nil {
		b.pending.Put(ticket, armID)
		return err
	}
	return nil
}

// Sample chooses an arm n times and draws one shaped reward from each choice.
// Draws do not count as policy decisions. A negative n fails with
// ErrInvalidSampleSize.
func (b *Bandit) Sample(n int) ([]float64, error) {
	return b.sample(nil, n)
}

// SampleAt is Sample under context x.
func (b *Bandit) SampleAt(x []float64, n int) ([]float64, error) {
	return b.sample(x, n)
}

// Contextual reports whether pulls and updates require a feature vector.
func (b *Bandit) Contextual() bool { return b.contextDim > 0 }

// ContextDim returns the required feature vector length, or 0.
func (b *Bandit) ContextDim() int { return b.contextDim }

func (b *Bandit) pull(x []float64) (string, error) {
	if err := b.checkContext(x); err != nil {
		return "", err
	}
	id, err := b.choose(b.policy, x)
	if err != nil {
		return "", err
	}

	b.lastPulled = id
	if err := b.arms[id].Pull(); err != nil {
		return id, fmt.Errorf("arm %s action failed: %w", id, err)
	}

	b.observer.ArmPulled(id)
	b.logger.Debug("arm pulled", "bandit", b.name, "arm", id)
	return id, nil
}

func (b *Bandit) pullTicket(ticket string, x []float64) (string, error) {
	if ticket == "" {
		return "", fmt.Errorf("%w: empty ticket", ErrUnknownTicket)
	}
	id, err := b.pull(x)
	if err != nil {
		return id, err
	}
	b.pending.Put(ticket, id)
	return id, nil
}

func (b *Bandit) update(armID string, x []float64, raw float64) error {
	arm, ok := b.arms[armID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArm, armID)
	}
	if err := b.checkContext(x); err != nil {
		return err
	}

	if err := arm.UpdateAt(x, raw); err != nil {
		b.observer.ObservationRejected(armID, err)
		b.logger.Debug("observation rejected", "bandit", b.name, "arm", armID, "value", raw, "error", err)
		return err
	}

	if b.restless {
		for _, name := range b.order {
			if name != armID {
				b.arms[name].learner.Decay()
			}
		}
	}

	b.observer.ArmUpdated(armID, raw)
	return nil
}

func (b *Bandit) sample(x []float64, n int) ([]float64, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleSize, n)
	}
	if err := b.checkContext(x); err != nil {
		return nil, err
	}
	scratch := b.policy.Fresh()
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		id, err := b.choose(scratch, x)
		if err != nil {
			return nil, err
		}
		v, err := b.arms[id].SampleAt(x, b.rng)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// checkContext enforces that contextual bandits get a context and others don't
func (b *Bandit) checkContext(x []float64) error {
	switch {
	case b.Contextual() && x == nil:
		return fmt.Errorf("%w: bandit expects %d features", ErrContextRequired, b.contextDim)
	case !b.Contextual() && x != nil:
		return fmt.Errorf("%w: %s learner", ErrContextNotSupported, b.template.Kind())
	}
	return nil
}

// Export snapshots the bandit's numeric state. The bandit stays usable.
func (b *Bandit) Export() (*Snapshot, error) {
	snap := &Snapshot{
		Version:    SnapshotVersion,
		Arms:       make(map[string]learner.State, len(b.arms)),
		ArmOrder:   b.ArmIDs(),
		Pending:    b.pending.Entries(),
		LastPulled: b.lastPulled,
	}

	for _, name := range b.order {
		st, err := b.arms[name].State()
		if err != nil {
			return nil, fmt.Errorf("failed to export arm %s: %w", name, err)
		}
		snap.Arms[name] = st
	}

	ps, err := b.policy.ExportState()
	if err != nil {
		return nil, fmt.Errorf("failed to export policy state: %w", err)
	}
	snap.PolicyState = &ps

	rngState, err := b.src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to export rng state: %w", err)
	}
	snap.RNGState = rngState

	return snap, nil
}

func (b *Bandit) choose(p policy.Policy, x []float64) (string, error) {
	candidates := make([]policy.Candidate, len(b.order))
	for i, name := range b.order {
		m, err := b.arms[name].model(x)
		if err != nil {
			return "", err
		}
		candidates[i] = policy.Candidate{ID: name, Model: m}
	}

	id, err := p.Select(candidates, b.rng)
	if err != nil {
		return "", err
	}
	if _, ok := b.arms[id]; !ok {
		return "", fmt.Errorf("%w: policy %s chose %s", ErrUnknownArm, p.Kind(), id)
	}
	return id, nil
}
