package bandit

import (
	"fmt"
	"math/rand/v2"

	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

// DiagnosticCode classifies a non-fatal reconciliation finding.
type DiagnosticCode string

const (
	// PolicyStateMismatch means the snapshot's policy or rng state could not
	// be restored and fresh state was used instead.
	PolicyStateMismatch DiagnosticCode = "policy_state_mismatch"
)

// Diagnostic is a non-fatal reconciliation finding.
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	Field   string         `json:"field"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s]: %s", d.Code, d.Field, d.Message)
}

// Report describes how a snapshot was merged into a schema.
type Report struct {
	// Retained arms kept their learned state.
	Retained []string `json:"retained"`

	// ColdStarted arms were new to the snapshot and start from the template.
	ColdStarted []string `json:"cold_started"`

	// Dropped arms were in the snapshot but not the schema. Their state is
	// not part of the reconciled bandit and is gone from every later export.
	Dropped []string `json:"dropped"`

	// DroppedState is the last known state of each dropped arm, for audit.
	DroppedState map[string]learner.State `json:"dropped_state,omitempty"`

	// DroppedTickets counts pending delayed-reward tickets of dropped arms.
	DroppedTickets int `json:"dropped_tickets"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// HasDiagnostic reports whether a diagnostic with the given code was raised.
func (r *Report) HasDiagnostic(code DiagnosticCode) bool {
	for _, d := range r.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Reconcile builds a new bandit from a live schema and a snapshot, matching
// arms by exact name:
//
//   - arms in both keep the schema's action and reward function and restore
//     their learner from the snapshot;
//   - arms only in the schema start from a clone of the template;
//   - arms only in the snapshot are dropped.
//
// Dropping is intentional and irreversible: a dropped arm's state is absent
// from the returned bandit and from anything it exports later. It is listed
// in the report and logged at WARN so hosts can keep an audit trail.
//
// Policy counters and rng state are restored when they fit the live policy;
// otherwise fresh state is used and a PolicyStateMismatch diagnostic is
// added to the report. The rng stream is tied to the policy that consumed
// it, so a changed policy kind always gets a freshly seeded rng. A nil
// snapshot cold-starts every arm.
//
// Reconcile fails only when a retained arm's state cannot be decoded
// (ErrCorruptState) or the schema was not built with NewSchema; it never
// modifies the schema, the snapshot or any existing bandit.
func Reconcile(schema Schema, snap *Snapshot, opts ...Option) (*Bandit, *Report, error) {
	if err := schema.valid(); err != nil {
		return nil, nil, err
	}
	if snap == nil {
		snap = &Snapshot{Version: SnapshotVersion}
	}
	if snap.Version > SnapshotVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, snap.Version)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.pending == nil {
		o.pending = make(mapPending)
	}

	report := &Report{
		Retained:    []string{},
		ColdStarted: []string{},
		Dropped:     []string{},
	}

	b := &Bandit{
		name:     o.name,
		arms:     make(map[string]*Arm, len(schema.arms)),
		order:    make([]string, 0, len(schema.arms)),
		template: schema.template.Clone(),
		restless: schema.restless,
		pending:  o.pending,
		observer: o.observer,
		logger:   o.logger,
	}

	if cl, ok := schema.template.(learner.Contextual); ok {
		b.contextDim = cl.Dim()
	}

	for _, spec := range schema.arms {
		var l learner.Learner
		if st, ok := snap.Arms[spec.Name]; ok {
			restored, err := schema.template.FromState(st)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: arm %s: %v", ErrCorruptState, spec.Name, err)
			}
			l = restored
			report.Retained = append(report.Retained, spec.Name)
		} else {
			l = schema.template.Clone()
			report.ColdStarted = append(report.ColdStarted, spec.Name)
		}
		b.arms[spec.Name] = newArm(spec, l)
		b.order = append(b.order, spec.Name)
	}

	for _, name := range snap.Names() {
		if _, live := b.arms[name]; live {
			continue
		}
		if report.DroppedState == nil {
			report.DroppedState = make(map[string]learner.State)
		}
		report.Dropped = append(report.Dropped, name)
		report.DroppedState[name] = snap.Arms[name].Clone()
		b.logger.Warn("dropping state of arm removed from schema",
			"bandit", b.name,
			"arm", name,
			"state", snap.Arms[name].Params,
		)
	}

	b.policy = restorePolicy(schema, snap, report)
	b.src = restoreRNG(schema, snap, report)
	b.rng = rand.New(b.src)

	for ticket, arm := range snap.Pending {
		if _, live := b.arms[arm]; live {
			b.pending.Put(ticket, arm)
		} else {
			report.DroppedTickets++
		}
	}
	if _, live := b.arms[snap.LastPulled]; live {
		b.lastPulled = snap.LastPulled
	}

	for _, d := range report.Diagnostics {
		b.logger.Warn("reconciliation diagnostic", "bandit", b.name, "code", d.Code, "field", d.Field, "message", d.Message)
	}
	b.logger.Info("bandit reconciled",
		"bandit", b.name,
		"retained", len(report.Retained),
		"cold_started", len(report.ColdStarted),
		"dropped", len(report.Dropped),
	)
	b.observer.Reconciled(report)

	return b, report, nil
}

func restorePolicy(schema Schema, snap *Snapshot, report *Report) policy.Policy {
	p := schema.policy.Fresh()
	if snap.PolicyState == nil {
		return p
	}
	if err := p.RestoreState(*snap.PolicyState); err != nil {
		report.Diagnostics = append(report.Diagnostics, Diagnostic{
			Code:    PolicyStateMismatch,
			Field:   "policy_state",
			Message: err.Error(),
		})
		return schema.policy.Fresh()
	}
	return p
}

func restoreRNG(schema Schema, snap *Snapshot, report *Report) *rand.PCG {
	fresh := func() *rand.PCG {
		return rand.NewPCG(schema.seed, schema.seed^0x9e3779b97f4a7c15)
	}
	if len(snap.RNGState) == 0 {
		return fresh()
	}
	if ps := snap.PolicyState; ps != nil && ps.Kind != schema.PolicyKind() {
		report.Diagnostics = append(report.Diagnostics, Diagnostic{
			Code:    PolicyStateMismatch,
			Field:   "rng_state",
			Message: fmt.Sprintf("rng stream belongs to policy %s, live policy is %s", ps.Kind, schema.PolicyKind()),
		})
		return fresh()
	}

	src := &rand.PCG{}
	if err := src.UnmarshalBinary(snap.RNGState); err != nil {
		report.Diagnostics = append(report.Diagnostics, Diagnostic{
			Code:    PolicyStateMismatch,
			Field:   "rng_state",
			Message: err.Error(),
		})
		return fresh()
	}
	return src
}
