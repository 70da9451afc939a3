package bandit

import (
	"encoding/json"
	"fmt"

	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

// SnapshotVersion is the snapshot format written by Export.
const SnapshotVersion = 1

// Snapshot is the persisted state of a bandit. It holds only numeric state:
// actions, reward functions and policy logic always come from the live
// schema at reconciliation time.
type Snapshot struct {
	Version     int                      `json:"version"`
	Arms        map[string]learner.State `json:"arms"`
	ArmOrder    []string                 `json:"arm_order,omitempty"`
	PolicyState *policy.State            `json:"policy_state,omitempty"`
	RNGState    []byte                   `json:"rng_state,omitempty"`
	Pending     map[string]string        `json:"pending,omitempty"`
	LastPulled  string                   `json:"last_pulled,omitempty"`
}

// Encode serializes the snapshot as JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, s.Version)
	}
	if s.Arms == nil {
		s.Arms = make(map[string]learner.State)
	}
	return &s, nil
}

// Names returns the snapshot's arm names, in export order when known.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Arms))
	seen := make(map[string]struct{}, len(s.Arms))
	for _, name := range s.ArmOrder {
		if _, ok := s.Arms[name]; ok {
			names = append(names, name)
			seen[name] = struct{}{}
		}
	}
	rest := make([]string, 0)
	for name := range s.Arms {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sortStrings(rest)
	return append(names, rest...)
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Version:    s.Version,
		Arms:       make(map[string]learner.State, len(s.Arms)),
		ArmOrder:   append([]string(nil), s.ArmOrder...),
		RNGState:   append([]byte(nil), s.RNGState...),
		LastPulled: s.LastPulled,
	}
	for name, st := range s.Arms {
		c.Arms[name] = st.Clone()
	}
	if s.PolicyState != nil {
		ps := *s.PolicyState
		if s.PolicyState.Params != nil {
			ps.Params = make(map[string]float64, len(s.PolicyState.Params))
			for k, v := range s.PolicyState.Params {
				ps.Params[k] = v
			}
		}
		c.PolicyState = &ps
	}
	if s.Pending != nil {
		c.Pending = make(map[string]string, len(s.Pending))
		for k, v := range s.Pending {
			c.Pending[k] = v
		}
	}
	return c
}
