// Package canonical produces stable byte encodings of bandit snapshots for
// digests and signatures.
//
// Key requirements:
// - Floats rounded to 9 decimal places
// - Map keys sorted, struct fields in declaration order
// - No whitespace in JSON output
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
)

// ErrNilSnapshot is returned when there is nothing to encode
var ErrNilSnapshot = errors.New("nil snapshot")

// roundLimit bounds the magnitude Round9 touches. Larger values have no
// fractional digits left at 9 decimal places.
const roundLimit = 1e6

// Round9 rounds a float64 to 9 decimal places.
//
// Used for normalizing learner and policy parameters so that a snapshot
// digests identically after a decode/encode cycle through another encoder.
func Round9(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) >= roundLimit {
		return x
	}
	const factor = 1e9
	return math.Round(x*factor) / factor
}

// SnapshotBytes generates the canonical JSON form of a snapshot.
//
// Rules:
//   - Learner and policy parameters rounded to 9 decimal places
//   - Keys sorted alphabetically within maps
//   - Compact JSON
//
// Args:
//
//	snap: snapshot to encode; it is not modified
//
// Returns:
//
//	Canonical JSON as bytes, ready for hashing or signing
func SnapshotBytes(snap *bandit.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	normalized := snap.Clone()
	for name, st := range normalized.Arms {
		for k, v := range st.Params {
			st.Params[k] = Round9(v)
		}
		normalized.Arms[name] = st
	}
	if normalized.PolicyState != nil {
		for k, v := range normalized.PolicyState.Params {
			normalized.PolicyState.Params[k] = Round9(v)
		}
	}

	// encoding/json sorts map keys
	return json.Marshal(normalized)
}

// Digest returns the hex SHA-256 of the snapshot's canonical bytes
func Digest(snap *bandit.Snapshot) (string, error) {
	payload, err := SnapshotBytes(snap)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
