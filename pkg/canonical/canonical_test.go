package canonical

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

func sampleSnapshot() *bandit.Snapshot {
	return &bandit.Snapshot{
		Version: bandit.SnapshotVersion,
		Arms: map[string]learner.State{
			"b": {Kind: learner.KindGammaPoisson, Params: map[string]float64{"alpha": 3.0000000001, "beta": 2}},
			"a": {Kind: learner.KindGammaPoisson, Params: map[string]float64{"beta": 1, "alpha": 1}},
		},
		ArmOrder: []string{"a", "b"},
		PolicyState: &policy.State{
			Kind:   policy.KindEpsilonGreedy,
			Params: map[string]float64{"epsilon": 0.1},
			Stats:  policy.Stats{Selections: 3, Explorations: 1},
		},
		RNGState: []byte("pcg:state"),
	}
}

func TestSnapshotBytes_Stable(t *testing.T) {
	snap := sampleSnapshot()

	first, err := SnapshotBytes(snap)
	require.NoError(t, err)
	second, err := SnapshotBytes(snap.Clone())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Contains(t, string(first), `"a":{"kind":"gamma_poisson","params":{"alpha":1,"beta":1}}`)
	assert.Contains(t, string(first), `"alpha":3,`, "parameters are rounded to 9 decimals")
	assert.Equal(t, 3.0000000001, snap.Arms["b"].Params["alpha"], "input is not modified")
}

func TestSnapshotBytes_Nil(t *testing.T) {
	_, err := SnapshotBytes(nil)
	assert.ErrorIs(t, err, ErrNilSnapshot)
}

func TestDigest(t *testing.T) {
	d1, err := Digest(sampleSnapshot())
	require.NoError(t, err)
	assert.Len(t, d1, 64)

	changed := sampleSnapshot()
	changed.Arms["a"].Params["alpha"] = 2
	d2, err := Digest(changed)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestSignVerify(t *testing.T) {
	key := []byte("test-key")
	snap := sampleSnapshot()

	sig, err := Sign(snap, key)
	require.NoError(t, err)
	assert.NoError(t, Verify(snap, sig, key))

	assert.ErrorIs(t, Verify(snap, sig, []byte("other-key")), ErrInvalidSignature)
	assert.ErrorIs(t, Verify(snap, "not base64!", key), ErrInvalidSignature)

	tampered := snap.Clone()
	tampered.LastPulled = "b"
	assert.ErrorIs(t, Verify(tampered, sig, key), ErrInvalidSignature)
}

func TestRound9(t *testing.T) {
	assert.Equal(t, 1.234567891, Round9(1.2345678912345))
	assert.Equal(t, 0.5, Round9(0.5))
	assert.Equal(t, 1e12, Round9(1e12))
	assert.True(t, math.IsInf(Round9(math.Inf(1)), 1))
}

func FuzzRound9(f *testing.F) {
	f.Add(1.234567890123)
	f.Add(0.0)
	f.Add(-999.999999999)
	f.Add(1e10)

	f.Fuzz(func(t *testing.T, value float64) {
		if math.IsNaN(value) {
			return
		}
		rounded := Round9(value)
		if again := Round9(rounded); again != rounded {
			t.Errorf("Round9 not idempotent: %v != %v", rounded, again)
		}
	})
}
