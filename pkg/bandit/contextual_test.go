package bandit

import (
	"math"
	"testing"

	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLinearSchema(t *testing.T, names ...string) Schema {
	t.Helper()
	tmpl, err := learner.NewBayesianLinear(2, 1, 0.25, 1)
	require.NoError(t, err)
	specs := make([]ArmSpec, len(names))
	for i, name := range names {
		specs[i] = ArmSpec{Name: name}
	}
	s, err := NewSchema(tmpl, policy.NewThompsonSampling(), specs, WithSeed(3))
	require.NoError(t, err)
	return s
}

func TestContextual_LearnsPerContextWinner(t *testing.T) {
	b, err := Construct(newLinearSchema(t, "left", "right"))
	require.NoError(t, err)
	assert.True(t, b.Contextual())
	assert.Equal(t, 2, b.ContextDim())

	// left pays under the first feature, right under the second
	morning := []float64{1, 0}
	evening := []float64{0, 1}
	for i := 0; i < 50; i++ {
		require.NoError(t, b.UpdateAt("left", morning, 1))
		require.NoError(t, b.UpdateAt("left", evening, 0))
		require.NoError(t, b.UpdateAt("right", morning, 0))
		require.NoError(t, b.UpdateAt("right", evening, 1))
	}

	for i := 0; i < 10; i++ {
		id, err := b.PullAt(morning)
		require.NoError(t, err)
		assert.Equal(t, "left", id)

		id, err = b.PullAt(evening)
		require.NoError(t, err)
		assert.Equal(t, "right", id)
	}

	left, _ := b.Arm("left")
	mean, err := left.PredictAt(morning)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mean, 0.05)
	assert.Equal(t, 100.0, left.Count())
}

func TestContextual_ContextRules(t *testing.T) {
	b, err := Construct(newLinearSchema(t, "a", "b"))
	require.NoError(t, err)

	_, err = b.Pull()
	assert.ErrorIs(t, err, ErrContextRequired)
	assert.ErrorIs(t, b.Update("a", 1), ErrContextRequired)
	_, err = b.Sample(1)
	assert.ErrorIs(t, err, ErrContextRequired)

	_, err = b.PullAt([]float64{1})
	assert.ErrorIs(t, err, ErrInvalidContext)
	assert.Empty(t, b.LastPulled())

	assert.ErrorIs(t, b.UpdateAt("missing", []float64{1, 1}, 1), ErrUnknownArm)
	assert.ErrorIs(t, b.UpdateAt("a", []float64{1, 1}, math.Inf(1)), ErrInvalidObservation)

	plain, err := Construct(newTestSchema(t, pullCounter{}, "a"))
	require.NoError(t, err)
	assert.False(t, plain.Contextual())
	_, err = plain.PullAt([]float64{1, 1})
	assert.ErrorIs(t, err, ErrContextNotSupported)
	assert.ErrorIs(t, plain.UpdateAt("a", []float64{1}, 1), ErrContextNotSupported)
}

func TestContextual_TicketsAndSample(t *testing.T) {
	b, err := Construct(newLinearSchema(t, "a", "b"))
	require.NoError(t, err)
	x := []float64{0.5, 2}

	id, err := b.PullTicketAt("t1", x)
	require.NoError(t, err)
	require.NoError(t, b.UpdateTicketAt("t1", x, 3))
	arm, _ := b.Arm(id)
	assert.Equal(t, 1.0, arm.Count())
	assert.Equal(t, 0, b.PendingTickets())

	_, err = b.PullTicketAt("t2", x)
	require.NoError(t, err)
	assert.ErrorIs(t, b.UpdateTicketAt("t2", nil, 3), ErrContextRequired)
	assert.Equal(t, 1, b.PendingTickets(), "a rejected update keeps the ticket")

	require.NoError(t, b.UpdateLastAt(x, 1))

	draws, err := b.SampleAt(x, 4)
	require.NoError(t, err)
	assert.Len(t, draws, 4)
	_, err = b.SampleAt(x, -2)
	assert.ErrorIs(t, err, ErrInvalidSampleSize)
}

func TestContextual_ReconcileRetainsModel(t *testing.T) {
	schema := newLinearSchema(t, "a", "b")
	b, err := Construct(schema)
	require.NoError(t, err)
	x := []float64{1, -1}
	for i := 0; i < 5; i++ {
		require.NoError(t, b.UpdateAt("a", x, 2))
	}
	snap, err := b.Export()
	require.NoError(t, err)

	restored, report, err := Reconcile(newLinearSchema(t, "a", "c"), snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Retained)
	assert.Equal(t, []string{"c"}, report.ColdStarted)
	assert.Equal(t, []string{"b"}, report.Dropped)

	before, _ := b.Arm("a")
	after, _ := restored.Arm("a")
	want, err := before.PredictAt(x)
	require.NoError(t, err)
	got, err := after.PredictAt(x)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)

	// a snapshot of another dimension is corrupt for retained arms
	wide, err := learner.NewBayesianLinear(3, 1, 1, 1)
	require.NoError(t, err)
	s3, err := NewSchema(wide, policy.NewThompsonSampling(), []ArmSpec{{Name: "a"}})
	require.NoError(t, err)
	_, _, err = Reconcile(s3, snap)
	assert.ErrorIs(t, err, ErrCorruptState)
}
