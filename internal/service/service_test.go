package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/bayesbandit/internal/cache"
	"github.com/fractal-lba/bayesbandit/internal/journal"
	"github.com/fractal-lba/bayesbandit/internal/metrics"
	"github.com/fractal-lba/bayesbandit/internal/snapshotstore"
	"github.com/fractal-lba/bayesbandit/pkg/bandit"
	"github.com/fractal-lba/bayesbandit/pkg/learner"
	"github.com/fractal-lba/bayesbandit/pkg/policy"
)

var errActionFailed = errors.New("downstream unavailable")

func testSchema(t *testing.T, failing string, names ...string) bandit.Schema {
	t.Helper()

	template, err := learner.NewGammaPoisson(1, 1, 1)
	require.NoError(t, err)
	pol, err := policy.NewEpsilonGreedy(0.3)
	require.NoError(t, err)

	specs := make([]bandit.ArmSpec, len(names))
	for i, name := range names {
		specs[i] = bandit.ArmSpec{Name: name}
		if name == failing {
			specs[i].Action = func() error { return errActionFailed }
		}
	}
	schema, err := bandit.NewSchema(template, pol, specs, bandit.WithSeed(11))
	require.NoError(t, err)
	return schema
}

func sequentialTickets() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ticket-%d", n)
	}
}

func TestOpen_ColdStartThenResume(t *testing.T) {
	ctx := context.Background()
	store := snapshotstore.NewMemoryStore(nil)

	svc, err := Open(ctx, Options{Name: "checkout", Schema: testSchema(t, "", "a", "b"), Store: store})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, svc.Report().ColdStarted)

	for i := 0; i < 20; i++ {
		res, err := svc.Pull(ctx)
		require.NoError(t, err)
		assert.Empty(t, res.Ticket)
		require.NoError(t, svc.Update(ctx, res.Arm, float64(i%4)))
	}
	before, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), before.Selections)

	digest, err := svc.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	resumed, err := Open(ctx, Options{Name: "checkout", Schema: testSchema(t, "", "a", "b"), Store: store})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, resumed.Report().Retained)

	after, err := resumed.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOpen_ReducedSchemaJournalsDrop(t *testing.T) {
	ctx := context.Background()
	store := snapshotstore.NewMemoryStore([]byte("key"))

	svc, err := Open(ctx, Options{Name: "checkout", Schema: testSchema(t, "", "a", "b"), Store: store})
	require.NoError(t, err)
	require.NoError(t, svc.Update(ctx, "b", 5))
	require.NoError(t, svc.Close(ctx))

	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	reduced, err := Open(ctx, Options{
		Name:    "checkout",
		Schema:  testSchema(t, "", "a", "c"),
		Store:   store,
		Journal: j,
		Metrics: m,
	})
	require.NoError(t, err)

	report := reduced.Report()
	assert.Equal(t, []string{"a"}, report.Retained)
	assert.Equal(t, []string{"c"}, report.ColdStarted)
	assert.Equal(t, []string{"b"}, report.Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconciledArms.WithLabelValues("checkout", "dropped")))

	events, err := journal.Replay(j.Path())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, journal.EventDrop, events[1].Type)
	assert.Equal(t, "b", events[1].Arm)
	require.NotNil(t, events[1].State)
	assert.Equal(t, 6.0, events[1].State.Params["alpha"])

	arms, err := reduced.Arms(ctx)
	require.NoError(t, err)
	require.Len(t, arms, 2)
	assert.Equal(t, "c", arms[1].Name)
	assert.Equal(t, 1.0, arms[1].Mean)
}

func TestPull_DelayedReward(t *testing.T) {
	ctx := context.Background()
	pending, err := cache.NewPendingTickets(8, 0)
	require.NoError(t, err)

	svc, err := Open(ctx, Options{
		Name:          "checkout",
		Schema:        testSchema(t, "", "a", "b"),
		Store:         snapshotstore.NewMemoryStore(nil),
		Pending:       pending,
		DelayedReward: true,
	})
	require.NoError(t, err)
	svc.newTicket = sequentialTickets()

	res, err := svc.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", res.Ticket)
	assert.Equal(t, 1, pending.Len())

	assert.ErrorIs(t, svc.UpdateTicket(ctx, "ticket-1", -2), bandit.ErrInvalidObservation)
	require.NoError(t, svc.UpdateTicket(ctx, "ticket-1", 2))
	assert.ErrorIs(t, svc.UpdateTicket(ctx, "ticket-1", 2), bandit.ErrUnknownTicket)

	arms, err := svc.Arms(ctx)
	require.NoError(t, err)
	for _, a := range arms {
		if a.Name == res.Arm {
			assert.Equal(t, 1.0, a.Count)
		}
	}
}

func TestPull_ActionFailure(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	svc, err := Open(ctx, Options{
		Name:          "checkout",
		Schema:        testSchema(t, "only", "only"),
		Store:         snapshotstore.NewMemoryStore(nil),
		Journal:       j,
		DelayedReward: true,
	})
	require.NoError(t, err)

	res, err := svc.Pull(ctx)
	assert.ErrorIs(t, err, errActionFailed)
	assert.Equal(t, "only", res.Arm)
	assert.Empty(t, res.Ticket)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingTickets)
	assert.Equal(t, "only", status.LastPulled)

	events, err := journal.Replay(j.Path())
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, journal.EventPull, last.Type)
	assert.Contains(t, last.Detail, "downstream unavailable")
}

func TestUpdate_Errors(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	svc, err := Open(ctx, Options{Name: "checkout", Schema: testSchema(t, "", "a"), Store: snapshotstore.NewMemoryStore(nil), Journal: j})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Update(ctx, "zzz", 1), bandit.ErrUnknownArm)
	assert.ErrorIs(t, svc.Update(ctx, "a", -1), bandit.ErrInvalidObservation)

	events, err := journal.Replay(j.Path())
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, journal.EventReject, last.Type)
	assert.Equal(t, -1.0, *last.Value)
}

type brokenStore struct {
	snapshotstore.Store
	loadErr error
	saveErr error
}

func (b brokenStore) Load(context.Context, string) (*bandit.Snapshot, error) {
	return nil, b.loadErr
}

func (b brokenStore) Save(context.Context, string, *bandit.Snapshot) error {
	return b.saveErr
}

func (b brokenStore) Close() error { return nil }

func TestOpen_StoreErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{Name: "x", Schema: testSchema(t, "", "a"), Store: brokenStore{loadErr: snapshotstore.ErrDigestMismatch}})
	assert.ErrorIs(t, err, snapshotstore.ErrDigestMismatch)

	_, err = Open(ctx, Options{Schema: testSchema(t, "", "a"), Store: snapshotstore.NewMemoryStore(nil)})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Name: "x", Schema: testSchema(t, "", "a")})
	assert.Error(t, err)
}

func TestCheckpoint_Failure(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	saveErr := errors.New("disk full")

	svc, err := Open(ctx, Options{
		Name:    "x",
		Schema:  testSchema(t, "", "a"),
		Store:   brokenStore{loadErr: snapshotstore.ErrNotFound, saveErr: saveErr},
		Metrics: m,
	})
	require.NoError(t, err)

	_, err = svc.Checkpoint(ctx)
	assert.ErrorIs(t, err, saveErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkpoints.WithLabelValues("x", "error")))

	assert.ErrorIs(t, svc.Close(ctx), saveErr)
	assert.NoError(t, svc.Close(ctx), "second close is a no-op")
}

func TestService_ConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	svc, err := Open(ctx, Options{
		Name:    "checkout",
		Schema:  testSchema(t, "", "a", "b", "c"),
		Store:   snapshotstore.NewMemoryStore(nil),
		Metrics: m,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				res, err := svc.Pull(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				if err := svc.Update(ctx, res.Arm, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), status.Selections)

	total := 0.0
	for _, a := range status.Arms {
		total += a.Count
	}
	assert.Equal(t, 200.0, total)
	assert.Equal(t, 3, testutil.CollectAndCount(m.PosteriorMean))
}

func TestService_ContextualPullAndUpdate(t *testing.T) {
	ctx := context.Background()
	template, err := learner.NewBayesianLinear(2, 1, 1, 1)
	require.NoError(t, err)
	schema, err := bandit.NewSchema(template, policy.NewThompsonSampling(),
		[]bandit.ArmSpec{{Name: "a"}, {Name: "b"}}, bandit.WithSeed(5))
	require.NoError(t, err)

	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	store := snapshotstore.NewMemoryStore(nil)
	svc, err := Open(ctx, Options{Name: "pricing", Schema: schema, Store: store, Journal: j})
	require.NoError(t, err)

	x := []float64{1, 0.5}
	res, err := svc.PullAt(ctx, x)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateAt(ctx, res.Arm, x, 2))

	_, err = svc.Pull(ctx)
	assert.ErrorIs(t, err, bandit.ErrContextRequired)
	assert.ErrorIs(t, svc.UpdateAt(ctx, res.Arm, []float64{1}, 2), bandit.ErrInvalidContext)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ContextDim)
	require.NoError(t, svc.Close(ctx))

	events, err := journal.Replay(j.Path())
	require.NoError(t, err)
	var withContext int
	for _, ev := range events {
		if ev.Type == journal.EventPull || ev.Type == journal.EventUpdate {
			assert.Equal(t, x, ev.Context)
			withContext++
		}
	}
	assert.Equal(t, 2, withContext)

	resumed, err := Open(ctx, Options{Name: "pricing", Schema: schema, Store: store})
	require.NoError(t, err)
	arms, err := resumed.Arms(ctx)
	require.NoError(t, err)
	for _, a := range arms {
		if a.Name == res.Arm {
			assert.Equal(t, 1.0, a.Count)
		}
	}
}
