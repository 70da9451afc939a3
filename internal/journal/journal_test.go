package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
	"github.com/fractal-lba/bayesbandit/pkg/learner"
)

func TestAppendReplay(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, j.Append(Event{Type: EventPull, Bandit: "b", Arm: "a", Ticket: "t1"}))
	require.NoError(t, j.Append(Event{Type: EventUpdate, Bandit: "b", Arm: "a", Value: Float(0)}))
	path := j.Path()
	require.NoError(t, j.Close())

	events, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventPull, events[0].Type)
	assert.Equal(t, "t1", events[0].Ticket)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Nil(t, events[0].Value)

	require.NotNil(t, events[1].Value, "zero values are kept")
	assert.Equal(t, 0.0, *events[1].Value)
}

func TestAppend_AfterClose(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.Append(Event{Type: EventPull}), ErrClosed)
}

func TestAppend_RotatesDaily(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	defer j.Close()

	day := time.Date(2030, 1, 2, 23, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return day }
	require.NoError(t, j.Append(Event{Type: EventPull, Bandit: "b"}))
	assert.Equal(t, filepath.Join(dir, "journal-20300102.jsonl"), j.Path())

	day = day.Add(2 * time.Minute)
	require.NoError(t, j.Append(Event{Type: EventPull, Bandit: "b"}))
	assert.Equal(t, filepath.Join(dir, "journal-20300103.jsonl"), j.Path())

	first, err := Replay(filepath.Join(dir, "journal-20300102.jsonl"))
	require.NoError(t, err)
	assert.Len(t, first, 1)
}

func TestReplay_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	content := `{"ts":"2030-01-02T00:00:00Z","type":"pull","bandit":"b","arm":"a"}
not json
{"ts":"2030-01-02T00:00:01Z","type":"update","bandit":"b","arm":"a","value":3}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	events, err := Replay(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 3.0, *events[1].Value)

	missing, err := Replay(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestRecordReconcile(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	report := &bandit.Report{
		Retained:    []string{"keep"},
		ColdStarted: []string{"new"},
		Dropped:     []string{"gone"},
		DroppedState: map[string]learner.State{
			"gone": {Kind: learner.KindGammaPoisson, Params: map[string]float64{"alpha": 9, "beta": 4}},
		},
		DroppedTickets: 2,
	}
	require.NoError(t, j.RecordReconcile("checkout", report))

	events, err := Replay(j.Path())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventReconcile, events[0].Type)
	assert.Contains(t, events[0].Detail, "dropped=1")
	assert.Contains(t, events[0].Detail, "dropped_tickets=2")

	drop := events[1]
	assert.Equal(t, EventDrop, drop.Type)
	assert.Equal(t, "gone", drop.Arm)
	require.NotNil(t, drop.State)
	assert.Equal(t, 9.0, drop.State.Params["alpha"])
}
