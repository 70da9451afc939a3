// Package journal is an append-only, fsynced JSON-lines log of bandit
// events. It is the audit trail for arms dropped during reconciliation:
// a drop event carries the discarded learner state.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fractal-lba/bayesbandit/pkg/bandit"
	"github.com/fractal-lba/bayesbandit/pkg/learner"
)

// EventType classifies journal entries
type EventType string

const (
	EventPull       EventType = "pull"
	EventUpdate     EventType = "update"
	EventReject     EventType = "reject"
	EventReconcile  EventType = "reconcile"
	EventDrop       EventType = "drop"
	EventCheckpoint EventType = "checkpoint"
)

// Event is one journal line
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	Bandit    string         `json:"bandit"`
	Arm       string         `json:"arm,omitempty"`
	Ticket    string         `json:"ticket,omitempty"`
	Value     *float64       `json:"value,omitempty"`
	Context   []float64      `json:"context,omitempty"`
	State     *learner.State `json:"state,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// ErrClosed is returned by Append after Close
var ErrClosed = errors.New("journal closed")

// Journal appends events to a daily file in dir
type Journal struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	path string
	now  func() time.Time
}

// Open creates dir if needed and opens today's journal file for append
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{dir: dir, now: time.Now}
	if err := j.openFor(j.now()); err != nil {
		return nil, err
	}
	return j, nil
}

// FileName returns the journal file name used for day t
func FileName(t time.Time) string {
	return fmt.Sprintf("journal-%s.jsonl", t.Format("20060102"))
}

func (j *Journal) openFor(t time.Time) error {
	path := filepath.Join(j.dir, FileName(t))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	j.file = file
	j.path = path
	return nil
}

// Path returns the file currently being written
func (j *Journal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.path
}

// Append writes ev as one line and fsyncs. A zero timestamp is set to now.
// Crossing midnight switches to the next day's file.
func (j *Journal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return ErrClosed
	}

	now := j.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now.UTC()
	}

	if filepath.Base(j.path) != FileName(now) {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		j.file = nil
		if err := j.openFor(now); err != nil {
			return err
		}
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode journal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("failed to write journal event: %w", err)
	}

	// Critical: fsync to ensure durability
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// RecordReconcile appends a reconcile event summarizing report, followed by
// one drop event per discarded arm carrying its final state.
func (j *Journal) RecordReconcile(banditName string, report *bandit.Report) error {
	detail := fmt.Sprintf("retained=%d cold_started=%d dropped=%d dropped_tickets=%d diagnostics=%d",
		len(report.Retained), len(report.ColdStarted), len(report.Dropped),
		report.DroppedTickets, len(report.Diagnostics))
	if err := j.Append(Event{Type: EventReconcile, Bandit: banditName, Detail: detail}); err != nil {
		return err
	}

	for _, arm := range report.Dropped {
		ev := Event{Type: EventDrop, Bandit: banditName, Arm: arm, Detail: "arm removed from schema"}
		if st, ok := report.DroppedState[arm]; ok {
			st = st.Clone()
			ev.State = &st
		}
		if err := j.Append(ev); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs and closes the current file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Replay reads all events from a journal file. Malformed lines are skipped.
// A missing file yields no events.
func Replay(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // skip malformed lines
		}
		events = append(events, ev)
	}

	return events, scanner.Err()
}

// Float is a convenience for Event.Value
func Float(v float64) *float64 {
	return &v
}
