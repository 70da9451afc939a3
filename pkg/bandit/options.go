package bandit

import (
	"io"
	"log/slog"
	"sort"
)

// Observer receives bandit events. Implementations must not call back into
// the bandit.
type Observer interface {
	ArmPulled(arm string)
	ArmUpdated(arm string, raw float64)
	ObservationRejected(arm string, err error)
	Reconciled(report *Report)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) ArmPulled(string)                  {}
func (NopObserver) ArmUpdated(string, float64)        {}
func (NopObserver) ObservationRejected(string, error) {}
func (NopObserver) Reconciled(*Report)                {}

// PendingStore tracks delayed-reward tickets: ticket -> arm name.
type PendingStore interface {
	Put(ticket, arm string)
	Peek(ticket string) (string, bool)
	Take(ticket string) (string, bool)
	Entries() map[string]string
	Len() int
}

// mapPending is the default unbounded PendingStore.
type mapPending map[string]string

func (m mapPending) Put(ticket, arm string) { m[ticket] = arm }

func (m mapPending) Peek(ticket string) (string, bool) {
	arm, ok := m[ticket]
	return arm, ok
}

func (m mapPending) Take(ticket string) (string, bool) {
	arm, ok := m[ticket]
	if ok {
		delete(m, ticket)
	}
	return arm, ok
}

func (m mapPending) Entries() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m mapPending) Len() int { return len(m) }

// Option configures a bandit built by Construct or Reconcile.
type Option func(*options)

type options struct {
	name     string
	logger   *slog.Logger
	observer Observer
	pending  PendingStore
}

func defaultOptions() options {
	return options{
		name:     "bandit",
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer: NopObserver{},
	}
}

// WithName labels log records with the bandit's name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the structured logger. Dropped arms are logged at WARN.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithPendingStore sets the store for delayed-reward tickets. The store
// should be empty; Reconcile fills it from the snapshot.
func WithPendingStore(store PendingStore) Option {
	return func(o *options) { o.pending = store }
}

func sortStrings(s []string) {
	sort.Strings(s)
}
