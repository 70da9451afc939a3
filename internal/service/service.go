// Package service hosts one named bandit for a long-running process: it
// reconciles persisted state on open, serializes pulls and updates, and
// checkpoints snapshots back to the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fractal-lba/bayesbandit/internal/journal"
	"github.com/fractal-lba/bayesbandit/internal/metrics"
	"github.com/fractal-lba/bayesbandit/internal/snapshotstore"
	"github.com/fractal-lba/bayesbandit/pkg/bandit"
	"github.com/fractal-lba/bayesbandit/pkg/canonical"
	"github.com/fractal-lba/bayesbandit/pkg/otel"
)

// Options configures Open. Name, Schema and Store are required.
type Options struct {
	Name   string
	Schema bandit.Schema
	Store  snapshotstore.Store

	// Optional collaborators
	Journal *journal.Journal
	Metrics *metrics.Metrics
	Pending bandit.PendingStore
	Logger  *slog.Logger

	// DelayedReward issues a ticket with every pull
	DelayedReward bool
}

// PullResult is the outcome of a pull
type PullResult struct {
	Arm    string `json:"arm"`
	Ticket string `json:"ticket,omitempty"`
}

// ArmSummary describes one arm's current model
type ArmSummary struct {
	Name   string             `json:"name"`
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params"`
	Mean   float64            `json:"mean"`
	Count  float64            `json:"count"`
}

// Status describes the hosted bandit
type Status struct {
	Name           string       `json:"name"`
	Policy         string       `json:"policy"`
	Selections     int64        `json:"selections"`
	Explorations   int64        `json:"explorations"`
	PendingTickets int          `json:"pending_tickets"`
	LastPulled     string       `json:"last_pulled,omitempty"`
	ContextDim     int          `json:"context_dim,omitempty"`
	Arms           []ArmSummary `json:"arms"`
}

// Service serializes access to a bandit
type Service struct {
	mu sync.Mutex

	name    string
	bandit  *bandit.Bandit
	report  *bandit.Report
	store   snapshotstore.Store
	journal *journal.Journal
	metrics *metrics.Metrics
	logger  *slog.Logger
	delayed bool

	newTicket func() string
	closed    bool
}

// Open loads the latest snapshot for opts.Name, reconciles it against
// opts.Schema and journals the outcome. A missing snapshot cold-starts
// every arm.
func Open(ctx context.Context, opts Options) (*Service, error) {
	if opts.Name == "" {
		return nil, errors.New("service: name is required")
	}
	if opts.Store == nil {
		return nil, errors.New("service: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, span := otel.StartSpan(ctx, "bandit.open", otel.ArmAttributes(opts.Name, "")...)
	defer span.End()

	snap, err := opts.Store.Load(ctx, opts.Name)
	switch {
	case errors.Is(err, snapshotstore.ErrNotFound):
		logger.Info("no snapshot found, cold-starting", "bandit", opts.Name)
		snap = nil
	case err != nil:
		otel.RecordError(span, err, "load snapshot")
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	bopts := []bandit.Option{
		bandit.WithName(opts.Name),
		bandit.WithLogger(logger),
	}
	if opts.Metrics != nil {
		bopts = append(bopts, bandit.WithObserver(opts.Metrics.Observer(opts.Name)))
	}
	if opts.Pending != nil {
		bopts = append(bopts, bandit.WithPendingStore(opts.Pending))
	}

	b, report, err := bandit.Reconcile(opts.Schema, snap, bopts...)
	if err != nil {
		otel.RecordError(span, err, "reconcile")
		return nil, err
	}
	span.SetAttributes(otel.ReconcileAttributes(report.Retained, report.ColdStarted, report.Dropped, len(report.Diagnostics))...)

	if opts.Journal != nil {
		if err := opts.Journal.RecordReconcile(opts.Name, report); err != nil {
			otel.RecordError(span, err, "journal reconcile")
			return nil, fmt.Errorf("failed to journal reconciliation: %w", err)
		}
	}

	s := &Service{
		name:      opts.Name,
		bandit:    b,
		report:    report,
		store:     opts.Store,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		logger:    logger,
		delayed:   opts.DelayedReward,
		newTicket: uuid.NewString,
	}
	for _, name := range b.ArmIDs() {
		s.observePosterior(name)
	}
	s.observePending()
	return s, nil
}

// Name returns the hosted bandit's name
func (s *Service) Name() string { return s.name }

// Report returns the reconciliation report produced by Open
func (s *Service) Report() *bandit.Report { return s.report }

// Pull chooses an arm and runs its action. With delayed rewards enabled the
// result carries a ticket for UpdateTicket. If the action fails the chosen
// arm is still returned alongside the error.
func (s *Service) Pull(ctx context.Context) (PullResult, error) {
	return s.PullAt(ctx, nil)
}

// PullAt is Pull under a feature vector. x must be nil for a context-free
// bandit and set for a contextual one.
func (s *Service) PullAt(ctx context.Context, x []float64) (PullResult, error) {
	_, span := otel.StartSpan(ctx, "bandit.pull", otel.ArmAttributes(s.name, "")...)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res PullResult
		err error
	)
	if s.delayed {
		res.Ticket = s.newTicket()
		res.Arm, err = s.bandit.PullTicketAt(res.Ticket, x)
	} else {
		res.Arm, err = s.bandit.PullAt(x)
	}
	if res.Arm != "" {
		span.SetAttributes(otel.AttrArm.String(res.Arm))
	}
	if err != nil {
		otel.RecordError(span, err, "pull")
		if res.Arm != "" {
			s.record(journal.Event{Type: journal.EventPull, Bandit: s.name, Arm: res.Arm, Context: x, Detail: err.Error()})
		}
		// no ticket is outstanding for a failed action
		res.Ticket = ""
		return res, err
	}

	if res.Ticket != "" {
		span.SetAttributes(otel.AttrTicket.String(res.Ticket))
	}
	s.record(journal.Event{Type: journal.EventPull, Bandit: s.name, Arm: res.Arm, Ticket: res.Ticket, Context: x})
	s.observePending()
	return res, nil
}

// Update feeds an observation to a named arm
func (s *Service) Update(ctx context.Context, arm string, value float64) error {
	return s.UpdateAt(ctx, arm, nil, value)
}

// UpdateAt feeds an observation made under x to a named arm
func (s *Service) UpdateAt(ctx context.Context, arm string, x []float64, value float64) error {
	_, span := otel.StartSpan(ctx, "bandit.update", otel.ArmAttributes(s.name, arm)...)
	defer span.End()
	span.SetAttributes(otel.AttrValue.Float64(value))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bandit.UpdateAt(arm, x, value); err != nil {
		otel.RecordError(span, err, "update")
		s.recordRejection(arm, "", x, value, err)
		return err
	}

	s.record(journal.Event{Type: journal.EventUpdate, Bandit: s.name, Arm: arm, Value: journal.Float(value), Context: x})
	s.observeAfterUpdate()
	return nil
}

// UpdateTicket feeds an observation to the arm pulled under ticket
func (s *Service) UpdateTicket(ctx context.Context, ticket string, value float64) error {
	return s.UpdateTicketAt(ctx, ticket, nil, value)
}

// UpdateTicketAt feeds an observation made under x to the arm pulled under ticket
func (s *Service) UpdateTicketAt(ctx context.Context, ticket string, x []float64, value float64) error {
	_, span := otel.StartSpan(ctx, "bandit.update_ticket", otel.ArmAttributes(s.name, "")...)
	defer span.End()
	span.SetAttributes(otel.AttrTicket.String(ticket), otel.AttrValue.Float64(value))

	s.mu.Lock()
	defer s.mu.Unlock()

	arm, _ := s.bandit.TicketArm(ticket)
	if err := s.bandit.UpdateTicketAt(ticket, x, value); err != nil {
		otel.RecordError(span, err, "update")
		s.recordRejection(arm, ticket, x, value, err)
		return err
	}

	span.SetAttributes(otel.AttrArm.String(arm))
	s.record(journal.Event{Type: journal.EventUpdate, Bandit: s.name, Arm: arm, Ticket: ticket, Value: journal.Float(value), Context: x})
	s.observeAfterUpdate()
	return nil
}

// Arms summarizes every arm in schema order
func (s *Service) Arms(ctx context.Context) ([]ArmSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.armsLocked()
}

func (s *Service) armsLocked() ([]ArmSummary, error) {
	ids := s.bandit.ArmIDs()
	out := make([]ArmSummary, 0, len(ids))
	for _, id := range ids {
		arm, _ := s.bandit.Arm(id)
		st, err := arm.State()
		if err != nil {
			return nil, fmt.Errorf("arm %s: %w", id, err)
		}
		out = append(out, ArmSummary{
			Name:   id,
			Kind:   st.Kind,
			Params: st.Params,
			Mean:   arm.Predict(),
			Count:  arm.Count(),
		})
	}
	return out, nil
}

// Status describes the bandit and its arms
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arms, err := s.armsLocked()
	if err != nil {
		return Status{}, err
	}
	stats := s.bandit.PolicyStats()
	return Status{
		Name:           s.name,
		Policy:         s.bandit.PolicyKind(),
		Selections:     stats.Selections,
		Explorations:   stats.Explorations,
		PendingTickets: s.bandit.PendingTickets(),
		LastPulled:     s.bandit.LastPulled(),
		ContextDim:     s.bandit.ContextDim(),
		Arms:           arms,
	}, nil
}

// Checkpoint exports the bandit and saves it to the store. It returns the
// saved snapshot's digest.
func (s *Service) Checkpoint(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkpointLocked(ctx)
}

func (s *Service) checkpointLocked(ctx context.Context) (string, error) {
	ctx, span := otel.StartSpan(ctx, "bandit.checkpoint", otel.ArmAttributes(s.name, "")...)
	defer span.End()

	digest, err := s.save(ctx)
	if err != nil {
		otel.RecordError(span, err, "checkpoint")
		s.countCheckpoint("error")
		s.logger.Error("checkpoint failed", "bandit", s.name, "error", err)
		return "", err
	}

	span.SetAttributes(otel.AttrDigest.String(digest))
	s.countCheckpoint("ok")
	s.record(journal.Event{Type: journal.EventCheckpoint, Bandit: s.name, Detail: digest})
	s.logger.Debug("checkpoint saved", "bandit", s.name, "digest", digest)
	return digest, nil
}

func (s *Service) save(ctx context.Context) (string, error) {
	snap, err := s.bandit.Export()
	if err != nil {
		return "", err
	}
	digest, err := canonical.Digest(snap)
	if err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, s.name, snap); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return digest, nil
}

// Close checkpoints once more and releases the store and journal. Further
// calls are no-ops.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, err := s.checkpointLocked(ctx)
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if s.journal != nil {
		if cerr := s.journal.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Service) record(ev journal.Event) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(ev); err != nil {
		s.logger.Warn("journal append failed", "bandit", s.name, "type", ev.Type, "error", err)
	}
}

func (s *Service) recordRejection(arm, ticket string, x []float64, value float64, err error) {
	if !errors.Is(err, bandit.ErrInvalidObservation) {
		return
	}
	s.record(journal.Event{
		Type:    journal.EventReject,
		Bandit:  s.name,
		Arm:     arm,
		Ticket:  ticket,
		Value:   journal.Float(value),
		Context: x,
		Detail:  err.Error(),
	})
}

// observeAfterUpdate refreshes every posterior gauge, since restless bandits
// move all arms on each update.
func (s *Service) observeAfterUpdate() {
	for _, name := range s.bandit.ArmIDs() {
		s.observePosterior(name)
	}
	s.observePending()
}

func (s *Service) observePosterior(arm string) {
	if s.metrics == nil {
		return
	}
	if a, ok := s.bandit.Arm(arm); ok {
		s.metrics.PosteriorMean.WithLabelValues(s.name, arm).Set(a.Predict())
	}
}

func (s *Service) observePending() {
	if s.metrics == nil {
		return
	}
	s.metrics.PendingTickets.WithLabelValues(s.name).Set(float64(s.bandit.PendingTickets()))
}

func (s *Service) countCheckpoint(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Checkpoints.WithLabelValues(s.name, result).Inc()
}
