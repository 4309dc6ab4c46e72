package reconcile

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/event"
	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/sprint"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// Outcome is how a correction attempt ended.
type Outcome string

const (
	OutcomeCorrected      Outcome = "corrected"
	OutcomeNoChangeNeeded Outcome = "no_change_needed"
	OutcomeDeclined       Outcome = "declined"
	OutcomeError          Outcome = "error"
)

// Result is the outcome of correcting one discrepancy.
type Result struct {
	Discrepancy Discrepancy
	Outcome     Outcome
	Err         error
}

// Confirmer asks a human whether a correction may be written.
type Confirmer interface {
	Confirm(ctx context.Context, d Discrepancy) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, d Discrepancy) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, d Discrepancy) (bool, error) {
	return f(ctx, d)
}

// Reconciler detects and corrects drift between the loop state and the
// sprint-status document.
type Reconciler struct {
	doc     sprint.Document
	confirm Confirmer
	bus     *event.Bus
	logger  *logging.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithConfirmer sets the confirmer used for non-automatic corrections.
func WithConfirmer(c Confirmer) Option {
	return func(r *Reconciler) { r.confirm = c }
}

// WithBus publishes a DiscrepancyCorrectedEvent per attempt.
func WithBus(bus *event.Bus) Option {
	return func(r *Reconciler) { r.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New returns a Reconciler over doc.
func New(doc sprint.Document, opts ...Option) *Reconciler {
	r := &Reconciler{doc: doc, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check reads the document and returns the discrepancies with st.
func (r *Reconciler) Check(ctx context.Context, st state.LoopState) ([]Discrepancy, error) {
	ext, err := r.doc.Read(ctx)
	if err != nil {
		return nil, err
	}
	return Detect(st, ext), nil
}

// Correct brings the document in line for d. The document is re-read first,
// so correcting an already-corrected discrepancy is a no-op. Without auto the
// confirmer decides; a missing confirmer declines. The write is verified by
// reading the document back. Correct never touches the loop state.
func (r *Reconciler) Correct(ctx context.Context, d Discrepancy, auto bool) Result {
	res := r.correct(ctx, d, auto)
	logger := r.logger.With("discrepancy", string(d.Type), "subject", d.Subject, "outcome", string(res.Outcome))
	if res.Err != nil {
		logger.Warn("reconciliation failed", "location", d.Location, "error", res.Err.Error())
	} else if res.Outcome == OutcomeCorrected {
		logger.Info("sprint status corrected", "key", d.Key, "status", d.Expected)
	} else {
		logger.Debug("reconciliation skipped")
	}
	if r.bus != nil {
		r.bus.Publish(event.NewDiscrepancyCorrectedEvent(string(d.Type), d.Subject, string(res.Outcome)))
	}
	return res
}

func (r *Reconciler) correct(ctx context.Context, d Discrepancy, auto bool) Result {
	fail := func(msg string, err error) Result {
		return Result{
			Discrepancy: d,
			Outcome:     OutcomeError,
			Err:         errors.NewReconciliationError(msg, err).WithSubject(d.Subject).WithLocation(d.Location),
		}
	}

	ext, err := r.doc.Read(ctx)
	if err != nil {
		return fail("failed to read sprint status", err)
	}
	entry, found := lookup(ext, d)
	if found && d.satisfied(entry.Status) {
		return Result{Discrepancy: d, Outcome: OutcomeNoChangeNeeded}
	}

	if !auto {
		if r.confirm == nil {
			return Result{Discrepancy: d, Outcome: OutcomeDeclined}
		}
		ok, err := r.confirm.Confirm(ctx, d)
		if err != nil {
			return fail("confirmation failed", err)
		}
		if !ok {
			return Result{Discrepancy: d, Outcome: OutcomeDeclined}
		}
	}

	change := sprint.Change{Key: d.Key, Status: d.Expected, After: d.After}
	if found {
		// The entry may have been added under another slug since detection.
		change.Key = entry.Key
	}
	if err := r.doc.Apply(ctx, change); err != nil {
		return fail("failed to update sprint status", errors.Join(errors.ErrCorrectionRejected, err))
	}

	ext, err = r.doc.Read(ctx)
	if err != nil {
		return fail("failed to re-read sprint status", err)
	}
	entry, found = lookup(ext, d)
	if !found || entry.Status != d.Expected {
		got := "missing"
		if found {
			got = entry.Status
		}
		return fail(fmt.Sprintf("%s reads %s after writing %s", change.Key, got, d.Expected), errors.ErrCorrectionUnverified)
	}
	return Result{Discrepancy: d, Outcome: OutcomeCorrected}
}

// CorrectAll detects every discrepancy with st and corrects each in turn.
// Failures are reported per result; the returned error is only for a
// document that cannot be read.
func (r *Reconciler) CorrectAll(ctx context.Context, st state.LoopState, auto bool) ([]Result, error) {
	found, err := r.Check(ctx, st)
	if err != nil {
		return nil, errors.NewReconciliationError("failed to read sprint status", err)
	}
	results := make([]Result, 0, len(found))
	for _, d := range found {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, r.Correct(ctx, d, auto))
	}
	return results, nil
}

// lookup finds the entry d refers to in ext. Stories are matched by id so a
// renamed slug still counts.
func lookup(ext sprint.ProjectState, d Discrepancy) (sprint.Entry, bool) {
	switch d.Type {
	case TypeStoryStatus, TypeStoryMissing:
		s, ok := ext.Story(d.Subject)
		return s.Entry, ok
	}
	for _, e := range ext.Epics {
		if e.Key == d.Key {
			return e.Entry, true
		}
		if e.Retrospective != nil && e.Retrospective.Key == d.Key {
			return *e.Retrospective, true
		}
	}
	return sprint.Entry{}, false
}
