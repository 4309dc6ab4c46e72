package loop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/event"
	"github.com/Iron-Ham/storyloop/internal/guardian"
	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/prompt"
	"github.com/Iron-Ham/storyloop/internal/provider"
	"github.com/Iron-Ham/storyloop/internal/reconcile"
	"github.com/Iron-Ham/storyloop/internal/sprint"
	"github.com/Iron-Ham/storyloop/internal/state"
	"github.com/Iron-Ham/storyloop/internal/util"
	"github.com/Iron-Ham/storyloop/internal/validation"
)

// Reason is why Run returned.
type Reason string

const (
	ReasonDone     Reason = "done"
	ReasonPaused   Reason = "paused"
	ReasonStopped  Reason = "stopped"
	ReasonCanceled Reason = "canceled"
	ReasonFailed   Reason = "failed"
)

// Options wires a Machine. Reconciler, Prompts, Bus and Logger are optional.
type Options struct {
	Project     config.ProjectConfig
	Store       *state.Store
	Catalog     sprint.Reader
	Primary     provider.Provider
	Coordinator *validation.Coordinator
	Guardian    *guardian.Guardian
	Anomalies   *guardian.Store

	// Reconciler aligns the sprint-status document before every phase.
	Reconciler    *reconcile.Reconciler
	ReconcileAuto bool

	// Prompts defaults to the built-in templates.
	Prompts prompt.Builder

	// WaitForResolution blocks while paused until a resolution request is
	// dropped next to the anomaly record, instead of returning.
	WaitForResolution bool

	Bus    *event.Bus
	Logger *logging.Logger
}

// RunResult describes how Run ended.
type RunResult struct {
	Reason Reason
	// State is the last committed state.
	State state.LoopState
	// Anomaly is set when Reason is ReasonPaused.
	Anomaly *guardian.AnomalyRecord
	// Phases counts the phases executed by this run.
	Phases int
}

// Machine drives the workflow one phase at a time, committing the state
// after every phase.
type Machine struct {
	project       config.ProjectConfig
	store         *state.Store
	catalog       sprint.Reader
	primary       provider.Provider
	coordinator   *validation.Coordinator
	guardian      *guardian.Guardian
	anomalies     *guardian.Store
	reconciler    *reconcile.Reconciler
	reconcileAuto bool
	prompts       prompt.Builder
	wait          bool
	bus           *event.Bus
	logger        *logging.Logger
	now           func() time.Time

	stopping atomic.Bool
}

// New validates opts and returns a Machine.
func New(opts Options) (*Machine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.NewValidationError("state store is required").WithField("store")
	case opts.Catalog == nil:
		return nil, errors.NewValidationError("story catalog is required").WithField("catalog")
	case opts.Primary == nil:
		return nil, errors.NewValidationError("primary provider is required").WithField("primary")
	case opts.Coordinator == nil:
		return nil, errors.NewValidationError("validation coordinator is required").WithField("coordinator")
	case opts.Guardian == nil:
		return nil, errors.NewValidationError("guardian is required").WithField("guardian")
	case opts.Anomalies == nil:
		return nil, errors.NewValidationError("anomaly store is required").WithField("anomalies")
	}
	if opts.Prompts == nil {
		b, err := prompt.NewTemplateBuilder("")
		if err != nil {
			return nil, err
		}
		opts.Prompts = b
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus(opts.Logger)
	}
	return &Machine{
		project:       opts.Project,
		store:         opts.Store,
		catalog:       opts.Catalog,
		primary:       opts.Primary,
		coordinator:   opts.Coordinator,
		guardian:      opts.Guardian,
		anomalies:     opts.Anomalies,
		reconciler:    opts.Reconciler,
		reconcileAuto: opts.ReconcileAuto,
		prompts:       opts.Prompts,
		wait:          opts.WaitForResolution,
		bus:           opts.Bus,
		logger:        opts.Logger,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Stop asks Run to return after the phase in flight has been committed.
func (m *Machine) Stop() {
	m.stopping.Store(true)
}

// Run loads the state, applies a pending resolution if the loop is paused,
// and executes phases until the workflow is done, pauses, is stopped or
// fails. A corrupted state file is fatal. Cancelling ctx kills the process
// in flight; the last committed state stays on disk.
func (m *Machine) Run(ctx context.Context) (RunResult, error) {
	st, err := m.store.Load()
	if err != nil {
		m.logger.Error("failed to load state", "error", err.Error())
		return RunResult{Reason: ReasonFailed}, err
	}
	m.logger.Info("loop starting",
		"position", st.Position().String(),
		"paused", st.Paused(),
		"completed", len(st.CompletedStories))

	res, err := m.run(ctx, &st)
	res.State = st.Clone()
	m.bus.Publish(event.NewLoopFinishedEvent(string(res.Reason)))

	logger := m.logger.With("reason", string(res.Reason), "phases", res.Phases, "position", st.Position().String())
	if err != nil {
		logger.Error("loop finished", "error", err.Error())
	} else {
		logger.Info("loop finished")
	}
	return res, err
}

func (m *Machine) run(ctx context.Context, st *state.LoopState) (RunResult, error) {
	var result RunResult
	// The first phase of a run re-executes whatever phase was committed last.
	resumed := !st.IsFresh()

	for {
		if st.Done {
			if result.Phases > 0 {
				m.reconcile(ctx, *st)
			}
			result.Reason = ReasonDone
			return result, nil
		}

		if st.Paused() {
			rec, ok, err := m.resume(ctx, st)
			if err != nil {
				return m.halt(ctx, st, result, err)
			}
			if !ok {
				result.Reason = ReasonPaused
				result.Anomaly = rec
				return result, nil
			}
			resumed = true
			continue
		}

		if m.stopping.Load() {
			result.Reason = ReasonStopped
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return m.halt(ctx, st, result, err)
		}

		catalog, err := m.catalog.Read(ctx)
		if err != nil {
			return m.halt(ctx, st, result, fmt.Errorf("failed to read story catalog: %w", err))
		}

		if st.IsFresh() {
			start, err := Next(*st, catalog)
			if err != nil {
				return m.halt(ctx, st, result, err)
			}
			st.MoveTo(start)
			if err := m.store.Save(st); err != nil {
				result.Reason = ReasonFailed
				return result, err
			}
			m.logger.Info("workflow started", "position", start.String())
			continue
		}

		m.reconcile(ctx, *st)

		outcome, err := m.executePhase(ctx, *st, catalog, resumed)
		resumed = false
		if err != nil {
			return m.halt(ctx, st, result, err)
		}
		if err := m.commit(st, outcome); err != nil {
			result.Reason = ReasonFailed
			return result, err
		}
		result.Phases++
	}
}

// halt persists the last committed position (plus a failure entry in the
// history) and ends the run with cause. The write ignores ctx.
func (m *Machine) halt(ctx context.Context, st *state.LoopState, result RunResult, cause error) (RunResult, error) {
	result.Reason = ReasonFailed
	if ctx.Err() != nil {
		result.Reason = ReasonCanceled
		if !errors.Is(cause, errors.ErrCanceled) {
			cause = errors.Join(errors.ErrCanceled, cause)
		}
	} else if !st.IsFresh() {
		st.Record(state.ResultFailed, util.FirstLine(cause.Error()), m.now())
	}
	m.logger.Error("loop halted",
		"position", st.Position().String(),
		"error", cause.Error(),
		"severity", errors.GetSeverity(cause).String(),
		"retryable", errors.IsRetryable(cause),
		"fatal", errors.IsFatal(cause),
	)

	if err := m.store.Save(st); err != nil {
		return result, errors.Join(cause, err)
	}
	return result, cause
}

func (m *Machine) reconcile(ctx context.Context, st state.LoopState) {
	if m.reconciler == nil {
		return
	}
	results, err := m.reconciler.CorrectAll(ctx, st, m.reconcileAuto)
	if err != nil {
		m.logger.Warn("reconciliation skipped", "error", err.Error())
		return
	}
	corrected, failed := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case reconcile.OutcomeCorrected:
			corrected++
		case reconcile.OutcomeError:
			failed++
		}
	}
	if len(results) > 0 {
		m.logger.Info("reconciliation finished",
			"discrepancies", len(results),
			"corrected", corrected,
			"failed", failed)
	}
}

// commit records outcome in st and saves it before anything else happens.
func (m *Machine) commit(st *state.LoopState, o PhaseOutcome) error {
	at := m.now()
	pos := eventPosition(*st)

	if st.Phase.IsValidation() {
		st.PendingReports = o.Reports
		st.PendingFailures = o.Failures
	}

	if o.Paused() {
		st.Record(state.ResultPaused, fmt.Sprintf("anomaly %s: %s", o.Anomaly.ShortID(), o.Anomaly.Type), at)
		st.Pause = &state.PauseInfo{
			AnomalyID:   o.Anomaly.ID,
			AnomalyFile: o.Anomaly.File,
			AnomalyType: string(o.Anomaly.Type),
			Next:        o.Next,
			At:          at,
		}
		if err := m.store.Save(st); err != nil {
			return err
		}
		m.logger.WithEpic(st.Epic).WithStory(st.Story).WithPhase(string(st.Phase)).Warn("loop paused",
			"anomaly_id", o.Anomaly.ID,
			"anomaly_type", string(o.Anomaly.Type),
			"confidence", o.Anomaly.Confidence,
			"record", o.Anomaly.File)
		m.bus.Publish(event.NewPhaseCompletedEvent(pos, string(state.ResultPaused), o.Elapsed))
		m.bus.Publish(event.NewLoopPausedEvent(pos, o.Anomaly.ID, string(o.Anomaly.Type), o.Anomaly.File))
		return nil
	}

	result := state.ResultAdvanced
	if o.Skipped {
		result = state.ResultSkipped
	}
	st.Record(result, o.Detail, at)
	if st.Phase.IsSynthesis() {
		st.PendingReports = nil
		st.PendingFailures = nil
	}
	finished := st.Phase == state.PhaseSynthesizeReview
	story := st.Story
	st.MoveTo(o.Next)
	if err := m.store.Save(st); err != nil {
		return err
	}

	m.bus.Publish(event.NewPhaseCompletedEvent(pos, string(result), o.Elapsed))
	if finished {
		m.logger.WithEpic(pos.Epic).WithStory(story).Info("story completed")
		m.bus.Publish(event.NewStoryCompletedEvent(pos.Epic, story))
	}
	return nil
}

// resume applies the resolution for the anomaly st is paused on. It returns
// false when no resolution is available yet. A record that is already
// resolved (a crash between resolving and saving) is applied as recorded.
func (m *Machine) resume(ctx context.Context, st *state.LoopState) (*guardian.AnomalyRecord, bool, error) {
	rec, err := m.anomalies.Find(st.Pause.AnomalyID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load anomaly for paused loop: %w", err)
	}

	if !rec.Resolved() {
		req, err := m.anomalies.PendingRequest(rec)
		if err != nil {
			return rec, false, err
		}
		if req == nil {
			if !m.wait {
				return rec, false, nil
			}
			m.logger.Info("waiting for resolution",
				"anomaly_id", rec.ID,
				"request_file", guardian.RequestPath(rec))
			if req, err = m.anomalies.WaitForResolution(ctx, rec); err != nil {
				return rec, false, err
			}
		}
		req.Outcome = describeResolution(*st, req.Action)
		rec, err = m.anomalies.Resolve(rec.ID, *req)
		if err != nil && !errors.Is(err, errors.ErrAlreadyResolved) {
			return rec, false, err
		}
	}

	pos := eventPosition(*st)
	if err := ApplyResolution(st, *rec.Resolution, m.now()); err != nil {
		return rec, false, err
	}
	if err := m.store.Save(st); err != nil {
		return rec, false, err
	}
	if err := m.anomalies.ClearRequest(rec); err != nil {
		m.logger.Warn("failed to remove resolution request", "anomaly_id", rec.ID, "error", err.Error())
	}

	m.logger.Info("loop resumed",
		"anomaly_id", rec.ID,
		"action", string(rec.Resolution.Action),
		"position", st.Position().String())
	m.bus.Publish(event.NewLoopResumedEvent(pos, rec.ID, string(rec.Resolution.Action)))
	return rec, true, nil
}

// ApplyResolution releases the pause in st:
//   - retry re-enters the paused phase with the instruction as resume note
//   - ignore accepts the flagged output and moves to the precomputed next position
//   - skip moves to the next position without it
func ApplyResolution(st *state.LoopState, res guardian.Resolution, at time.Time) error {
	if st.Pause == nil {
		return errors.ErrNotPaused
	}
	action, err := guardian.ParseAction(string(res.Action))
	if err != nil {
		return err
	}

	detail := fmt.Sprintf("anomaly %s", shortID(st.Pause.AnomalyID))
	if res.Instruction != "" {
		detail += ": " + res.Instruction
	}
	next := st.Pause.Next

	switch action {
	case guardian.ActionRetry:
		st.Record(state.ResultRetried, detail, at)
		if st.Phase.IsValidation() {
			st.PendingReports = nil
			st.PendingFailures = nil
		}
		st.Pause = nil
		st.ResumeNote = res.Instruction
	case guardian.ActionIgnore:
		st.Record(state.ResultIgnored, detail, at)
		if st.Phase.IsSynthesis() {
			st.PendingReports = nil
			st.PendingFailures = nil
		}
		st.MoveTo(next)
	case guardian.ActionSkip:
		st.Record(state.ResultSkipped, detail, at)
		if st.Phase.IsValidation() || st.Phase.IsSynthesis() {
			st.PendingReports = nil
			st.PendingFailures = nil
		}
		st.MoveTo(next)
	}
	return nil
}

func describeResolution(st state.LoopState, action guardian.Action) string {
	switch action {
	case guardian.ActionRetry:
		return "re-entered " + st.Position().String()
	case guardian.ActionIgnore, guardian.ActionSkip:
		if st.Pause != nil {
			return "moved to " + st.Pause.Next.String()
		}
	}
	return ""
}

func eventPosition(st state.LoopState) event.Position {
	return event.Position{Epic: st.Epic, Story: st.Story, Phase: string(st.Phase)}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
