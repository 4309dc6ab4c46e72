package loop

import (
	"time"

	"github.com/Iron-Ham/storyloop/internal/guardian"
	"github.com/Iron-Ham/storyloop/internal/state"
)

// Kind distinguishes the two ways a phase can end.
type Kind int

const (
	// KindAdvance moves the loop to Next.
	KindAdvance Kind = iota
	// KindPause halts the loop on Anomaly until a resolution arrives.
	KindPause
)

func (k Kind) String() string {
	if k == KindPause {
		return "pause"
	}
	return "advance"
}

// PhaseOutcome is the result of executing one phase. Anomalies are values
// here, not errors; errors from ExecutePhase mean the phase did not finish.
type PhaseOutcome struct {
	Kind Kind
	// Next is the position to move to. For a pause it is where the loop goes
	// once the anomaly is ignored or skipped.
	Next    state.Position
	Anomaly *guardian.AnomalyRecord
	// Reports and Failures are what a validation phase produced. They are
	// carried in the state until the matching synthesis phase runs.
	Reports  []string
	Failures []string
	// Skipped is set when the phase had nothing to do.
	Skipped bool
	Detail  string
	Elapsed time.Duration
}

// Advance returns an outcome moving to next.
func Advance(next state.Position) PhaseOutcome {
	return PhaseOutcome{Kind: KindAdvance, Next: next}
}

// Pause returns an outcome halting on rec. next is kept for a later ignore
// or skip.
func Pause(rec *guardian.AnomalyRecord, next state.Position) PhaseOutcome {
	return PhaseOutcome{Kind: KindPause, Next: next, Anomaly: rec}
}

// Paused reports whether the outcome halts the loop.
func (o PhaseOutcome) Paused() bool {
	return o.Kind == KindPause
}
