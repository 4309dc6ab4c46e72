package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "phase.started", "loop.paused")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypePhaseStarted         = "phase.started"
	TypePhaseCompleted       = "phase.completed"
	TypeProcessFinished      = "process.finished"
	TypeValidatorSettled     = "validator.settled"
	TypeLoopPaused           = "loop.paused"
	TypeLoopResumed          = "loop.resumed"
	TypeStoryCompleted       = "story.completed"
	TypeDiscrepancyCorrected = "discrepancy.corrected"
	TypeLoopFinished         = "loop.finished"
)

// Position identifies where in the workflow an event happened.
type Position struct {
	Epic  int
	Story string
	Phase string
}

// -----------------------------------------------------------------------------
// Phase Events
// -----------------------------------------------------------------------------

// PhaseStartedEvent is emitted before a phase is executed.
type PhaseStartedEvent struct {
	baseEvent
	Position
	Resumed bool // Phase is being re-entered after a crash or retry resolution
}

// NewPhaseStartedEvent creates a PhaseStartedEvent.
func NewPhaseStartedEvent(pos Position, resumed bool) PhaseStartedEvent {
	return PhaseStartedEvent{
		baseEvent: newBaseEvent(TypePhaseStarted),
		Position:  pos,
		Resumed:   resumed,
	}
}

// PhaseCompletedEvent is emitted after a phase outcome has been committed.
type PhaseCompletedEvent struct {
	baseEvent
	Position
	Result   string // "advanced", "paused" or "failed"
	Duration time.Duration
}

// NewPhaseCompletedEvent creates a PhaseCompletedEvent.
func NewPhaseCompletedEvent(pos Position, result string, duration time.Duration) PhaseCompletedEvent {
	return PhaseCompletedEvent{
		baseEvent: newBaseEvent(TypePhaseCompleted),
		Position:  pos,
		Result:    result,
		Duration:  duration,
	}
}

// -----------------------------------------------------------------------------
// Process Events
// -----------------------------------------------------------------------------

// ProcessFinishedEvent is emitted after every external tool invocation.
type ProcessFinishedEvent struct {
	baseEvent
	Role    string // "primary" or "validator"
	Tool    string
	Model   string
	Status  string // success, non_zero_exit, timed_out, canceled, start_failed
	Elapsed time.Duration
}

// NewProcessFinishedEvent creates a ProcessFinishedEvent.
func NewProcessFinishedEvent(role, tool, model, status string, elapsed time.Duration) ProcessFinishedEvent {
	return ProcessFinishedEvent{
		baseEvent: newBaseEvent(TypeProcessFinished),
		Role:      role,
		Tool:      tool,
		Model:     model,
		Status:    status,
		Elapsed:   elapsed,
	}
}

// ValidatorSettledEvent is emitted once per validator in a validation phase,
// whether it succeeded, failed or timed out.
type ValidatorSettledEvent struct {
	baseEvent
	Position
	Tool       string
	Model      string
	Status     string
	ReportPath string // Empty unless the validator succeeded
	Error      string // Empty on success
}

// NewValidatorSettledEvent creates a ValidatorSettledEvent.
func NewValidatorSettledEvent(pos Position, tool, model, status, reportPath, errMsg string) ValidatorSettledEvent {
	return ValidatorSettledEvent{
		baseEvent:  newBaseEvent(TypeValidatorSettled),
		Position:   pos,
		Tool:       tool,
		Model:      model,
		Status:     status,
		ReportPath: reportPath,
		Error:      errMsg,
	}
}

// -----------------------------------------------------------------------------
// Loop Events
// -----------------------------------------------------------------------------

// LoopPausedEvent is emitted when an anomaly halts the loop.
type LoopPausedEvent struct {
	baseEvent
	Position
	AnomalyID   string
	AnomalyType string
	AnomalyFile string
}

// NewLoopPausedEvent creates a LoopPausedEvent.
func NewLoopPausedEvent(pos Position, anomalyID, anomalyType, anomalyFile string) LoopPausedEvent {
	return LoopPausedEvent{
		baseEvent:   newBaseEvent(TypeLoopPaused),
		Position:    pos,
		AnomalyID:   anomalyID,
		AnomalyType: anomalyType,
		AnomalyFile: anomalyFile,
	}
}

// LoopResumedEvent is emitted when a resolution has been applied.
type LoopResumedEvent struct {
	baseEvent
	Position
	AnomalyID string
	Action    string // retry, ignore or skip
}

// NewLoopResumedEvent creates a LoopResumedEvent.
func NewLoopResumedEvent(pos Position, anomalyID, action string) LoopResumedEvent {
	return LoopResumedEvent{
		baseEvent: newBaseEvent(TypeLoopResumed),
		Position:  pos,
		AnomalyID: anomalyID,
		Action:    action,
	}
}

// StoryCompletedEvent is emitted when a story is appended to the completed list.
type StoryCompletedEvent struct {
	baseEvent
	Epic  int
	Story string
}

// NewStoryCompletedEvent creates a StoryCompletedEvent.
func NewStoryCompletedEvent(epic int, story string) StoryCompletedEvent {
	return StoryCompletedEvent{
		baseEvent: newBaseEvent(TypeStoryCompleted),
		Epic:      epic,
		Story:     story,
	}
}

// LoopFinishedEvent is emitted when Run returns.
type LoopFinishedEvent struct {
	baseEvent
	Reason string // "done", "paused", "stopped", "canceled" or "failed"
}

// NewLoopFinishedEvent creates a LoopFinishedEvent.
func NewLoopFinishedEvent(reason string) LoopFinishedEvent {
	return LoopFinishedEvent{
		baseEvent: newBaseEvent(TypeLoopFinished),
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Reconciliation Events
// -----------------------------------------------------------------------------

// DiscrepancyCorrectedEvent is emitted for every correction attempt,
// including the ones that turned out to be unnecessary or were declined.
type DiscrepancyCorrectedEvent struct {
	baseEvent
	DiscrepancyType string
	Subject         string
	Outcome         string // corrected, no_change_needed, declined, error
}

// NewDiscrepancyCorrectedEvent creates a DiscrepancyCorrectedEvent.
func NewDiscrepancyCorrectedEvent(discrepancyType, subject, outcome string) DiscrepancyCorrectedEvent {
	return DiscrepancyCorrectedEvent{
		baseEvent:       newBaseEvent(TypeDiscrepancyCorrected),
		DiscrepancyType: discrepancyType,
		Subject:         subject,
		Outcome:         outcome,
	}
}
