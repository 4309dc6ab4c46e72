// Package state holds the loop's authoritative position and its crash-safe
// persistence.
//
// LoopState is the single source of truth for which epic, story and phase the
// workflow is in. It is written wholesale with atomic replace semantics and is
// never overwritten from the external sprint-status file; reconciliation only
// flows the other way.
package state

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CurrentVersion is the state file format version written by Save.
const CurrentVersion = 1

// Phase is one discrete stage of the per-story workflow.
type Phase string

// Phases, in workflow order.
const (
	PhaseCreate           Phase = "CREATE"
	PhaseValidateCreate   Phase = "VALIDATE_CREATE"
	PhaseSynthesizeCreate Phase = "SYNTHESIZE_CREATE"
	PhaseDevelop          Phase = "DEVELOP"
	PhaseReview           Phase = "REVIEW"
	PhaseSynthesizeReview Phase = "SYNTHESIZE_REVIEW"
	PhaseRetrospective    Phase = "RETROSPECTIVE"
)

var phaseOrder = []Phase{
	PhaseCreate,
	PhaseValidateCreate,
	PhaseSynthesizeCreate,
	PhaseDevelop,
	PhaseReview,
	PhaseSynthesizeReview,
	PhaseRetrospective,
}

// Phases returns every phase in workflow order.
func Phases() []Phase {
	return slices.Clone(phaseOrder)
}

// Index returns the phase's position in the workflow order, or -1 if the
// phase is unknown.
func (p Phase) Index() int {
	return slices.Index(phaseOrder, p)
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Before reports whether p comes strictly before q in workflow order.
func (p Phase) Before(q Phase) bool {
	return p.Index() < q.Index()
}

// IsValidation reports whether the phase fans out to the validators.
func (p Phase) IsValidation() bool {
	return p == PhaseValidateCreate || p == PhaseReview
}

// IsSynthesis reports whether the phase merges validation reports.
func (p Phase) IsSynthesis() bool {
	return p == PhaseSynthesizeCreate || p == PhaseSynthesizeReview
}

// Slug returns a lowercase, file-name friendly form of the phase.
func (p Phase) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(p)), "_", "-")
}

// ParsePhase converts a phase name into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Result labels how a phase execution ended in the history.
type Result string

const (
	ResultAdvanced Result = "advanced"
	ResultPaused   Result = "paused"
	ResultSkipped  Result = "skipped"
	ResultIgnored  Result = "ignored"
	ResultRetried  Result = "retried"
	ResultFailed   Result = "failed"
)

// PhaseRecord is one entry of the loop history.
type PhaseRecord struct {
	Epic   int       `yaml:"epic"`
	Story  string    `yaml:"story,omitempty"`
	Phase  Phase     `yaml:"phase"`
	Result Result    `yaml:"result"`
	Detail string    `yaml:"detail,omitempty"`
	At     time.Time `yaml:"at"`
}

// Position is a point in the workflow.
type Position struct {
	Epic  int    `yaml:"epic"`
	Story string `yaml:"story,omitempty"`
	Phase Phase  `yaml:"phase"`
	Done  bool   `yaml:"done,omitempty"`
}

// String renders the position for logs and terminal output.
func (p Position) String() string {
	if p.Done {
		return "done"
	}
	if p.Story == "" {
		return fmt.Sprintf("epic %d %s", p.Epic, p.Phase)
	}
	return fmt.Sprintf("story %s %s", p.Story, p.Phase)
}

// PauseInfo describes why the loop is halted. A non-nil LoopState.Pause is
// the PAUSED meta-state; Phase still names the phase the anomaly came from.
type PauseInfo struct {
	AnomalyID   string    `yaml:"anomaly_id"`
	AnomalyFile string    `yaml:"anomaly_file"`
	AnomalyType string    `yaml:"anomaly_type"`
	Next        Position  `yaml:"next"`
	At          time.Time `yaml:"at"`
}

// LoopState is the durable position of the workflow.
type LoopState struct {
	Version          int           `yaml:"version"`
	Epic             int           `yaml:"current_epic"`
	Story            string        `yaml:"current_story"`
	Phase            Phase         `yaml:"current_phase"`
	CompletedStories []string      `yaml:"completed_stories"`
	UpdatedAt        time.Time     `yaml:"updated_at"`
	Done             bool          `yaml:"done,omitempty"`
	Pause            *PauseInfo    `yaml:"pause,omitempty"`
	PendingReports   []string      `yaml:"pending_reports,omitempty"`
	PendingFailures  []string      `yaml:"pending_failures,omitempty"`
	ResumeNote       string        `yaml:"resume_note,omitempty"`
	History          []PhaseRecord `yaml:"history,omitempty"`
}

// Fresh returns the state of a loop that has never run: no epic selected
// yet, positioned at CREATE. The loop resolves epic 0 to the first story of
// the catalog on its first phase.
func Fresh() LoopState {
	return LoopState{
		Version:          CurrentVersion,
		Phase:            PhaseCreate,
		CompletedStories: []string{},
	}
}

// IsFresh reports whether no position has been selected yet.
func (s LoopState) IsFresh() bool {
	return s.Epic == 0 && s.Story == "" && !s.Done
}

// Paused reports whether the loop is waiting for a resolution.
func (s LoopState) Paused() bool {
	return s.Pause != nil
}

// Position returns the current position.
func (s LoopState) Position() Position {
	return Position{Epic: s.Epic, Story: s.Story, Phase: s.Phase, Done: s.Done}
}

// IsCompleted reports whether story is in the completed list.
func (s LoopState) IsCompleted(story string) bool {
	return slices.Contains(s.CompletedStories, story)
}

// Clone returns a deep copy so callers can derive a new state without
// aliasing slices of the persisted one.
func (s LoopState) Clone() LoopState {
	c := s
	c.CompletedStories = slices.Clone(s.CompletedStories)
	c.PendingReports = slices.Clone(s.PendingReports)
	c.PendingFailures = slices.Clone(s.PendingFailures)
	c.History = slices.Clone(s.History)
	if s.Pause != nil {
		p := *s.Pause
		c.Pause = &p
	}
	return c
}

// Record appends a history entry for the current position.
func (s *LoopState) Record(result Result, detail string, at time.Time) {
	s.History = append(s.History, PhaseRecord{
		Epic:   s.Epic,
		Story:  s.Story,
		Phase:  s.Phase,
		Result: result,
		Detail: detail,
		At:     at,
	})
}

// MoveTo sets the position. When the move leaves SYNTHESIZE_REVIEW the
// current story is appended to the completed list exactly once.
func (s *LoopState) MoveTo(next Position) {
	if s.Phase == PhaseSynthesizeReview && s.Story != "" && !s.IsCompleted(s.Story) {
		s.CompletedStories = append(s.CompletedStories, s.Story)
	}
	s.Epic = next.Epic
	s.Story = next.Story
	s.Phase = next.Phase
	s.Done = next.Done
	s.Pause = nil
	s.ResumeNote = ""
}

// Check verifies the structural invariants of a loaded or to-be-saved state.
func (s LoopState) Check() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("current_phase %q is not a known phase", s.Phase)
	}
	if s.Epic < 0 {
		return fmt.Errorf("current_epic %d is negative", s.Epic)
	}
	if s.Epic > 0 && !s.Done && s.Phase != PhaseRetrospective && s.Story == "" {
		return fmt.Errorf("current_story is required in phase %s", s.Phase)
	}
	if s.Story != "" {
		epic, ok := storyEpic(s.Story)
		if !ok {
			return fmt.Errorf("current_story %q is not <epic>.<story>", s.Story)
		}
		if epic != s.Epic {
			return fmt.Errorf("current_story %q is not in current_epic %d", s.Story, s.Epic)
		}
	}
	seen := make(map[string]bool, len(s.CompletedStories))
	for _, id := range s.CompletedStories {
		if id == "" {
			return fmt.Errorf("completed_stories contains an empty id")
		}
		if _, ok := storyEpic(id); !ok {
			return fmt.Errorf("completed_stories entry %q is not <epic>.<story>", id)
		}
		if seen[id] {
			return fmt.Errorf("completed_stories contains %q twice", id)
		}
		seen[id] = true
	}
	if s.Pause != nil && s.Pause.AnomalyID == "" {
		return fmt.Errorf("pause without anomaly_id")
	}
	return nil
}

// storyEpic returns the epic of a "<epic>.<story>" id with both parts
// positive integers.
func storyEpic(id string) (int, bool) {
	e, n, ok := strings.Cut(id, ".")
	if !ok {
		return 0, false
	}
	epic, err := strconv.Atoi(e)
	if err != nil || epic <= 0 {
		return 0, false
	}
	if story, err := strconv.Atoi(n); err != nil || story <= 0 {
		return 0, false
	}
	return epic, true
}
