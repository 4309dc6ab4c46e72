package guardian

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/storyloop/internal/artifact"
	"github.com/Iron-Ham/storyloop/internal/errors"
)

// Action is what a human decided to do about an anomaly.
type Action string

const (
	// ActionRetry re-runs the paused phase, carrying the instruction into its prompt.
	ActionRetry Action = "retry"
	// ActionIgnore accepts the flagged output and advances.
	ActionIgnore Action = "ignore"
	// ActionSkip advances without accepting the output.
	ActionSkip Action = "skip"
)

// Actions returns the valid resolution actions.
func Actions() []Action {
	return []Action{ActionRetry, ActionIgnore, ActionSkip}
}

// ParseAction converts a user-supplied string to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionRetry, ActionIgnore, ActionSkip:
		return a, nil
	case "retry-phase":
		return ActionRetry, nil
	case "ignore-output":
		return ActionIgnore, nil
	}
	return "", errors.NewValidationError("unknown resolution action").
		WithField("action").
		WithValue(s)
}

// Resolution is the external input that releases a pause.
type Resolution struct {
	Action      Action    `yaml:"action"`
	Instruction string    `yaml:"instruction,omitempty"`
	By          string    `yaml:"by,omitempty"`
	At          time.Time `yaml:"at"`
	// Outcome records what the loop did with the resolution once applied.
	Outcome string `yaml:"outcome,omitempty"`
}

// AnomalyRecord is the durable account of one pause: the output that
// triggered it, where it happened, how the Guardian classified it and, once
// supplied, the human resolution.
type AnomalyRecord struct {
	ID         string      `yaml:"id"`
	CreatedAt  time.Time   `yaml:"created_at"`
	Epic       int         `yaml:"epic"`
	Story      string      `yaml:"story,omitempty"`
	Phase      string      `yaml:"phase"`
	Tool       string      `yaml:"tool,omitempty"`
	Model      string      `yaml:"model,omitempty"`
	Type       Type        `yaml:"type"`
	Confidence float64     `yaml:"confidence"`
	Rationale  string      `yaml:"rationale"`
	Resolution *Resolution `yaml:"resolution,omitempty"`

	// Output is the full triggering output. It lives in the document body.
	Output string `yaml:"-"`
	// File is where the record is stored. Set by AnomalyStore.
	File string `yaml:"-"`
}

// NewRecord builds a record for a verdict on in.
func NewRecord(id string, in Input, v Verdict, at time.Time) *AnomalyRecord {
	return &AnomalyRecord{
		ID:         id,
		CreatedAt:  at.UTC(),
		Epic:       in.Epic,
		Story:      in.Story,
		Phase:      in.Phase,
		Tool:       in.Tool,
		Model:      in.Model,
		Type:       v.Type,
		Confidence: v.Confidence,
		Rationale:  v.Rationale,
		Output:     in.Output,
	}
}

// Resolved reports whether a resolution has been appended.
func (r *AnomalyRecord) Resolved() bool {
	return r.Resolution != nil
}

// ShortID is the prefix of the id shown in listings.
func (r *AnomalyRecord) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// Location describes where the anomaly happened, e.g. "story 2.3 REVIEW (codex/gpt-5)".
func (r *AnomalyRecord) Location() string {
	var b strings.Builder
	if r.Story != "" {
		fmt.Fprintf(&b, "story %s %s", r.Story, r.Phase)
	} else {
		fmt.Fprintf(&b, "epic %d %s", r.Epic, r.Phase)
	}
	if r.Tool != "" {
		fmt.Fprintf(&b, " (%s/%s)", r.Tool, r.Model)
	}
	return b.String()
}

const outputHeading = "## Triggering output"

// Markdown renders the record as frontmatter plus a human-readable body.
func (r *AnomalyRecord) Markdown() ([]byte, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "# Anomaly: %s\n\n", r.Type)
	fmt.Fprintf(&body, "%s, confidence %.2f.\n\n", r.Location(), r.Confidence)
	fmt.Fprintf(&body, "%s\n\n", r.Rationale)
	if r.Resolution != nil {
		fmt.Fprintf(&body, "## Resolution\n\n**%s** at %s", r.Resolution.Action, r.Resolution.At.Format(time.RFC3339))
		if r.Resolution.Instruction != "" {
			fmt.Fprintf(&body, ": %s", r.Resolution.Instruction)
		}
		body.WriteString("\n")
		if r.Resolution.Outcome != "" {
			fmt.Fprintf(&body, "\nOutcome: %s\n", r.Resolution.Outcome)
		}
		body.WriteString("\n")
	}
	body.WriteString(outputHeading + "\n\n")
	body.WriteString(artifact.CodeBlock(r.Output))

	return artifact.WriteFrontMatter(r, []byte(body.String()))
}

// ParseRecord decodes a document written by Markdown.
func ParseRecord(data []byte) (*AnomalyRecord, error) {
	var rec AnomalyRecord
	body, err := artifact.ParseFrontMatter(data, &rec)
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: anomaly record has no id", artifact.ErrMalformedFrontMatter)
	}
	rec.Output, _ = artifact.ExtractCodeBlock(string(body), outputHeading)
	return &rec, nil
}
