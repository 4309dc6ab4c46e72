package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Iron-Ham/storyloop/internal/artifact"
	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/state"
	"github.com/Iron-Ham/storyloop/internal/util"
)

const (
	reportTempPrefix = ".report-"
	fileTimeLayout   = "20060102T150405Z"
	outputHeading    = "## Output"
)

// Scope identifies the story and phase a validation or synthesis belongs to.
type Scope struct {
	Epic  int
	Story string
	Phase state.Phase
}

func (s Scope) String() string {
	return fmt.Sprintf("story %s %s", s.Story, s.Phase)
}

// Report is one validator's opinion. It is immutable once written.
type Report struct {
	Tool        string        `yaml:"tool"`
	Model       string        `yaml:"model"`
	Epic        int           `yaml:"epic"`
	Story       string        `yaml:"story"`
	Phase       state.Phase   `yaml:"phase"`
	CreatedAt   time.Time     `yaml:"created_at"`
	Elapsed     time.Duration `yaml:"elapsed"`
	CostUSD     float64       `yaml:"cost_usd,omitempty"`
	ToolError   bool          `yaml:"tool_error,omitempty"`
	WriteIntent bool          `yaml:"write_intent"`
	// WriteMarkers are the phrases that suggested the validator tried to
	// modify files. They are recorded, never acted on.
	WriteMarkers []string `yaml:"write_markers,omitempty"`

	Output string `yaml:"-"`
	File   string `yaml:"-"`
}

// Label is "tool/model".
func (r *Report) Label() string {
	return r.Tool + "/" + r.Model
}

// Failure describes a validator that produced no report.
type Failure struct {
	Tool     string        `yaml:"tool"`
	Model    string        `yaml:"model"`
	Status   string        `yaml:"status"`
	ExitCode int           `yaml:"exit_code"`
	Elapsed  time.Duration `yaml:"elapsed"`
	Error    string        `yaml:"error"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s/%s: %s after %s: %s", f.Tool, f.Model, f.Status, f.Elapsed.Round(time.Millisecond), f.Error)
}

// Synthesis is the primary actor's consolidation of the surviving reports.
type Synthesis struct {
	Tool      string      `yaml:"tool"`
	Model     string      `yaml:"model"`
	Epic      int         `yaml:"epic"`
	Story     string      `yaml:"story"`
	Phase     state.Phase `yaml:"phase"`
	CreatedAt time.Time   `yaml:"created_at"`
	// Reports are the exact report files the synthesis was built from.
	Reports []string `yaml:"reports"`
	// Failures are the validators excluded from the synthesis.
	Failures []string `yaml:"failures,omitempty"`
	ToolError bool    `yaml:"tool_error,omitempty"`

	Output string `yaml:"-"`
	File   string `yaml:"-"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(s string) string {
	s = unsafeName.ReplaceAllString(s, "_")
	if s == "" {
		return "default"
	}
	return s
}

// reportPath returns <dir>/epic-<E>/story-<S>/<phase>-<tool>-<model>-<ts>.md,
// adding a counter when that name is taken.
func reportPath(dir string, scope Scope, tool, model string, at time.Time) string {
	parent := filepath.Join(dir, fmt.Sprintf("epic-%d", scope.Epic), "story-"+sanitize(scope.Story))
	base := fmt.Sprintf("%s-%s-%s-%s", scope.Phase.Slug(), sanitize(tool), sanitize(model), at.UTC().Format(fileTimeLayout))

	path := filepath.Join(parent, base+".md")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(parent, fmt.Sprintf("%s-%d.md", base, i))
	}
}

func writeDocument(path string, meta any, title, intro, output string) error {
	var body strings.Builder
	fmt.Fprintf(&body, "# %s\n\n", title)
	if intro != "" {
		body.WriteString(intro)
		body.WriteString("\n\n")
	}
	body.WriteString(outputHeading + "\n\n")
	body.WriteString(artifact.CodeBlock(output))

	data, err := artifact.WriteFrontMatter(meta, []byte(body.String()))
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(path, data, 0644, reportTempPrefix); err != nil {
		return errors.NewPersistenceError("failed to write report", err).WithPath(path)
	}
	return nil
}

func (r *Report) write() error {
	intro := fmt.Sprintf("Validator %s on %s.", r.Label(), Scope{r.Epic, r.Story, r.Phase})
	if r.WriteIntent {
		intro += fmt.Sprintf("\n\n**Write intent detected** (not applied): %s", strings.Join(r.WriteMarkers, "; "))
	}
	return writeDocument(r.File, r, "Validation report", intro, r.Output)
}

func (s *Synthesis) write() error {
	var intro strings.Builder
	fmt.Fprintf(&intro, "Synthesis by %s/%s of %d report(s).", s.Tool, s.Model, len(s.Reports))
	for _, f := range s.Failures {
		fmt.Fprintf(&intro, "\n- excluded: %s", f)
	}
	return writeDocument(s.File, s, "Synthesis", intro.String(), s.Output)
}

// LoadReport reads a report written by the Coordinator.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to read report", err).WithPath(path)
	}
	var r Report
	body, err := artifact.ParseFrontMatter(data, &r)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to parse report", errors.Join(errors.ErrArtifactCorrupted, err)).WithPath(path)
	}
	out, ok := artifact.ExtractCodeBlock(string(body), outputHeading)
	if !ok {
		return nil, errors.NewPersistenceError("report has no output section", errors.ErrArtifactCorrupted).WithPath(path)
	}
	r.Output = out
	r.File = path
	return &r, nil
}

// LoadSynthesis reads a synthesis written by the Coordinator.
func LoadSynthesis(path string) (*Synthesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to read synthesis", err).WithPath(path)
	}
	var s Synthesis
	body, err := artifact.ParseFrontMatter(data, &s)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to parse synthesis", errors.Join(errors.ErrArtifactCorrupted, err)).WithPath(path)
	}
	s.Output, _ = artifact.ExtractCodeBlock(string(body), outputHeading)
	s.File = path
	return &s, nil
}
