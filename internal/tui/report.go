// Package tui renders storyloop's state for a terminal and asks the
// operator to confirm corrections to the sprint status.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/storyloop/internal/guardian"
	"github.com/Iron-Ham/storyloop/internal/reconcile"
	"github.com/Iron-Ham/storyloop/internal/state"
	"github.com/Iron-Ham/storyloop/internal/tui/styles"
	"github.com/Iron-Ham/storyloop/internal/util"
	"github.com/Iron-Ham/storyloop/internal/validation"
)

const (
	defaultWidth   = 100
	historyTail    = 10
	outputPreview  = 20
	labelWidth     = 12
	timeLayout     = "2006-01-02 15:04:05"
	neverStartedAt = "not started"
)

// Renderer formats loop state, anomalies and reconciliation results.
// Without a terminal it produces plain text of the same layout.
type Renderer struct {
	width  int
	styled bool
}

// NewRenderer returns a Renderer for w. Styling and the terminal width are
// used only when w is a terminal.
func NewRenderer(w io.Writer) *Renderer {
	r := &Renderer{width: defaultWidth}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.styled = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			r.width = width
		}
	}
	return r
}

// NewPlainRenderer returns an unstyled Renderer wrapping lines at width.
func NewPlainRenderer(width int) *Renderer {
	if width <= 0 {
		width = defaultWidth
	}
	return &Renderer{width: width}
}

func (r *Renderer) paint(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) field(b *strings.Builder, label, value string) {
	line := fmt.Sprintf("%-*s %s", labelWidth, label, value)
	if r.styled {
		line = styles.Label.Render(label) + " " + value
	}
	b.WriteString(util.Truncate(line, r.width))
	b.WriteByte('\n')
}

// Status renders the loop position, the pause, if any, and the recent
// history. project may be empty.
func (r *Renderer) Status(project string, st state.LoopState) string {
	var b strings.Builder

	title := "storyloop"
	if project != "" {
		title += ": " + project
	}
	b.WriteString(r.paint(styles.Title, title))
	b.WriteString("\n\n")

	switch {
	case st.Done:
		r.field(&b, "Position", r.paint(styles.Secondary, "done"))
	case st.IsFresh():
		r.field(&b, "Position", r.paint(styles.Muted, neverStartedAt))
	default:
		r.field(&b, "Position", st.Position().String())
	}
	r.field(&b, "Completed", completedSummary(st.CompletedStories))
	if len(st.PendingReports) > 0 {
		r.field(&b, "Reports", fmt.Sprintf("%d awaiting synthesis", len(st.PendingReports)))
	}
	if st.ResumeNote != "" {
		r.field(&b, "Note", util.FirstLine(st.ResumeNote))
	}
	if !st.UpdatedAt.IsZero() {
		r.field(&b, "Updated", st.UpdatedAt.Local().Format(timeLayout))
	}

	if p := st.Pause; p != nil {
		b.WriteString("\n")
		b.WriteString(r.pauseBanner(p))
		b.WriteString("\n")
	}

	if len(st.History) > 0 {
		b.WriteString("\n")
		b.WriteString(r.paint(styles.Subtitle, "Recent phases"))
		b.WriteString("\n")
		start := max(0, len(st.History)-historyTail)
		for _, rec := range st.History[start:] {
			b.WriteString(r.historyLine(rec))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (r *Renderer) pauseBanner(p *state.PauseInfo) string {
	id := p.AnomalyID
	if len(id) > 8 {
		id = id[:8]
	}
	lines := []string{
		fmt.Sprintf("Paused on %s anomaly %s", p.AnomalyType, id),
		"Record: " + p.AnomalyFile,
		"Continues with: " + p.Next.String(),
		fmt.Sprintf("Resolve: storyloop resolve %s --action retry|ignore|skip", id),
	}
	if !r.styled {
		return strings.Join(lines, "\n")
	}
	return styles.PauseBanner.Render(strings.Join(lines, "\n"))
}

func (r *Renderer) historyLine(rec state.PhaseRecord) string {
	result := string(rec.Result)
	pos := state.Position{Epic: rec.Epic, Story: rec.Story, Phase: rec.Phase}
	mark := styles.ResultIcon(result)
	if r.styled {
		mark = lipgloss.NewStyle().Foreground(styles.ResultColor(result)).Render(mark)
	}
	line := fmt.Sprintf("  %s %s  %-28s %s", mark, rec.At.Local().Format(timeLayout), pos.String(), result)
	if rec.Detail != "" {
		line += "  " + r.paint(styles.Muted, util.FirstLine(rec.Detail))
	}
	return util.Truncate(line, r.width)
}

func completedSummary(ids []string) string {
	switch len(ids) {
	case 0:
		return "no stories"
	case 1:
		return "1 story (" + ids[0] + ")"
	}
	if len(ids) > 8 {
		return fmt.Sprintf("%d stories (…, %s)", len(ids), strings.Join(ids[len(ids)-8:], ", "))
	}
	return fmt.Sprintf("%d stories (%s)", len(ids), strings.Join(ids, ", "))
}

// Anomalies renders one line per record, oldest first.
func (r *Renderer) Anomalies(records []*guardian.AnomalyRecord) string {
	if len(records) == 0 {
		return r.paint(styles.Muted, "No anomalies recorded.") + "\n"
	}
	var b strings.Builder
	for _, rec := range records {
		status := r.paint(styles.Warning, "open")
		if rec.Resolved() {
			status = r.paint(styles.Muted, "resolved: "+string(rec.Resolution.Action))
		}
		line := fmt.Sprintf("%s  %s  %-36s %-20s %s",
			r.paint(styles.Primary, rec.ShortID()),
			rec.CreatedAt.Local().Format(timeLayout),
			rec.Location(),
			string(rec.Type),
			status)
		b.WriteString(util.Truncate(line, r.width))
		b.WriteByte('\n')
	}
	return b.String()
}

// Anomaly renders one record in full, with the first lines of its output.
func (r *Renderer) Anomaly(rec *guardian.AnomalyRecord) string {
	var b strings.Builder
	b.WriteString(r.paint(styles.Title, "Anomaly "+rec.ShortID()))
	b.WriteString("\n\n")
	r.field(&b, "ID", rec.ID)
	r.field(&b, "Type", string(rec.Type))
	r.field(&b, "Where", rec.Location())
	r.field(&b, "Confidence", fmt.Sprintf("%.2f", rec.Confidence))
	r.field(&b, "Created", rec.CreatedAt.Local().Format(timeLayout))
	r.field(&b, "File", rec.File)
	b.WriteString("\n")
	b.WriteString(rec.Rationale)
	b.WriteString("\n")

	if res := rec.Resolution; res != nil {
		b.WriteString("\n")
		r.field(&b, "Resolution", r.paint(styles.SuccessMsg, string(res.Action)))
		if res.Instruction != "" {
			r.field(&b, "Instruction", res.Instruction)
		}
		r.field(&b, "Resolved", res.At.Local().Format(time.RFC3339))
		if res.Outcome != "" {
			r.field(&b, "Outcome", res.Outcome)
		}
	}

	b.WriteString("\n")
	b.WriteString(r.paint(styles.Subtitle, "Triggering output"))
	b.WriteString("\n")
	lines := strings.Split(strings.TrimRight(rec.Output, "\n"), "\n")
	for i, line := range lines {
		if i == outputPreview {
			b.WriteString(r.paint(styles.Muted, fmt.Sprintf("  … %d more lines", len(lines)-outputPreview)))
			b.WriteByte('\n')
			break
		}
		b.WriteString(util.Truncate("  "+line, r.width))
		b.WriteByte('\n')
	}
	return b.String()
}

// Synthesis summarizes a synthesis file: where it belongs, who wrote it and
// from how many reports.
func (r *Renderer) Synthesis(s *validation.Synthesis) string {
	var b strings.Builder
	b.WriteString(r.paint(styles.Subtitle, "Last synthesis"))
	b.WriteString("
")
	r.field(&b, "Phase", state.Position{Epic: s.Epic, Story: s.Story, Phase: s.Phase}.String())
	r.field(&b, "By", s.Tool+"/"+s.Model)
	sources := fmt.Sprintf("%d report(s)", len(s.Reports))
	if n := len(s.Failures); n > 0 {
		sources += fmt.Sprintf(", %d validator(s) excluded", n)
	}
	r.field(&b, "From", sources)
	r.field(&b, "File", s.File)
	if line := util.FirstLine(s.Output); line != "" {
		r.field(&b, "Summary", line)
	}
	return b.String()
}

// Discrepancies renders detected discrepancies, one per line.
func (r *Renderer) Discrepancies(ds []reconcile.Discrepancy) string {
	if len(ds) == 0 {
		return r.paint(styles.SuccessMsg, "Sprint status matches the loop state.") + "\n"
	}
	var b strings.Builder
	for _, d := range ds {
		b.WriteString(util.Truncate("  "+r.paint(styles.Warning, "!")+" "+d.String(), r.width))
		b.WriteByte('\n')
	}
	return b.String()
}

// Reconciliation renders the outcome of each correction.
func (r *Renderer) Reconciliation(results []reconcile.Result) string {
	if len(results) == 0 {
		return r.Discrepancies(nil)
	}
	var b strings.Builder
	for _, res := range results {
		outcome := string(res.Outcome)
		mark := styles.ResultIcon(outcome)
		if r.styled {
			mark = lipgloss.NewStyle().Foreground(styles.ResultColor(outcome)).Render(mark)
		}
		line := fmt.Sprintf("  %s %-16s %s", mark, outcome, res.Discrepancy.String())
		b.WriteString(util.Truncate(line, r.width))
		b.WriteByte('\n')
		if res.Err != nil {
			b.WriteString(util.Truncate("      "+r.paint(styles.ErrorMsg, util.FirstLine(res.Err.Error())), r.width))
			b.WriteByte('\n')
		}
	}
	return b.String()
}
