package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/storyloop/internal/reconcile"
	"github.com/Iron-Ham/storyloop/internal/tui/styles"
)

type confirmKeyMap struct {
	Yes    key.Binding
	No     key.Binding
	Toggle key.Binding
	Submit key.Binding
	Quit   key.Binding
}

func defaultConfirmKeys() confirmKeyMap {
	return confirmKeyMap{
		Yes: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", "apply"),
		),
		No: key.NewBinding(
			key.WithKeys("n", "N", "esc"),
			key.WithHelp("n/esc", "leave as is"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("left", "right", "tab", "h", "l"),
			key.WithHelp("←/→", "choose"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "confirm"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "abort"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k confirmKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Yes, k.No, k.Toggle, k.Submit}
}

// FullHelp implements help.KeyMap.
func (k confirmKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Quit}}
}

// ConfirmModel is a yes/no dialog. The highlighted choice starts at "no".
type ConfirmModel struct {
	question string
	detail   []string
	keys     confirmKeyMap
	help     help.Model
	width    int

	selected bool
	done     bool
	aborted  bool
}

// NewConfirmModel returns a dialog asking question, with optional detail
// lines shown below it.
func NewConfirmModel(question string, detail ...string) ConfirmModel {
	return ConfirmModel{
		question: question,
		detail:   detail,
		keys:     defaultConfirmKeys(),
		help:     help.New(),
		width:    defaultWidth,
	}
}

// Init implements tea.Model.
func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.selected, m.done, m.aborted = false, true, true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Yes):
			m.selected, m.done = true, true
			return m, tea.Quit
		case key.Matches(msg, m.keys.No):
			m.selected, m.done = false, true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			m.selected = !m.selected
		case key.Matches(msg, m.keys.Submit):
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m ConfirmModel) View() string {
	if m.done {
		return ""
	}
	yes, no := "  Apply  ", "  Leave  "
	active := lipgloss.NewStyle().Bold(true).Foreground(styles.TextColor).Background(styles.PrimaryColor)
	inactive := lipgloss.NewStyle().Foreground(styles.MutedColor)
	if m.selected {
		yes, no = active.Render(yes), inactive.Render(no)
	} else {
		yes, no = inactive.Render(yes), active.Render(no)
	}

	var b strings.Builder
	b.WriteString(styles.Title.Render(m.question))
	b.WriteString("\n")
	for _, line := range m.detail {
		b.WriteString(styles.Muted.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, yes, "  ", no))

	box := styles.DialogBox
	if w := m.width - 4; w > 20 && w < defaultWidth {
		box = box.Width(w)
	}
	return box.Render(b.String()) + "\n" + styles.HelpBar.Render(m.help.View(m.keys)) + "\n"
}

// Confirmed reports whether the dialog ended with "apply".
func (m ConfirmModel) Confirmed() bool {
	return m.done && m.selected
}

// Aborted reports whether the operator pressed ctrl+c.
func (m ConfirmModel) Aborted() bool {
	return m.aborted
}

// ErrAborted is returned by Prompter.Confirm when the operator aborts the
// dialog.
var ErrAborted = errors.New("confirmation aborted")

// Prompter asks the operator to approve sprint-status corrections. Without a
// terminal on both ends every correction is declined.
type Prompter struct {
	in          io.Reader
	out         io.Writer
	interactive bool
}

// NewPrompter returns a Prompter reading keys from in and drawing to out.
func NewPrompter(in, out *os.File) *Prompter {
	return &Prompter{
		in:          in,
		out:         out,
		interactive: term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd())),
	}
}

// Interactive reports whether the Prompter can ask anything.
func (p *Prompter) Interactive() bool {
	return p.interactive
}

// Confirm implements reconcile.Confirmer.
func (p *Prompter) Confirm(ctx context.Context, d reconcile.Discrepancy) (bool, error) {
	if !p.interactive {
		return false, nil
	}
	model := NewConfirmModel(QuestionFor(d), DetailFor(d)...)
	final, err := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	).Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	m, ok := final.(ConfirmModel)
	if !ok {
		return false, nil
	}
	if m.Aborted() {
		return false, ErrAborted
	}
	return m.Confirmed(), nil
}

// QuestionFor phrases the correction of d as a question.
func QuestionFor(d reconcile.Discrepancy) string {
	if d.Actual == "" {
		return fmt.Sprintf("Add %s: %s to the sprint status?", d.Key, d.Expected)
	}
	return fmt.Sprintf("Set %s from %s to %s?", d.Key, d.Actual, d.Expected)
}

// DetailFor describes where d was found.
func DetailFor(d reconcile.Discrepancy) []string {
	lines := []string{string(d.Type) + " for " + d.Subject}
	if d.Location != "" {
		lines = append(lines, "at "+d.Location)
	}
	if len(d.Accepted) > 1 {
		lines = append(lines, "accepted: "+strings.Join(d.Accepted, ", "))
	}
	return lines
}

var _ reconcile.Confirmer = (*Prompter)(nil)
