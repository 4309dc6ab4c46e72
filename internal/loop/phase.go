package loop

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/storyloop/internal/event"
	"github.com/Iron-Ham/storyloop/internal/guardian"
	"github.com/Iron-Ham/storyloop/internal/prompt"
	"github.com/Iron-Ham/storyloop/internal/provider"
	"github.com/Iron-Ham/storyloop/internal/sprint"
	"github.com/Iron-Ham/storyloop/internal/state"
	"github.com/Iron-Ham/storyloop/internal/validation"
)

// ExecutePhase runs exactly the phase st is positioned at and reports
// whether the loop should advance or pause. It does not change st or
// persist anything; Run commits the outcome.
func (m *Machine) ExecutePhase(ctx context.Context, st state.LoopState) (PhaseOutcome, error) {
	catalog, err := m.catalog.Read(ctx)
	if err != nil {
		return PhaseOutcome{}, fmt.Errorf("failed to read story catalog: %w", err)
	}
	return m.executePhase(ctx, st, catalog, st.ResumeNote != "")
}

func (m *Machine) executePhase(ctx context.Context, st state.LoopState, catalog sprint.ProjectState, resumed bool) (PhaseOutcome, error) {
	if st.Done || st.Paused() {
		return PhaseOutcome{}, fmt.Errorf("cannot execute a phase at %s (paused=%t)", st.Position(), st.Paused())
	}
	next, err := Next(st, catalog)
	if err != nil {
		return PhaseOutcome{}, err
	}

	logger := m.logger.WithEpic(st.Epic).WithStory(st.Story).WithPhase(string(st.Phase))
	logger.Info("phase started", "resumed", resumed, "resume_note", st.ResumeNote != "")
	m.bus.Publish(event.NewPhaseStartedEvent(eventPosition(st), resumed))

	start := m.now()
	var out PhaseOutcome
	switch {
	case st.Phase.IsValidation():
		out, err = m.runValidation(ctx, st, catalog, next)
	case st.Phase.IsSynthesis():
		out, err = m.runSynthesis(ctx, st, catalog, next)
	default:
		out, err = m.runPrimary(ctx, st, catalog, next)
	}
	if err != nil {
		logger.Error("phase failed", "error", err.Error())
		return PhaseOutcome{}, err
	}
	out.Elapsed = m.now().Sub(start)
	logger.Info("phase finished", "outcome", out.Kind.String(), "next", out.Next.String(), "elapsed", out.Elapsed.String())
	return out, nil
}

// runPrimary handles CREATE, DEVELOP and RETROSPECTIVE: one invocation of
// the primary actor.
func (m *Machine) runPrimary(ctx context.Context, st state.LoopState, catalog sprint.ProjectState, next state.Position) (PhaseOutcome, error) {
	text, err := m.prompts.Build(m.promptContext(st, catalog))
	if err != nil {
		return PhaseOutcome{}, err
	}

	res := m.primary.Invoke(ctx, provider.Request{
		Prompt: text,
		Role:   provider.RolePrimary,
		Dir:    m.project.Root,
	})
	m.bus.Publish(event.NewProcessFinishedEvent(string(res.Role), res.Tool, res.Model, string(res.Status), res.Elapsed))
	if !res.OK() {
		return PhaseOutcome{}, res.Err()
	}

	parsed, err := m.primary.ParseOutput(res.Stdout)
	if err != nil {
		return PhaseOutcome{}, fmt.Errorf("failed to parse %s output: %w", res.Tool, err)
	}
	out, err := m.inspect(st, parsed.Text, parsed.ToolError, res.Tool, res.Model, next)
	if err != nil {
		return PhaseOutcome{}, err
	}
	if parsed.CostUSD > 0 {
		out.Detail = fmt.Sprintf("cost $%.4f", parsed.CostUSD)
	}
	return out, nil
}

// runValidation fans the phase prompt out to the validators. Every report is
// inspected; the first anomalous one pauses the loop.
func (m *Machine) runValidation(ctx context.Context, st state.LoopState, catalog sprint.ProjectState, next state.Position) (PhaseOutcome, error) {
	text, err := m.prompts.Build(m.promptContext(st, catalog))
	if err != nil {
		return PhaseOutcome{}, err
	}

	outcome, err := m.coordinator.Validate(ctx, scopeOf(st), text)
	if err != nil {
		return PhaseOutcome{}, err
	}

	reports, failures := outcome.ReportFiles(), outcome.FailureLines()
	for _, r := range outcome.Reports {
		out, err := m.inspect(st, r.Output, r.ToolError, r.Tool, r.Model, next)
		if err != nil {
			return PhaseOutcome{}, err
		}
		if out.Paused() {
			out.Reports, out.Failures = reports, failures
			return out, nil
		}
	}

	out := Advance(next)
	out.Reports, out.Failures = reports, failures
	out.Detail = fmt.Sprintf("%d reports, %d failed", len(reports), len(failures))
	return out, nil
}

// runSynthesis has the primary actor merge the reports of the preceding
// validation phase. Without reports there is nothing to merge and the phase
// is skipped.
func (m *Machine) runSynthesis(ctx context.Context, st state.LoopState, catalog sprint.ProjectState, next state.Position) (PhaseOutcome, error) {
	if len(st.PendingReports) == 0 {
		out := Advance(next)
		out.Skipped = true
		out.Detail = "no validation reports to synthesize"
		return out, nil
	}

	build := func(reports []*validation.Report, failures []string) (string, error) {
		pc := m.promptContext(st, catalog)
		for _, r := range reports {
			pc.Reports = append(pc.Reports, prompt.Report{
				Label:       r.Label(),
				File:        r.File,
				Output:      r.Output,
				WriteIntent: r.WriteIntent,
			})
		}
		pc.Failures = failures
		return m.prompts.Build(pc)
	}

	res, err := m.coordinator.Synthesize(ctx, scopeOf(st), st.PendingReports, st.PendingFailures, build)
	if err != nil {
		return PhaseOutcome{}, err
	}
	out, err := m.inspect(st, res.Output.Text, res.Output.ToolError, res.Process.Tool, res.Process.Model, next)
	if err != nil {
		return PhaseOutcome{}, err
	}
	out.Detail = res.Synthesis.File
	return out, nil
}

// inspect hands one output to the Guardian and records an anomaly if it
// flags the output.
func (m *Machine) inspect(st state.LoopState, output string, toolError bool, tool, model string, next state.Position) (PhaseOutcome, error) {
	in := guardian.Input{
		Output:        output,
		ReportedError: toolError,
		Epic:          st.Epic,
		Story:         st.Story,
		Phase:         string(st.Phase),
		Tool:          tool,
		Model:         model,
	}
	v := m.guardian.Inspect(in)
	if !v.IsAnomaly() {
		return Advance(next), nil
	}
	rec, err := m.anomalies.Create(in, v)
	if err != nil {
		return PhaseOutcome{}, fmt.Errorf("failed to record anomaly: %w", err)
	}
	return Pause(rec, next), nil
}

func (m *Machine) promptContext(st state.LoopState, catalog sprint.ProjectState) *prompt.Context {
	pc := &prompt.Context{
		Phase:        st.Phase,
		Project:      m.project.Name,
		Language:     m.project.Language,
		Root:         m.project.Root,
		SprintStatus: m.project.SprintStatus,
		Epic:         st.Epic,
		Story:        st.Story,
		ResumeNote:   st.ResumeNote,
	}
	if st.Story != "" {
		pc.StoryKey = sprint.StoryKey(st.Story)
		if s, ok := catalog.Story(st.Story); ok {
			pc.StoryKey = s.Key
			pc.StoryStatus = s.Status
		}
	}
	if e, ok := catalog.Epic(st.Epic); ok {
		for _, s := range e.Stories {
			pc.EpicStories = append(pc.EpicStories, s.ID)
			if st.IsCompleted(s.ID) {
				pc.Completed = append(pc.Completed, s.ID)
			}
		}
	}
	return pc
}

func scopeOf(st state.LoopState) validation.Scope {
	return validation.Scope{Epic: st.Epic, Story: st.Story, Phase: st.Phase}
}
