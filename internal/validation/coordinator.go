package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/event"
	"github.com/Iron-Ham/storyloop/internal/logging"
	"github.com/Iron-Ham/storyloop/internal/provider"
	"github.com/Iron-Ham/storyloop/internal/util"
)

// Options configures a Coordinator.
type Options struct {
	// Primary performs synthesis.
	Primary provider.Provider
	// Validators are invoked concurrently, read-only.
	Validators []provider.Provider
	// Deadline bounds a whole validation phase. Zero relies on the
	// validators' own timeouts.
	Deadline time.Duration
	// MinSuccessful is the number of reports needed to proceed (default 1).
	MinSuccessful int
	// MaxParallel limits concurrent validators. Zero runs all at once.
	MaxParallel int
	// ArtifactsDir is the root of the report tree.
	ArtifactsDir string
	// Dir is the working directory tools run in.
	Dir    string
	Bus    *event.Bus
	Logger *logging.Logger
}

// Outcome is what a validation phase produced.
type Outcome struct {
	Reports  []*Report
	Failures []Failure
}

// ReportFiles returns the report paths in validator order.
func (o *Outcome) ReportFiles() []string {
	files := make([]string, 0, len(o.Reports))
	for _, r := range o.Reports {
		files = append(files, r.File)
	}
	return files
}

// FailureLines returns one line per failure, for state and synthesis records.
func (o *Outcome) FailureLines() []string {
	lines := make([]string, 0, len(o.Failures))
	for _, f := range o.Failures {
		lines = append(lines, f.String())
	}
	return lines
}

// Coordinator fans a prompt out to every validator, persists the reports of
// those that succeed, and later has the primary actor synthesize them.
type Coordinator struct {
	primary       provider.Provider
	validators    []provider.Provider
	deadline      time.Duration
	minSuccessful int
	maxParallel   int
	artifactsDir  string
	dir           string
	bus           *event.Bus
	logger        *logging.Logger
	now           func() time.Time

	// writeMu serializes report naming and writing across validators.
	writeMu sync.Mutex
}

// NewCoordinator validates opts and returns a Coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Primary == nil {
		return nil, errors.NewValidationError("primary provider is required").WithField("primary")
	}
	if len(opts.Validators) == 0 {
		return nil, errors.ErrNoValidators
	}
	if opts.ArtifactsDir == "" {
		return nil, errors.NewValidationError("artifacts directory is required").WithField("artifacts_dir")
	}
	if opts.MinSuccessful <= 0 {
		opts.MinSuccessful = 1
	}
	if opts.MinSuccessful > len(opts.Validators) {
		return nil, errors.NewValidationError("min_successful exceeds the number of validators").
			WithField("min_successful").
			WithValue(opts.MinSuccessful)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus(opts.Logger)
	}
	return &Coordinator{
		primary:       opts.Primary,
		validators:    slices.Clone(opts.Validators),
		deadline:      opts.Deadline,
		minSuccessful: opts.MinSuccessful,
		maxParallel:   opts.MaxParallel,
		artifactsDir:  opts.ArtifactsDir,
		dir:           opts.Dir,
		bus:           opts.Bus,
		logger:        opts.Logger,
		now:           time.Now,
	}, nil
}

// Validators returns the configured validators.
func (c *Coordinator) Validators() []provider.Provider {
	return slices.Clone(c.validators)
}

// settled is the result of one validator task.
type settled struct {
	index   int
	report  *Report
	failure *Failure
}

// Validate invokes every validator concurrently with prompt and waits until
// all have settled or the deadline passes; validators still running at the
// deadline are killed and counted as failures. Each successful report is
// persisted before Validate returns. Fewer than MinSuccessful reports
// returns ErrNoValidatorSucceeded along with the outcome.
func (c *Coordinator) Validate(ctx context.Context, scope Scope, prompt string) (*Outcome, error) {
	runCtx := ctx
	if c.deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}

	logger := c.logger.WithEpic(scope.Epic).WithStory(scope.Story).WithPhase(string(scope.Phase))
	logger.Info("validation started", "validators", len(c.validators))

	p := pool.NewWithResults[settled]().WithContext(runCtx)
	if c.maxParallel > 0 {
		p = p.WithMaxGoroutines(c.maxParallel)
	}
	for i, v := range c.validators {
		p.Go(func(ctx context.Context) (settled, error) {
			return c.runValidator(ctx, i, v, scope, prompt), nil
		})
	}
	results, _ := p.Wait()
	slices.SortFunc(results, func(a, b settled) int { return a.index - b.index })

	out := &Outcome{}
	for _, r := range results {
		if r.report != nil {
			out.Reports = append(out.Reports, r.report)
		} else if r.failure != nil {
			out.Failures = append(out.Failures, *r.failure)
		}
	}

	logger.Info("validation finished",
		"reports", len(out.Reports),
		"failures", len(out.Failures),
		"min_successful", c.minSuccessful)

	if ctx.Err() != nil {
		return out, fmt.Errorf("validation interrupted: %w", errors.Join(errors.ErrCanceled, ctx.Err()))
	}
	if len(out.Reports) < c.minSuccessful {
		return out, fmt.Errorf("%w: %d of %d validators produced a report (need %d)",
			errors.ErrNoValidatorSucceeded, len(out.Reports), len(c.validators), c.minSuccessful)
	}
	return out, nil
}

func (c *Coordinator) runValidator(ctx context.Context, index int, v provider.Provider, scope Scope, prompt string) settled {
	pos := event.Position{Epic: scope.Epic, Story: scope.Story, Phase: string(scope.Phase)}

	res := v.Invoke(ctx, provider.Request{
		Prompt: prompt,
		Role:   provider.RoleValidator,
		Dir:    c.dir,
	})
	c.bus.Publish(event.NewProcessFinishedEvent(string(res.Role), res.Tool, res.Model, string(res.Status), res.Elapsed))

	fail := func(status, msg string) settled {
		f := &Failure{
			Tool:     res.Tool,
			Model:    res.Model,
			Status:   status,
			ExitCode: res.ExitCode,
			Elapsed:  res.Elapsed,
			Error:    msg,
		}
		c.logger.WithPhase(string(scope.Phase)).WithProvider(res.Tool, res.Model).
			Warn("validator failed", "status", status, "error", msg)
		c.bus.Publish(event.NewValidatorSettledEvent(pos, res.Tool, res.Model, status, "", msg))
		return settled{index: index, failure: f}
	}

	if !res.OK() {
		status := string(res.Status)
		// The phase deadline cancels validators still running; that is a
		// timeout from the phase's point of view.
		if res.Status == provider.StatusCanceled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = string(provider.StatusTimedOut)
		}
		return fail(status, util.FirstLine(res.Err().Error()))
	}

	parsed, err := v.ParseOutput(res.Stdout)
	if err != nil {
		return fail("parse_failed", err.Error())
	}

	report := &Report{
		Tool:         res.Tool,
		Model:        res.Model,
		Epic:         scope.Epic,
		Story:        scope.Story,
		Phase:        scope.Phase,
		CreatedAt:    c.now().UTC(),
		Elapsed:      res.Elapsed,
		CostUSD:      parsed.CostUSD,
		ToolError:    parsed.ToolError,
		WriteMarkers: detectWriteIntent(parsed.Text),
		Output:       parsed.Text,
	}
	report.WriteIntent = len(report.WriteMarkers) > 0
	c.writeMu.Lock()
	report.File = reportPath(c.artifactsDir, scope, res.Tool, res.Model, report.CreatedAt)
	err = report.write()
	c.writeMu.Unlock()
	if err != nil {
		return fail("persist_failed", err.Error())
	}
	if report.WriteIntent {
		c.logger.WithProvider(res.Tool, res.Model).Warn("validator output suggests write intent",
			"markers", strings.Join(report.WriteMarkers, "; "),
			"report", report.File)
	}
	c.bus.Publish(event.NewValidatorSettledEvent(pos, res.Tool, res.Model, string(res.Status), report.File, ""))
	return settled{index: index, report: report}
}

// SynthesisResult is a persisted synthesis together with the primary actor's
// raw result, which the caller hands to the Guardian.
type SynthesisResult struct {
	Synthesis *Synthesis
	Reports   []*Report
	Process   provider.Result
	Output    provider.Output
}

// PromptFunc builds the synthesis prompt from the loaded reports and the
// failures that were excluded.
type PromptFunc func(reports []*Report, failures []string) (string, error)

// Synthesize loads reportFiles, invokes the primary actor once with all of
// them, and persists the result listing exactly the reports it used. A
// primary failure is returned as an error and nothing is persisted.
func (c *Coordinator) Synthesize(ctx context.Context, scope Scope, reportFiles, failures []string, build PromptFunc) (*SynthesisResult, error) {
	if len(reportFiles) == 0 {
		return nil, fmt.Errorf("%w: nothing to synthesize for %s", errors.ErrNoValidatorSucceeded, scope)
	}

	reports := make([]*Report, 0, len(reportFiles))
	for _, f := range reportFiles {
		r, err := LoadReport(f)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}

	prompt, err := build(reports, failures)
	if err != nil {
		return nil, fmt.Errorf("build synthesis prompt: %w", err)
	}

	res := c.primary.Invoke(ctx, provider.Request{
		Prompt: prompt,
		Role:   provider.RolePrimary,
		Dir:    c.dir,
	})
	c.bus.Publish(event.NewProcessFinishedEvent(string(res.Role), res.Tool, res.Model, string(res.Status), res.Elapsed))
	if !res.OK() {
		return &SynthesisResult{Reports: reports, Process: res}, res.Err()
	}

	parsed, err := c.primary.ParseOutput(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis output: %w", err)
	}

	syn := &Synthesis{
		Tool:      res.Tool,
		Model:     res.Model,
		Epic:      scope.Epic,
		Story:     scope.Story,
		Phase:     scope.Phase,
		CreatedAt: c.now().UTC(),
		Reports:   slices.Clone(reportFiles),
		Failures:  slices.Clone(failures),
		ToolError: parsed.ToolError,
		Output:    parsed.Text,
	}
	syn.File = reportPath(c.artifactsDir, scope, res.Tool, res.Model, syn.CreatedAt)
	if err := syn.write(); err != nil {
		return nil, err
	}

	c.logger.WithEpic(scope.Epic).WithStory(scope.Story).WithPhase(string(scope.Phase)).
		Info("synthesis written", "file", syn.File, "reports", len(reportFiles), "excluded", len(failures))
	return &SynthesisResult{Synthesis: syn, Reports: reports, Process: res, Output: parsed}, nil
}
