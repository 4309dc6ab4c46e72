// Package provider is the process gateway to external LLM command-line tools.
//
// A Provider invokes one tool as a subprocess with a model selector and a hard
// wall-clock timeout, captures both output streams in full, and maps the
// result to a Status. It never panics or returns a Go error from Invoke: every
// failure mode is data in the Result. Concrete adapters (claude, codex,
// gemini, generic) differ only in how they build the command line and parse
// the captured output; the Registry selects one from a configuration string.
//
// Role enforcement lives here: a validator request is always built with the
// tool's read-only flags, and an adapter that has no read-only mode refuses
// validator requests with ErrReadOnlyUnsupported.
package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/errors"
)

// Role distinguishes the primary actor from validators.
type Role string

const (
	// RolePrimary may modify files in the project.
	RolePrimary Role = "primary"
	// RoleValidator is invoked read-only to produce an opinion.
	RoleValidator Role = "validator"
)

// Status is the outcome of one invocation.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusNonZeroExit Status = "non_zero_exit"
	StatusTimedOut    Status = "timed_out"
	StatusCanceled    Status = "canceled"
	StatusStartFailed Status = "start_failed"
)

// Request describes one invocation.
type Request struct {
	Prompt   string
	Model    string // Empty uses the provider's configured model
	Timeout  time.Duration
	Settings string // Optional settings file handed to the tool
	Role     Role
	Dir      string // Working directory; empty uses the current directory
}

// Result is what an invocation produced. Stdout and Stderr are never
// truncated; on timeout or cancellation they hold the partial output.
type Result struct {
	Tool     string
	Model    string
	Role     Role
	Status   Status
	Stdout   string
	Stderr   string
	ExitCode int // -1 when the process did not exit on its own
	Elapsed  time.Duration
	// Cause explains StatusStartFailed (unsupported model, read-only refusal,
	// missing executable).
	Cause error
}

// OK reports whether the tool exited successfully.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Err returns nil on success, otherwise a *errors.ProcessError carrying the
// captured stderr and partial output.
func (r Result) Err() error {
	var cause error
	var msg string
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusNonZeroExit:
		cause, msg = errors.ErrProcessExited, "tool exited with an error"
	case StatusTimedOut:
		cause, msg = errors.ErrProcessTimedOut, fmt.Sprintf("tool did not finish within %s", r.Elapsed.Round(time.Second))
	case StatusCanceled:
		cause, msg = errors.ErrProcessCanceled, "invocation canceled"
	default:
		cause, msg = errors.ErrProcessStart, "tool could not be started"
		if r.Cause != nil {
			cause = errors.Join(errors.ErrProcessStart, r.Cause)
		}
	}
	return errors.NewProcessError(msg, cause).
		WithTool(r.Tool).
		WithModel(r.Model).
		WithExitCode(r.ExitCode).
		WithStderr(r.Stderr).
		WithPartialOutput(r.Stdout).
		WithElapsed(r.Elapsed)
}

// Output is the parsed, human-meaningful part of a tool's stdout.
type Output struct {
	Text         string
	CostUSD      float64
	InputTokens  int64
	OutputTokens int64
	SessionID    string
	// ToolError is set when the tool reported a failure inside a
	// successful exit (e.g. claude's JSON "is_error").
	ToolError bool
}

// Provider is the capability set every tool adapter implements.
type Provider interface {
	// Name returns the tool name, e.g. "codex".
	Name() string
	// Model returns the configured default model.
	Model() string
	// Invoke runs the tool once. Cancelling ctx kills the process group.
	Invoke(ctx context.Context, req Request) Result
	// ParseOutput extracts the response text (ANSI-stripped) and metadata.
	ParseOutput(raw string) (Output, error)
	// SupportsModel reports whether the tool accepts the model name.
	SupportsModel(model string) bool
}

// commandBuilder is the part of an adapter that differs per tool.
type commandBuilder interface {
	// args returns the argument list for req. readOnly is true for validators.
	args(req Request, model string, readOnly bool) ([]string, error)
}

// refuseWriteFlags fails a validator request whose configured arguments
// would undo the read-only mode the adapter selects.
func refuseWriteFlags(tool string, extra []string) error {
	if flag, ok := config.WriteFlag(tool, extra); ok {
		return fmt.Errorf("%w: %s argument %q grants write access", errors.ErrReadOnlyUnsupported, tool, flag)
	}
	return nil
}

// cliProvider implements the shared Invoke and SupportsModel logic.
type cliProvider struct {
	name     string
	command  string
	model    string
	settings string
	timeout  time.Duration
	tty      bool
	globs    []glob.Glob
	builder  commandBuilder
	gateway  *Gateway
}

func newCLIProvider(name string, cfg config.ProviderConfig, defaultModels []string, builder commandBuilder, gw *Gateway) (*cliProvider, error) {
	command := cfg.Command
	if command == "" {
		command = name
	}

	patterns := append(slices.Clone(defaultModels), cfg.Models...)
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid model pattern %q for %s: %w", p, name, err)
		}
		globs = append(globs, g)
	}

	if gw == nil {
		gw = NewGateway(nil)
	}

	return &cliProvider{
		name:     name,
		command:  command,
		model:    cfg.Model,
		settings: cfg.Settings,
		timeout:  cfg.Timeout(),
		tty:      cfg.TTY,
		globs:    globs,
		builder:  builder,
		gateway:  gw,
	}, nil
}

func (p *cliProvider) Name() string  { return p.name }
func (p *cliProvider) Model() string { return p.model }

func (p *cliProvider) SupportsModel(model string) bool {
	if model == "" {
		return true
	}
	for _, g := range p.globs {
		if g.Match(model) {
			return true
		}
	}
	return false
}

func (p *cliProvider) Invoke(ctx context.Context, req Request) Result {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if req.Settings == "" {
		req.Settings = p.settings
	}
	if req.Timeout <= 0 {
		req.Timeout = p.timeout
	}
	if req.Role == "" {
		req.Role = RolePrimary
	}

	res := Result{Tool: p.name, Model: model, Role: req.Role, ExitCode: -1}

	if !p.SupportsModel(model) {
		res.Status = StatusStartFailed
		res.Cause = fmt.Errorf("%w: %s does not accept %q", errors.ErrModelUnsupported, p.name, model)
		return res
	}

	args, err := p.builder.args(req, model, req.Role == RoleValidator)
	if err != nil {
		res.Status = StatusStartFailed
		res.Cause = err
		return res
	}

	logger := p.gateway.logger.WithProvider(p.name, model).With("role", string(req.Role))
	logger.Debug("invoking tool", "command", p.command, "args", strings.Join(args, " "), "timeout", req.Timeout.String())

	run := p.gateway.Run(ctx, Command{
		Path:    p.command,
		Args:    args,
		Stdin:   req.Prompt,
		Dir:     req.Dir,
		TTY:     p.tty,
		Timeout: req.Timeout,
	})

	res.Status = run.Status
	res.Stdout = run.Stdout
	res.Stderr = run.Stderr
	res.ExitCode = run.ExitCode
	res.Elapsed = run.Elapsed
	res.Cause = run.Err

	if res.OK() {
		logger.Info("tool finished", "elapsed", res.Elapsed.String(), "stdout_bytes", len(res.Stdout))
	} else {
		logger.Warn("tool failed",
			"status", string(res.Status),
			"exit_code", res.ExitCode,
			"elapsed", res.Elapsed.String(),
			"stderr_bytes", len(res.Stderr))
	}
	return res
}
