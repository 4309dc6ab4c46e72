package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/logging"
)

// waitDelay bounds how long Run waits for output pipes to drain after the
// process has been killed.
const waitDelay = 2 * time.Second

// Command is one subprocess to run.
type Command struct {
	Path    string
	Args    []string
	Stdin   string
	Dir     string
	Env     []string // Appended to the current environment
	TTY     bool     // Run with stdout and stderr attached to a pseudo-terminal
	Timeout time.Duration
}

// Execution is the raw outcome of a Command.
type Execution struct {
	Status   Status
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	Err      error // Set for StatusStartFailed
}

// Gateway runs subprocesses with a hard timeout and full output capture.
// On timeout or cancellation the whole process group is killed so that no
// grandchild keeps running.
type Gateway struct {
	logger *logging.Logger
}

// NewGateway creates a Gateway. A nil logger discards output.
func NewGateway(logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Gateway{logger: logger}
}

// Run executes c and blocks until it exits, times out or ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, c Command) Execution {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = strings.NewReader(c.Stdin)
	cmd.WaitDelay = waitDelay

	var stdout, stderr lockedBuffer
	var drained <-chan struct{}

	start := time.Now()
	if c.TTY {
		var err error
		drained, err = startWithTTY(cmd, &stdout)
		if err != nil {
			return Execution{Status: StatusStartFailed, ExitCode: -1, Elapsed: time.Since(start), Err: err}
		}
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		setProcessGroup(cmd)
		if err := cmd.Start(); err != nil {
			return Execution{Status: StatusStartFailed, ExitCode: -1, Elapsed: time.Since(start), Err: err}
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	killed := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		killed = true
		if err := killProcessGroup(cmd); err != nil {
			g.logger.Warn("failed to kill process group", "pid", cmd.Process.Pid, "error", err.Error())
		}
		waitErr = <-done
	}
	if drained != nil {
		select {
		case <-drained:
		case <-time.After(waitDelay):
		}
	}
	elapsed := time.Since(start)

	res := Execution{
		Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
		ExitCode: -1,
		Elapsed:  elapsed,
	}

	switch {
	case killed && ctx.Err() != nil:
		res.Status = StatusCanceled
	case killed:
		res.Status = StatusTimedOut
	case waitErr == nil || errors.Is(waitErr, exec.ErrWaitDelay):
		// ErrWaitDelay: exited cleanly but a descendant held the pipes open.
		res.Status = StatusSuccess
		res.ExitCode = 0
	default:
		res.Status = StatusNonZeroExit
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.Err = fmt.Errorf("wait: %w", waitErr)
		}
	}
	return res
}

// lockedBuffer is a bytes.Buffer safe for the concurrent writes of the
// stdout/stderr copiers and the pty reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
