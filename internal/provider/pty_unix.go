//go:build !windows

package provider

import (
	"io"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// startWithTTY starts cmd with stdout and stderr on a new pseudo-terminal and
// copies everything the terminal receives into out. Stdin stays a pipe so the
// prompt is still delivered without echo. The returned channel closes once the
// terminal has been drained.
func startWithTTY(cmd *exec.Cmd, out io.Writer) (<-chan struct{}, error) {
	// The controlling terminal is fd 1: fd 0 is the prompt pipe.
	ptmx, err := pty.StartWithAttrs(cmd, nil, &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 1})
	if err != nil {
		return nil, err
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		defer ptmx.Close()
		// Reading fails with EIO once every holder of the terminal has exited.
		_, _ = io.Copy(out, ptmx)
	}()
	return drained, nil
}
