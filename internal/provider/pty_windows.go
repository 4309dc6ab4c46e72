//go:build windows

package provider

import (
	"fmt"
	"io"
	"os/exec"
)

func startWithTTY(cmd *exec.Cmd, out io.Writer) (<-chan struct{}, error) {
	return nil, fmt.Errorf("tty mode is not supported on windows")
}
