package provider

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/storyloop/internal/testutil"
)

func TestGateway_Run(t *testing.T) {
	dir := t.TempDir()
	echo := testutil.WriteScript(t, dir, "echo.sh", `
cat
echo "warning: stderr line" >&2
`)
	fail := testutil.WriteScript(t, dir, "fail.sh", `
echo partial
echo "boom" >&2
exit 3
`)

	tests := []struct {
		name       string
		cmd        Command
		wantStatus Status
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "stdin is echoed back",
			cmd:        Command{Path: echo, Stdin: "hello world", Timeout: 10 * time.Second},
			wantStatus: StatusSuccess,
			wantCode:   0,
			wantStdout: "hello world",
			wantStderr: "warning: stderr line",
		},
		{
			name:       "non-zero exit keeps both streams",
			cmd:        Command{Path: fail, Timeout: 10 * time.Second},
			wantStatus: StatusNonZeroExit,
			wantCode:   3,
			wantStdout: "partial",
			wantStderr: "boom",
		},
		{
			name:       "missing executable",
			cmd:        Command{Path: dir + "/does-not-exist", Timeout: time.Second},
			wantStatus: StatusStartFailed,
			wantCode:   -1,
		},
	}

	gw := NewGateway(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gw.Run(context.Background(), tt.cmd)
			if got.Status != tt.wantStatus {
				t.Fatalf("Status = %q, want %q (err: %v)", got.Status, tt.wantStatus, got.Err)
			}
			if got.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", got.ExitCode, tt.wantCode)
			}
			if !strings.Contains(got.Stdout, tt.wantStdout) {
				t.Errorf("Stdout = %q, want it to contain %q", got.Stdout, tt.wantStdout)
			}
			if !strings.Contains(got.Stderr, tt.wantStderr) {
				t.Errorf("Stderr = %q, want it to contain %q", got.Stderr, tt.wantStderr)
			}
			if tt.wantStatus == StatusStartFailed && got.Err == nil {
				t.Error("Err should explain the start failure")
			}
		})
	}
}

func TestGateway_TimeoutKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	// The grandchild holds stdout open; only a group kill lets Run return quickly.
	slow := testutil.WriteScript(t, dir, "slow.sh", `
echo started
sleep 30 &
sleep 30
`)

	gw := NewGateway(nil)
	got := gw.Run(context.Background(), Command{Path: slow, Timeout: 300 * time.Millisecond})

	if got.Status != StatusTimedOut {
		t.Fatalf("Status = %q, want %q", got.Status, StatusTimedOut)
	}
	if got.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", got.ExitCode)
	}
	if got.Elapsed > 5*time.Second {
		t.Errorf("Elapsed = %v, the process group was not killed", got.Elapsed)
	}
	if !strings.Contains(got.Stdout, "started") {
		t.Errorf("partial stdout lost: %q", got.Stdout)
	}
}

func TestGateway_Cancel(t *testing.T) {
	dir := t.TempDir()
	slow := testutil.WriteScript(t, dir, "slow.sh", "sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	got := NewGateway(nil).Run(ctx, Command{Path: slow, Timeout: time.Minute})
	if got.Status != StatusCanceled {
		t.Fatalf("Status = %q, want %q", got.Status, StatusCanceled)
	}
	if got.Elapsed > 5*time.Second {
		t.Errorf("Elapsed = %v, cancellation did not kill the process", got.Elapsed)
	}
}

func TestGateway_LargeOutputNotTruncated(t *testing.T) {
	dir := t.TempDir()
	// 20000 lines of 50 bytes each, well past any pipe buffer.
	big := testutil.WriteScript(t, dir, "big.sh", `
i=0
while [ $i -lt 20000 ]; do
  echo "0123456789012345678901234567890123456789012345678"
  i=$((i+1))
done
`)

	got := NewGateway(nil).Run(context.Background(), Command{Path: big, Timeout: 30 * time.Second})
	if got.Status != StatusSuccess {
		t.Fatalf("Status = %q, want success", got.Status)
	}
	if len(got.Stdout) != 20000*50 {
		t.Errorf("len(Stdout) = %d, want %d", len(got.Stdout), 20000*50)
	}
}

func TestGateway_Env(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "env.sh", `echo "value=$STORYLOOP_TEST_VALUE"`)

	got := NewGateway(nil).Run(context.Background(), Command{
		Path:    script,
		Env:     []string{"STORYLOOP_TEST_VALUE=42"},
		Timeout: 10 * time.Second,
	})
	if !strings.Contains(got.Stdout, "value=42") {
		t.Errorf("Stdout = %q, want value=42", got.Stdout)
	}
}
