package provider

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/testutil"
)

func TestClaudeArgs(t *testing.T) {
	b := claudeArgs{extra: []string{"--verbose"}}

	primary, err := b.args(Request{Settings: "s.json"}, "opus", false)
	if err != nil {
		t.Fatalf("args() error = %v", err)
	}
	want := []string{"--print", "--output-format", "json", "--model", "opus", "--settings", "s.json", "--dangerously-skip-permissions", "--verbose"}
	if !slices.Equal(primary, want) {
		t.Errorf("primary args = %v, want %v", primary, want)
	}

	validator, _ := b.args(Request{}, "", true)
	if !slices.Contains(validator, "plan") {
		t.Errorf("validator args %v should select plan mode", validator)
	}
	if slices.Contains(validator, "--dangerously-skip-permissions") {
		t.Errorf("validator args %v must not skip permissions", validator)
	}
	if slices.Contains(validator, "--model") {
		t.Errorf("empty model should not be passed: %v", validator)
	}
}

func TestCodexArgs(t *testing.T) {
	b := codexArgs{}

	primary, _ := b.args(Request{}, "gpt-5", false)
	if !slices.Contains(primary, "--full-auto") || primary[len(primary)-1] != "-" {
		t.Errorf("primary args = %v", primary)
	}

	validator, _ := b.args(Request{Settings: "review"}, "gpt-5", true)
	want := []string{"exec", "--skip-git-repo-check", "--color", "never", "--model", "gpt-5", "--profile", "review", "--sandbox", "read-only", "-"}
	if !slices.Equal(validator, want) {
		t.Errorf("validator args = %v, want %v", validator, want)
	}
}

func TestGeminiArgs(t *testing.T) {
	b := geminiArgs{}

	primary, _ := b.args(Request{}, "gemini-2.5-pro", false)
	if !slices.Contains(primary, "--yolo") {
		t.Errorf("primary args = %v, want --yolo", primary)
	}
	validator, _ := b.args(Request{}, "gemini-2.5-pro", true)
	if slices.Contains(validator, "--yolo") {
		t.Errorf("validator args = %v must not contain --yolo", validator)
	}
}

func TestValidatorArgs_RefuseWriteFlags(t *testing.T) {
	tests := []struct {
		name    string
		builder commandBuilder
	}{
		{"claude skip permissions", claudeArgs{extra: []string{"--dangerously-skip-permissions"}}},
		{"claude permission mode", claudeArgs{extra: []string{"--permission-mode=acceptEdits"}}},
		{"codex sandbox", codexArgs{extra: []string{"--sandbox", "danger-full-access"}}},
		{"codex full auto", codexArgs{extra: []string{"--full-auto"}}},
		{"codex sandbox override", codexArgs{extra: []string{"-c", `sandbox_mode="workspace-write"`}}},
		{"gemini yolo", geminiArgs{extra: []string{"--yolo"}}},
		{"gemini approval mode", geminiArgs{extra: []string{"--approval-mode", "auto_edit"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.builder.args(Request{}, "", true); !errors.Is(err, errors.ErrReadOnlyUnsupported) {
				t.Fatalf("validator args() error = %v, want ErrReadOnlyUnsupported", err)
			}
			// The primary actor may pass them.
			if _, err := tt.builder.args(Request{}, "", false); err != nil {
				t.Errorf("primary args() error = %v", err)
			}
		})
	}
}

func TestGenericArgs(t *testing.T) {
	tests := []struct {
		name     string
		builder  genericArgs
		req      Request
		model    string
		readOnly bool
		want     []string
		wantErr  error
	}{
		{
			name:    "placeholders substituted",
			builder: genericArgs{base: []string{"run", "--model={model}", "--settings={settings}"}},
			req:     Request{Settings: "cfg.toml"},
			model:   "llama3",
			want:    []string{"run", "--model=llama3", "--settings=cfg.toml"},
		},
		{
			name:    "empty placeholders dropped",
			builder: genericArgs{base: []string{"run", "--model={model}", "--settings={settings}"}},
			want:    []string{"run"},
		},
		{
			name:     "read-only args appended for validators",
			builder:  genericArgs{base: []string{"run"}, readOnlyArgs: []string{"--no-write"}},
			readOnly: true,
			want:     []string{"run", "--no-write"},
		},
		{
			name:     "validator without read-only args refused",
			builder:  genericArgs{base: []string{"run"}},
			readOnly: true,
			wantErr:  errors.ErrReadOnlyUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.builder.args(tt.req, tt.model, tt.readOnly)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("args() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("args() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClaudeProvider_ParseOutput(t *testing.T) {
	p, err := NewClaudeProvider(config.ProviderConfig{Tool: ToolClaude, Model: "opus"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeProvider() error = %v", err)
	}

	tests := []struct {
		name          string
		raw           string
		wantText      string
		wantToolError bool
		wantCost      float64
	}{
		{
			name:     "json envelope",
			raw:      `{"type":"result","subtype":"success","is_error":false,"result":"All done.","session_id":"abc","total_cost_usd":0.12,"usage":{"input_tokens":10,"output_tokens":20}}`,
			wantText: "All done.",
			wantCost: 0.12,
		},
		{
			name:     "warnings before envelope",
			raw:      "npm warn something\n" + `{"type":"result","subtype":"success","result":"ok"}`,
			wantText: "ok",
		},
		{
			name:          "tool reported error",
			raw:           `{"type":"result","subtype":"error_max_turns","is_error":true,"result":""}`,
			wantToolError: true,
		},
		{
			name:     "plain text with ansi",
			raw:      "\x1b[32mgreen\x1b[0m text\n",
			wantText: "green text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.ParseOutput(tt.raw)
			if err != nil {
				t.Fatalf("ParseOutput() error = %v", err)
			}
			if out.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", out.Text, tt.wantText)
			}
			if out.ToolError != tt.wantToolError {
				t.Errorf("ToolError = %v, want %v", out.ToolError, tt.wantToolError)
			}
			if out.CostUSD != tt.wantCost {
				t.Errorf("CostUSD = %v, want %v", out.CostUSD, tt.wantCost)
			}
		})
	}
}

func TestSupportsModel(t *testing.T) {
	claude, _ := NewClaudeProvider(config.ProviderConfig{Models: []string{"my-proxy-*"}}, nil)
	codex, _ := NewCodexProvider(config.ProviderConfig{}, nil)
	gemini, _ := NewGeminiProvider(config.ProviderConfig{}, nil)
	generic, _ := NewGenericProvider(config.ProviderConfig{Command: "llm"}, nil)

	tests := []struct {
		name  string
		p     Provider
		model string
		want  bool
	}{
		{"claude alias", claude, "opus", true},
		{"claude full name", claude, "claude-sonnet-4-5", true},
		{"claude extra pattern", claude, "my-proxy-large", true},
		{"claude rejects gpt", claude, "gpt-5", false},
		{"codex gpt", codex, "gpt-5-codex", true},
		{"codex o-series", codex, "o3", true},
		{"codex rejects gemini", codex, "gemini-2.5-pro", false},
		{"gemini", gemini, "gemini-2.5-flash", true},
		{"gemini rejects opus", gemini, "opus", false},
		{"generic accepts anything", generic, "llama3:70b", true},
		{"empty model always accepted", gemini, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.SupportsModel(tt.model); got != tt.want {
				t.Errorf("SupportsModel(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestInvoke_UsesScriptAsTool(t *testing.T) {
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "fake-claude", `
echo "args: $*" >&2
prompt=$(cat)
printf '{"type":"result","subtype":"success","result":"reviewed: %s"}\n' "$prompt"
`)

	p, err := NewClaudeProvider(config.ProviderConfig{
		Tool:           ToolClaude,
		Model:          "sonnet",
		Command:        script,
		TimeoutSeconds: 10,
	}, nil)
	if err != nil {
		t.Fatalf("NewClaudeProvider() error = %v", err)
	}

	res := p.Invoke(context.Background(), Request{Prompt: "story 2.3", Role: RoleValidator})
	if !res.OK() {
		t.Fatalf("Invoke() status = %q, stderr = %q", res.Status, res.Stderr)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v, want nil", res.Err())
	}
	if res.Model != "sonnet" || res.Role != RoleValidator || res.Tool != ToolClaude {
		t.Errorf("Result metadata = %s/%s/%s", res.Tool, res.Model, res.Role)
	}
	if !strings.Contains(res.Stderr, "--permission-mode plan") {
		t.Errorf("validator invocation was not read-only: %q", res.Stderr)
	}

	out, _ := p.ParseOutput(res.Stdout)
	if out.Text != "reviewed: story 2.3" {
		t.Errorf("Text = %q", out.Text)
	}
}

func TestInvoke_Failures(t *testing.T) {
	dir := t.TempDir()
	slow := testutil.WriteScript(t, dir, "slow", "sleep 30\n")

	t.Run("unsupported model", func(t *testing.T) {
		p, _ := NewGeminiProvider(config.ProviderConfig{Command: slow, TimeoutSeconds: 1}, nil)
		res := p.Invoke(context.Background(), Request{Model: "opus"})
		if res.Status != StatusStartFailed || !errors.Is(res.Cause, errors.ErrModelUnsupported) {
			t.Fatalf("Status = %q, Cause = %v", res.Status, res.Cause)
		}
		if !errors.Is(res.Err(), errors.ErrProcessStart) {
			t.Errorf("Err() = %v, want ErrProcessStart", res.Err())
		}
	})

	t.Run("timeout", func(t *testing.T) {
		p, _ := NewCodexProvider(config.ProviderConfig{Command: slow, TimeoutSeconds: 60}, nil)
		res := p.Invoke(context.Background(), Request{Timeout: 200 * time.Millisecond})
		if res.Status != StatusTimedOut {
			t.Fatalf("Status = %q, want timed_out", res.Status)
		}
		err := res.Err()
		if !errors.Is(err, errors.ErrProcessTimedOut) {
			t.Errorf("Err() = %v, want ErrProcessTimedOut", err)
		}
		if !errors.IsRetryable(err) {
			t.Error("timeouts should be retryable")
		}
	})

	t.Run("validator with a write flag", func(t *testing.T) {
		p, _ := NewClaudeProvider(config.ProviderConfig{Command: slow, TimeoutSeconds: 1, Args: []string{"--dangerously-skip-permissions"}}, nil)
		res := p.Invoke(context.Background(), Request{Role: RoleValidator})
		if res.Status != StatusStartFailed || !errors.Is(res.Cause, errors.ErrReadOnlyUnsupported) {
			t.Errorf("Status = %q, Cause = %v; want start failure with ErrReadOnlyUnsupported", res.Status, res.Cause)
		}
	})

	t.Run("generic validator without read-only args", func(t *testing.T) {
		p, _ := NewGenericProvider(config.ProviderConfig{Command: slow}, nil)
		res := p.Invoke(context.Background(), Request{Role: RoleValidator})
		if !errors.Is(res.Cause, errors.ErrReadOnlyUnsupported) {
			t.Errorf("Cause = %v, want ErrReadOnlyUnsupported", res.Cause)
		}
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)

	if got := r.Names(); !slices.Equal(got, []string{"claude", "codex", "gemini", "generic"}) {
		t.Errorf("Names() = %v", got)
	}

	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		wantErr error
	}{
		{"claude", config.ProviderConfig{Tool: "claude", Model: "opus"}, nil},
		{"case insensitive", config.ProviderConfig{Tool: "Codex", Model: "gpt-5"}, nil},
		{"unknown tool", config.ProviderConfig{Tool: "copilot"}, errors.ErrUnknownTool},
		{"unsupported model", config.ProviderConfig{Tool: "gemini", Model: "gpt-5"}, errors.ErrModelUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.New(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if p.Model() != tt.cfg.Model {
				t.Errorf("Model() = %q, want %q", p.Model(), tt.cfg.Model)
			}
		})
	}

	t.Run("custom factory", func(t *testing.T) {
		r.Register("llm", func(cfg config.ProviderConfig, gw *Gateway) (Provider, error) {
			cfg.Command = "llm"
			return NewGenericProvider(cfg, gw)
		})
		p, err := r.New(config.ProviderConfig{Tool: "llm", Model: "anything"})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if p.Name() != ToolGeneric {
			t.Errorf("Name() = %q", p.Name())
		}
	})
}
