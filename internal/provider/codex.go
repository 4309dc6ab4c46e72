package provider

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/storyloop/internal/config"
)

// ToolCodex is the registry name of the Codex CLI adapter.
const ToolCodex = "codex"

var codexModels = []string{"gpt-*", "o[0-9]*", "codex-*"}

// CodexProvider runs `codex exec` with the prompt on stdin.
type CodexProvider struct {
	*cliProvider
}

// NewCodexProvider creates a Codex adapter.
func NewCodexProvider(cfg config.ProviderConfig, gw *Gateway) (*CodexProvider, error) {
	base, err := newCLIProvider(ToolCodex, cfg, codexModels, codexArgs{extra: cfg.Args}, gw)
	if err != nil {
		return nil, err
	}
	return &CodexProvider{cliProvider: base}, nil
}

type codexArgs struct {
	extra []string
}

func (c codexArgs) args(req Request, model string, readOnly bool) ([]string, error) {
	args := []string{"exec", "--skip-git-repo-check", "--color", "never"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.Settings != "" {
		args = append(args, "--profile", req.Settings)
	}
	if readOnly {
		if err := refuseWriteFlags(ToolCodex, c.extra); err != nil {
			return nil, err
		}
		args = append(args, "--sandbox", "read-only")
	} else {
		args = append(args, "--full-auto")
	}
	args = append(args, c.extra...)
	// "-" reads the prompt from stdin
	return append(args, "-"), nil
}

// ParseOutput returns the final agent message. codex exec prints progress to
// stderr and only the last message to stdout.
func (p *CodexProvider) ParseOutput(raw string) (Output, error) {
	return Output{Text: strings.TrimSpace(ansi.Strip(raw))}, nil
}
