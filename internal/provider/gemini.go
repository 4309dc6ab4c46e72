package provider

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/storyloop/internal/config"
)

// ToolGemini is the registry name of the Gemini CLI adapter.
const ToolGemini = "gemini"

var geminiModels = []string{"gemini-*"}

// GeminiProvider runs the Gemini CLI non-interactively with the prompt on stdin.
type GeminiProvider struct {
	*cliProvider
}

// NewGeminiProvider creates a Gemini adapter.
func NewGeminiProvider(cfg config.ProviderConfig, gw *Gateway) (*GeminiProvider, error) {
	base, err := newCLIProvider(ToolGemini, cfg, geminiModels, geminiArgs{extra: cfg.Args}, gw)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{cliProvider: base}, nil
}

type geminiArgs struct {
	extra []string
}

func (g geminiArgs) args(req Request, model string, readOnly bool) ([]string, error) {
	var args []string
	if model != "" {
		args = append(args, "--model", model)
	}
	if readOnly {
		if err := refuseWriteFlags(ToolGemini, g.extra); err != nil {
			return nil, err
		}
		// Non-interactive runs cannot approve edits or shell commands unless
		// --yolo is given, which leaves only read tools.
		args = append(args, "--approval-mode", "default")
	} else {
		args = append(args, "--yolo")
	}
	return append(args, g.extra...), nil
}

// ParseOutput returns the ANSI-stripped response text.
func (p *GeminiProvider) ParseOutput(raw string) (Output, error) {
	return Output{Text: strings.TrimSpace(ansi.Strip(raw))}, nil
}
