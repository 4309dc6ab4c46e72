package provider

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/storyloop/internal/config"
)

// ToolClaude is the registry name of the Claude Code adapter.
const ToolClaude = "claude"

var claudeModels = []string{"opus", "sonnet", "haiku", "claude-*"}

// ClaudeProvider runs Claude Code in print mode with JSON output.
type ClaudeProvider struct {
	*cliProvider
}

// NewClaudeProvider creates a Claude adapter.
func NewClaudeProvider(cfg config.ProviderConfig, gw *Gateway) (*ClaudeProvider, error) {
	base, err := newCLIProvider(ToolClaude, cfg, claudeModels, claudeArgs{extra: cfg.Args}, gw)
	if err != nil {
		return nil, err
	}
	return &ClaudeProvider{cliProvider: base}, nil
}

type claudeArgs struct {
	extra []string
}

func (c claudeArgs) args(req Request, model string, readOnly bool) ([]string, error) {
	args := []string{"--print", "--output-format", "json"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.Settings != "" {
		args = append(args, "--settings", req.Settings)
	}
	if readOnly {
		if err := refuseWriteFlags(ToolClaude, c.extra); err != nil {
			return nil, err
		}
		// Plan mode lets the model read and search but never edit or run commands.
		args = append(args, "--permission-mode", "plan")
	} else {
		args = append(args, "--dangerously-skip-permissions")
	}
	return append(args, c.extra...), nil
}

// claudeResult is the final message printed by --output-format json.
type claudeResult struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype"`
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
	SessionID    string  `json:"session_id"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// ParseOutput extracts the result text, cost and token usage from Claude's
// JSON envelope. Output that is not JSON (tty mode, older CLIs) is returned
// as ANSI-stripped text.
func (p *ClaudeProvider) ParseOutput(raw string) (Output, error) {
	clean := strings.TrimSpace(ansi.Strip(raw))

	var res claudeResult
	if err := json.Unmarshal([]byte(lastJSONObject(clean)), &res); err != nil || res.Type != "result" {
		return Output{Text: clean}, nil
	}

	return Output{
		Text:         strings.TrimSpace(res.Result),
		CostUSD:      res.TotalCostUSD,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		SessionID:    res.SessionID,
		ToolError:    res.IsError || (res.Subtype != "" && res.Subtype != "success"),
	}, nil
}

// lastJSONObject returns the last line that looks like a JSON object, which
// skips any warnings a CLI prints before its envelope.
func lastJSONObject(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			return line
		}
	}
	return s
}
