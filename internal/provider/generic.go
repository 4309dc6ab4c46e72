package provider

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/errors"
)

// ToolGeneric is the registry name of the configurable adapter.
const ToolGeneric = "generic"

// Placeholders substituted in generic argument lists.
const (
	placeholderModel    = "{model}"
	placeholderSettings = "{settings}"
)

// GenericProvider runs any command-line tool described entirely by
// configuration. It accepts every model unless model patterns are configured,
// and can only act as a validator when read_only_args are configured.
type GenericProvider struct {
	*cliProvider
}

// NewGenericProvider creates an adapter for cfg.Command.
func NewGenericProvider(cfg config.ProviderConfig, gw *Gateway) (*GenericProvider, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("generic tool requires a command")
	}
	defaults := []string{"*"}
	if len(cfg.Models) > 0 {
		defaults = nil
	}
	builder := genericArgs{base: cfg.Args, readOnlyArgs: cfg.ReadOnlyArgs}
	base, err := newCLIProvider(ToolGeneric, cfg, defaults, builder, gw)
	if err != nil {
		return nil, err
	}
	return &GenericProvider{cliProvider: base}, nil
}

type genericArgs struct {
	base         []string
	readOnlyArgs []string
}

func (g genericArgs) args(req Request, model string, readOnly bool) ([]string, error) {
	if readOnly && len(g.readOnlyArgs) == 0 {
		return nil, fmt.Errorf("%w: configure read_only_args to use this tool as a validator", errors.ErrReadOnlyUnsupported)
	}

	list := slices.Clone(g.base)
	if readOnly {
		list = append(list, g.readOnlyArgs...)
	}

	out := make([]string, 0, len(list))
	for _, a := range list {
		// Drop arguments whose placeholder has no value, e.g. "--settings={settings}"
		if strings.Contains(a, placeholderSettings) && req.Settings == "" {
			continue
		}
		if strings.Contains(a, placeholderModel) && model == "" {
			continue
		}
		a = strings.ReplaceAll(a, placeholderModel, model)
		a = strings.ReplaceAll(a, placeholderSettings, req.Settings)
		out = append(out, a)
	}
	return out, nil
}

// ParseOutput returns the ANSI-stripped output.
func (p *GenericProvider) ParseOutput(raw string) (Output, error) {
	return Output{Text: strings.TrimSpace(ansi.Strip(raw))}, nil
}
