package provider

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/errors"
)

// Factory builds a Provider from its configuration.
type Factory func(cfg config.ProviderConfig, gw *Gateway) (Provider, error)

// Registry maps tool names to adapter factories. New tools are added by
// registering a factory, without touching orchestration code.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	gateway   *Gateway
}

// NewRegistry returns a Registry with the built-in adapters registered.
func NewRegistry(gw *Gateway) *Registry {
	if gw == nil {
		gw = NewGateway(nil)
	}
	r := &Registry{
		factories: make(map[string]Factory),
		gateway:   gw,
	}
	r.Register(ToolClaude, func(cfg config.ProviderConfig, gw *Gateway) (Provider, error) {
		return NewClaudeProvider(cfg, gw)
	})
	r.Register(ToolCodex, func(cfg config.ProviderConfig, gw *Gateway) (Provider, error) {
		return NewCodexProvider(cfg, gw)
	})
	r.Register(ToolGemini, func(cfg config.ProviderConfig, gw *Gateway) (Provider, error) {
		return NewGeminiProvider(cfg, gw)
	})
	r.Register(ToolGeneric, func(cfg config.ProviderConfig, gw *Gateway) (Provider, error) {
		return NewGenericProvider(cfg, gw)
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New builds the Provider selected by cfg.Tool. The configured model must be
// one the tool accepts.
func (r *Registry) New(cfg config.ProviderConfig) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(cfg.Tool)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", errors.ErrUnknownTool, cfg.Tool, strings.Join(r.Names(), ", "))
	}

	p, err := f(cfg, r.gateway)
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", cfg.Tool, err)
	}
	if !p.SupportsModel(cfg.Model) {
		return nil, fmt.Errorf("%w: %s does not accept %q", errors.ErrModelUnsupported, cfg.Tool, cfg.Model)
	}
	return p, nil
}

// NewAll builds one Provider per configuration, in order.
func (r *Registry) NewAll(cfgs []config.ProviderConfig) ([]Provider, error) {
	out := make([]Provider, 0, len(cfgs))
	for i, cfg := range cfgs {
		p, err := r.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
