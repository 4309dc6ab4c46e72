package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/storyloop/internal/event"
	"github.com/Iron-Ham/storyloop/internal/guardian"
	"github.com/Iron-Ham/storyloop/internal/loop"
	"github.com/Iron-Ham/storyloop/internal/prompt"
	"github.com/Iron-Ham/storyloop/internal/provider"
	"github.com/Iron-Ham/storyloop/internal/reconcile"
	"github.com/Iron-Ham/storyloop/internal/sprint"
	"github.com/Iron-Ham/storyloop/internal/state"
	"github.com/Iron-Ham/storyloop/internal/validation"
)

// deadlineGrace lets validators hit their own timeouts before the phase
// deadline kills them.
const deadlineGrace = 10 * time.Second

func (e *env) stateStore() (*state.Store, error) {
	return state.Open(e.paths.StateFile, e.logger)
}

func (e *env) anomalyStore() *guardian.Store {
	return guardian.NewStore(e.paths.AnomaliesDir, e.logger)
}

func (e *env) sprintFile() *sprint.File {
	return sprint.NewFile(e.cfg.Project.SprintStatusPath())
}

func (e *env) reconciler(bus *event.Bus, confirm reconcile.Confirmer) *reconcile.Reconciler {
	opts := []reconcile.Option{reconcile.WithLogger(e.logger)}
	if bus != nil {
		opts = append(opts, reconcile.WithBus(bus))
	}
	if confirm != nil {
		opts = append(opts, reconcile.WithConfirmer(confirm))
	}
	return reconcile.New(e.sprintFile(), opts...)
}

// validationDeadline is the configured fan-out deadline, or the longest
// validator timeout plus a grace period.
func (e *env) validationDeadline() time.Duration {
	if d := e.cfg.Validation.Deadline(); d > 0 {
		return d
	}
	var longest time.Duration
	for _, v := range e.cfg.Providers.Validators {
		longest = max(longest, v.Timeout())
	}
	if longest == 0 {
		return 0
	}
	return longest + deadlineGrace
}

type machineOptions struct {
	wait    bool
	confirm reconcile.Confirmer
	bus     *event.Bus
}

// machine wires every collaborator of the loop from the configuration.
func (e *env) machine(opts machineOptions) (*loop.Machine, error) {
	cfg := e.cfg

	registry := provider.NewRegistry(provider.NewGateway(e.logger))
	primary, err := registry.New(cfg.Providers.Primary)
	if err != nil {
		return nil, fmt.Errorf("primary provider: %w", err)
	}
	validators, err := registry.NewAll(cfg.Providers.Validators)
	if err != nil {
		return nil, fmt.Errorf("validators: %w", err)
	}

	coordinator, err := validation.NewCoordinator(validation.Options{
		Primary:       primary,
		Validators:    validators,
		Deadline:      e.validationDeadline(),
		MinSuccessful: cfg.Validation.MinSuccessful,
		MaxParallel:   cfg.Validation.MaxParallel,
		ArtifactsDir:  e.paths.ArtifactsDir,
		Dir:           cfg.Project.Root,
		Bus:           opts.bus,
		Logger:        e.logger,
	})
	if err != nil {
		return nil, err
	}

	g, err := guardian.New(cfg.Guardian, cfg.Project.Language, cfg.Project.TopicKeywords, e.logger)
	if err != nil {
		return nil, err
	}

	prompts, err := prompt.NewTemplateBuilder(e.paths.TemplatesDir)
	if err != nil {
		return nil, err
	}

	store, err := e.stateStore()
	if err != nil {
		return nil, err
	}

	var rec *reconcile.Reconciler
	if cfg.Reconcile.Enabled {
		rec = e.reconciler(opts.bus, opts.confirm)
	}

	return loop.New(loop.Options{
		Project:           cfg.Project,
		Store:             store,
		Catalog:           e.sprintFile(),
		Primary:           primary,
		Coordinator:       coordinator,
		Guardian:          g,
		Anomalies:         e.anomalyStore(),
		Reconciler:        rec,
		ReconcileAuto:     cfg.Reconcile.Auto,
		Prompts:           prompts,
		WaitForResolution: opts.wait,
		Bus:               opts.bus,
		Logger:            e.logger,
	})
}
