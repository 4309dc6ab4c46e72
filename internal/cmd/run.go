package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/event"
	"github.com/Iron-Ham/storyloop/internal/loop"
	"github.com/Iron-Ham/storyloop/internal/metrics"
	"github.com/Iron-Ham/storyloop/internal/state"
	"github.com/Iron-Ham/storyloop/internal/tui"
)

type runOptions struct {
	wait        bool
	metricsAddr string
}

func newRunCmd(e *env) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow until it is done or pauses",
		Long: `Run executes phases from the last committed position until every story
is done, an anomaly pauses the loop, or the process is interrupted.

A paused loop resumes here once "storyloop resolve" has recorded a
resolution. With --wait the process stays up while paused and resumes as
soon as a resolution is requested.

The first interrupt finishes the phase in flight and stops; a second one
kills the running tool. The state on disk always reflects the last
completed phase.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("wait") {
				o.wait = e.cfg.Guardian.WaitForResolution
			}
			if !cmd.Flags().Changed("metrics-addr") {
				o.metricsAddr = e.cfg.Metrics.Addr
			}
			return runLoop(cmd, e, o)
		},
	}
	cmd.Flags().BoolVar(&o.wait, "wait", false, "stay running while paused and resume when a resolution arrives")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

func runLoop(cmd *cobra.Command, e *env, o *runOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	lock, err := state.AcquireLock(e.paths.StateFile, e.logger)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	bus := event.NewBus(e.logger)
	prompter := tui.NewPrompter(os.Stdin, os.Stdout)

	m, err := e.machine(machineOptions{wait: o.wait, confirm: prompter, bus: bus})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	bus.Subscribe(event.TypePhaseStarted, func(ev event.Event) {
		if s, ok := ev.(event.PhaseStartedEvent); ok {
			fmt.Fprintf(out, "▶ %s\n", positionString(s.Position))
		}
	})
	bus.Subscribe(event.TypeLoopResumed, func(ev event.Event) {
		if r, ok := ev.(event.LoopResumedEvent); ok {
			fmt.Fprintf(out, "↻ anomaly %s resolved with %s\n", shortID(r.AnomalyID), r.Action)
		}
	})
	bus.Subscribe(event.TypeLoopPaused, func(ev event.Event) {
		if p, ok := ev.(event.LoopPausedEvent); ok && o.wait {
			fmt.Fprintf(out, "⏸ paused on %s anomaly; waiting for a resolution (storyloop resolve %s)\n", p.AnomalyType, shortID(p.AnomalyID))
		}
	})

	if o.metricsAddr != "" {
		reg := metrics.New()
		reg.Attach(bus)
		go func() {
			if err := metrics.Serve(ctx, o.metricsAddr, reg.Handler(), e.logger); err != nil {
				e.logger.Error("metrics endpoint failed", "addr", o.metricsAddr, "error", err.Error())
			}
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "\nStopping after the current phase; interrupt again to abort it.")
		m.Stop()
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, runErr := m.Run(ctx)

	fmt.Fprintln(out)
	fmt.Fprint(out, tui.NewRenderer(out).Status(e.cfg.Project.Name, res.State))
	return runExit(res, runErr)
}

func runExit(res loop.RunResult, err error) error {
	switch res.Reason {
	case loop.ReasonPaused:
		return &ExitError{Code: ExitPaused, Msg: "loop paused on an anomaly"}
	case loop.ReasonCanceled:
		return &ExitError{Code: ExitCanceled, Msg: "loop interrupted"}
	}
	return err
}

func positionString(p event.Position) string {
	return state.Position{Epic: p.Epic, Story: p.Story, Phase: state.Phase(p.Phase)}.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
