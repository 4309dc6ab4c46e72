package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/reconcile"
	"github.com/Iron-Ham/storyloop/internal/tui"
)

type reconcileOptions struct {
	auto   bool
	dryRun bool
}

func newReconcileCmd(e *env) *cobra.Command {
	o := &reconcileOptions{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the sprint status in line with the loop state",
		Long: `Compare the sprint-status file with the loop state and correct every
difference in the file. The loop state is never changed.

Each correction is confirmed interactively unless --auto is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, e, o, tui.NewPrompter(os.Stdin, os.Stdout))
		},
	}
	cmd.Flags().BoolVar(&o.auto, "auto", false, "apply corrections without asking")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "only list the differences")
	return cmd
}

type interactiveConfirmer interface {
	reconcile.Confirmer
	Interactive() bool
}

func runReconcile(cmd *cobra.Command, e *env, o *reconcileOptions, confirm interactiveConfirmer) error {
	store, err := e.stateStore()
	if err != nil {
		return err
	}
	st, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	out := cmd.OutOrStdout()
	r := tui.NewRenderer(out)
	rec := e.reconciler(nil, confirm)

	if o.dryRun {
		ds, err := rec.Check(cmd.Context(), st)
		if err != nil {
			return err
		}
		fmt.Fprint(out, r.Discrepancies(ds))
		return nil
	}

	if !o.auto && !confirm.Interactive() {
		return fmt.Errorf("confirmation needs a terminal; use --auto or --dry-run")
	}
	results, err := rec.CorrectAll(cmd.Context(), st, o.auto)
	if err != nil {
		return err
	}
	fmt.Fprint(out, r.Reconciliation(results))
	for _, res := range results {
		if res.Outcome == reconcile.OutcomeError {
			return fmt.Errorf("some corrections failed")
		}
	}
	return nil
}
