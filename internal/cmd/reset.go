package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/state"
)

func newResetCmd(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Start the workflow over",
		Long: `Replace the loop state with a fresh one, positioned before the first
story. Reports, anomaly records and the sprint status are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("reset discards the loop position and completed stories; pass --force to confirm")
			}
			lock, err := state.AcquireLock(e.paths.StateFile, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			store, err := e.stateStore()
			if err != nil {
				return err
			}
			if _, err := store.Reset(); err != nil {
				return err
			}
			e.logger.Warn("loop state reset", "path", store.Path())
			fmt.Fprintf(cmd.OutOrStdout(), "Loop state reset (%s).\n", store.Path())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "confirm the reset")
	return cmd
}
