package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/guardian"
	"github.com/Iron-Ham/storyloop/internal/tui"
)

func newAnomaliesCmd(e *env) *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "List recorded anomalies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := e.anomalyStore()
			var (
				records []*guardian.AnomalyRecord
				err     error
			)
			if open {
				records, err = store.Unresolved()
			} else {
				records, err = store.List()
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, tui.NewRenderer(out).Anomalies(records))
			return nil
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "only anomalies without a resolution")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <anomaly-id>",
		Short: "Show one anomaly with its triggering output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := e.anomalyStore().Find(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, tui.NewRenderer(out).Anomaly(rec))
			return nil
		},
	})
	return cmd
}
