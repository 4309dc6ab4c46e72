package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/guardian"
)

type resolveOptions struct {
	action string
	note   string
	by     string
}

func newResolveCmd(e *env) *cobra.Command {
	o := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve <anomaly-id>",
		Short: "Release a paused loop",
		Long: `Record how a paused loop should continue. The id may be any unique
prefix of the anomaly id shown by "storyloop status" or "storyloop anomalies".

Actions:
  retry   re-run the paused phase; --note is added to its prompt
  ignore  accept the flagged output and continue
  skip    continue without the flagged output

The resolution is applied by the next "storyloop run", or immediately by a
loop started with --wait.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := guardian.ParseAction(o.action)
			if err != nil {
				return err
			}
			by := o.by
			if by == "" {
				by = os.Getenv("USER")
			}
			rec, err := e.anomalyStore().RequestResolution(args[0], guardian.Resolution{
				Action:      action,
				Instruction: o.note,
				By:          by,
			})
			if err != nil {
				return err
			}
			e.logger.Info("resolution requested", "anomaly_id", rec.ID, "action", string(action))
			fmt.Fprintf(cmd.OutOrStdout(), "Requested %s for anomaly %s (%s).\n", action, rec.ShortID(), rec.Location())
			return nil
		},
	}
	cmd.Flags().StringVarP(&o.action, "action", "a", "", "retry, ignore or skip (required)")
	cmd.Flags().StringVarP(&o.note, "note", "n", "", "instruction for the operator record; added to the prompt on retry")
	cmd.Flags().StringVar(&o.by, "by", "", "who resolved the anomaly (default $USER)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
