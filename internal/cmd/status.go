package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/storyloop/internal/state"
	"github.com/Iron-Ham/storyloop/internal/tui"
	"github.com/Iron-Ham/storyloop/internal/validation"
)

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the workflow is",
		Long: `Display the committed loop position, the completed stories, the pause
and its anomaly if the loop is paused, and the most recent phases.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			fmt.Fprint(out, r.Status(e.cfg.Project.Name, st))
			if path := lastSynthesisFile(st); path != "" {
				syn, err := validation.LoadSynthesis(path)
				if err != nil {
					e.logger.Warn("last synthesis unreadable", "path", path, "error", err.Error())
				} else {
					fmt.Fprint(out, "\n"+r.Synthesis(syn))
				}
			}
			if holder, ok := state.Holder(e.paths.StateFile); ok {
				fmt.Fprintf(out, "\nRunning as PID %d on %s since %s.\n", holder.PID, holder.Hostname, holder.StartedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

// lastSynthesisFile is the file recorded by the most recent completed
// synthesis phase.
func lastSynthesisFile(st state.LoopState) string {
	for i := len(st.History) - 1; i >= 0; i-- {
		rec := st.History[i]
		if rec.Phase.IsSynthesis() && rec.Result == state.ResultAdvanced && rec.Detail != "" {
			return rec.Detail
		}
	}
	return ""
}
