package main

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/storyloop/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "storyloop:", err)
		if hint := cmd.Hint(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
