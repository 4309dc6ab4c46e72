// Package cmd implements the storyloop command line.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/logging"
)

// Exit codes beyond the generic failure (1).
const (
	ExitPaused   = 2
	ExitFatal    = 3
	ExitCanceled = 130
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	return e.Msg
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if errors.IsFatal(err) {
		return ExitFatal
	}
	return 1
}

// Hint suggests what to do after an error returned by Execute, or "".
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.IsFatal(err):
		return "the loop state cannot be used as is; repair it by hand or start over with \"storyloop reset --force\""
	case errors.IsRetryable(err):
		return "the failure looks transient; \"storyloop run\" re-executes the phase from the last committed position"
	}
	return ""
}

// env is what every command shares: the loaded configuration and the logger
// built from it. It is populated by the root command's PersistentPreRunE.
type env struct {
	cfgFile  string
	root     string
	logLevel string

	viper  *viper.Viper
	cfg    *config.Config
	paths  config.PathsConfig
	logger *logging.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&env{})
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "storyloop",
		Short: "Drive a story backlog through LLM command-line tools",
		Long: `storyloop runs every story of a sprint through create, validate,
synthesize, develop, review and retrospective phases by invoking LLM
command-line tools. One primary tool writes; several validators review
read-only. Suspicious tool output pauses the loop until a human resolves it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&e.cfgFile, "config", "c", "", "config file (default is ./storyloop.yaml, .storyloop/ or "+config.ConfigDir()+")")
	flags.StringVarP(&e.root, "project", "C", "", "project root (overrides project.root)")
	flags.StringVar(&e.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides logging.level)")

	root.AddCommand(
		newRunCmd(e),
		newStatusCmd(e),
		newResolveCmd(e),
		newAnomaliesCmd(e),
		newReconcileCmd(e),
		newResetCmd(e),
		newConfigCmd(e),
	)
	closeAfterRun(root, e)
	return root
}

// closeAfterRun closes the log once a command's RunE returns. Cobra skips
// post-run hooks when RunE fails, and failed or paused runs are the ones
// whose log matters.
func closeAfterRun(c *cobra.Command, e *env) {
	if run := c.RunE; run != nil {
		c.RunE = func(cmd *cobra.Command, args []string) error {
			defer e.close()
			return run(cmd, args)
		}
	}
	for _, sub := range c.Commands() {
		closeAfterRun(sub, e)
	}
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads and validates the configuration, makes the project root
// absolute and opens the log.
func (e *env) load() error {
	v, err := config.NewViper(e.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if e.root != "" {
		v.Set("project.root", e.root)
	}
	if e.logLevel != "" {
		v.Set("logging.level", e.logLevel)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	e.viper = v

	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	cfg.Project.Root = root
	e.cfg = cfg
	e.paths = cfg.Paths.Resolve(root)

	logger, err := newLogger(cfg.Logging, e.paths.LogDir)
	if err != nil {
		return err
	}
	e.logger = logger
	return nil
}

func newLogger(cfg config.LoggingConfig, dir string) (*logging.Logger, error) {
	if !cfg.Enabled {
		return logging.NopLogger(), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return logging.NewLogger(logging.Options{
		Dir:   dir,
		Level: cfg.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		},
	})
}

func (e *env) close() {
	if e.logger != nil {
		_ = e.logger.Close()
	}
}
