// Package logging provides structured logging for storyloop runs.
//
// It wraps Go's log/slog to write JSON lines with persistent loop context
// (epic, story, phase, tool, model), so a run can be analysed after the fact
// with standard JSON tooling.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{
//	    Dir:      ".storyloop/logs",
//	    Level:    "INFO",
//	    Rotation: logging.DefaultRotationConfig(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	phaseLog := logger.WithEpic(2).WithStory("2.3").WithPhase("REVIEW")
//	phaseLog.Info("phase started")
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers created
// via With* methods share the underlying writer.
package logging
