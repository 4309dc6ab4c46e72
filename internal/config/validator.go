package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/language"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "guardian.repetition_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidTools returns the tool names the provider registry understands
func ValidTools() []string {
	return []string{"claude", "codex", "gemini", "generic"}
}

// writeFlags are the arguments that give a tool write access or replace the
// read-only mode selected for validators. Both "--flag value" and
// "--flag=value" forms are matched on the flag name.
var writeFlags = map[string][]string{
	"claude": {"--dangerously-skip-permissions", "--allow-dangerously-skip-permissions", "--permission-mode"},
	"codex":  {"--full-auto", "--dangerously-bypass-approvals-and-sandbox", "--yolo", "--sandbox", "-s"},
	"gemini": {"--yolo", "-y", "--approval-mode"},
}

// writeSettings are config overrides passed as flag values, e.g. codex's
// -c sandbox_mode="danger-full-access".
var writeSettings = map[string][]string{
	"codex": {"sandbox_mode"},
}

// WriteFlag returns the first argument in args that would let tool write
// when it runs as a validator. The generic tool has no known flags.
func WriteFlag(tool string, args []string) (string, bool) {
	flags := writeFlags[tool]
	settings := writeSettings[tool]
	for _, a := range args {
		name, _, _ := strings.Cut(a, "=")
		if slices.Contains(flags, name) {
			return a, true
		}
		for _, key := range settings {
			if strings.HasPrefix(strings.TrimLeft(a, "-"), key) || strings.Contains(a, "="+key) {
				return a, true
			}
		}
	}
	return "", false
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateProject()...)
	errors = append(errors, c.validateProviders()...)
	errors = append(errors, c.validateValidation()...)
	errors = append(errors, c.validateGuardian()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

// validateProject validates the ProjectConfig
func (c *Config) validateProject() []ValidationError {
	var errors []ValidationError

	if c.Project.SprintStatus == "" {
		errors = append(errors, ValidationError{
			Field:   "project.sprint_status",
			Value:   c.Project.SprintStatus,
			Message: "cannot be empty",
		})
	}

	if c.Project.Language != "" {
		if _, err := language.Parse(c.Project.Language); err != nil {
			errors = append(errors, ValidationError{
				Field:   "project.language",
				Value:   c.Project.Language,
				Message: "must be a BCP 47 language tag",
			})
		}
	}

	return errors
}

// validateProviders validates the primary provider and every validator
func (c *Config) validateProviders() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateProvider("providers.primary", c.Providers.Primary)...)

	if len(c.Providers.Validators) == 0 {
		errors = append(errors, ValidationError{
			Field:   "providers.validators",
			Value:   0,
			Message: "at least one validator is required",
		})
	}
	for i, p := range c.Providers.Validators {
		field := fmt.Sprintf("providers.validators[%d]", i)
		errors = append(errors, validateProvider(field, p)...)
		if flag, ok := WriteFlag(p.Tool, p.Args); ok {
			errors = append(errors, ValidationError{
				Field:   field + ".args",
				Value:   flag,
				Message: "overrides the read-only mode validators run in",
			})
		}
	}

	return errors
}

func validateProvider(field string, p ProviderConfig) []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidTools(), p.Tool) {
		errors = append(errors, ValidationError{
			Field:   field + ".tool",
			Value:   p.Tool,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTools(), ", ")),
		})
	}

	if p.Tool == "generic" && p.Command == "" {
		errors = append(errors, ValidationError{
			Field:   field + ".command",
			Value:   p.Command,
			Message: "is required for the generic tool",
		})
	}

	if p.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   field + ".timeout_seconds",
			Value:   p.TimeoutSeconds,
			Message: "must be positive",
		})
	}

	for i, pattern := range p.Models {
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s.models[%d]", field, i),
				Value:   pattern,
				Message: "invalid glob pattern",
			})
		}
	}

	return errors
}

// validateValidation validates the ValidationConfig
func (c *Config) validateValidation() []ValidationError {
	var errors []ValidationError

	if c.Validation.DeadlineSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.deadline_seconds",
			Value:   c.Validation.DeadlineSeconds,
			Message: "must be non-negative (0 derives it from validator timeouts)",
		})
	}

	if c.Validation.MinSuccessful < 1 {
		errors = append(errors, ValidationError{
			Field:   "validation.min_successful",
			Value:   c.Validation.MinSuccessful,
			Message: "must be at least 1",
		})
	} else if n := len(c.Providers.Validators); n > 0 && c.Validation.MinSuccessful > n {
		errors = append(errors, ValidationError{
			Field:   "validation.min_successful",
			Value:   c.Validation.MinSuccessful,
			Message: fmt.Sprintf("exceeds the number of configured validators (%d)", n),
		})
	}

	if c.Validation.MaxParallel < 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.max_parallel",
			Value:   c.Validation.MaxParallel,
			Message: "must be non-negative (0 = unlimited)",
		})
	}

	return errors
}

// validateGuardian validates the GuardianConfig
func (c *Config) validateGuardian() []ValidationError {
	var errors []ValidationError
	g := c.Guardian

	if g.RepetitionThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "guardian.repetition_threshold",
			Value:   g.RepetitionThreshold,
			Message: "must be at least 1",
		})
	}
	if g.MinSegmentLength < 1 {
		errors = append(errors, ValidationError{
			Field:   "guardian.min_segment_length",
			Value:   g.MinSegmentLength,
			Message: "must be at least 1",
		})
	}
	if g.ForeignScriptRatio <= 0 || g.ForeignScriptRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "guardian.foreign_script_ratio",
			Value:   g.ForeignScriptRatio,
			Message: "must be in (0, 1]",
		})
	}
	if g.MinConfidence < 0 || g.MinConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "guardian.min_confidence",
			Value:   g.MinConfidence,
			Message: "must be in [0, 1]",
		})
	}
	if g.OffTopicMinWords < 0 {
		errors = append(errors, ValidationError{
			Field:   "guardian.off_topic_min_words",
			Value:   g.OffTopicMinWords,
			Message: "must be non-negative",
		})
	}
	for i, pattern := range g.ErrorPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("guardian.error_patterns[%d]", i),
				Value:   pattern,
				Message: "invalid regular expression",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	paths := []struct {
		field string
		value string
	}{
		{"paths.state_file", c.Paths.StateFile},
		{"paths.artifacts_dir", c.Paths.ArtifactsDir},
		{"paths.anomalies_dir", c.Paths.AnomaliesDir},
		{"paths.log_dir", c.Paths.LogDir},
	}

	for _, p := range paths {
		if p.value == "" {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "cannot be empty",
			})
			continue
		}
		// Null bytes are invalid in paths on every supported platform
		if strings.ContainsRune(p.value, '\x00') {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "path contains invalid null character",
			})
		}
	}
	if strings.ContainsRune(c.Paths.TemplatesDir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "paths.templates_dir",
			Value:   c.Paths.TemplatesDir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}
