// Package config defines storyloop's configuration and loads it through a
// viper instance owned by the caller. The resulting *Config is validated once
// and then treated as immutable: core packages receive it (or a section of it)
// at construction time and never read viper themselves.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete storyloop configuration
type Config struct {
	Project    ProjectConfig    `mapstructure:"project"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Validation ValidationConfig `mapstructure:"validation"`
	Guardian   GuardianConfig   `mapstructure:"guardian"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ProjectConfig describes the project being driven through the workflow
type ProjectConfig struct {
	// Name is a human-readable project name used in prompts and reports
	Name string `mapstructure:"name"`
	// Root is the repository the primary actor works in (default: ".")
	Root string `mapstructure:"root"`
	// SprintStatus is the sprint-status YAML file of the external document tree,
	// relative to Root unless absolute
	SprintStatus string `mapstructure:"sprint_status"`
	// Language is the BCP 47 tag of the language tool output is expected in (default: "en")
	Language string `mapstructure:"language"`
	// TopicKeywords are words that on-topic output is expected to mention.
	// Empty disables the off-topic check.
	TopicKeywords []string `mapstructure:"topic_keywords"`
}

// ProviderConfig describes one tool/model pairing
type ProviderConfig struct {
	// Tool selects the adapter: "claude", "codex", "gemini" or "generic"
	Tool string `mapstructure:"tool"`
	// Model is passed to the tool's model selector
	Model string `mapstructure:"model"`
	// Command overrides the executable (default: the tool name)
	Command string `mapstructure:"command"`
	// Args are extra arguments; for the generic tool they are the whole argument
	// list and may contain the {model} and {settings} placeholders
	Args []string `mapstructure:"args"`
	// ReadOnlyArgs are the generic tool's arguments that restrict it to read-only use
	ReadOnlyArgs []string `mapstructure:"read_only_args"`
	// TimeoutSeconds is the hard wall-clock limit for one invocation
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// Settings is an optional settings-file path handed to the tool
	Settings string `mapstructure:"settings"`
	// TTY runs the tool under a pseudo-terminal (stdout and stderr are merged)
	TTY bool `mapstructure:"tty"`
	// Models are additional glob patterns of model names the tool accepts
	Models []string `mapstructure:"models"`
}

// Timeout returns the invocation timeout as a time.Duration
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ProvidersConfig holds the primary actor and the validators
type ProvidersConfig struct {
	// Primary is the only provider allowed to modify files
	Primary ProviderConfig `mapstructure:"primary"`
	// Validators are invoked read-only and concurrently in validation phases
	Validators []ProviderConfig `mapstructure:"validators"`
}

// ValidationConfig controls the multi-validator phases
type ValidationConfig struct {
	// DeadlineSeconds bounds the whole fan-out; 0 uses the longest validator timeout
	DeadlineSeconds int `mapstructure:"deadline_seconds"`
	// MinSuccessful is how many validators must succeed for synthesis to proceed (default: 1)
	MinSuccessful int `mapstructure:"min_successful"`
	// MaxParallel caps concurrent validator processes; 0 runs all at once
	MaxParallel int `mapstructure:"max_parallel"`
}

// Deadline returns the fan-out deadline as a time.Duration (0 means derived)
func (v ValidationConfig) Deadline() time.Duration {
	return time.Duration(v.DeadlineSeconds) * time.Second
}

// GuardianConfig controls output anomaly detection
type GuardianConfig struct {
	// Enabled turns the Guardian on (default: true)
	Enabled bool `mapstructure:"enabled"`
	// RepetitionThreshold is the number of occurrences of one segment that is
	// still tolerated; more is an anomaly (default: 3)
	RepetitionThreshold int `mapstructure:"repetition_threshold"`
	// MinSegmentLength ignores shorter segments when counting repetitions (default: 24)
	MinSegmentLength int `mapstructure:"min_segment_length"`
	// ForeignScriptRatio is the share of letters outside the expected script that
	// flags an unexpected language (default: 0.3)
	ForeignScriptRatio float64 `mapstructure:"foreign_script_ratio"`
	// OffTopicMinWords is the output length below which the off-topic check is skipped (default: 80)
	OffTopicMinWords int `mapstructure:"off_topic_min_words"`
	// MinConfidence drops anomalies classified below this confidence (default: 0.5)
	MinConfidence float64 `mapstructure:"min_confidence"`
	// ErrorPatterns are extra regular expressions treated as error markers
	ErrorPatterns []string `mapstructure:"error_patterns"`
	// WaitForResolution keeps the process alive while paused, watching for a resolution
	WaitForResolution bool `mapstructure:"wait_for_resolution"`
}

// ReconcileConfig controls alignment of the external sprint status
type ReconcileConfig struct {
	// Enabled runs reconciliation before every phase (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Auto applies corrections without confirmation during runs (default: true)
	Auto bool `mapstructure:"auto"`
}

// PathsConfig controls where storyloop stores data. Relative paths are
// resolved against the project root.
type PathsConfig struct {
	// StateFile is the loop state file (default: ".storyloop/state.yaml")
	StateFile string `mapstructure:"state_file"`
	// ArtifactsDir holds validation and synthesis reports (default: ".storyloop/reports")
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	// AnomaliesDir holds anomaly records (default: ".storyloop/anomalies")
	AnomaliesDir string `mapstructure:"anomalies_dir"`
	// LogDir holds storyloop.log (default: ".storyloop/logs")
	LogDir string `mapstructure:"log_dir"`
	// TemplatesDir holds prompt templates overriding the built-in ones,
	// named "<phase>.tmpl" (e.g. "develop.tmpl"). Empty uses the built-ins.
	TemplatesDir string `mapstructure:"templates_dir"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether file logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	Addr string `mapstructure:"addr"`
}

// Resolve returns p with every path made absolute relative to base.
// A leading ~ expands to the user's home directory.
func (p PathsConfig) Resolve(base string) PathsConfig {
	return PathsConfig{
		StateFile:    resolvePath(base, p.StateFile),
		ArtifactsDir: resolvePath(base, p.ArtifactsDir),
		AnomaliesDir: resolvePath(base, p.AnomaliesDir),
		LogDir:       resolvePath(base, p.LogDir),
		TemplatesDir: resolvePath(base, p.TemplatesDir),
	}
}

func resolvePath(base, path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

// SprintStatusPath returns the absolute path of the sprint-status file.
func (p ProjectConfig) SprintStatusPath() string {
	return resolvePath(p.Root, p.SprintStatus)
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			Root:          ".",
			SprintStatus:  "docs/sprint-status.yaml",
			Language:      "en",
			TopicKeywords: []string{},
		},
		Providers: ProvidersConfig{
			Primary: ProviderConfig{
				Tool:           "claude",
				Model:          "opus",
				TimeoutSeconds: 2700, // 45 minutes for develop phases
			},
			Validators: []ProviderConfig{
				{Tool: "codex", Model: "gpt-5", TimeoutSeconds: 300},
				{Tool: "gemini", Model: "gemini-2.5-pro", TimeoutSeconds: 300},
			},
		},
		Validation: ValidationConfig{
			DeadlineSeconds: 0, // Derived from validator timeouts
			MinSuccessful:   1,
			MaxParallel:     0,
		},
		Guardian: GuardianConfig{
			Enabled:             true,
			RepetitionThreshold: 3,
			MinSegmentLength:    24,
			ForeignScriptRatio:  0.3,
			OffTopicMinWords:    80,
			MinConfidence:       0.5,
			ErrorPatterns:       []string{},
			WaitForResolution:   false,
		},
		Reconcile: ReconcileConfig{
			Enabled: true,
			Auto:    true,
		},
		Paths: PathsConfig{
			StateFile:    ".storyloop/state.yaml",
			ArtifactsDir: ".storyloop/reports",
			AnomaliesDir: ".storyloop/anomalies",
			LogDir:       ".storyloop/logs",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	// Project defaults
	v.SetDefault("project.name", defaults.Project.Name)
	v.SetDefault("project.root", defaults.Project.Root)
	v.SetDefault("project.sprint_status", defaults.Project.SprintStatus)
	v.SetDefault("project.language", defaults.Project.Language)
	v.SetDefault("project.topic_keywords", defaults.Project.TopicKeywords)

	// Provider defaults
	v.SetDefault("providers.primary.tool", defaults.Providers.Primary.Tool)
	v.SetDefault("providers.primary.model", defaults.Providers.Primary.Model)
	v.SetDefault("providers.primary.timeout_seconds", defaults.Providers.Primary.TimeoutSeconds)
	validators := make([]map[string]any, 0, len(defaults.Providers.Validators))
	for _, p := range defaults.Providers.Validators {
		validators = append(validators, map[string]any{
			"tool":            p.Tool,
			"model":           p.Model,
			"timeout_seconds": p.TimeoutSeconds,
		})
	}
	v.SetDefault("providers.validators", validators)

	// Validation defaults
	v.SetDefault("validation.deadline_seconds", defaults.Validation.DeadlineSeconds)
	v.SetDefault("validation.min_successful", defaults.Validation.MinSuccessful)
	v.SetDefault("validation.max_parallel", defaults.Validation.MaxParallel)

	// Guardian defaults
	v.SetDefault("guardian.enabled", defaults.Guardian.Enabled)
	v.SetDefault("guardian.repetition_threshold", defaults.Guardian.RepetitionThreshold)
	v.SetDefault("guardian.min_segment_length", defaults.Guardian.MinSegmentLength)
	v.SetDefault("guardian.foreign_script_ratio", defaults.Guardian.ForeignScriptRatio)
	v.SetDefault("guardian.off_topic_min_words", defaults.Guardian.OffTopicMinWords)
	v.SetDefault("guardian.min_confidence", defaults.Guardian.MinConfidence)
	v.SetDefault("guardian.error_patterns", defaults.Guardian.ErrorPatterns)
	v.SetDefault("guardian.wait_for_resolution", defaults.Guardian.WaitForResolution)

	// Reconcile defaults
	v.SetDefault("reconcile.enabled", defaults.Reconcile.Enabled)
	v.SetDefault("reconcile.auto", defaults.Reconcile.Auto)

	// Paths defaults
	v.SetDefault("paths.state_file", defaults.Paths.StateFile)
	v.SetDefault("paths.artifacts_dir", defaults.Paths.ArtifactsDir)
	v.SetDefault("paths.anomalies_dir", defaults.Paths.AnomaliesDir)
	v.SetDefault("paths.log_dir", defaults.Paths.LogDir)
	v.SetDefault("paths.templates_dir", defaults.Paths.TemplatesDir)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Metrics defaults
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// NewViper returns a viper instance with defaults, the config search path and
// STORYLOOP_* environment overrides registered. cfgFile, when non-empty,
// replaces the search path. A missing config file is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("storyloop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".storyloop")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix("STORYLOOP")
	// e.g. STORYLOOP_GUARDIAN_REPETITION_THRESHOLD for guardian.repetition_threshold
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "storyloop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".storyloop"
	}
	return filepath.Join(home, ".config", "storyloop")
}
