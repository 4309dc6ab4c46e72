package config

import (
	"strings"
	"testing"
)

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "guardian.repetition_threshold",
		Value:   0,
		Message: "must be at least 1",
	}

	want := "guardian.repetition_threshold: must be at least 1 (got: 0)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := ValidationErrors(nil).Error(); got != "" {
			t.Errorf("Error() = %q, want empty", got)
		}
	})

	t.Run("multiple", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "a", Value: 1, Message: "bad"},
			{Field: "b", Value: 2, Message: "worse"},
		}
		got := errs.Error()
		if !strings.HasPrefix(got, "2 validation errors:") {
			t.Errorf("Error() = %q, want count prefix", got)
		}
		if !strings.Contains(got, "2. b: worse (got: 2)") {
			t.Errorf("Error() = %q, missing numbered entry", got)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("default config should be valid, got: %v", errs)
	}
}

func TestConfig_Validate_Providers(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{
			name:   "unknown primary tool",
			modify: func(c *Config) { c.Providers.Primary.Tool = "cursor" },
			field:  "providers.primary.tool",
		},
		{
			name:   "zero timeout",
			modify: func(c *Config) { c.Providers.Validators[0].TimeoutSeconds = 0 },
			field:  "providers.validators[0].timeout_seconds",
		},
		{
			name: "generic without command",
			modify: func(c *Config) {
				c.Providers.Validators[1] = ProviderConfig{Tool: "generic", TimeoutSeconds: 10}
			},
			field: "providers.validators[1].command",
		},
		{
			name:   "bad model glob",
			modify: func(c *Config) { c.Providers.Primary.Models = []string{"claude-["} },
			field:  "providers.primary.models[0]",
		},
		{
			name:   "no validators",
			modify: func(c *Config) { c.Providers.Validators = nil },
			field:  "providers.validators",
		},
		{
			name:   "validator with write flag",
			modify: func(c *Config) { c.Providers.Validators[0].Args = []string{"--sandbox", "danger-full-access"} },
			field:  "providers.validators[0].args",
		},
		{
			name:   "validator with inline write flag",
			modify: func(c *Config) { c.Providers.Validators[1].Args = []string{"--yolo"} },
			field:  "providers.validators[1].args",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if errs := cfg.Validate(); !hasFieldError(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_PrimaryMayUseWriteFlags(t *testing.T) {
	cfg := Default()
	cfg.Providers.Primary.Args = []string{"--dangerously-skip-permissions"}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestWriteFlag(t *testing.T) {
	tests := []struct {
		tool string
		args []string
		want bool
	}{
		{"claude", []string{"--verbose"}, false},
		{"claude", []string{"--dangerously-skip-permissions"}, true},
		{"codex", []string{"-s", "danger-full-access"}, true},
		{"codex", []string{"--config=sandbox_mode=danger-full-access"}, true},
		{"codex", []string{"--reasoning-effort", "high"}, false},
		{"gemini", []string{"-y"}, true},
		{"gemini", []string{"--yolo"}, true},
		{"generic", []string{"--yolo"}, false},
	}
	for _, tt := range tests {
		if _, got := WriteFlag(tt.tool, tt.args); got != tt.want {
			t.Errorf("WriteFlag(%s, %v) = %v, want %v", tt.tool, tt.args, got, tt.want)
		}
	}
}

func TestConfig_Validate_Validation(t *testing.T) {
	t.Run("min_successful above validator count", func(t *testing.T) {
		cfg := Default()
		cfg.Validation.MinSuccessful = 3
		if !hasFieldError(cfg.Validate(), "validation.min_successful") {
			t.Error("expected error when min_successful exceeds validators")
		}
	})

	t.Run("min_successful zero", func(t *testing.T) {
		cfg := Default()
		cfg.Validation.MinSuccessful = 0
		if !hasFieldError(cfg.Validate(), "validation.min_successful") {
			t.Error("expected error for min_successful 0")
		}
	})

	t.Run("negative deadline", func(t *testing.T) {
		cfg := Default()
		cfg.Validation.DeadlineSeconds = -1
		if !hasFieldError(cfg.Validate(), "validation.deadline_seconds") {
			t.Error("expected error for negative deadline")
		}
	})
}

func TestConfig_Validate_Guardian(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*GuardianConfig)
		field  string
	}{
		{"threshold zero", func(g *GuardianConfig) { g.RepetitionThreshold = 0 }, "guardian.repetition_threshold"},
		{"segment length zero", func(g *GuardianConfig) { g.MinSegmentLength = 0 }, "guardian.min_segment_length"},
		{"ratio zero", func(g *GuardianConfig) { g.ForeignScriptRatio = 0 }, "guardian.foreign_script_ratio"},
		{"ratio above one", func(g *GuardianConfig) { g.ForeignScriptRatio = 1.5 }, "guardian.foreign_script_ratio"},
		{"confidence negative", func(g *GuardianConfig) { g.MinConfidence = -0.1 }, "guardian.min_confidence"},
		{"bad regex", func(g *GuardianConfig) { g.ErrorPatterns = []string{"(unclosed"} }, "guardian.error_patterns[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg.Guardian)
			if errs := cfg.Validate(); !hasFieldError(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_Project(t *testing.T) {
	cfg := Default()
	cfg.Project.Language = "not a tag!"
	cfg.Project.SprintStatus = ""

	errs := cfg.Validate()
	if !hasFieldError(errs, "project.language") {
		t.Error("expected error for invalid language tag")
	}
	if !hasFieldError(errs, "project.sprint_status") {
		t.Error("expected error for empty sprint_status")
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", ""} {
			cfg := Default()
			cfg.Logging.Level = level
			if hasFieldError(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "verbose"
		if !hasFieldError(cfg.Validate(), "logging.level") {
			t.Error("expected error for invalid log level")
		}
	})

	t.Run("size bounds", func(t *testing.T) {
		for _, size := range []int{0, 1001} {
			cfg := Default()
			cfg.Logging.MaxSizeMB = size
			if !hasFieldError(cfg.Validate(), "logging.max_size_mb") {
				t.Errorf("expected error for max_size_mb %d", size)
			}
		}
	})
}

func TestConfig_Validate_Paths(t *testing.T) {
	cfg := Default()
	cfg.Paths.StateFile = ""
	cfg.Paths.LogDir = "logs\x00"

	errs := cfg.Validate()
	if !hasFieldError(errs, "paths.state_file") {
		t.Error("expected error for empty state_file")
	}
	if !hasFieldError(errs, "paths.log_dir") {
		t.Error("expected error for null byte in log_dir")
	}
}
