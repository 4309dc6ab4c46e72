package guardian

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Iron-Ham/storyloop/internal/config"
	"github.com/Iron-Ham/storyloop/internal/logging"
)

// Type classifies an anomaly.
type Type string

const (
	TypeErrorMarker        Type = "error_marker"
	TypeEmptyOutput        Type = "empty_output"
	TypeRepetition         Type = "repetition"
	TypeUnexpectedLanguage Type = "unexpected_language"
	TypeOffTopic           Type = "off_topic"
)

// Verdict is the Guardian's judgement of one output. The zero value is
// Continue.
type Verdict struct {
	Type       Type
	Confidence float64
	Rationale  string
}

// Continue is the verdict for trustworthy output.
var Continue = Verdict{}

// IsAnomaly reports whether the verdict should pause the loop.
func (v Verdict) IsAnomaly() bool {
	return v.Type != ""
}

func (v Verdict) String() string {
	if !v.IsAnomaly() {
		return "continue"
	}
	return fmt.Sprintf("anomaly %s (%.2f): %s", v.Type, v.Confidence, v.Rationale)
}

// Input is one output handed to the Guardian with the context it came from.
type Input struct {
	Output string
	// ReportedError is set when the tool flagged its own response as failed
	// (for example claude's "is_error") even though it exited cleanly.
	ReportedError bool
	Epic          int
	Story         string
	Phase         string
	Tool          string
	Model         string
}

// Guardian inspects tool output for anomalous patterns. It only reads what
// it is given; pausing the loop and persisting records is up to the caller.
type Guardian struct {
	enabled            bool
	repetitionLimit    int
	minSegmentLength   int
	foreignScriptRatio float64
	offTopicMinWords   int
	minConfidence      float64
	errorPatterns      []*regexp.Regexp
	scripts            scriptSet
	keywords           []string
	logger             *logging.Logger
}

// New builds a Guardian from configuration. language is the BCP 47 tag
// output is expected in; keywords are the project's topic words.
func New(cfg config.GuardianConfig, language string, keywords []string, logger *logging.Logger) (*Guardian, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	scripts, err := expectedScripts(language)
	if err != nil {
		return nil, err
	}

	patterns := make([]*regexp.Regexp, 0, len(defaultErrorPatterns)+len(cfg.ErrorPatterns))
	for _, p := range defaultErrorPatterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	for _, p := range cfg.ErrorPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid error pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}

	return &Guardian{
		enabled:            cfg.Enabled,
		repetitionLimit:    cfg.RepetitionThreshold,
		minSegmentLength:   cfg.MinSegmentLength,
		foreignScriptRatio: cfg.ForeignScriptRatio,
		offTopicMinWords:   cfg.OffTopicMinWords,
		minConfidence:      cfg.MinConfidence,
		errorPatterns:      patterns,
		scripts:            scripts,
		keywords:           kw,
		logger:             logger,
	}, nil
}

// Inspect classifies in.Output. Checks run in a fixed order and the first
// one that fires decides the verdict. Anomalies below the configured minimum
// confidence are logged and treated as Continue.
func (g *Guardian) Inspect(in Input) Verdict {
	if !g.enabled {
		return Continue
	}

	checks := []func(Input) Verdict{
		g.checkErrorMarkers,
		g.checkEmpty,
		g.checkRepetition,
		g.checkLanguage,
		g.checkOffTopic,
	}
	for _, check := range checks {
		v := check(in)
		if !v.IsAnomaly() {
			continue
		}
		logger := g.logger.WithEpic(in.Epic).WithStory(in.Story).WithPhase(in.Phase).WithProvider(in.Tool, in.Model)
		if v.Confidence < g.minConfidence {
			logger.Info("anomaly below confidence threshold ignored",
				"type", string(v.Type),
				"confidence", v.Confidence,
				"rationale", v.Rationale)
			continue
		}
		logger.Warn("anomaly detected",
			"type", string(v.Type),
			"confidence", v.Confidence,
			"rationale", v.Rationale)
		return v
	}
	return Continue
}
