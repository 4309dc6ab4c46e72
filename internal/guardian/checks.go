package guardian

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// defaultErrorPatterns match failure banners printed by LLM CLIs and their
// APIs. They are anchored to line starts or specific API wording so that a
// review discussing error handling does not trip them.
var defaultErrorPatterns = []string{
	`(?m)^\s*(?:Error|ERROR|Fatal|FATAL):\s`,
	`(?i)\brate[ _-]?limit(?:ed| exceeded| reached)\b`,
	`(?i)\b(?:quota|usage limit) (?:exceeded|reached)\b`,
	`(?i)\binvalid (?:api[ _-]?key|x-api-key)\b`,
	`(?i)\b(?:authentication|authorization)_error\b`,
	`(?i)\boverloaded_error\b`,
	`(?i)\bprompt is too long\b`,
	`(?i)\bcontext (?:length|window) exceeded\b`,
	`(?i)\bAPI Error: \d{3}\b`,
	`\b(?:ECONNRESET|ECONNREFUSED|ETIMEDOUT)\b`,
	`(?m)^Traceback \(most recent call last\):`,
	`(?m)^panic: `,
}

func (g *Guardian) checkErrorMarkers(in Input) Verdict {
	if in.ReportedError {
		return Verdict{
			Type:       TypeErrorMarker,
			Confidence: 0.95,
			Rationale:  fmt.Sprintf("%s reported its own response as an error", toolName(in.Tool)),
		}
	}
	for _, re := range g.errorPatterns {
		if m := re.FindString(in.Output); m != "" {
			return Verdict{
				Type:       TypeErrorMarker,
				Confidence: 0.9,
				Rationale:  fmt.Sprintf("output contains error marker %q", strings.TrimSpace(m)),
			}
		}
	}
	return Continue
}

func (g *Guardian) checkEmpty(in Input) Verdict {
	if strings.TrimSpace(in.Output) != "" {
		return Continue
	}
	return Verdict{
		Type:       TypeEmptyOutput,
		Confidence: 0.8,
		Rationale:  fmt.Sprintf("%s produced no output", toolName(in.Tool)),
	}
}

// checkRepetition counts normalized segments (lines, sentences and
// multi-line paragraphs). A segment seen more often than the threshold is a loop.
func (g *Guardian) checkRepetition(in Input) Verdict {
	segment, count := mostRepeated(in.Output, g.minSegmentLength)
	if count <= g.repetitionLimit {
		return Continue
	}
	return Verdict{
		Type:       TypeRepetition,
		Confidence: min(1, 0.6+0.1*float64(count-g.repetitionLimit)),
		Rationale: fmt.Sprintf("segment repeated %d times (limit %d): %q",
			count, g.repetitionLimit, truncate(segment, 80)),
	}
}

func (g *Guardian) checkLanguage(in Input) Verdict {
	ratio, foreign, letters := g.scripts.foreignRatio(in.Output)
	if letters < minLettersForLanguage || ratio <= g.foreignScriptRatio {
		return Continue
	}
	return Verdict{
		Type:       TypeUnexpectedLanguage,
		Confidence: min(1, 0.5+ratio/2),
		Rationale: fmt.Sprintf("%.0f%% of letters are outside the expected %s script (mostly %s)",
			ratio*100, g.scripts.name, foreign),
	}
}

// checkOffTopic only runs when topic keywords are configured. Long output
// that names neither a keyword nor the story is flagged.
func (g *Guardian) checkOffTopic(in Input) Verdict {
	if len(g.keywords) == 0 {
		return Continue
	}
	words := strings.Fields(in.Output)
	if len(words) < g.offTopicMinWords {
		return Continue
	}

	lower := strings.ToLower(in.Output)
	for _, k := range g.keywords {
		if strings.Contains(lower, k) {
			return Continue
		}
	}
	if in.Story != "" && (strings.Contains(lower, in.Story) || strings.Contains(lower, strings.ReplaceAll(in.Story, ".", "-"))) {
		return Continue
	}
	return Verdict{
		Type:       TypeOffTopic,
		Confidence: 0.6,
		Rationale:  fmt.Sprintf("%d words without any project keyword or the story id", len(words)),
	}
}

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	digitRun    = regexp.MustCompile(`\d+`)
	sentenceEnd = regexp.MustCompile(`[.!?]\s+`)
)

// normalizeSegment makes near-identical segments compare equal: case,
// whitespace, numbers and list or quote markers are ignored.
func normalizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimLeft(s, "-*>#0123456789. \t")
	s = digitRun.ReplaceAllString(s, "#")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimRight(s, ".,;:!? ")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func mostRepeated(output string, minLen int) (string, int) {
	// Keys carry the segment kind so a one-sentence line is not counted
	// twice under the same key.
	counts := make(map[string]int)
	var best string
	bestCount := 0

	add := func(kind byte, seg string) {
		n := normalizeSegment(seg)
		if len(n) < minLen || !hasLetter(n) {
			return
		}
		key := string(kind) + n
		counts[key]++
		if counts[key] > bestCount {
			best, bestCount = n, counts[key]
		}
	}

	normalized := strings.ReplaceAll(output, "\r\n", "\n")
	for _, line := range strings.Split(normalized, "\n") {
		add('l', line)
		// A loop inside one long line, such as a JSON result, repeats
		// sentences rather than lines.
		if sentences := sentenceEnd.Split(line, -1); len(sentences) > 1 {
			for _, sentence := range sentences {
				add('s', sentence)
			}
		}
	}
	// Paragraphs are counted separately so a repeated multi-line block is
	// caught even when each of its lines is short.
	for _, para := range strings.Split(normalized, "\n\n") {
		if strings.Contains(strings.TrimSpace(para), "\n") {
			add('p', para)
		}
	}
	return best, bestCount
}

func toolName(tool string) string {
	if tool == "" {
		return "the tool"
	}
	return tool
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
