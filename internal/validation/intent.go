package validation

import (
	"regexp"
	"strings"
)

// writeIntentPatterns match phrases a validator prints when it attempted or
// claims to have changed the project. Validators run read-only, so a match
// means the output must not be trusted to describe the files as they are.
var writeIntentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\*\*\* (?:Begin Patch|Update File:|Add File:|Delete File:)`),
	regexp.MustCompile(`(?m)^diff --git a/`),
	regexp.MustCompile(`(?i)\bapply_patch\b`),
	regexp.MustCompile(`(?i)\bI(?:'ve| have) (?:updated|modified|edited|created|fixed|rewritten|deleted|changed) (?:the )?(?:file|files|code|test|tests)\b`),
	regexp.MustCompile(`(?i)\b(?:successfully )?(?:wrote|written) to (?:file )?\S+\.\w+`),
	regexp.MustCompile(`(?i)\bapplied (?:the )?(?:patch|changes|fix(?:es)?)\b`),
}

// detectWriteIntent returns the distinct markers found in output.
func detectWriteIntent(output string) []string {
	var markers []string
	seen := make(map[string]bool)
	for _, re := range writeIntentPatterns {
		for _, m := range re.FindAllString(output, 3) {
			m = strings.TrimSpace(m)
			if !seen[m] {
				seen[m] = true
				markers = append(markers, m)
			}
		}
	}
	return markers
}
