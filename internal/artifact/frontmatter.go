// Package artifact reads and writes the Markdown documents storyloop leaves
// behind: validation reports, synthesis results and anomaly records. Each
// document starts with a YAML frontmatter block fenced by "---" lines.
package artifact

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/storyloop/internal/errors"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be split or parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ParseFrontMatter decodes the frontmatter of content into meta and returns
// the body that follows it.
func ParseFrontMatter(content []byte, meta any) ([]byte, error) {
	if len(content) == 0 {
		return nil, ErrMissingFrontMatter
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return nil, ErrMalformedFrontMatter
	}
	if err := yaml.Unmarshal(parts[0], meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	return bytes.TrimPrefix(parts[1], []byte("\n")), nil
}

// WriteFrontMatter renders meta as a YAML block followed by body.
func WriteFrontMatter(meta any, body []byte) ([]byte, error) {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// CodeBlock wraps text in a fence longer than any backtick run it contains,
// so that the text can be recovered verbatim with ExtractCodeBlock.
func CodeBlock(text string) string {
	longest, run := 0, 0
	for _, r := range text {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	fence := strings.Repeat("`", max(3, longest+1))

	var b strings.Builder
	b.WriteString(fence)
	b.WriteString("text\n")
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(fence)
	b.WriteString("\n")
	return b.String()
}

// ExtractCodeBlock returns the content of the first fenced block following
// the line heading in body. A single trailing newline is not preserved.
func ExtractCodeBlock(body, heading string) (string, bool) {
	idx := strings.Index(body, heading+"\n")
	if idx < 0 {
		return "", false
	}
	rest := body[idx+len(heading)+1:]

	lines := strings.SplitAfter(rest, "\n")
	start := -1
	var fence string
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\n")
		if strings.HasPrefix(trimmed, "```") {
			fence = strings.TrimRight(trimmed, "abcdefghijklmnopqrstuvwxyz")
			start = i + 1
			break
		}
		if strings.TrimSpace(trimmed) != "" {
			return "", false
		}
	}
	if start < 0 {
		return "", false
	}

	var b strings.Builder
	for _, line := range lines[start:] {
		if strings.TrimRight(line, "\n") == fence {
			return strings.TrimSuffix(b.String(), "\n"), true
		}
		b.WriteString(line)
	}
	return "", false
}
