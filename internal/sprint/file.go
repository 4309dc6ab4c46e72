package sprint

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/storyloop/internal/errors"
	"github.com/Iron-Ham/storyloop/internal/util"
)

const (
	statusSection = "development_status"
	tempPrefix    = ".sprint-status-"
)

// File is a sprint-status YAML document on disk. Updates rewrite only the
// affected line, so comments, blank lines and key order survive.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a File for path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the document path.
func (f *File) Path() string {
	return f.path
}

// Read parses the document.
func (f *File) Read(ctx context.Context) (ProjectState, error) {
	if err := ctx.Err(); err != nil {
		return ProjectState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return ProjectState{}, fmt.Errorf("failed to read sprint status: %w", err)
	}
	_, section, err := parse(data)
	if err != nil {
		return ProjectState{}, fmt.Errorf("%s: %w", f.path, err)
	}
	return build(f.path, entries(section)), nil
}

// Apply sets c.Key to c.Status, inserting the key when it is missing. The
// file is replaced atomically.
func (f *File) Apply(ctx context.Context, c Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Key == "" || c.Status == "" || strings.ContainsAny(c.Status, ":#\n") {
		return errors.NewValidationError("invalid sprint status change").WithField("change").WithValue(c)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read sprint status: %w", err)
	}
	_, section, err := parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}

	var updated []byte
	if section.Style&yaml.FlowStyle != 0 {
		updated, err = applyToNode(data, c)
	} else {
		updated, err = applyToLines(data, section, c)
	}
	if err != nil {
		return err
	}

	if err := util.WriteFileAtomic(f.path, updated, filePerm(f.path), tempPrefix); err != nil {
		return errors.NewPersistenceError("failed to write sprint status", err).WithPath(f.path)
	}
	return nil
}

func filePerm(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0644
}

// parse returns the document node and its development_status mapping.
func parse(data []byte) (*yaml.Node, *yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("expected a YAML mapping at the top level")
	}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == statusSection {
			section := root.Content[i+1]
			if section.Kind != yaml.MappingNode {
				return nil, nil, fmt.Errorf("%s must be a mapping", statusSection)
			}
			return &doc, section, nil
		}
	}
	return nil, nil, fmt.Errorf("missing %s section", statusSection)
}

func entries(section *yaml.Node) []Entry {
	out := make([]Entry, 0, len(section.Content)/2)
	for i := 0; i+1 < len(section.Content); i += 2 {
		k, v := section.Content[i], section.Content[i+1]
		out = append(out, Entry{
			Key:    k.Value,
			Status: strings.ToLower(strings.TrimSpace(v.Value)),
			Line:   k.Line,
		})
	}
	return out
}

func findKey(section *yaml.Node, key string) (*yaml.Node, *yaml.Node) {
	for i := 0; i+1 < len(section.Content); i += 2 {
		if section.Content[i].Value == key {
			return section.Content[i], section.Content[i+1]
		}
	}
	return nil, nil
}

// applyToLines edits the raw text: the value token of an existing key is
// replaced in place, a missing key is inserted as a new line.
func applyToLines(data []byte, section *yaml.Node, c Change) ([]byte, error) {
	lines := strings.SplitAfter(string(data), "\n")

	if k, v := findKey(section, c.Key); k != nil {
		if v.Kind != yaml.ScalarNode || v.Line != k.Line {
			return nil, fmt.Errorf("cannot update %s: value is not an inline scalar", c.Key)
		}
		idx := v.Line - 1
		line := lines[idx]
		start := v.Column - 1
		if start < 0 || start > len(line) {
			return nil, fmt.Errorf("cannot update %s: position out of range", c.Key)
		}
		rest := line[start:]
		// Keep a trailing comment and the line ending.
		tail := ""
		if i := strings.Index(rest, " #"); i >= 0 {
			tail = rest[i:]
		} else if strings.HasSuffix(rest, "\r\n") {
			tail = "\r\n"
		} else if strings.HasSuffix(rest, "\n") {
			tail = "\n"
		}
		lines[idx] = line[:start] + c.Status + tail
		return []byte(strings.Join(lines, "")), nil
	}

	if len(section.Content) == 0 {
		return applyToNode(data, c)
	}

	anchor := section.Content[len(section.Content)-2]
	lastValue := section.Content[len(section.Content)-1]
	insertAfter := lastValue.Line
	if c.After != "" {
		if k, v := findKey(section, c.After); k != nil {
			anchor, insertAfter = k, v.Line
		}
	}
	indent := strings.Repeat(" ", anchor.Column-1)
	newLine := fmt.Sprintf("%s%s: %s\n", indent, c.Key, c.Status)

	if insertAfter > len(lines) {
		insertAfter = len(lines)
	}
	if insertAfter > 0 && !strings.HasSuffix(lines[insertAfter-1], "\n") {
		lines[insertAfter-1] += "\n"
	}
	lines = append(lines[:insertAfter], append([]string{newLine}, lines[insertAfter:]...)...)
	return []byte(strings.Join(lines, "")), nil
}

// applyToNode edits the node tree and re-encodes it. Used for flow-style or
// empty sections where a line edit is not possible.
func applyToNode(data []byte, c Change) ([]byte, error) {
	doc, section, err := parse(data)
	if err != nil {
		return nil, err
	}
	section.Style = 0

	if _, v := findKey(section, c.Key); v != nil {
		v.Value = c.Status
		v.Style = 0
	} else {
		pair := []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: c.Key},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: c.Status},
		}
		pos := len(section.Content)
		for i := 0; i+1 < len(section.Content); i += 2 {
			if c.After != "" && section.Content[i].Value == c.After {
				pos = i + 2
			}
		}
		content := append([]*yaml.Node{}, section.Content[:pos]...)
		content = append(content, pair...)
		section.Content = append(content, section.Content[pos:]...)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode sprint status: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode sprint status: %w", err)
	}
	return buf.Bytes(), nil
}
