package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/Iron-Ham/storyloop/internal/artifact"
	"github.com/Iron-Ham/storyloop/internal/state"
)

//go:embed templates/*.tmpl
var builtin embed.FS

const templateExt = ".tmpl"

var funcs = template.FuncMap{
	"join":         strings.Join,
	"codeblock":    artifact.CodeBlock,
	"inc":          func(i int) int { return i + 1 },
	"languageName": languageName,
}

// languageName renders a BCP 47 tag as its English name, "ru" as "Russian".
func languageName(tag string) string {
	if tag == "" {
		return "English"
	}
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}

// TemplateBuilder renders one text/template per phase. Templates are looked
// up by the phase slug, e.g. "validate-create.tmpl".
type TemplateBuilder struct {
	templates map[state.Phase]*template.Template
}

// NewTemplateBuilder loads the built-in templates and, when dir is not
// empty, replaces any of them with "<phase>.tmpl" files found in dir.
func NewTemplateBuilder(dir string) (*TemplateBuilder, error) {
	b := &TemplateBuilder{templates: make(map[state.Phase]*template.Template)}
	for _, phase := range state.Phases() {
		name := phase.Slug() + templateExt

		src, err := builtin.ReadFile("templates/" + name)
		if err != nil {
			return nil, fmt.Errorf("missing built-in template %s: %w", name, err)
		}
		if dir != "" {
			custom, err := os.ReadFile(filepath.Join(dir, name))
			switch {
			case err == nil:
				src = custom
			case !os.IsNotExist(err):
				return nil, fmt.Errorf("failed to read template %s: %w", name, err)
			}
		}

		t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		b.templates[phase] = t
	}
	return b, nil
}

// Build renders the template for ctx.Phase.
func (b *TemplateBuilder) Build(ctx *Context) (string, error) {
	if err := ctx.validate(); err != nil {
		return "", err
	}
	t, ok := b.templates[ctx.Phase]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidPhase, ctx.Phase)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", ctx.Phase, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}
