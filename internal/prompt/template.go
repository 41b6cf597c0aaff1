// Package prompt loads YAML prompt templates and parses model responses.
// A template declares the fields the model must return and a default value
// per field, so a malformed response degrades to defaults instead of
// failing the record.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/litstack/litreview/internal/model"
)

// TemplateError reports a template that cannot be used. Template problems
// are configuration mistakes and abort the run before any record is touched.
type TemplateError struct {
	Path   string
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Path == "" {
		return "prompt: invalid template: " + e.Reason
	}
	return fmt.Sprintf("prompt: invalid template %s: %s", e.Path, e.Reason)
}

// Template is one prompt definition loaded from YAML.
type Template struct {
	Type          string            `yaml:"type"`
	Name          string            `yaml:"name"`
	System        string            `yaml:"system"`
	UserTemplate  string            `yaml:"user_template"`
	Fields        []string          `yaml:"fields"`
	DefaultValues map[string]string `yaml:"default_values"`

	// Accepted as aliases for System and UserTemplate.
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`

	path string
}

// Validate checks the template is usable: a type, a user template containing
// the {abstract} placeholder, and at least one declared output field.
func (t *Template) Validate() error {
	if t.Type == "" {
		return &TemplateError{Path: t.path, Reason: "missing type"}
	}
	if t.UserTemplate == "" {
		return &TemplateError{Path: t.path, Reason: "missing user_template"}
	}
	if !strings.Contains(t.UserTemplate, "{abstract}") {
		return &TemplateError{Path: t.path, Reason: "user_template lacks {abstract} placeholder"}
	}
	if len(t.Fields) == 0 {
		return &TemplateError{Path: t.path, Reason: "no output fields declared"}
	}
	return nil
}

// Render substitutes record placeholders into the user template and returns
// the system and user prompts for one call.
func (t *Template) Render(rec *model.BibliographicRecord) (system, user string) {
	r := strings.NewReplacer(
		"{abstract}", rec.Abstract,
		"{title}", rec.Title,
		"{journal}", rec.Journal,
	)
	return t.System, r.Replace(t.UserTemplate)
}

// Defaults returns a fresh copy of the per-field default values, with an
// empty string for any declared field the template does not cover.
func (t *Template) Defaults() map[string]string {
	out := make(map[string]string, len(t.Fields))
	for _, f := range t.Fields {
		out[f] = t.DefaultValues[f]
	}
	return out
}

// LoadDir loads and validates every *.yaml / *.yml template under dir,
// keyed by template type. An unreadable or invalid file fails the load.
func LoadDir(dir string) (map[string]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrap(err, "prompt: read template directory")
	}

	templates := make(map[string]*Template)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		t, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(t.Type)
		if prev, ok := templates[key]; ok {
			zap.L().Warn("duplicate template type, keeping later file",
				zap.String("type", t.Type),
				zap.String("kept", t.path),
				zap.String("shadowed", prev.path),
			)
		}
		templates[key] = t
	}

	if len(templates) == 0 {
		return nil, &TemplateError{Path: dir, Reason: "no templates found"}
	}
	return templates, nil
}

// Select returns the template for typ, falling back to any available
// template when typ is unknown. Types compare case-insensitively.
func Select(templates map[string]*Template, typ string) (*Template, error) {
	if len(templates) == 0 {
		return nil, eris.New("prompt: no templates loaded")
	}
	if t, ok := templates[strings.ToLower(typ)]; ok {
		return t, nil
	}
	for _, t := range templates {
		zap.L().Warn("unknown template type, using fallback",
			zap.String("requested", typ),
			zap.String("selected", t.Type),
		)
		return t, nil
	}
	return nil, eris.New("prompt: no templates loaded")
}

func loadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prompt: read template %s", path)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, &TemplateError{Path: path, Reason: "invalid YAML: " + err.Error()}
	}
	t.path = path
	t.Type = strings.ToLower(strings.TrimSpace(t.Type))
	if t.System == "" {
		t.System = t.SystemPrompt
	}
	if t.UserTemplate == "" {
		t.UserTemplate = t.UserPrompt
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
