// Package prompts owns the prompt-template manifest and request payload
// schemas. Templates are build-time artifacts embedded in the binary; the
// exact wording is non-normative, the instruction set per template is.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template names referenced by the email services.
const (
	TemplateCommonalities = "commonalities"
	TemplateCompose       = "compose"
	TemplateToneAdjust    = "tone_adjust"
	TemplateShorten       = "shorten"
	TemplateEdit          = "edit"
)

//go:embed templates.yaml
var manifestData []byte

// Template is one named prompt definition from the manifest.
type Template struct {
	Description  string   `yaml:"description"`
	System       string   `yaml:"system"`
	Temperature  float64  `yaml:"temperature"`
	Instructions []string `yaml:"instructions"`
}

// Manifest is the parsed templates.yaml file.
type Manifest struct {
	Version   string               `yaml:"version"`
	Templates map[string]*Template `yaml:"templates"`
}

// Registry holds the loaded templates keyed by name.
type Registry struct {
	templates map[string]*Template
}

// LoadRegistry parses the embedded manifest with strict validation.
// Unknown YAML fields are rejected to catch manifest typos at startup.
func LoadRegistry() (*Registry, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(manifestData))
	decoder.KnownFields(true)

	var manifest Manifest
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse prompt manifest: %w", err)
	}

	if manifest.Version == "" {
		manifest.Version = "v1"
	}

	required := []string{
		TemplateCommonalities,
		TemplateCompose,
		TemplateToneAdjust,
		TemplateShorten,
		TemplateEdit,
	}
	for _, name := range required {
		tpl, ok := manifest.Templates[name]
		if !ok {
			return nil, fmt.Errorf("prompt manifest missing required template: %s", name)
		}
		if len(tpl.Instructions) == 0 {
			return nil, fmt.Errorf("prompt template %s has no instructions", name)
		}
	}

	return &Registry{templates: manifest.Templates}, nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (*Template, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt template: %s", name)
	}
	return tpl, nil
}

// Count returns the number of loaded templates.
func (r *Registry) Count() int {
	return len(r.templates)
}

// Build assembles a prompt: the template instructions followed by labeled
// context sections in the order given. Empty sections are skipped.
func (t *Template) Build(sections []Section) string {
	var b strings.Builder
	for _, line := range t.Instructions {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, s := range sections {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(s.Label)
		b.WriteString(":\n")
		b.WriteString(s.Body)
		b.WriteString("\n")
	}
	return b.String()
}

// Section is one labeled block of context appended to a prompt.
type Section struct {
	Label string
	Body  string
}
