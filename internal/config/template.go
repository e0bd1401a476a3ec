package config

import (
	"bytes"
	"fmt"
	"text/template"
)

// templateRenderer implements variant.TemplateRenderer with named
// text/template templates loaded at config-build time. Template rendering
// itself is an external collaborator spec.md 1 deliberately leaves
// unspecified; text/template is the pack's own go-to for this (goa-ai's
// codegen and fewshot prompt assembly both build named templates the same
// way), so there is no reason to reach past the standard library here.
type templateRenderer struct {
	templates map[string]*template.Template
}

func newTemplateRenderer() *templateRenderer {
	return &templateRenderer{templates: make(map[string]*template.Template)}
}

// register compiles a named template's body. A variant config names its
// system/user/assistant template by the same name it registers here.
func (r *templateRenderer) register(name, body string) error {
	if body == "" {
		return nil
	}
	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return fmt.Errorf("config: parsing template %q: %w", name, err)
	}
	r.templates[name] = tmpl
	return nil
}

func (r *templateRenderer) Render(templateName string, arguments map[string]any) (string, error) {
	tmpl, ok := r.templates[templateName]
	if !ok {
		return "", fmt.Errorf("config: unknown template %q", templateName)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, arguments); err != nil {
		return "", fmt.Errorf("config: rendering template %q: %w", templateName, err)
	}
	return buf.String(), nil
}
