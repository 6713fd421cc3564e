package steps

import (
	"fmt"
	"strings"
	"text/template"

	"reelsmith/internal/pipeline"
)

// render expands a text/template against the snapshot. Keys containing dots
// are reachable through index, e.g. {{index . "script.output"}}.
func render(name, text string, snap pipeline.Snapshot) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", text, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, snap.ToMap()); err != nil {
		return "", fmt.Errorf("render template %q: %w", text, err)
	}
	return out.String(), nil
}

func renderAll(name string, values []string, snap pipeline.Snapshot) ([]string, error) {
	rendered := make([]string, 0, len(values))
	for _, value := range values {
		v, err := render(name, value, snap)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, v)
	}
	return rendered, nil
}
