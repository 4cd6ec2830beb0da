package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// ErrTemplate marks templates that fail to parse or reference variables
// that were not supplied.
var ErrTemplate = errors.New("invalid template")

// RenderString interpolates vars into src. Variables are referenced as
// {{ .name }}; referencing a name missing from vars is an error.
func RenderString(src string, vars map[string]any) (string, error) {
	return render("inline", src, vars)
}

// RenderFile reads the template at path and renders it with vars.
func RenderFile(path string, vars map[string]any) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return render(filepath.Base(path), string(b), vars)
}

func render(name, src string, vars map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse template %s: %w", ErrTemplate, name, err)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("%w: failed to render template %s: %w", ErrTemplate, name, err)
	}
	return sb.String(), nil
}
