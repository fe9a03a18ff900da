// Package template provides the sandboxed notification body renderer.
//
// Templates are registered by name at startup; rendering is a pure
// function of (name, data). The func map contains only string helpers —
// no file, environment, process, or network access is reachable from
// template code, and unknown data keys fail the render instead of
// silently producing "<no value>".
package template

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	texttemplate "text/template"
)

// ErrNotFound is returned when a template name is not registered.
var ErrNotFound = errors.New("template: not found")

// RenderError wraps a failure inside template execution (missing field,
// bad pipeline, etc.).
type RenderError struct {
	Name string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template: render %q: %v", e.Name, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// funcs is the fixed, safe func map available to all templates.
// Pure string transforms only.
var funcs = texttemplate.FuncMap{
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
	"trim":    strings.TrimSpace,
	"replace": strings.ReplaceAll,
	"join":    strings.Join,
}

// Renderer holds registered templates and renders them against data
// maps. Safe for concurrent use.
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]*texttemplate.Template
}

// NewRenderer creates an empty renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		templates: make(map[string]*texttemplate.Template),
	}
}

// Register parses and stores a template under name, replacing any
// previous registration. Parse errors are returned to the caller so bad
// templates are rejected at startup, not at delivery time.
func (r *Renderer) Register(name, body string) error {
	tmpl, err := texttemplate.New(name).
		Funcs(funcs).
		Option("missingkey=error").
		Parse(body)
	if err != nil {
		return fmt.Errorf("template: parse %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = tmpl
	return nil
}

// Names returns all registered template names.
func (r *Renderer) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Render executes the named template against data. Returns ErrNotFound
// for unregistered names and a *RenderError when execution fails.
func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &RenderError{Name: name, Err: err}
	}
	return buf.String(), nil
}
