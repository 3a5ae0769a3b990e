package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Engine renders notification templates. Parsed templates are cached by source.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// TemplateContext provides data for template execution. Secrets are read
// through the secret helper at execution time.
type TemplateContext struct {
	Secrets map[string]string
	Data    map[string]any
}

// New creates a new template engine.
func New() *Engine {
	return &Engine{cache: map[string]*template.Template{}}
}

func funcs() template.FuncMap {
	return template.FuncMap{
		// Rebound per execution via Clone.
		"secret": func(string) (string, error) { return "", fmt.Errorf("no secrets available") },
		"to_json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
		"upper": strings.ToUpper,
		"default": func(fallback, v any) any {
			if s, ok := v.(string); ok && s == "" {
				return fallback
			}
			if v == nil {
				return fallback
			}
			return v
		},
	}
}

func (e *Engine) parse(src string) (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		e.cache = map[string]*template.Template{}
	}
	if t, ok := e.cache[src]; ok {
		return t, nil
	}
	t, err := template.New("tpl").Option("missingkey=zero").Funcs(funcs()).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	e.cache[src] = t
	return t, nil
}

// RenderString renders the provided template string with context.
func (e *Engine) RenderString(src string, ctx TemplateContext) (string, error) {
	if src == "" {
		return "", nil
	}
	base, err := e.parse(src)
	if err != nil {
		return "", err
	}
	t, err := base.Clone()
	if err != nil {
		return "", fmt.Errorf("clone template: %w", err)
	}
	t.Funcs(template.FuncMap{
		"secret": func(key string) (string, error) {
			val, ok := ctx.Secrets[key]
			if !ok {
				return "", fmt.Errorf("secret %q not found", key)
			}
			return val, nil
		},
	})

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx.Data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// RenderMap applies templates to each value in a map.
func (e *Engine) RenderMap(values map[string]string, ctx TemplateContext) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for key, val := range values {
		rendered, err := e.RenderString(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = rendered
	}
	return out, nil
}
