package prompt

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
)

const TruncationNote = "\n\n[Note: File truncated for processing]"

// Engine renders Handlebars prompt templates and caches the parsed form.
type Engine struct {
	mutex sync.RWMutex
	cache map[string]*raymond.Template
}

func NewEngine() *Engine {
	return &Engine{
		cache: make(map[string]*raymond.Template),
	}
}

// Render fills a template with vars.
func (e *Engine) Render(source string, vars map[string]any) (string, error) {
	tmpl, err := e.template(source)
	if err != nil {
		return "", err
	}

	out, err := tmpl.Exec(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}

	return out, nil
}

// RenderAll renders one prompt per input, in order.
func (e *Engine) RenderAll(source string, inputs []map[string]any) ([]string, error) {
	prompts := make([]string, len(inputs))
	for i, vars := range inputs {
		p, err := e.Render(source, vars)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		prompts[i] = p
	}

	return prompts, nil
}

// Validate reports whether the template parses.
func (e *Engine) Validate(source string) error {
	_, err := e.template(source)
	return err
}

func (e *Engine) template(source string) (*raymond.Template, error) {
	e.mutex.RLock()
	tmpl, ok := e.cache[source]
	e.mutex.RUnlock()
	if ok {
		return tmpl, nil
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if tmpl, ok = e.cache[source]; ok {
		return tmpl, nil
	}

	tmpl, err := raymond.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	tmpl.RegisterHelpers(map[string]any{
		"truncate": truncate,
		"basename": basename,
		"trim":     trim,
	})

	e.cache[source] = tmpl
	return tmpl, nil
}

// truncate keeps the first limit characters and appends TruncationNote
// when anything was cut.
func truncate(value any, limit any) string {
	s := raymond.Str(value)

	n, err := strconv.Atoi(raymond.Str(limit))
	if err != nil || n <= 0 {
		return s
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n]) + TruncationNote
}

func basename(value any) string {
	return path.Base(strings.ReplaceAll(raymond.Str(value), "\\", "/"))
}

func trim(value any) string {
	return strings.TrimSpace(raymond.Str(value))
}
