// Package prompt renders step prompt templates.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value. Missing required variables cause an error.
// {{#if variable}}...{{/if}} blocks are included only if the variable is non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	// Process conditional blocks iteratively, innermost first
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	// Second pass: expand variables, collecting any missing ones
	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		varName := m[1]
		if val, ok := vars[varName]; ok {
			return val
		}
		missing = append(missing, varName)
		return match // leave placeholder for error reporting
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return expanded, nil
}

// processConditionals handles {{#if var}}...{{/if}} blocks, supporting nesting.
// It processes innermost blocks first by finding the last {{#if before each {{/if}}.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		// Find the first {{/if}}
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		// Find the last {{#if ...}} before this {{/if}}; that's the innermost
		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}

		// Take the last (innermost) opening tag
		lastOpen := openLocs[len(openLocs)-1]
		openStart := lastOpen[0]
		openEnd := lastOpen[1]

		// Extract variable name from the opening tag
		openTag := prefix[openStart:openEnd]
		m := ifOpenRe.FindStringSubmatch(openTag)
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", openTag)
		}
		varName := m[1]

		// Extract body between opening and closing tags
		body := result[openEnd:closeIdx]
		closeEnd := closeIdx + len(ifCloseStr)

		// Evaluate: include body if variable is set and non-empty
		var replacement string
		if val, ok := vars[varName]; ok && val != "" {
			replacement = body
		}

		result = result[:openStart] + replacement + result[closeEnd:]
	}

	// Check for unclosed conditional blocks
	if ifOpenRe.MatchString(result) {
		loc := ifOpenRe.FindString(result)
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}

	return result, nil
}

// Renderer loads step templates from an override directory, falling back
// to the built-in set, and renders them.
type Renderer struct {
	dir string // override directory; "" uses built-ins only
}

// NewRenderer creates a renderer. Templates in dir take precedence over the
// built-ins, using the same "<content_type>/<step>.md" layout.
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Render renders the template for step and splits it into system and user
// prompts at the first "---" line.
func (r *Renderer) Render(contentType, step string, vars map[string]string) (string, string, error) {
	tmpl, err := r.Template(contentType, step)
	if err != nil {
		return "", "", err
	}
	out, err := Render(tmpl, Vars(vars))
	if err != nil {
		return "", "", fmt.Errorf("render %s/%s: %w", contentType, step, err)
	}
	system, user := Split(out)
	return system, user, nil
}

// Template returns the raw template for step, looking for
// "<content_type>/<step>.md" then "common/<step>.md" in the override
// directory and then in the built-ins.
func (r *Renderer) Template(contentType, step string) (string, error) {
	candidates := []string{
		contentType + "/" + step + ".md",
		"common/" + step + ".md",
	}
	for _, name := range candidates {
		if r.dir == "" {
			break
		}
		data, err := LoadTemplate(name, r.dir)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	for _, name := range candidates {
		if tmpl, ok := builtinTemplates[name]; ok {
			return tmpl, nil
		}
	}
	return "", fmt.Errorf("no template for %s/%s", contentType, step)
}

// Split separates a rendered template into the system prompt (before the
// first line that is exactly "---") and the user prompt. Without a
// separator the whole text is the user prompt.
func Split(text string) (system, user string) {
	if strings.HasPrefix(text, "---\n") {
		return "", strings.TrimSpace(text[4:])
	}
	if i := strings.Index(text, "\n---\n"); i >= 0 {
		return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+5:])
	}
	return "", strings.TrimSpace(text)
}

// LoadTemplate reads name from dir. The resolved path must stay inside dir.
func LoadTemplate(name, dir string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("template path %q must be relative", name)
	}
	path := filepath.Join(dir, name)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("template path %q escapes %s", name, dir)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BuiltinNames lists the built-in template names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstallBuiltinTemplates writes the built-in templates under dir so they
// can be edited. Existing files are left alone. It returns the names written.
func InstallBuiltinTemplates(dir string) ([]string, error) {
	var written []string
	for _, name := range BuiltinNames() {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if _, err := os.Stat(path); err == nil {
			continue // don't overwrite existing
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("create templates dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}
