// Package prompt renders the instruction templates sent to inference backends.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	blockOpenRe   = regexp.MustCompile(`\{\{#(if|unless)\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	blockClose    = "{{/if}}"
	unlessClose   = "{{/unless}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value; referencing an unset variable is an
// error. {{#if variable}}...{{/if}} keeps its body only when the variable is
// non-empty and {{#unless variable}}...{{/unless}} only when it is empty.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := resolveBlocks(tmpl, vars)
	if err != nil {
		return "", err
	}

	missing := map[string]bool{}
	out := placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing[name] = true
		return match
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", fmt.Errorf("missing template variables: %s", strings.Join(names, ", "))
	}
	return out, nil
}

// resolveBlocks evaluates conditional blocks innermost first: for the first
// closing tag it pairs the nearest opening tag before it.
func resolveBlocks(tmpl string, vars Vars) (string, error) {
	out := tmpl
	for {
		closeAt, closeTag := firstClose(out)
		if closeAt < 0 {
			break
		}

		opens := blockOpenRe.FindAllStringSubmatchIndex(out[:closeAt], -1)
		if opens == nil {
			return "", fmt.Errorf("dangling %s without matching opening tag", closeTag)
		}
		open := opens[len(opens)-1]
		kind := out[open[2]:open[3]]
		name := out[open[4]:open[5]]
		if "{{/"+kind+"}}" != closeTag {
			return "", fmt.Errorf("{{#%s %s}} closed by %s", kind, name, closeTag)
		}

		set := vars[name] != ""
		keep := (kind == "if" && set) || (kind == "unless" && !set)
		inner := ""
		if keep {
			inner = out[open[1]:closeAt]
		}
		out = out[:open[0]] + inner + out[closeAt+len(closeTag):]
	}

	if loc := blockOpenRe.FindString(out); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return out, nil
}

func firstClose(s string) (int, string) {
	ifAt := strings.Index(s, blockClose)
	unlessAt := strings.Index(s, unlessClose)
	switch {
	case ifAt < 0 && unlessAt < 0:
		return -1, ""
	case unlessAt < 0 || (ifAt >= 0 && ifAt < unlessAt):
		return ifAt, blockClose
	default:
		return unlessAt, unlessClose
	}
}

// Set resolves templates by name. A file with the same name in the override
// directory wins over the built-in template.
type Set struct {
	dir string
}

// NewSet returns a Set reading overrides from dir. An empty dir uses the
// built-in templates only.
func NewSet(dir string) *Set {
	return &Set{dir: dir}
}

// Load returns the template text for name.
func (s *Set) Load(name string) (string, error) {
	if s.dir != "" {
		path := filepath.Join(s.dir, name)
		absPath, err := filepath.Abs(path)
		if err == nil {
			absDir, err2 := filepath.Abs(s.dir)
			if err2 == nil && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
				return "", fmt.Errorf("template name %q escapes %s", name, s.dir)
			}
		}
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}

	tmpl, ok := builtinTemplates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}
	return tmpl, nil
}

// Render loads and renders the named template.
func (s *Set) Render(name string, vars Vars) (string, error) {
	tmpl, err := s.Load(name)
	if err != nil {
		return "", err
	}
	out, err := Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

// Names lists the built-in template names.
func Names() []string {
	names := make([]string, 0, len(builtinTemplates))
	for n := range builtinTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InstallBuiltins writes the built-in templates into dir so they can be
// edited, skipping files that already exist. It returns the files written.
func InstallBuiltins(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}
	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
