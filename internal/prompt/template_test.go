package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_SimpleVars(t *testing.T) {
	tmpl := "Summarize r/{{subreddit}} for: {{query}}."
	vars := Vars{
		"subreddit": "golang",
		"query":     "generics adoption",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "Summarize r/golang for: generics adoption."
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestRender_MissingVarsSortedAndDeduped(t *testing.T) {
	tmpl := "{{query}} {{title}} {{query}}"
	_, err := Render(tmpl, Vars{})
	if err == nil {
		t.Fatal("expected error for missing variables")
	}
	if !strings.HasSuffix(err.Error(), "missing template variables: query, title") {
		t.Errorf("error = %q", err)
	}
}

func TestRender_Conditionals(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars Vars
		want string
	}{
		{"if set", "a{{#if x}}B{{/if}}c", Vars{"x": "1"}, "aBc"},
		{"if empty", "a{{#if x}}B{{/if}}c", Vars{"x": ""}, "ac"},
		{"if unset", "a{{#if x}}B{{/if}}c", Vars{}, "ac"},
		{"unless empty", "a{{#unless x}}B{{/unless}}c", Vars{}, "aBc"},
		{"unless set", "a{{#unless x}}B{{/unless}}c", Vars{"x": "1"}, "ac"},
		{"nested", "{{#if a}}A{{#if b}}B{{/if}}{{#unless b}}-{{/unless}}{{/if}}", Vars{"a": "1"}, "A-"},
		{"var inside kept block", "{{#if n}}n={{n}}{{/if}}", Vars{"n": "3"}, "n=3"},
		{"var inside dropped block not required", "{{#if n}}n={{n}}{{/if}}done", Vars{}, "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.vars)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_MalformedBlocks(t *testing.T) {
	tests := []struct {
		tmpl string
		want string
	}{
		{"x{{/if}}", "dangling"},
		{"{{#if a}}x", "unclosed"},
		{"{{#if a}}x{{/unless}}", "closed by"},
	}
	for _, tt := range tests {
		_, err := Render(tt.tmpl, Vars{"a": "1"})
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Render(%q) error = %v, want containing %q", tt.tmpl, err, tt.want)
		}
	}
}

func TestBuiltinsRender(t *testing.T) {
	s := NewSet("")
	vars := Vars{
		"query":          "is Go good for CLIs",
		"title":          "Cobra vs urfave",
		"subreddit":      "golang",
		"comment_count":  "12",
		"sentiments":     "happiness, anger",
		"analysis_count": "3",
		"failed_count":   "",
	}
	for _, name := range Names() {
		out, err := s.Render(name, vars)
		if err != nil {
			t.Errorf("Render(%s): %v", name, err)
			continue
		}
		if strings.Contains(out, "{{") {
			t.Errorf("Render(%s) left unexpanded tags:\n%s", name, out)
		}
	}

	out, _ := s.Render(AnalyzeTask, vars)
	if !strings.Contains(out, "12 comments from the discussion") {
		t.Errorf("analyze task missing comment note:\n%s", out)
	}
	vars["comment_count"] = ""
	out, _ = s.Render(AnalyzeTask, vars)
	if !strings.Contains(out, "no comments worth including") {
		t.Errorf("analyze task missing no-comment note:\n%s", out)
	}
	out, _ = s.Render(ReportTask, vars)
	if strings.Contains(out, "could not be analyzed") {
		t.Errorf("report task mentions failures when there are none:\n%s", out)
	}
}

func TestSetOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ReportTask), []byte("custom {{query}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewSet(dir)

	out, err := s.Render(ReportTask, Vars{"query": "q"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "custom q" {
		t.Errorf("override not used, got %q", out)
	}

	// Templates without an override fall back to the built-in.
	tmpl, err := s.Load(AnalyzeSystem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tmpl != analyzeSystemTemplate {
		t.Error("expected built-in analyze system template")
	}
}

func TestSetRejectsTraversal(t *testing.T) {
	s := NewSet(t.TempDir())
	if _, err := s.Load("../../etc/passwd"); err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("Load(traversal) error = %v, want escapes error", err)
	}
}

func TestSetUnknownTemplate(t *testing.T) {
	if _, err := NewSet("").Load("nope.md"); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestInstallBuiltins(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prompts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, AnalyzeTask), []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	written, err := InstallBuiltins(dir)
	if err != nil {
		t.Fatalf("InstallBuiltins: %v", err)
	}
	if len(written) != len(Names())-1 {
		t.Errorf("wrote %d files, want %d", len(written), len(Names())-1)
	}
	data, _ := os.ReadFile(filepath.Join(dir, AnalyzeTask))
	if string(data) != "mine" {
		t.Error("InstallBuiltins overwrote an existing template")
	}
}
