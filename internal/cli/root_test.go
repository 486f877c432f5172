package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	resetFlags(rootCmd)
	return buf.String(), err
}

// resetFlags restores every flag to its default; cobra keeps parsed values
// between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// isolate points HOME and every storage flag at a temp dir.
func isolate(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	return []string{
		"--state-dir", filepath.Join(dir, "runs"),
		"--db", filepath.Join(dir, "gist.db"),
		"--log-level", "error",
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"run", "start", "advance", "resume", "cancel", "rm",
		"status", "list", "show", "watch", "export", "import",
		"check-in", "config", "db", "analytics", "prompts", "serve", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	cases := [][]string{
		{"config", "validate"}, {"config", "show"}, {"config", "init"},
		{"db", "migrate"}, {"db", "reset"},
		{"analytics", "stage-duration"}, {"analytics", "inference"}, {"analytics", "throughput"},
		{"analytics", "human-wait"}, {"analytics", "timeline"},
		{"prompts", "list"}, {"prompts", "show"}, {"prompts", "install"},
	}
	for _, c := range cases {
		out, err := executeCommand(append(c, "--help")...)
		if err != nil {
			t.Errorf("%v --help failed: %v", c, err)
		}
		if out == "" {
			t.Errorf("%v --help produced no output", c)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestStartRequiresQuery(t *testing.T) {
	flags := isolate(t)
	_, err := executeCommand(append([]string{"start", "golang"}, flags...)...)
	if err == nil {
		t.Fatal("expected error without --query")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "gist.yaml")

	out, err := executeCommand("config", "init", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("init output = %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	if _, err := executeCommand("config", "init", path); err == nil {
		t.Error("expected second init to refuse overwriting")
	}

	out, err = executeCommand("--config", path, "config", "validate")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("validate output = %q", out)
	}

	out, err = executeCommand("--config", path, "config", "show", "--routes")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"backend_for_simple", "COMPLEXITY", "simple", "complex"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q", want)
		}
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "gist.yaml")
	if err := os.WriteFile(path, []byte("max_concurrent_analyses: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand("--config", path, "config", "validate")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "max_concurrent_analyses") {
		t.Errorf("output = %q", out)
	}
}

func TestRunLifecycleCommands(t *testing.T) {
	flags := isolate(t)
	run := func(args ...string) string {
		t.Helper()
		out, err := executeCommand(append(args, flags...)...)
		if err != nil {
			t.Fatalf("%v: %v\n%s", args, err, out)
		}
		return out
	}

	out := run("start", "golang", "-q", "generics", "-n", "5")
	id := strings.TrimSpace(lastLine(out))
	if id == "" {
		t.Fatalf("start printed no id: %q", out)
	}

	out = run("list")
	if !strings.Contains(out, id) || !strings.Contains(out, "FETCHING") {
		t.Errorf("list output = %q", out)
	}

	out = run("status", id[:8])
	if !strings.Contains(out, "r/golang") || !strings.Contains(out, "generics") {
		t.Errorf("status output = %q", out)
	}

	exported := filepath.Join(t.TempDir(), "run.json")
	run("export", id, "-o", exported)

	out = run("cancel", id, "--reason", "testing")
	if !strings.Contains(out, "FAILED") {
		t.Errorf("cancel output = %q", out)
	}

	out = run("list", "--state", "failed")
	if !strings.Contains(out, id) {
		t.Errorf("list --state failed output = %q", out)
	}

	if _, err := executeCommand(append([]string{"show", id}, flags...)...); err == nil {
		t.Error("expected show to fail for a run without a report")
	}
	if _, err := executeCommand(append([]string{"show", id, "--prompt", "report/report"}, flags...)...); err == nil {
		t.Error("expected show --prompt to fail for a prompt that was never sent")
	}

	// Import into a fresh state dir.
	other := []string{"--state-dir", filepath.Join(t.TempDir(), "runs"), "--db", flags[3], "--log-level", "error"}
	out, err := executeCommand(append([]string{"import", exported}, other...)...)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "FETCHING") {
		t.Errorf("import output = %q", out)
	}
	if _, err := executeCommand(append([]string{"import", exported}, other...)...); err == nil {
		t.Error("expected importing the same run twice to fail")
	}
	if _, err := executeCommand(append([]string{"rm", id}, other...)...); err == nil {
		t.Error("expected rm to refuse an unfinished run")
	}

	out = run("rm", id)
	if !strings.Contains(out, "Removed run "+id) {
		t.Errorf("rm output = %q", out)
	}
	out = run("list")
	if strings.Contains(out, id) {
		t.Errorf("list after rm still shows %s: %q", id, out)
	}
}

func TestListRejectsUnknownState(t *testing.T) {
	flags := isolate(t)
	if _, err := executeCommand(append([]string{"list", "--state", "sleeping"}, flags...)...); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestDBResetNeedsConfirmation(t *testing.T) {
	flags := isolate(t)
	if _, err := executeCommand(append([]string{"db", "reset"}, flags...)...); err == nil {
		t.Error("expected reset without --yes to fail")
	}
	out, err := executeCommand(append([]string{"db", "reset", "--yes"}, flags...)...)
	if err != nil {
		t.Fatalf("reset: %v\n%s", err, out)
	}
}

func TestPromptsInstall(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	out, err := executeCommand("prompts", "install", dir)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !strings.Contains(out, "Wrote") {
		t.Errorf("install output = %q", out)
	}
	out, err = executeCommand("prompts", "install", dir)
	if err != nil {
		t.Fatalf("second install: %v", err)
	}
	if !strings.Contains(out, "already present") {
		t.Errorf("second install output = %q", out)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"":           "",
		"24h":        "2025-03-09T12:00:00.000Z",
		"7d":         "2025-03-03T12:00:00.000Z",
		"2025-01-02": "2025-01-02T00:00:00.000Z",
	}
	for in, want := range cases {
		got, err := parseSince(in, now)
		if err != nil {
			t.Errorf("parseSince(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseSince(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := parseSince("yesterday", now); err == nil {
		t.Error("expected error for unparseable --since")
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}
