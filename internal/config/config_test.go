package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const validConfig = `
backend_for_simple: fast
backend_for_complex: deep
token_budget_analyze: 3000
token_budget_report: 9000
similarity_threshold: 0.25
max_concurrent_analyses: 2
enable_phrase_simplification: false
enable_truncation: true
max_retries: 5
retry_backoff: 1s
backends:
  fast:
    provider: groq
    model: llama-3.3-70b-versatile
    temperature: 0.1
    api_key_env: GIST_TEST_FAST_KEY
  deep:
    provider: openai
    model: deepseek-r1-distill-llama-70b
    temperature: 0.2
    max_tokens: 4096
    endpoint: http://localhost:9999/v1
    api_key: inline-secret
embedding:
  host: http://embed:11434
  model: bge-small
reddit:
  comment_limit: 10
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gist.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("GIST_TEST_FAST_KEY", "from-env")
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.BackendForSimple != "fast" {
		t.Errorf("BackendForSimple = %q, want %q", cfg.BackendForSimple, "fast")
	}
	if cfg.TokenBudgetAnalyze != 3000 {
		t.Errorf("TokenBudgetAnalyze = %d, want 3000", cfg.TokenBudgetAnalyze)
	}
	if cfg.SimilarityThreshold != 0.25 {
		t.Errorf("SimilarityThreshold = %v, want 0.25", cfg.SimilarityThreshold)
	}
	if cfg.MaxConcurrentAnalyses != 2 {
		t.Errorf("MaxConcurrentAnalyses = %d, want 2", cfg.MaxConcurrentAnalyses)
	}
	if cfg.EnablePhraseSimplification {
		t.Error("EnablePhraseSimplification should be false")
	}
	if !cfg.EnablePreprocessing {
		t.Error("EnablePreprocessing should default to true")
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("len(Backends) = %d, want 2", len(cfg.Backends))
	}

	fast := cfg.Backends["fast"]
	if fast.ID != "fast" {
		t.Errorf("fast.ID = %q, want %q", fast.ID, "fast")
	}
	if fast.Endpoint != "https://api.groq.com/openai/v1" {
		t.Errorf("fast.Endpoint = %q, want groq default", fast.Endpoint)
	}
	if fast.MaxTokens != 2048 {
		t.Errorf("fast.MaxTokens = %d, want 2048", fast.MaxTokens)
	}
	if fast.APIKey != "from-env" {
		t.Errorf("fast.APIKey = %q, want resolved from env", fast.APIKey)
	}

	deep := cfg.Backends["deep"]
	if deep.APIKey != "inline-secret" {
		t.Errorf("deep.APIKey = %q, want inline value", deep.APIKey)
	}
	if deep.Endpoint != "http://localhost:9999/v1" {
		t.Errorf("deep.Endpoint = %q", deep.Endpoint)
	}

	// Untouched nested keys keep their defaults.
	if cfg.Embedding.Provider != ProviderOllama {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, ProviderOllama)
	}
	if cfg.Embedding.Model != "bge-small" {
		t.Errorf("Embedding.Model = %q, want bge-small", cfg.Embedding.Model)
	}
	if cfg.Reddit.CommentLimit != 10 {
		t.Errorf("Reddit.CommentLimit = %d, want 10", cfg.Reddit.CommentLimit)
	}
	if cfg.Reddit.MinCommentScore != 2 {
		t.Errorf("Reddit.MinCommentScore = %d, want 2", cfg.Reddit.MinCommentScore)
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GIST_MAX_CONCURRENT_ANALYSES", "7")
	t.Setenv("GIST_REDDIT_BASE_URL", "http://reddit.test")
	t.Setenv("GIST_ENABLE_TRUNCATION", "false")

	path := writeTestConfig(t, "token_budget_report: 5000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxConcurrentAnalyses != 7 {
		t.Errorf("MaxConcurrentAnalyses = %d, want 7", cfg.MaxConcurrentAnalyses)
	}
	if cfg.Reddit.BaseURL != "http://reddit.test" {
		t.Errorf("Reddit.BaseURL = %q, want override", cfg.Reddit.BaseURL)
	}
	if cfg.EnableTruncation {
		t.Error("EnableTruncation should be overridden to false")
	}
	if cfg.TokenBudgetReport != 5000 {
		t.Errorf("TokenBudgetReport = %d, want 5000", cfg.TokenBudgetReport)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BackendForSimple != "groq-llama" || cfg.BackendForComplex != "groq-deepseek" {
		t.Errorf("routing = %q/%q, want defaults", cfg.BackendForSimple, cfg.BackendForComplex)
	}
	if got := cfg.Backends["groq-deepseek"].Model; got != "deepseek-r1-distill-llama-70b" {
		t.Errorf("complex model = %q", got)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate(defaults) = %v, want no errors", errs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %q, want reading config file prefix", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "backends: [unclosed\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config YAML") {
		t.Errorf("error = %q, want parsing config YAML prefix", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cfg := Default()
	cfg.BackendForComplex = "missing"
	cfg.TokenBudgetAnalyze = 0
	cfg.SimilarityThreshold = 1.5
	cfg.MaxConcurrentAnalyses = 0
	cfg.RetryBackoff = "soon"
	cfg.LogLevel = "chatty"
	b := cfg.Backends["groq-llama"]
	b.Provider = "carrier-pigeon"
	b.Model = ""
	cfg.Backends["groq-llama"] = b

	errs := Validate(cfg)
	want := map[string]bool{}
	for _, field := range []string{
		"backend_for_complex",
		"token_budget_analyze",
		"similarity_threshold",
		"max_concurrent_analyses",
		"retry_backoff",
		"log_level",
		"backends.groq-llama.provider",
		"backends.groq-llama.model",
	} {
		want[field] = false
	}
	for _, e := range errs {
		if _, ok := want[e.Field]; ok {
			want[e.Field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected validation error for %s, got %v", field, errs)
		}
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "token_budget_report", Message: "must be positive"}
	if got := e.Error(); got != "token_budget_report: must be positive" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	d, err := cfg.Durations()
	if err != nil {
		t.Fatalf("Durations() error: %v", err)
	}
	if d.RetryBackoff.String() != "500ms" {
		t.Errorf("RetryBackoff = %v, want 500ms", d.RetryBackoff)
	}

	cfg.FetchTimeout = "forever"
	if _, err := cfg.Durations(); err == nil || !strings.Contains(err.Error(), "fetch_timeout") {
		t.Errorf("Durations() error = %v, want fetch_timeout error", err)
	}
}

func TestMarshalRedactsSecrets(t *testing.T) {
	cfg := Default()
	b := cfg.Backends["groq-llama"]
	b.APIKey = "resolved-from-env"
	cfg.Backends["groq-llama"] = b
	b = cfg.Backends["groq-deepseek"]
	b.APIKeyEnv = ""
	b.APIKey = "inline"
	cfg.Backends["groq-deepseek"] = b

	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "resolved-from-env") || strings.Contains(out, "inline") {
		t.Errorf("secrets leaked into output:\n%s", out)
	}
	if !strings.Contains(out, "backend_for_simple: groq-llama") {
		t.Errorf("output missing routing keys:\n%s", out)
	}

	// The original config must not be modified.
	if cfg.Backends["groq-llama"].APIKey != "resolved-from-env" {
		t.Error("Marshal mutated the source config")
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("second WriteDefault should refuse to overwrite")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("written config is not YAML: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(written) error: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate(written) = %v", errs)
	}
	if cfg.MaxCandidates != 10 {
		t.Errorf("MaxCandidates = %d, want 10", cfg.MaxCandidates)
	}
}

func TestLoadMixedCaseBackendIDs(t *testing.T) {
	path := writeTestConfig(t, `
backend_for_simple: GroqFast
backend_for_complex: LocalDeep
backends:
  GroqFast:
    provider: groq
    model: llama-3.3-70b-versatile
  LocalDeep:
    provider: ollama
    model: qwen2.5:14b
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BackendForSimple != "groqfast" || cfg.BackendForComplex != "localdeep" {
		t.Errorf("routing = %q/%q, want lowercased ids", cfg.BackendForSimple, cfg.BackendForComplex)
	}
	if _, ok := cfg.Backends["groqfast"]; !ok {
		t.Errorf("Backends = %v, want key groqfast", cfg.Backends)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestOllamaBackendDefaults(t *testing.T) {
	path := writeTestConfig(t, `
backend_for_simple: local
backend_for_complex: local
backends:
  local:
    provider: ollama
    model: llama3.1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	local := cfg.Backends["local"]
	if local.Endpoint != "http://127.0.0.1:11434/v1" {
		t.Errorf("Endpoint = %q, want ollama default", local.Endpoint)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want ollama accepted", errs)
	}
}

func TestApplyDefaultsFoldsCodeBuiltConfig(t *testing.T) {
	cfg := &Config{
		BackendForSimple: "Small",
		Backends:         map[string]Backend{"SMALL": {Provider: ProviderOpenAI, Endpoint: "http://x/v1", Model: "m"}},
	}
	applyDefaults(cfg)
	if b, ok := cfg.Backends["small"]; !ok || b.ID != "small" {
		t.Errorf("Backends = %v, want small with ID set", cfg.Backends)
	}
	if cfg.BackendForSimple != "small" {
		t.Errorf("BackendForSimple = %q", cfg.BackendForSimple)
	}
}
