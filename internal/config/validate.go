package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedProviders = map[string]bool{
	ProviderGroq:   true,
	ProviderOpenAI: true,
	ProviderOllama: true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	// Routing targets must name configured backends.
	for _, ref := range []struct{ field, id string }{
		{"backend_for_simple", cfg.BackendForSimple},
		{"backend_for_complex", cfg.BackendForComplex},
	} {
		if ref.id == "" {
			errs = append(errs, ValidationError{Field: ref.field, Message: "is required"})
			continue
		}
		if _, ok := cfg.Backends[ref.id]; !ok {
			errs = append(errs, ValidationError{
				Field:   ref.field,
				Message: fmt.Sprintf("references unknown backend %q", ref.id),
			})
		}
	}

	ids := make([]string, 0, len(cfg.Backends))
	for id := range cfg.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := cfg.Backends[id]
		prefix := fmt.Sprintf("backends.%s", id)
		if !recognizedProviders[b.Provider] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".provider",
				Message: fmt.Sprintf("unrecognized provider %q", b.Provider),
			})
		}
		if b.Model == "" {
			errs = append(errs, ValidationError{Field: prefix + ".model", Message: "is required"})
		}
		if b.Endpoint == "" {
			errs = append(errs, ValidationError{Field: prefix + ".endpoint", Message: "is required"})
		}
		if b.Temperature < 0 || b.Temperature > 2 {
			errs = append(errs, ValidationError{Field: prefix + ".temperature", Message: "must be between 0 and 2"})
		}
		if b.MaxTokens <= 0 {
			errs = append(errs, ValidationError{Field: prefix + ".max_tokens", Message: "must be positive"})
		}
	}

	if cfg.TokenBudgetAnalyze <= 0 {
		errs = append(errs, ValidationError{Field: "token_budget_analyze", Message: "must be positive"})
	}
	if cfg.TokenBudgetReport <= 0 {
		errs = append(errs, ValidationError{Field: "token_budget_report", Message: "must be positive"})
	}
	if cfg.SimilarityThreshold < -1 || cfg.SimilarityThreshold > 1 {
		errs = append(errs, ValidationError{Field: "similarity_threshold", Message: "must be between -1 and 1"})
	}
	if cfg.MaxCandidates < 0 {
		errs = append(errs, ValidationError{Field: "max_candidates", Message: "must not be negative"})
	}
	if cfg.MaxConcurrentAnalyses < 1 {
		errs = append(errs, ValidationError{Field: "max_concurrent_analyses", Message: "must be at least 1"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "max_retries", Message: "must not be negative"})
	}

	for _, d := range []struct{ field, raw string }{
		{"retry_backoff", cfg.RetryBackoff},
		{"inference_timeout", cfg.InferenceTimeout},
		{"embedding_timeout", cfg.EmbeddingTimeout},
		{"fetch_timeout", cfg.FetchTimeout},
	} {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration %q", d.raw)})
		} else if v <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: fmt.Sprintf("unrecognized level %q", cfg.LogLevel)})
	}

	if cfg.Embedding.Provider != ProviderOllama {
		errs = append(errs, ValidationError{Field: "embedding.provider", Message: fmt.Sprintf("unrecognized provider %q", cfg.Embedding.Provider)})
	}
	if cfg.Embedding.Host == "" {
		errs = append(errs, ValidationError{Field: "embedding.host", Message: "is required"})
	}
	if cfg.Embedding.Model == "" {
		errs = append(errs, ValidationError{Field: "embedding.model", Message: "is required"})
	}
	if cfg.Reddit.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "reddit.base_url", Message: "is required"})
	}
	if cfg.Reddit.CommentLimit < 0 {
		errs = append(errs, ValidationError{Field: "reddit.comment_limit", Message: "must not be negative"})
	}
	if cfg.Redis.Addr != "" && cfg.Redis.Stream == "" {
		errs = append(errs, ValidationError{Field: "redis.stream", Message: "is required when redis.addr is set"})
	}

	return errs
}
