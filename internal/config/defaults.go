package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	groqEndpoint     = "https://api.groq.com/openai/v1"
	ollamaEndpoint   = "http://127.0.0.1:11434/v1"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		BackendForSimple:           "groq-llama",
		BackendForComplex:          "groq-deepseek",
		TokenBudgetAnalyze:         6000,
		TokenBudgetReport:          12000,
		SimilarityThreshold:        0,
		MaxCandidates:              10,
		MaxConcurrentAnalyses:      4,
		EnablePhraseSimplification: true,
		EnableTruncation:           true,
		EnablePreprocessing:        true,
		MaxRetries:                 3,
		RetryBackoff:               "500ms",
		InferenceTimeout:           "90s",
		EmbeddingTimeout:           "30s",
		FetchTimeout:               "30s",
		LogLevel:                   "info",
		Backends:                   defaultBackends(),
		Embedding: Embedding{
			Provider: ProviderOllama,
			Host:     "http://127.0.0.1:11434",
			Model:    "nomic-embed-text",
			MaxChars: 2000,
		},
		Reddit: Reddit{
			BaseURL:         "https://www.reddit.com",
			UserAgent:       defaultUserAgent,
			CommentLimit:    30,
			MinCommentScore: 2,
		},
		Redis: Redis{Stream: "gist:events"},
		Server: Server{
			Addr:            ":8080",
			CheckInSchedule: "@every 1m",
		},
	}
	applyDefaults(cfg)
	return cfg
}

func defaultBackends() map[string]Backend {
	return map[string]Backend{
		"groq-llama": {
			Provider:    ProviderGroq,
			Model:       "llama-3.3-70b-versatile",
			Temperature: 0.1,
			MaxTokens:   2048,
			Endpoint:    groqEndpoint,
			APIKeyEnv:   "GROQ_API_KEY",
		},
		"groq-deepseek": {
			Provider:    ProviderGroq,
			Model:       "deepseek-r1-distill-llama-70b",
			Temperature: 0.2,
			MaxTokens:   4096,
			Endpoint:    groqEndpoint,
			APIKeyEnv:   "GROQ_API_KEY",
		},
	}
}

// scalarDefaults lists every leaf key with its default so environment
// overrides apply even when the config file omits the key.
func scalarDefaults() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"backend_for_simple":           d.BackendForSimple,
		"backend_for_complex":          d.BackendForComplex,
		"token_budget_analyze":         d.TokenBudgetAnalyze,
		"token_budget_report":          d.TokenBudgetReport,
		"similarity_threshold":         d.SimilarityThreshold,
		"max_candidates":               d.MaxCandidates,
		"max_concurrent_analyses":      d.MaxConcurrentAnalyses,
		"enable_phrase_simplification": d.EnablePhraseSimplification,
		"enable_truncation":            d.EnableTruncation,
		"enable_preprocessing":         d.EnablePreprocessing,
		"max_retries":                  d.MaxRetries,
		"retry_backoff":                d.RetryBackoff,
		"inference_timeout":            d.InferenceTimeout,
		"embedding_timeout":            d.EmbeddingTimeout,
		"fetch_timeout":                d.FetchTimeout,
		"prompt_dir":                   "",
		"state_dir":                    "",
		"database_url":                 "",
		"log_level":                    d.LogLevel,
		"log_file":                     "",
		"embedding.provider":           d.Embedding.Provider,
		"embedding.host":               d.Embedding.Host,
		"embedding.model":              d.Embedding.Model,
		"embedding.max_chars":          d.Embedding.MaxChars,
		"reddit.base_url":              d.Reddit.BaseURL,
		"reddit.user_agent":            d.Reddit.UserAgent,
		"reddit.comment_limit":         d.Reddit.CommentLimit,
		"reddit.min_comment_score":     d.Reddit.MinCommentScore,
		"redis.addr":                   "",
		"redis.password":               "",
		"redis.db":                     0,
		"redis.stream":                 d.Redis.Stream,
		"server.addr":                  d.Server.Addr,
		"server.check_in_schedule":     d.Server.CheckInSchedule,
	}
}

// applyDefaults fills backend ids and per-backend defaults after decoding.
// Backend ids are case-insensitive: viper lowercases map keys but not the
// routing values, so both sides are folded to lower case here.
func applyDefaults(cfg *Config) {
	if len(cfg.Backends) == 0 {
		cfg.Backends = defaultBackends()
	}
	cfg.BackendForSimple = strings.ToLower(cfg.BackendForSimple)
	cfg.BackendForComplex = strings.ToLower(cfg.BackendForComplex)

	backends := make(map[string]Backend, len(cfg.Backends))
	for id, b := range cfg.Backends {
		id = strings.ToLower(id)
		b.ID = id
		if b.Provider == "" {
			b.Provider = ProviderGroq
		}
		if b.Endpoint == "" {
			switch b.Provider {
			case ProviderGroq:
				b.Endpoint = groqEndpoint
			case ProviderOllama:
				b.Endpoint = ollamaEndpoint
			}
		}
		if b.MaxTokens == 0 {
			b.MaxTokens = 2048
		}
		backends[id] = b
	}
	cfg.Backends = backends
}

// Durations holds the parsed duration settings.
type Durations struct {
	RetryBackoff     time.Duration
	InferenceTimeout time.Duration
	EmbeddingTimeout time.Duration
	FetchTimeout     time.Duration
}

// Durations parses the duration strings. Validate reports the same errors
// field by field.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"retry_backoff", c.RetryBackoff, &d.RetryBackoff},
		{"inference_timeout", c.InferenceTimeout, &d.InferenceTimeout},
		{"embedding_timeout", c.EmbeddingTimeout, &d.EmbeddingTimeout},
		{"fetch_timeout", c.FetchTimeout, &d.FetchTimeout},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return d, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return d, nil
}
