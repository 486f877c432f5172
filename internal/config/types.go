package config

// Config is the top-level configuration for a gist installation. It is built
// once at startup and passed by value or pointer to every component; nothing
// mutates it after Load returns.
type Config struct {
	BackendForSimple  string `yaml:"backend_for_simple" mapstructure:"backend_for_simple"`
	BackendForComplex string `yaml:"backend_for_complex" mapstructure:"backend_for_complex"`

	TokenBudgetAnalyze int `yaml:"token_budget_analyze" mapstructure:"token_budget_analyze"`
	TokenBudgetReport  int `yaml:"token_budget_report" mapstructure:"token_budget_report"`

	SimilarityThreshold   float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxCandidates         int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	MaxConcurrentAnalyses int     `yaml:"max_concurrent_analyses" mapstructure:"max_concurrent_analyses"`

	EnablePhraseSimplification bool `yaml:"enable_phrase_simplification" mapstructure:"enable_phrase_simplification"`
	EnableTruncation           bool `yaml:"enable_truncation" mapstructure:"enable_truncation"`
	EnablePreprocessing        bool `yaml:"enable_preprocessing" mapstructure:"enable_preprocessing"`

	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff     string `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	InferenceTimeout string `yaml:"inference_timeout" mapstructure:"inference_timeout"`
	EmbeddingTimeout string `yaml:"embedding_timeout" mapstructure:"embedding_timeout"`
	FetchTimeout     string `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`

	PromptDir   string `yaml:"prompt_dir,omitempty" mapstructure:"prompt_dir"`
	StateDir    string `yaml:"state_dir,omitempty" mapstructure:"state_dir"`
	DatabaseURL string `yaml:"database_url,omitempty" mapstructure:"database_url"`
	LogLevel    string `yaml:"log_level" mapstructure:"log_level"`
	LogFile     string `yaml:"log_file,omitempty" mapstructure:"log_file"`

	Backends  map[string]Backend `yaml:"backends" mapstructure:"backends"`
	Embedding Embedding          `yaml:"embedding" mapstructure:"embedding"`
	Reddit    Reddit             `yaml:"reddit" mapstructure:"reddit"`
	Redis     Redis              `yaml:"redis" mapstructure:"redis"`
	Server    Server             `yaml:"server" mapstructure:"server"`
}

// Backend describes one inference backend a task complexity can be routed to.
type Backend struct {
	ID          string  `yaml:"-" mapstructure:"-"`
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey      string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty" mapstructure:"api_key_env"`
}

// Embedding configures the embedding backend used by the retrieval filter.
type Embedding struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Host     string `yaml:"host" mapstructure:"host"`
	Model    string `yaml:"model" mapstructure:"model"`
	MaxChars int    `yaml:"max_chars" mapstructure:"max_chars"`
}

// Reddit configures the post source.
type Reddit struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	CommentLimit    int    `yaml:"comment_limit" mapstructure:"comment_limit"`
	MinCommentScore int    `yaml:"min_comment_score" mapstructure:"min_comment_score"`
}

// Redis configures lifecycle notifications. An empty Addr disables them.
type Redis struct {
	Addr     string `yaml:"addr,omitempty" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Stream   string `yaml:"stream" mapstructure:"stream"`
}

// Server configures `gist serve`.
type Server struct {
	Addr            string `yaml:"addr" mapstructure:"addr"`
	CheckInSchedule string `yaml:"check_in_schedule" mapstructure:"check_in_schedule"`
}

// Provider names understood by the inference client.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)
