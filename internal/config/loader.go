package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides: GIST_TOKEN_BUDGET_ANALYZE,
// GIST_REDDIT_BASE_URL and so on.
const EnvPrefix = "GIST"

// Load reads a configuration from the given YAML file path, applies GIST_*
// environment overrides and fills defaults. An empty path yields the defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyDefaults(&cfg)
	resolveSecrets(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./gist.yaml, ~/.gist/config.yaml. When neither
// exists the built-in defaults are used.
func LoadDefault() (*Config, string, error) {
	for _, path := range candidatePaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg, err := Load("")
	return cfg, "", err
}

func candidatePaths() []string {
	candidates := []string{"gist.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".gist", "config.yaml"))
	}
	return candidates
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, val := range scalarDefaults() {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// resolveSecrets fills backend API keys from the environment variable each
// backend names, unless the key is set inline.
func resolveSecrets(cfg *Config) {
	for id, b := range cfg.Backends {
		if b.APIKey == "" && b.APIKeyEnv != "" {
			b.APIKey = os.Getenv(b.APIKeyEnv)
		}
		cfg.Backends[id] = b
	}
}

// Marshal renders cfg as YAML with inline secrets removed.
func Marshal(cfg *Config) ([]byte, error) {
	out := *cfg
	out.Backends = make(map[string]Backend, len(cfg.Backends))
	for id, b := range cfg.Backends {
		if b.APIKeyEnv != "" {
			b.APIKey = ""
		} else if b.APIKey != "" {
			b.APIKey = "********"
		}
		out.Backends[id] = b
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "********"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
