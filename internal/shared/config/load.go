package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads an optional YAML file, applies environment overrides, then
// defaults and validation. An empty path skips the file stage; a missing file
// at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deploy environments override secrets and endpoints without a
// config file.
func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"LOOM_SERVER_ADDR":    &cfg.Server.Addr,
		"LOOM_SESSION_DIR":    &cfg.Engine.SessionDir,
		"LOOM_LLM_PROVIDER":   &cfg.LLM.Provider,
		"LOOM_LLM_MODEL":      &cfg.LLM.Model,
		"LOOM_LLM_BASE_URL":   &cfg.LLM.BaseURL,
		"LOOM_LLM_API_KEY":    &cfg.LLM.APIKey,
		"LOOM_TAVILY_API_KEY": &cfg.Tools.TavilyAPIKey,
		"LOOM_LOG_LEVEL":      &cfg.Logging.Level,
		"LOOM_LOG_DIR":        &cfg.Logging.Dir,
	}
	for key, target := range overrides {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}
}
