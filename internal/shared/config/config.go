// Package config holds the engine's runtime configuration: plain types with
// defaults and validation, decoupled from the packages they configure so the
// cmd layer can wire values without import cycles.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	LLM     LLMConfig     `yaml:"llm"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig configures the iteration driver and its stores.
type EngineConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	SessionDir    string `yaml:"session_dir"`

	CheckpointMaxPerFile      int `yaml:"checkpoint_max_per_file"`
	CheckpointMaxContentBytes int `yaml:"checkpoint_max_content_bytes"`

	// GraceWindow is how long a finished task still answers decisions as
	// stale; CleanupAfter is when its registry entry is pruned.
	GraceWindow  time.Duration `yaml:"grace_window"`
	CleanupAfter time.Duration `yaml:"cleanup_after"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors the provider retry schedule.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor"`
}

// LLMConfig configures the provider client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ToolsConfig configures outward-facing tools.
type ToolsConfig struct {
	TavilyAPIKey      string        `yaml:"tavily_api_key"`
	WebSearchEndpoint string        `yaml:"web_search_endpoint"`
	ImageEndpoint     string        `yaml:"image_endpoint"`
	ImageWorkers      int           `yaml:"image_workers"`
	ExecTimeout       time.Duration `yaml:"exec_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Dir is where loom-debug.log is written; empty means the home directory.
	Dir string `yaml:"dir"`
}

// SetDefaults fills unset fields with the documented defaults.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8420"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Engine.MaxIterations <= 0 {
		c.Engine.MaxIterations = 30
	}
	if c.Engine.CheckpointMaxPerFile <= 0 {
		c.Engine.CheckpointMaxPerFile = 100
	}
	if c.Engine.CheckpointMaxContentBytes <= 0 {
		c.Engine.CheckpointMaxContentBytes = 5 << 20
	}
	if c.Engine.GraceWindow <= 0 {
		c.Engine.GraceWindow = 10 * time.Second
	}
	if c.Engine.CleanupAfter <= 0 {
		c.Engine.CleanupAfter = 30 * time.Second
	}
	if c.Engine.Retry.MaxAttempts <= 0 {
		c.Engine.Retry.MaxAttempts = 5
	}
	if c.Engine.Retry.BaseDelay <= 0 {
		c.Engine.Retry.BaseDelay = time.Second
	}
	if c.Engine.Retry.MaxDelay <= 0 {
		c.Engine.Retry.MaxDelay = 60 * time.Second
	}
	if c.Engine.Retry.JitterFactor <= 0 {
		c.Engine.Retry.JitterFactor = 0.25
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 8192
	}
	if c.Tools.WebSearchEndpoint == "" {
		c.Tools.WebSearchEndpoint = "https://api.tavily.com/search"
	}
	if c.Tools.ImageWorkers <= 0 {
		c.Tools.ImageWorkers = 2
	}
	if c.Tools.ExecTimeout <= 0 {
		c.Tools.ExecTimeout = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects values SetDefaults cannot repair.
func (c *Config) Validate() error {
	if !strings.Contains(c.Server.Addr, ":") {
		return fmt.Errorf("server.addr %q must be host:port", c.Server.Addr)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not one of debug|info|warn|error", c.Logging.Level)
	}
	if c.Engine.GraceWindow > c.Engine.CleanupAfter {
		return fmt.Errorf("engine.grace_window %s exceeds engine.cleanup_after %s", c.Engine.GraceWindow, c.Engine.CleanupAfter)
	}
	if c.Engine.Retry.JitterFactor >= 1 {
		return fmt.Errorf("engine.retry.jitter_factor %v must be below 1", c.Engine.Retry.JitterFactor)
	}
	return nil
}
