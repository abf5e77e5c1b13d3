// loom-server runs the agent execution engine behind an HTTP and websocket
// surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loom/internal/agent"
	"loom/internal/agent/taskregistry"
	"loom/internal/checkpoint"
	"loom/internal/errors"
	"loom/internal/llm"
	"loom/internal/metrics"
	"loom/internal/rag"
	"loom/internal/server"
	"loom/internal/shared/config"
	"loom/internal/shared/logging"
	"loom/internal/tools/builtin"
	"loom/internal/toolregistry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loom-server",
		Short:         "Iterative coding-agent execution engine",
		Long:          "loom-server drives model iterations, tool approvals and speculative file edits for interactive agent tasks, exposed over HTTP and websockets.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(viper.GetString("config"))
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a YAML config file (default: loom.yaml in . or $HOME)")
	flags.String("addr", "", "listen address, overrides server.addr")
	flags.String("model", "", "model identifier, overrides llm.model")
	flags.String("api-key", "", "provider API key, overrides llm.api_key")
	flags.String("session-dir", "", "session log directory, overrides engine.session_dir")
	flags.String("log-level", "", "debug|info|warn|error, overrides logging.level")

	viper.SetEnvPrefix("LOOM")
	viper.AutomaticEnv()
	for _, name := range []string{"config", "addr", "model", "api-key", "session-dir", "log-level"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

// locateConfig falls back to loom.yaml next to the binary's working directory
// or the user's home when no explicit path was given.
func locateConfig(explicit string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{"loom.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home+"/loom.yaml")
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func run(configPath string) error {
	cfg, err := config.Load(locateConfig(configPath))
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Logging.Dir != "" {
		logging.SetLogDir(cfg.Logging.Dir)
	}
	logger := logging.NewComponentLogger("Server")
	logger.Info("loom-server starting: addr=%s model=%s provider=%s", cfg.Server.Addr, cfg.LLM.Model, cfg.LLM.Provider)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	engineMetrics := metrics.New(promRegistry)

	client := llm.NewOpenAIClient(llm.Config{
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logging.NewComponentLogger("LLM"))

	ragStore, err := rag.NewStore(rag.StoreConfig{}, nil)
	if err != nil {
		return fmt.Errorf("rag store: %w", err)
	}

	tools := toolregistry.New(logging.NewComponentLogger("Tools"))
	builtin.RegisterAll(tools, builtin.Deps{
		Logger:   logging.NewComponentLogger("Builtin"),
		LLM:      client,
		RAGStore: ragStore,
		WebSearch: builtin.WebSearchConfig{
			Endpoint: cfg.Tools.WebSearchEndpoint,
			APIKey:   cfg.Tools.TavilyAPIKey,
		},
		ImageGen: builtin.ImageGenConfig{
			Endpoint:      cfg.Tools.ImageEndpoint,
			MaxConcurrent: int64(cfg.Tools.ImageWorkers),
		},
	})

	registry := taskregistry.New(taskregistry.Config{
		GraceWindow:  cfg.Engine.GraceWindow,
		CleanupAfter: cfg.Engine.CleanupAfter,
	}, logging.NewComponentLogger("TaskRegistry"))

	executor := agent.NewExecutor(agent.Config{
		MaxIterations: cfg.Engine.MaxIterations,
		SessionDir:    cfg.Engine.SessionDir,
		Retry: errors.RetryConfig{
			MaxAttempts:  cfg.Engine.Retry.MaxAttempts,
			BaseDelay:    cfg.Engine.Retry.BaseDelay,
			MaxDelay:     cfg.Engine.Retry.MaxDelay,
			JitterFactor: cfg.Engine.Retry.JitterFactor,
		},
	}, agent.Deps{
		Tools: tools,
		LLM:   client,
		Checkpoints: checkpoint.NewStore(checkpoint.Config{
			MaxPerFile:      cfg.Engine.CheckpointMaxPerFile,
			MaxContentBytes: cfg.Engine.CheckpointMaxContentBytes,
		}, logging.NewComponentLogger("Checkpoints")),
		Registry: registry,
		Metrics:  engineMetrics,
		Logger:   logging.NewComponentLogger("Executor"),
	})

	srv := server.New(cfg.Server, server.Deps{
		Executor: executor,
		Registry: registry,
		Gatherer: promRegistry,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func applyFlagOverrides(cfg *config.Config) {
	if v := viper.GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := viper.GetString("model"); v != "" {
		cfg.LLM.Model = v
	}
	if v := viper.GetString("api-key"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := viper.GetString("session-dir"); v != "" {
		cfg.Engine.SessionDir = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
}
