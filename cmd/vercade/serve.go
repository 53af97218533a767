package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/vercade/internal/agent"
	"github.com/nugget/vercade/internal/api"
	"github.com/nugget/vercade/internal/buildinfo"
	"github.com/nugget/vercade/internal/config"
	"github.com/nugget/vercade/internal/discord"
	"github.com/nugget/vercade/internal/events"
	"github.com/nugget/vercade/internal/httpkit"
	"github.com/nugget/vercade/internal/llm"
	"github.com/nugget/vercade/internal/mcp"
	"github.com/nugget/vercade/internal/memory"
	"github.com/nugget/vercade/internal/mqtt"
	"github.com/nugget/vercade/internal/scheduler"
	"github.com/nugget/vercade/internal/tools"
	"github.com/nugget/vercade/internal/usage"
)

// shutdownTimeout bounds the offline publish and HTTP drain on exit.
const shutdownTimeout = 5 * time.Second

// pingTimeout bounds the startup reachability check of model providers.
const pingTimeout = 10 * time.Second

// runServe connects everything and runs until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stdout)
	logger.Info("starting vercade", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"name", cfg.Agent.Name,
		"model", cfg.LLM.Model,
		"idle_interval", cfg.Schedule.IdleInterval,
	)

	if cfg.Discord.Token == "" {
		return errors.New("discord.token (DISCORD_TOKEN) is required to serve")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()

	// --- Model providers ---
	llmClient, err := newLLMClient(cfg, logger)
	if err != nil {
		return err
	}
	pingProviders(ctx, llmClient, logger)

	// --- Usage ledger ---
	ledger, err := usage.NewStore(cfg.UsagePath(), cfg.Pricing)
	if err != nil {
		return fmt.Errorf("open usage ledger %s: %w", cfg.UsagePath(), err)
	}
	defer ledger.Close()
	logger.Info("usage ledger opened", "path", cfg.UsagePath())

	// --- Long-term memory ---
	var mem tools.MemoryStore
	if cfg.Memory.Enabled() {
		store, err := openMemory(cfg, logger)
		if err != nil {
			return err
		}
		mem = store
		logger.Info("memory opened", "path", cfg.Memory.Path, "embedder", cfg.Memory.Embedder, "notes", store.Count())
	} else {
		logger.Info("memory disabled (no embedder configured)")
	}

	// --- Discord ---
	dc, err := discord.New(discord.Config{
		Token:    cfg.Discord.Token,
		Name:     cfg.Agent.Name,
		Activity: cfg.Agent.Activity,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// --- Tool catalog ---
	registry, mcpClients, err := buildCatalog(ctx, cfg, dc.Hub(), mem, logger)
	if err != nil {
		return err
	}
	defer mcp.CloseAll(mcpClients)
	logger.Info("tool catalog ready", "tools", registry.Names())

	// --- Reasoning loop and scheduler ---
	loop := agent.NewLoop(agent.Config{
		Identity: cfg.Agent.Identity,
		Model:    cfg.LLM.Model,
		Options: llm.Options{
			Temperature:     cfg.LLM.Temperature,
			ReasoningEffort: cfg.LLM.ReasoningEffort,
			MaxTokens:       cfg.LLM.MaxTokens,
		},
		MaxRounds: cfg.LLM.MaxRounds,
		Timeout:   cfg.LLM.Timeout,
		LLM:       llmClient,
		Tools:     registry,
		Usage:     ledger,
		Events:    bus,
		Logger:    logger,
	})

	sched := scheduler.New(scheduler.Config{
		Hub:          dc.Hub(),
		Runner:       loop,
		Logger:       logger,
		Events:       bus,
		IdleInterval: cfg.Schedule.IdleInterval,
		ReplyDelay:   cfg.Schedule.ReplyDelay,
		FollowUp: scheduler.FollowUp{
			Probability: cfg.Schedule.FollowUp.Probability,
			MinDelay:    cfg.Schedule.FollowUp.MinDelay,
			MaxDelay:    cfg.Schedule.FollowUp.MaxDelay,
		},
	})

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		clientID, err := mqtt.LoadOrCreateClientID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt client id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, clientID, bus, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.Prefix)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- HTTP API ---
	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.API.Port != 0 {
		server = api.NewServer(api.Config{
			Address:   cfg.API.Address,
			Port:      cfg.API.Port,
			Scheduler: sched,
			Tools:     registry,
			Usage:     ledger,
			Events:    bus,
			Logger:    logger,
		})
		go func() { serverErr <- server.Start(ctx) }()
	} else {
		logger.Info("api server disabled (port 0)")
	}

	// --- Connect ---
	if err := dc.Start(ctx, sched); err != nil {
		sched.Stop()
		shutdown(logger, mqttPub, server)
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = err
		}
	}

	// Stop triggers first so no run starts against a closing session.
	sched.Stop()
	if err := dc.Close(); err != nil {
		logger.Warn("discord close failed", "error", err)
	}
	shutdown(logger, mqttPub, server)

	logger.Info("vercade stopped")
	return runErr
}

func shutdown(logger *slog.Logger, mqttPub *mqtt.Publisher, server *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if mqttPub != nil {
		if err := mqttPub.Stop(ctx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}
}

// newLLMClient registers every provider that has credentials (Ollama
// always, since it needs none) and checks that the configured model
// routes somewhere.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.MultiClient, error) {
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(5*time.Minute),
		httpkit.WithRetry(2, 2*time.Second),
		httpkit.WithLogger(logger),
	)

	multi := llm.NewMultiClient()
	multi.AddProvider("ollama", llm.NewOllamaClient(cfg.Providers.Ollama.URL, logger))
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(key, httpClient, logger))
	}
	if o := cfg.Providers.OpenAI; o.APIKey != "" || o.BaseURL != "" {
		multi.AddProvider("openai", llm.NewOpenAIClient(o.APIKey, o.BaseURL, httpClient, logger))
	}

	if _, _, err := multi.Resolve(cfg.LLM.Model); err != nil {
		return nil, err
	}
	logger.Info("llm providers configured", "providers", multi.Providers(), "model", cfg.LLM.Model)
	return multi, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pingProviders checks the model providers once at startup. A provider
// that is down is reported but not fatal; it may come up later.
func pingProviders(ctx context.Context, p pinger, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		logger.Warn("model provider unreachable, continuing", "error", err)
		return
	}
	logger.Info("model providers reachable")
}

func openMemory(cfg *config.Config, logger *slog.Logger) (*memory.Store, error) {
	ec := memory.EmbedderConfig{Kind: cfg.Memory.Embedder, Model: cfg.Memory.Model}
	switch cfg.Memory.Embedder {
	case "openai":
		ec.APIKey = cfg.Providers.OpenAI.APIKey
		ec.BaseURL = cfg.Providers.OpenAI.BaseURL
	case "ollama":
		ec.BaseURL = cfg.Providers.Ollama.URL
	}
	embed, err := memory.NewEmbeddingFunc(ec)
	if err != nil {
		return nil, err
	}
	store, err := memory.Open(cfg.Memory.Path, embed, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory %s: %w", cfg.Memory.Path, err)
	}
	return store, nil
}
