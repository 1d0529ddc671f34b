// CopilotOS API gateway — serves the chat orchestration HTTP API, the tool
// invocation pipeline, and the long-running task manager.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/saptiva-ai/copilotos/pkg/api"
	"github.com/saptiva-ai/copilotos/pkg/auth"
	"github.com/saptiva-ai/copilotos/pkg/cache"
	"github.com/saptiva-ai/copilotos/pkg/chat"
	"github.com/saptiva-ai/copilotos/pkg/config"
	"github.com/saptiva-ai/copilotos/pkg/doccache"
	"github.com/saptiva-ai/copilotos/pkg/llm"
	"github.com/saptiva-ai/copilotos/pkg/mcp"
	"github.com/saptiva-ai/copilotos/pkg/mcp/tools"
	"github.com/saptiva-ai/copilotos/pkg/observability"
	"github.com/saptiva-ai/copilotos/pkg/prompt"
	"github.com/saptiva-ai/copilotos/pkg/retrieval"
	"github.com/saptiva-ai/copilotos/pkg/services"
	"github.com/saptiva-ai/copilotos/pkg/store"
	"github.com/saptiva-ai/copilotos/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Log lines pass through the PII scrubber before they reach stdout.
	scrubber := mcp.NewScrubber()
	slog.SetDefault(slog.New(mcp.NewScrubHandler(
		slog.NewJSONHandler(os.Stdout, nil), scrubber)))

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8000")
	slog.Info("Starting CopilotOS", "version", version.Full(), "http_port", httpPort)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Persistence
	var st store.Store
	if cfg.MongoURL != "" {
		mongoStore, err := store.NewMongo(ctx, cfg.MongoURL)
		if err != nil {
			slog.Error("Failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				slog.Error("Error closing MongoDB client", "error", err)
			}
		}()
		st = mongoStore
		slog.Info("Connected to MongoDB")
	} else {
		st = store.NewMemory()
		slog.Warn("MONGODB_URL is empty, using in-memory store; data is lost on restart")
	}

	// 3. Cache
	var (
		c           cache.Cache
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		c = redisCache
		redisClient = redisCache.Client()
		slog.Info("Connected to Redis")
	} else {
		c = cache.NewMemory()
		slog.Warn("REDIS_URL is empty, using in-memory cache; rate limits and revocations are per replica")
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Error("Error closing cache", "error", err)
		}
	}()

	// 4. Prompt registry
	prompts, err := prompt.Load(cfg.PromptRegistryPath)
	if err != nil {
		slog.Error("Failed to load prompt registry", "path", cfg.PromptRegistryPath, "error", err)
		os.Exit(1)
	}
	if err := prompts.Validate(); err != nil {
		slog.Error("Prompt registry validation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Prompt registry loaded", "models", len(prompts.Models()))

	// 5. Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mcpMetrics := mcp.NewMetrics(promReg)
	httpMetrics := observability.NewHTTPMetrics(promReg)

	// 6. Tool layer
	toolRegistry := mcp.NewRegistry()
	lazyRegistry := mcp.NewLazyRegistry()
	toolsClient := &http.Client{Timeout: 60 * time.Second}
	if err := tools.RegisterAll(toolRegistry, lazyRegistry, cfg.ToolsServiceURL, toolsClient); err != nil {
		slog.Error("Failed to register tools", "error", err)
		os.Exit(1)
	}
	slog.Info("Tools registered", "count", len(toolRegistry.Names()))

	resultCache := mcp.NewResultCache(c)
	dispatcher := mcp.NewDispatcher(
		toolRegistry,
		mcp.NewRateLimiter(cfg.ToolRateLimitPerMin, cfg.ToolRateLimitPerHour, redisClient),
		resultCache,
		scrubber,
		mcpMetrics,
		cfg.MaxToolPayloadKB)

	tasks := mcp.NewTaskManager(cfg.TaskTTL, cfg.TaskCleanupInterval, mcpMetrics)
	tasks.Start()
	defer tasks.Stop()

	// 7. Domain services
	tokens := auth.NewTokenService(cfg.JWTSecretKey, cfg.SecretKey, c)
	authSvc := auth.NewService(st, tokens)

	llmClient := llm.New(cfg)
	docs := doccache.NewService(c)
	chatSvc := chat.NewService(prompts, llmClient, st, docs, toolRegistry)
	chatSvc.SetSystemPromptEnabled(cfg.EnableModelSystemPrompt)
	chatSvc.SetRetriever(retrieval.NewDocumentRetriever(retrieval.HeuristicAnalyzer{}, llm.NewEmbedder(cfg)))
	chain := chat.NewChain(chatSvc, dispatcher)
	history := services.NewHistoryService(st, c, tasks)
	chatSvc.SetHistoryInvalidator(history)
	slog.Info("Services initialized")

	// 8. HTTP server
	server := api.NewServer(cfg, api.Deps{
		Auth:        authSvc,
		Chain:       chain,
		ChatService: chatSvc,
		History:     history,
		Dispatcher:  dispatcher,
		Lazy:        lazyRegistry,
		Tasks:       tasks,
		ResultCache: resultCache,
		Prompts:     prompts,
		HTTPMetrics: httpMetrics,
		Gatherer:    promReg,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("CopilotOS started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then wait for in-flight
	// tasks via the deferred task manager stop.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
