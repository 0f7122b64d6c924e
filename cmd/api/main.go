package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jwebster45206/crash-engine/internal/config"
	"github.com/jwebster45206/crash-engine/internal/engine"
	"github.com/jwebster45206/crash-engine/internal/handlers"
	"github.com/jwebster45206/crash-engine/internal/history"
	"github.com/jwebster45206/crash-engine/internal/logger"
	"github.com/jwebster45206/crash-engine/internal/middleware"
	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/internal/setup"
	"github.com/jwebster45206/crash-engine/internal/storage"
	"github.com/jwebster45206/crash-engine/internal/summary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Crash Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName,
		"blob_backend", cfg.BlobBackend)

	var client services.ModelClient
	switch strings.ToLower(cfg.LLMProvider) {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Error("Anthropic API key is required when using anthropic provider")
			os.Exit(1)
		}
		client = services.NewAnthropicClient(cfg.AnthropicAPIKey, log)
		log.Info("Using Anthropic LLM provider")
	default:
		log.Error("Invalid LLM provider specified", "provider", cfg.LLMProvider, "supported", []string{"anthropic"})
		os.Exit(1)
	}

	prompts, err := services.LoadPromptTable(cfg.PromptsPath, cfg.LLMProvider)
	if err != nil {
		log.Error("Failed to load prompt table", "error", err)
		os.Exit(1)
	}

	gateway, err := services.NewGateway(client, cfg.ModelName, prompts, log)
	if err != nil {
		log.Error("Failed to create prompt gateway", "error", err)
		os.Exit(1)
	}

	var blob storage.Blob
	switch cfg.BlobBackend {
	case config.BlobBackendRedis:
		blob = storage.NewRedisBlob(cfg.RedisURL, log)
	case config.BlobBackendFile:
		blob = storage.NewFileBlob(cfg.DataPath)
	default:
		log.Error("Invalid blob backend", "backend", cfg.BlobBackend)
		os.Exit(1)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer pingCancel()
	if err := blob.Ping(pingCtx); err != nil {
		log.Error("Failed to connect to blob storage", "error", err)
		os.Exit(1)
	}
	log.Info("Blob storage connection established")

	games, err := storage.NewGormStore(cfg.MySQLDSN, log)
	if err != nil {
		log.Error("Failed to connect to game store", "error", err)
		os.Exit(1)
	}
	log.Info("Game store connection established")

	hist := history.New(blob, log, cfg.MaxSegmentBytes, cfg.StorageRetries, cfg.StorageRetryDelay)
	generator := setup.NewGenerator(gateway, cfg.GenerateRetries, cfg.GenerateRetryDelay, log)
	summarizer := summary.NewSummarizer(gateway, cfg.GenerateRetries, cfg.GenerateRetryDelay, log)

	eng := engine.New(games, hist, gateway, generator, summarizer, log, engine.Options{
		SummaryTargetWords: cfg.SummaryTargetWords,
		IntroDelay:         7 * time.Millisecond,
		ReplayBudget:       4 * time.Second,
	})

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.NewHealthHandler(blob, games, log))
	mux.Handle("/version", handlers.NewVersionHandler(cfg.GameVersion, log))
	mux.Handle("/v1/setup/random", handlers.NewSetupHandler(log))
	mux.Handle("/v1/load", handlers.NewLoadHandler(eng, log))

	gameHandler := handlers.NewGameHandler(eng, log)
	mux.Handle("/v1/games", gameHandler)
	mux.Handle("/v1/games/", gameHandler)

	handler := middleware.Logger(mux)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout omitted so SSE generation streams are not cut off.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	if err := blob.Close(); err != nil {
		log.Error("Error closing blob storage", "error", err)
	}
	if err := games.Close(); err != nil {
		log.Error("Error closing game store", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exited")
}
