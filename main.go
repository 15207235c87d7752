package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"novelverse/internal/api"
	"novelverse/internal/chat"
	"novelverse/internal/config"
	"novelverse/internal/ingest"
	"novelverse/internal/llm"
	"novelverse/internal/logging"
	"novelverse/internal/rag"
	"novelverse/internal/store"
	"novelverse/internal/story"
	"novelverse/internal/vectorstore"
	"novelverse/internal/watcher"
)

const version = "1.0.0"

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)
	logger.Info("Starting NovelVerse intelligence service v%s...", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("Database initialized at %s", cfg.Database.Path)

	provider, err := llm.NewProvider(llm.Config{
		Type:             cfg.Provider.Type,
		GeminiKey:        cfg.Provider.GeminiKey,
		GeminiEmbedModel: cfg.Provider.GeminiEmbedModel,
		GeminiChatModel:  cfg.Provider.GeminiChatModel,
		OpenAIKey:        cfg.Provider.OpenAIKey,
		OpenAIEmbedModel: cfg.Provider.OpenAIEmbedModel,
		OpenAIChatModel:  cfg.Provider.OpenAIChatModel,
		OllamaEndpoint:   cfg.Provider.OllamaEndpoint,
		OllamaEmbedModel: cfg.Provider.OllamaEmbedModel,
		OllamaChatModel:  cfg.Provider.OllamaChatModel,
	}, logger.WithContext("component", "llm"))
	if err != nil {
		logger.Error("Failed to initialize LLM provider: %v", err)
		os.Exit(1)
	}
	logger.Info("LLM provider: %s (configured: %v)", provider.Name(), provider.Configured())

	vectors := vectorstore.New(vectorstore.Config{
		URL:       cfg.Qdrant.URL,
		APIKey:    cfg.Qdrant.APIKey,
		Dimension: cfg.RAG.VectorDimension,
		Timeout:   time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
	}, logger.WithContext("component", "qdrant"))
	if !vectors.Configured() {
		logger.Warn("Qdrant not configured, retrieval augmentation disabled")
	}

	retriever := rag.NewService(st, provider, vectors, rag.Config{
		MaxChunkChars: cfg.RAG.MaxChunkChars,
		PreviewChars:  cfg.RAG.PreviewChars,
		TopK:          cfg.RAG.TopK,
	}, logger.WithContext("component", "rag"))

	chatSvc := chat.NewService(st, provider, retriever, logger.WithContext("component", "chat"))
	storySvc := story.NewService(st, provider, retriever, logger.WithContext("component", "story"))

	apiServer := api.NewServer(st, chatSvc, storySvc, retriever, api.Config{
		AdminTokenHash: cfg.Admin.TokenHash,
	}, logger.WithContext("component", "api"))

	if cfg.Import.Enabled {
		importer := ingest.NewImporter(st, apiServer.Hub(), logger.WithContext("component", "ingest"))
		w, err := watcher.New(cfg.Import.Folder, importer, logger.WithContext("component", "watcher"))
		if err != nil {
			logger.Warn("Import watcher disabled: %v", err)
		} else if err := w.Start(ctx); err != nil {
			logger.Warn("Import watcher failed to start: %v", err)
		} else {
			logger.Info("Watching import folder: %s", cfg.Import.Folder)
		}
	}

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE chat turns hold the response open for as
		// long as generation runs.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Server listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	logger.Info("NovelVerse intelligence service stopped")
}

// newLogger builds the root logger: console always, rotated debug file when
// enabled.
func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)

	var fileWriter io.Writer
	if cfg.Logging.DebugEnabled && cfg.Logging.File != "" {
		fw, err := logging.NewFileWriter(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
		if err != nil {
			log.Printf("Debug log file unavailable: %v", err)
		} else {
			fileWriter = fw
		}
	}

	return logging.NewLogger("main", level, logging.NewMultiWriter(os.Stderr, fileWriter))
}
