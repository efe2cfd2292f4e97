package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/docchat/internal/config"
	"github.com/knoguchi/docchat/internal/embedder"
	"github.com/knoguchi/docchat/internal/llm"
	"github.com/knoguchi/docchat/internal/markdown"
	"github.com/knoguchi/docchat/internal/prompt"
	"github.com/knoguchi/docchat/internal/reranker"
	"github.com/knoguchi/docchat/internal/retrieval"
	"github.com/knoguchi/docchat/internal/server"
	"github.com/knoguchi/docchat/internal/session"
	"github.com/knoguchi/docchat/internal/sparse"
	"github.com/knoguchi/docchat/internal/stream"
	"github.com/knoguchi/docchat/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting doc chat service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"collections", cfg.Collections,
	)

	vectorClient, err := vectorstore.NewQdrantClient(cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorClient.Close()
	slog.Info("connected to Qdrant", "address", cfg.QdrantGRPCURL)

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.OllamaURL,
		Model:     cfg.OllamaEmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	rerankerClient := reranker.NewLLMReranker(llmClient,
		reranker.WithModel(cfg.OllamaRerankerModel),
		reranker.WithTimeout(cfg.RerankerTimeout),
	)

	hybridCfg := retrieval.HybridConfig{
		Collections:              cfg.Collections,
		DenseVectorName:          cfg.DenseVectorName,
		SparseVectorName:         cfg.SparseVectorName,
		PrefetchLimit:            cfg.PrefetchLimit,
		RRFK:                     cfg.RRFK,
		QueryTimeout:             cfg.QueryTimeout,
		FailOnPartialSearchError: cfg.FailOnPartialSearchError,
		TopK:                     cfg.SearchTopK,
	}
	searcher := retrieval.NewHybridSearcher(vectorClient, hybridCfg)

	assembler := prompt.NewAssembler(cfg.SystemPreamble, cfg.PromptTokenBudget)

	orchestrator := retrieval.NewOrchestrator(
		embed,
		sparse.NewEncoder(),
		searcher,
		rerankerClient,
		assembler,
		retrieval.OrchestratorConfig{
			SearchTopK:    cfg.SearchTopK,
			SearchReturnK: cfg.SearchReturnK,
		},
	)

	sessions := session.NewStore(session.MaxTurns(cfg.SessionMaxTurns), cfg.SessionTTL)
	defer sessions.Close()

	renderer := markdown.NewRenderer()

	transport := stream.NewTransport(stream.Config{
		CoalesceMaxTokens: cfg.CoalesceMaxTokens,
		CoalesceMaxWait:   cfg.CoalesceMaxWait,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxRetries:        cfg.StreamMaxRetries,
	})

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOriginsList(),
	}, server.Deps{
		Orchestrator: orchestrator,
		Sessions:     sessions,
		Renderer:     renderer,
		Transport:    transport,
		LLM:          llmClient,
		LLMModel:     cfg.OllamaLLMModel,
		Citations:    cfg.SearchCitations,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
