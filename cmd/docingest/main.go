package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/docchat/internal/config"
	"github.com/knoguchi/docchat/internal/embedder"
	"github.com/knoguchi/docchat/internal/ingestion"
	"github.com/knoguchi/docchat/internal/repository"
	"github.com/knoguchi/docchat/internal/repository/postgres"
	"github.com/knoguchi/docchat/internal/sparse"
	"github.com/knoguchi/docchat/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		path       = flag.String("file", "", "path to the markdown/text document to ingest")
		title      = flag.String("title", "", "document title (defaults to the file name)")
		docURL     = flag.String("url", "", "canonical URL for citations")
		docVersion = flag.String("doc-version", "", "version tag, e.g. 21 for Java SE 21")
		collection = flag.String("collection", "", "Qdrant collection to write to (defaults to the first configured collection)")
		chunkMode  = flag.String("chunk-method", "", "semantic, fixed, or sentence (defaults to config)")
	)
	flag.Parse()

	if *path == "" {
		return fmt.Errorf("-file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	content, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *path, err)
	}

	docTitle := *title
	if docTitle == "" {
		docTitle = filepath.Base(*path)
	}

	method := *chunkMode
	if method == "" {
		method = cfg.DefaultChunkMethod
	}

	targetCollection := *collection
	if targetCollection == "" {
		if len(cfg.Collections) == 0 {
			return fmt.Errorf("no collection configured")
		}
		targetCollection = cfg.Collections[0]
	}

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	documentRepo := postgres.NewDocumentRepo(db)

	vectorClient, err := vectorstore.NewQdrantClient(cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorClient.Close()

	exists, err := vectorClient.CollectionExists(ctx, targetCollection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err := vectorClient.CreateHybridCollection(ctx, targetCollection, cfg.EmbeddingDimension, cfg.DenseVectorName, cfg.SparseVectorName); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		slog.Info("created collection", "collection", targetCollection)
	}

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.OllamaURL,
		Model:     cfg.OllamaEmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
	})
	encoder := sparse.NewEncoder()

	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{
		Chunker: repository.ChunkerConfig{
			Method:     method,
			TargetSize: cfg.DefaultChunkTargetSize,
			MaxSize:    cfg.DefaultChunkMaxSize,
			Overlap:    cfg.DefaultChunkOverlap,
		},
		DefaultMetadata: map[string]string{
			"url":         *docURL,
			"title":       docTitle,
			"doc_version": *docVersion,
		},
	})

	result, err := pipeline.Process(ctx, string(content))
	if err != nil {
		return fmt.Errorf("failed to chunk document: %w", err)
	}
	slog.Info("chunked document",
		"chunks", len(result.Chunks),
		"method", method,
		"avg_chunk_tokens", result.Stats.AvgChunkTokens,
		"total_chunk_tokens", result.Stats.TotalChunkTokens,
	)

	chunkTexts := make([]string, len(result.Chunks))
	for i, c := range result.Chunks {
		chunkTexts[i] = c.Content
	}

	vectors, err := embed.EmbedBatch(ctx, chunkTexts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	points := make([]vectorstore.Point, len(result.Chunks))
	now := time.Now()

	for i, c := range result.Chunks {
		sparseVec := encoder.Encode(c.Content)
		payload := map[string]string{
			"content":     c.Content,
			"url":         *docURL,
			"title":       docTitle,
			"docVersion":  *docVersion,
			"chunkIndex":  intToString(i),
			"document_id": result.DocumentID.String(),
		}
		points[i] = vectorstore.Point{
			ID:           uuid.New().String(),
			DenseVector:  vectors[i],
			SparseVector: &sparseVec,
			Payload:      payload,
		}
	}
	dbChunks := ingestion.ChunksToDocumentChunks(result.Chunks, result.DocumentID)

	if err := vectorClient.Upsert(ctx, targetCollection, points, cfg.DenseVectorName, cfg.SparseVectorName); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	doc := &repository.Document{
		ID:          result.DocumentID,
		Source:      *path,
		Title:       docTitle,
		ContentHash: result.ContentHash,
		ChunkCount:  len(result.Chunks),
		Status:      "completed",
		Metadata: map[string]string{
			"url":         *docURL,
			"doc_version": *docVersion,
			"collection":  targetCollection,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := documentRepo.Create(ctx, doc); err != nil {
		return fmt.Errorf("failed to persist document record: %w", err)
	}
	if err := documentRepo.CreateChunks(ctx, dbChunks); err != nil {
		return fmt.Errorf("failed to persist chunk records: %w", err)
	}

	slog.Info("ingestion complete",
		"document_id", result.DocumentID,
		"collection", targetCollection,
		"chunks", len(result.Chunks),
	)
	return nil
}

func intToString(n int) string {
	return fmt.Sprintf("%d", n)
}
