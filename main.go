package main

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"bookchat/internal/books"
	"bookchat/internal/chunker"
	"bookchat/internal/config"
	"bookchat/internal/db"
	"bookchat/internal/embedding"
	"bookchat/internal/llm"
	"bookchat/internal/logger"
	"bookchat/internal/rag"
	"bookchat/internal/server"
	"bookchat/internal/status"
	"bookchat/internal/vectorize"
	"bookchat/internal/vectorstore"
)

func main() {
	// 1. Load environment and config
	_ = godotenv.Load()
	configPath := os.Getenv("BOOKCHAT_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize logger
	lg, err := logger.New(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	// 3. Initialize database
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		lg.Fatal("failed to create data directory", "error", err)
	}
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		lg.Fatal("failed to initialize database", "error", err)
	}
	defer database.Close()

	// 4. Create service instances
	provider := books.NewClient(cfg.BookService.BaseURL,
		time.Duration(cfg.BookService.TimeoutSecs)*time.Second)
	splitter := chunker.NewTextChunker(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	embedder := embedding.NewGateway(embedding.Options{
		Endpoint:          cfg.Embedding.Endpoint,
		APIKey:            config.APIKey(cfg.Embedding.APIKeyEnv),
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		BatchSize:         cfg.Embedding.BatchSize,
		MaxRetries:        cfg.Embedding.MaxRetries,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
	}, lg.With("component", "embedding"))
	index := vectorstore.NewQdrantStore(vectorstore.Options{
		URL:        cfg.Qdrant.URL,
		APIKey:     config.APIKey(cfg.Qdrant.APIKeyEnv),
		Collection: cfg.Qdrant.Collection,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
	}, lg.With("component", "vectorstore"))
	completion := llm.NewAPIService(llm.Options{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      config.APIKey(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
	}, lg.With("component", "llm"))

	statusStore := status.NewStore(database)
	chunkStore := db.NewChunkStore(database)
	messageStore := db.NewMessageStore(database)

	// 5. Assemble the pipeline
	orchestrator := vectorize.NewOrchestrator(provider, splitter, embedder, index,
		statusStore, chunkStore, cfg.Embedding.BatchSize, lg.With("component", "vectorize"))
	engine := rag.NewEngine(provider, embedder, index, statusStore,
		rag.NewComposer(completion), messageStore, rag.Options{
			TopK:             cfg.Retrieval.TopK,
			ScoreThreshold:   cfg.Retrieval.ScoreThreshold,
			MaxContextLength: cfg.Retrieval.MaxContextLength,
		}, lg.With("component", "rag"))

	// 6. Start HTTP server
	mode := gin.DebugMode
	if cfg.Server.Mode == "prod" {
		mode = gin.ReleaseMode
	}
	srv := server.New(orchestrator, engine, messageStore, mode, lg.With("component", "server"))
	if err := srv.Run(cfg.Server.Addr); err != nil {
		lg.Fatal("server exited", "error", err)
	}
}
