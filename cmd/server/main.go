// Package main is the application entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"waris-go/internal/config"
	"waris-go/internal/handler"
	"waris-go/internal/middleware"
	"waris-go/internal/pipeline"
	"waris-go/internal/repository"
	"waris-go/internal/service"
	"waris-go/pkg/chunker"
	"waris-go/pkg/database"
	"waris-go/pkg/embedding"
	"waris-go/pkg/guardrails"
	"waris-go/pkg/kafka"
	"waris-go/pkg/llm"
	"waris-go/pkg/log"
	"waris-go/pkg/storage"
	"waris-go/pkg/tika"
	"waris-go/pkg/vectorstore"
)

func main() {
	// 1. Configuration.
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. Logger.
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	// 3. Backing services. Everything beyond the vector store is
	// optional so the assistant can run self-contained at a waterworks
	// site with only the embedded store and a local model.
	withRegistry := cfg.Database.MySQL.DSN != ""
	withRedis := cfg.Database.Redis.Addr != ""
	withArchive := cfg.MinIO.Endpoint != ""
	withQueue := cfg.Kafka.Brokers != "" && withRedis && withArchive

	if withRegistry {
		database.InitMySQL(cfg.Database.MySQL.DSN)
	}
	if withRedis {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}
	if withArchive {
		storage.InitMinIO(cfg.MinIO)
	}
	if withQueue {
		kafka.InitProducer(cfg.Kafka)
	}

	store, err := vectorstore.New(cfg.Vector)
	if err != nil {
		log.Fatalf("vector store init failed: %v", err)
	}
	defer store.Close()
	if err := store.EnsureCollection(context.Background()); err != nil {
		log.Fatalf("vector collection init failed: %v", err)
	}

	// 4. Repository.
	var docRepo repository.DocumentRepository
	if withRegistry {
		docRepo = repository.NewDocumentRepository(database.DB)
	}

	// 5. Services (dependency injection).
	embeddingClient := embedding.NewClient(cfg.Embedding)
	ck, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap, cfg.Chunker.CharsPerToken)
	if err != nil {
		log.Fatalf("chunker config invalid: %v", err)
	}
	guards := guardrails.New(
		cfg.Guardrails.BlockedTopics,
		cfg.Guardrails.AllowedDomains,
		cfg.Guardrails.MaxInputLength,
		cfg.Guardrails.MaxOutputLength,
	)
	gateway := llm.NewGateway(cfg.LLM, guards,
		llm.NewOpenRouterProvider(cfg.LLM),
		llm.NewOllamaProvider(cfg.LLM),
	)
	indexer := service.NewIndexerService(ck, embeddingClient, store, docRepo,
		cfg.Embedding.BatchSize, cfg.Embedding.Concurrency)
	retriever := service.NewRetrieverService(embeddingClient, store, gateway)

	// 6. Async indexing pipeline.
	if withQueue {
		processor := pipeline.NewProcessor(tika.NewClient(cfg.Tika), indexer, docRepo, cfg.MinIO)
		go kafka.StartConsumer(cfg.Kafka, processor)
	}

	// 6.1 Seed the knowledge base from the local directory when present.
	seedCtx, cancelSeed := context.WithCancel(context.Background())
	defer cancelSeed()
	go seedKnowledgeBase(seedCtx, "knowledge", indexer)

	// 7. Router.
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	chatHandler := handler.NewChatHandler(retriever, gateway)
	knowledgeHandler := handler.NewKnowledgeHandler(indexer, retriever, cfg.MinIO, withArchive, withQueue)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	{
		chat := apiV1.Group("/chat")
		if withRedis && cfg.RateLimit.Enabled {
			chat.Use(middleware.ChatRateLimiter(cfg.RateLimit))
		}
		{
			chat.POST("", chatHandler.Chat)
			chat.POST("/stream", chatHandler.ChatStream)
		}
		apiV1.POST("/chat/relevance", chatHandler.Relevance)
		apiV1.GET("/providers/status", chatHandler.Providers)

		knowledge := apiV1.Group("/knowledge")
		{
			knowledge.GET("/documents", knowledgeHandler.ListDocuments)
			knowledge.GET("/search", knowledgeHandler.Search)
			knowledge.GET("/stats", knowledgeHandler.Stats)
			knowledge.POST("/directory", knowledgeHandler.IndexDirectory)
			knowledge.POST("/reindex", knowledgeHandler.Reindex)
			knowledge.DELETE("/documents/*source", knowledgeHandler.DeleteDocument)
			if withArchive {
				knowledge.POST("/documents", knowledgeHandler.Upload)
				knowledge.GET("/archive/*source", knowledgeHandler.DocumentLink)
			}
		}
	}
	r.GET("/chat/ws", chatHandler.HandleWS)

	// 8. HTTP server with graceful shutdown.
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}

	// The Kafka consumer loop ends with the process; no explicit stop
	// channel is needed here.
	log.Info("server stopped")
}

// seedKnowledgeBase indexes the local knowledge directory on startup.
// Indexing replaces existing chunks per source, so repeated boots are
// idempotent.
func seedKnowledgeBase(ctx context.Context, dir string, indexer service.IndexerService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedKnowledgeBase: directory '%s' not found, skipping", dir)
		return
	}

	report, err := indexer.IndexDirectory(ctx, dir, "*.md")
	if err != nil {
		log.Errorf("seedKnowledgeBase: indexing failed: %v", err)
		return
	}
	log.Infof("seedKnowledgeBase: indexed %d/%d files, %d chunks",
		report.IndexedFiles, report.TotalFiles, report.TotalChunks)
}
