package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"paper-graph/config"
	"paper-graph/convert"
	"paper-graph/pdftext"
	"paper-graph/providers/arxiv"
	"paper-graph/providers/ollama"
	"paper-graph/services"
	"paper-graph/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	ctx := context.Background()

	// Setup Database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to papers database.")

	repo := storage.NewPaperRepository(db)
	logging.Info("Running database migration...")
	if err := repo.Migrate(ctx); err != nil {
		logging.Fatal("Database migration failed", zap.Error(err))
	}

	// Setup Storage
	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	objects := storage.NewS3Store(s3Client, cfg.S3URL, cfg.S3Bucket)

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		logging.Fatal("Cannot create work dir", zap.String("dir", cfg.WorkDir), zap.Error(err))
	}

	// Setup Providers
	archive := arxiv.NewClient(cfg, logging)
	embedder := ollama.NewClient(cfg, logging)
	if ok, err := embedder.HasModel(ctx); err != nil {
		logging.Warn("Embedding service not reachable at startup", zap.Error(err))
	} else if !ok {
		logging.Warn("Embedding model not pulled", zap.String("model", cfg.OllamaEmbeddingModel))
	}

	tokenizer, err := services.NewModelTokenizer(cfg.TokenizerModel, cfg.TokenizerFile)
	if err != nil {
		logging.Fatal("Tokenizer init failed", zap.String("model", cfg.TokenizerModel), zap.Error(err))
	}

	// Setup Services
	extractor := pdftext.NewExtractor(logging)
	pipeline := &services.EmbeddingPipeline{
		Extractor:    extractor,
		Segmenter:    &services.Segmenter{Tokenizer: tokenizer, MaxTokens: cfg.ChunkMaxTokens},
		Embedder:     embedder,
		ModelVersion: cfg.OllamaModelVersion,
		MaxRetries:   cfg.OllamaMaxRetries,
		RetryDelay:   cfg.OllamaRetryDelay,
		Concurrency:  cfg.EmbedConcurrency,
		Logger:       logging,
	}
	ingestService := services.NewIngestService(
		repo, objects, archive, extractor, pipeline,
		convert.NewPandoc(cfg.PandocPath, cfg.PandocTimeout, logging),
		cfg.WorkDir, cfg.MaxReferenceDepth, cfg.ArxivSearchLimit, logging,
	)
	searchService := &services.SearchService{Store: repo, Embedder: pipeline, Logger: logging}
	paperService := services.NewPaperService(repo, objects, logging)

	// Setup Router
	router := gin.Default()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	setupRootRoutes(router)
	setupPaperRoutes(router, paperRoutes{
		Ingest:         ingestService,
		Search:         searchService,
		Papers:         paperService,
		WorkDir:        cfg.WorkDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logging)

	// Setup Cron
	janitor := &services.Janitor{Root: cfg.WorkDir, MaxAge: cfg.StaleWorkDirAge, Logger: logging}
	cronScheduler := cron.New()
	if _, err := cronScheduler.AddFunc(cfg.CleanupSchedule, janitor.Run); err != nil {
		logging.Fatal("Invalid cleanup schedule", zap.String("schedule", cfg.CleanupSchedule), zap.Error(err))
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		// Uploads mit rekursiven Referenzen laufen mehrere Minuten
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}
