package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`

	S3Key    string `envconfig:"S3_KEY" required:"true"`
	S3Secret string `envconfig:"S3_SECRET" required:"true"`
	S3URL    string `envconfig:"S3_URL" required:"true"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket string `envconfig:"S3_BUCKET" default:"papers"`

	// arXiv erlaubt etwa einen Request alle drei Sekunden
	ArxivAPIURL      string        `envconfig:"ARXIV_API_URL" default:"https://export.arxiv.org/api/query"`
	ArxivBaseURL     string        `envconfig:"ARXIV_BASE_URL" default:"https://arxiv.org"`
	ArxivRateLimit   time.Duration `envconfig:"ARXIV_RATE_LIMIT" default:"3s"`
	ArxivTimeout     time.Duration `envconfig:"ARXIV_TIMEOUT" default:"60s"`
	ArxivMaxRetries  int           `envconfig:"ARXIV_MAX_RETRIES" default:"3"`
	ArxivRetryDelay  time.Duration `envconfig:"ARXIV_RETRY_DELAY" default:"2s"`
	ArxivSearchLimit int           `envconfig:"ARXIV_SEARCH_LIMIT" default:"5"`

	OllamaHost           string        `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`
	OllamaEmbeddingModel string        `envconfig:"OLLAMA_EMBEDDING_MODEL" default:"mxbai-embed-large"`
	OllamaModelVersion   string        `envconfig:"OLLAMA_MODEL_VERSION" default:"1.0"`
	OllamaAPITimeout     time.Duration `envconfig:"OLLAMA_API_TIMEOUT" default:"60s"`
	OllamaMaxRetries     int           `envconfig:"OLLAMA_MAX_RETRIES" default:"3"`
	OllamaRetryDelay     time.Duration `envconfig:"OLLAMA_RETRY_DELAY" default:"2s"`

	// Token-Budget pro Chunk, gemessen mit dem Tokenizer des Embedding-Modells.
	// TOKENIZER_FILE zeigt auf eine lokale tokenizer.json, sonst wird TOKENIZER_MODEL vom Hub geladen.
	ChunkMaxTokens   int    `envconfig:"CHUNK_MAX_TOKENS" default:"512"`
	TokenizerModel   string `envconfig:"TOKENIZER_MODEL" default:"mixedbread-ai/mxbai-embed-large-v1"`
	TokenizerFile    string `envconfig:"TOKENIZER_FILE"`
	EmbedConcurrency int    `envconfig:"EMBED_CONCURRENCY" default:"4"`

	WorkDir           string        `envconfig:"WORK_DIR" default:"/tmp/paper-graph"`
	MaxReferenceDepth int           `envconfig:"MAX_REFERENCE_DEPTH" default:"1"`
	PandocPath        string        `envconfig:"PANDOC_PATH" default:"pandoc"`
	PandocTimeout     time.Duration `envconfig:"PANDOC_TIMEOUT" default:"2m"`

	CleanupSchedule string        `envconfig:"CLEANUP_SCHEDULE" default:"@hourly"`
	StaleWorkDirAge time.Duration `envconfig:"STALE_WORKDIR_AGE" default:"6h"`

	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"104857600"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
