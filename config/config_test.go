package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "papers")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "papers")
	t.Setenv("S3_KEY", "minio")
	t.Setenv("S3_SECRET", "minio123")
	t.Setenv("S3_URL", "http://minio:9000")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, "mxbai-embed-large", cfg.OllamaEmbeddingModel)
	assert.Equal(t, "1.0", cfg.OllamaModelVersion)
	assert.Equal(t, 512, cfg.ChunkMaxTokens)
	assert.Equal(t, "mixedbread-ai/mxbai-embed-large-v1", cfg.TokenizerModel)
	assert.Empty(t, cfg.TokenizerFile)
	assert.Equal(t, 3, cfg.OllamaMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.OllamaRetryDelay)
	assert.Equal(t, 60*time.Second, cfg.OllamaAPITimeout)
	assert.Equal(t, 1, cfg.MaxReferenceDepth)
	assert.Equal(t, "@hourly", cfg.CleanupSchedule)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_HOST", "db")
	require.NoError(t, os.Unsetenv("DB_HOST"))

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBHost: "h", DBUser: "u", DBPassword: "p", DBName: "n", DBPort: 5433, DBSSLMode: "require"}
	assert.Equal(t, "host=h user=u password=p dbname=n port=5433 sslmode=require", cfg.DSN())
}
