package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Embedding hält den Vektor eines Text-Chunks eines Papers.
type Embedding struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	PaperID    uuid.UUID `json:"paper_id" gorm:"type:uuid;index;not null"`
	ChunkIndex int       `json:"chunk_index"`
	Page       int       `json:"page"`
	Section    string    `json:"section,omitempty"`

	Vector       pgvector.Vector `json:"-" gorm:"column:embedding;type:vector;not null"`
	ModelName    string          `json:"model_name"`
	ModelVersion string          `json:"model_version"`
}

func (Embedding) TableName() string { return "paper_embeddings" }

func (e *Embedding) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// EmbeddingInfo fasst die Embeddings eines Papers zusammen.
type EmbeddingInfo struct {
	PaperID      uuid.UUID `json:"paper_id"`
	Count        int64     `json:"count"`
	ModelName    string    `json:"model_name,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
}
