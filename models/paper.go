package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Paper repräsentiert ein ingestiertes Paper samt Metadaten und gespeicherter PDF.
type Paper struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title    string `json:"title"`
	Authors  string `json:"authors,omitempty"`
	Abstract string `json:"abstract,omitempty" gorm:"type:text"`
	URL      string `json:"url,omitempty"`

	// Kurz-ID im Archiv (z.B. 2401.00123), leer wenn unbekannt
	ArxivID          *string    `json:"arxiv_id,omitempty" gorm:"column:arxiv_id;index"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	ArchiveUpdatedAt *time.Time `json:"archive_updated_at,omitempty"`

	// Markdown aus der LaTeX-Quelle, falls konvertierbar
	Content *string `json:"content,omitempty" gorm:"type:text"`

	FileURL  string `json:"file_url"`
	FileHash string `json:"file_hash" gorm:"uniqueIndex;not null"`

	Embeddings []Embedding `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	References []Reference `json:"-" gorm:"foreignKey:PaperID;constraint:OnDelete:CASCADE"`
}

// TableName gibt explizit den Tabellennamen an.
func (Paper) TableName() string {
	return "papers"
}

// BeforeCreate vergibt eine zeitlich sortierbare UUID.
func (p *Paper) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		p.ID = id
	}
	return nil
}

// UpdatableFields are the only columns a metadata update may touch.
var UpdatableFields = map[string]bool{
	"title":    true,
	"authors":  true,
	"file_url": true,
}
