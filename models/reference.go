package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reference modelliert eine gerichtete Kante: Paper zitiert Eintrag (A cites B).
// ResolvedPaperID ist nur gesetzt, wenn B selbst ingestiert wurde.
type Reference struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	PaperID     uuid.UUID `json:"paper_id" gorm:"type:uuid;index;not null"`
	CitationKey string    `json:"citation_key"`
	EntryType   string    `json:"entry_type"`
	Title       string    `json:"title,omitempty" gorm:"type:text"`
	Authors     string    `json:"authors,omitempty" gorm:"type:text"`

	// Alle Bib-Felder inkl. raw_source/raw_text
	Fields datatypes.JSONMap `json:"fields" gorm:"type:jsonb"`

	ResolvedPaperID *uuid.UUID `json:"resolved_paper_id,omitempty" gorm:"type:uuid;index"`
	ResolvedPaper   *Paper     `json:"-" gorm:"foreignKey:ResolvedPaperID;constraint:OnDelete:SET NULL"`
}

func (Reference) TableName() string { return "paper_references" }

func (r *Reference) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
