package models

import "github.com/google/uuid"

// SearchHit ist ein Treffer der Vektorsuche: ein Chunk samt Paper-Metadaten.
// Ein Paper kann mehrfach vorkommen, einmal pro passendem Chunk.
type SearchHit struct {
	PaperID    uuid.UUID `json:"paper_id"`
	Title      string    `json:"title"`
	Authors    string    `json:"authors,omitempty"`
	Abstract   string    `json:"abstract,omitempty"`
	URL        string    `json:"url,omitempty"`
	ArxivID    *string   `json:"arxiv_id,omitempty"`
	FileURL    string    `json:"file_url"`
	ChunkIndex int       `json:"chunk_index"`
	Page       int       `json:"page"`
	Section    string    `json:"section,omitempty"`
	Distance   float64   `json:"distance"`
}
