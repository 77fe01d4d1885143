package providers

import (
	"context"
	"time"
)

// Metadata sind die bibliographischen Daten, die ein Archiv zu einem Paper liefert.
type Metadata struct {
	ArxivID     string     `json:"arxiv_id"`
	Title       string     `json:"title"`
	Authors     string     `json:"authors"`
	Abstract    string     `json:"abstract"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Found meldet, ob eine Strategie ein Paper aufgelöst hat.
func (m Metadata) Found() bool {
	return m.ArxivID != "" || m.Title != ""
}

// Archive ist das Interface für ein Preprint-Archiv (z.B. arXiv).
// LookupByID liefert apperr.KindNotFound für unbekannte IDs, Transportfehler als KindUnavailable.
type Archive interface {
	LookupByID(ctx context.Context, id string) (*Metadata, error)
	SearchByText(ctx context.Context, query string, limit int) ([]Metadata, error)

	// DownloadPDF legt die PDF in dir ab und gibt den Pfad zurück.
	DownloadPDF(ctx context.Context, id, dir string) (string, error)

	// DownloadSource entpackt die Quellen nach dir und gibt das Verzeichnis zurück.
	DownloadSource(ctx context.Context, id, dir string) (string, error)

	Name() string
}

// Embedder erzeugt einen Vektor pro Text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}
