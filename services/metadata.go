package services

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"paper-graph/providers"

	"go.uber.org/zap"
)

// FirstPageReader liefert den Text der ersten PDF-Seite.
type FirstPageReader interface {
	FirstPageText(path string) (string, error)
}

// MetadataResolver bestimmt die Metadaten einer PDF über eine feste Kette von Strategien.
// Fehler einzelner Strategien werden geloggt und verschluckt.
type MetadataResolver struct {
	Archive     providers.Archive
	PDF         FirstPageReader
	SearchLimit int
	Logger      *zap.Logger
}

var nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Resolve gibt nie einen Fehler zurück. Leere Felder werden mit den Fallbacks des Aufrufers gefüllt.
func (r *MetadataResolver) Resolve(ctx context.Context, pdfPath, fallbackTitle, fallbackAuthors string) providers.Metadata {
	log := r.Logger.With(zap.String("file", filepath.Base(pdfPath)), zap.String("archive", r.Archive.Name()))

	md, strategy := r.resolve(ctx, pdfPath, log)
	metadataResolutions.WithLabelValues(strategy).Inc()
	log.Info("Metadata resolved", zap.String("strategy", strategy), zap.String("arxiv_id", md.ArxivID))

	if md.Title == "" {
		md.Title = fallbackTitle
	}
	if md.Authors == "" {
		md.Authors = fallbackAuthors
	}
	return md
}

func (r *MetadataResolver) resolve(ctx context.Context, pdfPath string, log *zap.Logger) (providers.Metadata, string) {
	// 1. ID im Dateipfad; ohne Treffer geht es mit der nächsten Strategie weiter
	if id := FindArxivID(pdfPath); id != "" {
		if md, ok := r.lookup(ctx, id, log); ok {
			return md, "path_id"
		}
	}

	// 2. Volltextsuche mit dem Dateinamen
	if md, ok := r.searchByFilename(ctx, pdfPath, log); ok {
		return md, "filename_search"
	}

	// 3. ID auf der ersten Seite
	if r.PDF != nil {
		text, err := r.PDF.FirstPageText(pdfPath)
		if err != nil {
			log.Debug("First page unreadable", zap.Error(err))
		} else if id := FindArxivID(text); id != "" {
			if md, ok := r.lookup(ctx, id, log); ok {
				return md, "first_page_id"
			}
		}
	}

	return providers.Metadata{}, "none"
}

func (r *MetadataResolver) lookup(ctx context.Context, id string, log *zap.Logger) (providers.Metadata, bool) {
	md, err := r.Archive.LookupByID(ctx, id)
	if err != nil || md == nil || !md.Found() {
		log.Debug("Archive lookup failed", zap.String("arxiv_id", id), zap.Error(err))
		return providers.Metadata{}, false
	}
	return *md, true
}

// searchByFilename akzeptiert den ersten Treffer, dessen Titel im Pfad vorkommt.
// Verglichen wird nach Kleinschreibung und mit Satzzeichen/Unterstrichen als Leerzeichen.
func (r *MetadataResolver) searchByFilename(ctx context.Context, pdfPath string, log *zap.Logger) (providers.Metadata, bool) {
	base := filepath.Base(pdfPath)
	query := strings.TrimSuffix(base, filepath.Ext(base))
	if strings.TrimSpace(query) == "" {
		return providers.Metadata{}, false
	}

	hits, err := r.Archive.SearchByText(ctx, query, r.searchLimit())
	if err != nil {
		log.Debug("Archive search failed", zap.String("query", query), zap.Error(err))
		return providers.Metadata{}, false
	}
	path := comparable(pdfPath)
	for _, hit := range hits {
		title := comparable(hit.Title)
		if hit.Found() && title != "" && strings.Contains(path, title) {
			return hit, true
		}
	}
	return providers.Metadata{}, false
}

func (r *MetadataResolver) searchLimit() int {
	if r.SearchLimit > 0 {
		return r.SearchLimit
	}
	return 5
}

func comparable(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}
