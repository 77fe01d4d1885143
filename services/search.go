package services

import (
	"context"
	"strings"

	"paper-graph/apperr"
	"paper-graph/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// VectorSearcher rankt gespeicherte Chunk-Vektoren nach Kosinus-Distanz.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, maxDistance float64) ([]models.SearchHit, error)
}

// QueryEmbedder bettet Suchanfragen ein.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchService beantwortet Ähnlichkeitssuchen über Text oder fertige Vektoren.
type SearchService struct {
	Store    VectorSearcher
	Embedder QueryEmbedder
	Logger   *zap.Logger
}

// SearchQuery beschreibt eine Textsuche. MaxDistance 0 heißt ohne Schwelle.
type SearchQuery struct {
	Text        string
	Limit       int
	MaxDistance float64
	Distinct    bool
}

// SearchText bettet die Anfrage ein und sucht die nächsten Chunks.
func (s *SearchService) SearchText(ctx context.Context, q SearchQuery) ([]models.SearchHit, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, apperr.Validation("query must not be empty")
	}
	vec, err := s.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Unavailable(err, "embed query")
		}
		return nil, err
	}

	hits, err := s.Search(ctx, vec, q.Limit, q.MaxDistance)
	if err != nil {
		return nil, err
	}
	if q.Distinct {
		hits = DistinctPapers(hits)
	}
	s.Logger.Debug("Search answered", zap.Int("hits", len(hits)), zap.Bool("distinct", q.Distinct))
	return hits, nil
}

// Search liefert höchstens limit Treffer, aufsteigend nach Distanz.
func (s *SearchService) Search(ctx context.Context, vector []float32, limit int, maxDistance float64) ([]models.SearchHit, error) {
	if len(vector) == 0 {
		return nil, apperr.Validation("query vector must not be empty")
	}
	if maxDistance < 0 {
		return nil, apperr.Validation("max_distance must not be negative")
	}
	return s.Store.Search(ctx, vector, NormalizeSearchLimit(limit), maxDistance)
}

// NormalizeSearchLimit setzt den Default für <= 0 und kappt bei MaxSearchLimit.
func NormalizeSearchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return min(limit, MaxSearchLimit)
}

// DistinctPapers behält pro Paper nur den besten Treffer; die Reihenfolge bleibt erhalten.
func DistinctPapers(hits []models.SearchHit) []models.SearchHit {
	seen := make(map[uuid.UUID]bool, len(hits))
	out := make([]models.SearchHit, 0, len(hits))
	for _, h := range hits {
		if seen[h.PaperID] {
			continue
		}
		seen[h.PaperID] = true
		out = append(out, h)
	}
	return out
}
