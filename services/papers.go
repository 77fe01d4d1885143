package services

import (
	"context"
	"sort"
	"strings"

	"paper-graph/apperr"
	"paper-graph/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// PaperRecords ist der Lese-/Schreibzugriff auf gespeicherte Paper.
type PaperRecords interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Paper, error)
	List(ctx context.Context, offset, limit int) ([]models.Paper, error)
	Update(ctx context.Context, id uuid.UUID, values map[string]any) (*models.Paper, error)
	Delete(ctx context.Context, id uuid.UUID) error
	References(ctx context.Context, paperID uuid.UUID) ([]models.Reference, error)
	EmbeddingInfo(ctx context.Context, paperID uuid.UUID) (*models.EmbeddingInfo, error)
}

// PaperService verwaltet gespeicherte Paper samt ihrer PDF im Objektspeicher.
type PaperService struct {
	Records PaperRecords
	Objects ObjectStore
	Logger  *zap.Logger
}

func NewPaperService(records PaperRecords, objects ObjectStore, logger *zap.Logger) *PaperService {
	return &PaperService{Records: records, Objects: objects, Logger: logger}
}

func (s *PaperService) Get(ctx context.Context, id uuid.UUID) (*models.Paper, error) {
	return s.Records.Get(ctx, id)
}

// List liefert die neuesten Paper zuerst; limit <= 0 nimmt den Default, zu große Werte werden gekappt.
func (s *PaperService) List(ctx context.Context, offset, limit int) ([]models.Paper, error) {
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.Records.List(ctx, offset, min(limit, MaxListLimit))
}

// Update ändert nur title, authors und file_url. Unbekannte Felder sind ein Validierungsfehler.
func (s *PaperService) Update(ctx context.Context, id uuid.UUID, fields map[string]any) (*models.Paper, error) {
	values := make(map[string]any, len(fields))
	var rejected []string
	for k, v := range fields {
		if !models.UpdatableFields[k] {
			rejected = append(rejected, k)
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, apperr.Validation("field %s must be a string", k)
		}
		values[k] = str
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return nil, apperr.Validation("fields not updatable: %s", strings.Join(rejected, ", "))
	}
	if len(values) == 0 {
		return nil, apperr.Validation("No valid fields to update")
	}
	if title, ok := values["title"]; ok && strings.TrimSpace(title.(string)) == "" {
		return nil, apperr.Validation("title must not be empty")
	}

	paper, err := s.Records.Update(ctx, id, values)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Paper updated", zap.String("paper_id", id.String()), zap.Int("fields", len(values)))
	return paper, nil
}

// Delete entfernt erst die PDF, dann die Zeile samt Embeddings und Referenzen.
// Eine PDF, die nicht in unserem Bucket liegt, blockiert das Löschen nicht.
func (s *PaperService) Delete(ctx context.Context, id uuid.UUID) error {
	paper, err := s.Records.Get(ctx, id)
	if err != nil {
		return err
	}
	log := s.Logger.With(zap.String("paper_id", id.String()))

	if paper.FileURL != "" {
		if err := s.Objects.Delete(ctx, paper.FileURL); err != nil {
			if apperr.KindOf(err) != apperr.KindValidation {
				log.Error("Deleting stored PDF failed", zap.Error(err))
				return err
			}
			log.Warn("Stored PDF is outside the bucket, keeping it", zap.String("file_url", paper.FileURL))
		}
	}
	if err := s.Records.Delete(ctx, id); err != nil {
		return err
	}
	log.Info("Paper deleted")
	return nil
}

func (s *PaperService) References(ctx context.Context, id uuid.UUID) ([]models.Reference, error) {
	return s.Records.References(ctx, id)
}

func (s *PaperService) EmbeddingInfo(ctx context.Context, id uuid.UUID) (*models.EmbeddingInfo, error) {
	return s.Records.EmbeddingInfo(ctx, id)
}

// DownloadFile lädt die gespeicherte PDF nach localPath und gibt das Paper zurück.
func (s *PaperService) DownloadFile(ctx context.Context, id uuid.UUID, localPath string) (*models.Paper, error) {
	paper, err := s.Records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if paper.FileURL == "" {
		return nil, apperr.NotFound("paper %s has no stored file", id)
	}
	if err := s.Objects.Get(ctx, paper.FileURL, localPath); err != nil {
		return nil, err
	}
	return paper, nil
}
