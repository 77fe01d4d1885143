package storage

import (
	"context"
	"errors"

	"paper-graph/apperr"
	"paper-graph/models"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// PaperRepository kapselt alle Zugriffe auf papers, paper_embeddings und paper_references.
type PaperRepository struct {
	DB *gorm.DB
}

func NewPaperRepository(db *gorm.DB) *PaperRepository {
	return &PaperRepository{DB: db}
}

// Migrate legt die pgvector-Extension und alle Tabellen an.
func (r *PaperRepository) Migrate(ctx context.Context) error {
	db := r.DB.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return err
	}
	return db.AutoMigrate(&models.Paper{}, &models.Embedding{}, &models.Reference{})
}

// FindByHash liefert das Paper mit diesem Fingerprint oder nil.
func (r *PaperRepository) FindByHash(ctx context.Context, hash string) (*models.Paper, error) {
	return r.findOne(ctx, "file_hash = ?", hash)
}

// FindByArxivID liefert das Paper mit dieser Archiv-ID oder nil.
func (r *PaperRepository) FindByArxivID(ctx context.Context, arxivID string) (*models.Paper, error) {
	return r.findOne(ctx, "arxiv_id = ?", arxivID)
}

func (r *PaperRepository) findOne(ctx context.Context, query string, arg any) (*models.Paper, error) {
	var paper models.Paper
	err := r.DB.WithContext(ctx).Where(query, arg).Take(&paper).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "lookup paper")
	}
	return &paper, nil
}

// CreateWithEmbeddings schreibt Paper und Embeddings in einer Transaktion.
// Eine Verletzung des Fingerprint-Index wird zu einem Conflict mit dem bestehenden Paper.
func (r *PaperRepository) CreateWithEmbeddings(ctx context.Context, paper *models.Paper, embeddings []models.Embedding) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Embeddings", "References").Create(paper).Error; err != nil {
			return err
		}
		if len(embeddings) == 0 {
			return nil
		}
		for i := range embeddings {
			embeddings[i].PaperID = paper.ID
		}
		return tx.CreateInBatches(embeddings, 100).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		existing, lookupErr := r.FindByHash(ctx, paper.FileHash)
		if lookupErr != nil || existing == nil {
			return apperr.Internal(err, "insert paper")
		}
		return apperr.Conflict(ExistingOf(existing))
	}
	if err != nil {
		return apperr.Internal(err, "insert paper")
	}
	return nil
}

// ExistingOf reduziert ein Paper auf die Identität, die ein Conflict meldet.
func ExistingOf(p *models.Paper) apperr.Existing {
	return apperr.Existing{ID: p.ID.String(), Title: p.Title, Authors: p.Authors}
}

func (r *PaperRepository) Get(ctx context.Context, id uuid.UUID) (*models.Paper, error) {
	var paper models.Paper
	err := r.DB.WithContext(ctx).First(&paper, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("paper %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "get paper")
	}
	return &paper, nil
}

// List gibt Paper absteigend nach Erstellungszeit zurück.
func (r *PaperRepository) List(ctx context.Context, offset, limit int) ([]models.Paper, error) {
	var papers []models.Paper
	err := r.DB.WithContext(ctx).
		Omit("content").
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&papers).Error
	if err != nil {
		return nil, apperr.Internal(err, "list papers")
	}
	return papers, nil
}

// Update setzt die übergebenen Spalten. Die Allow-List prüft der Aufrufer.
func (r *PaperRepository) Update(ctx context.Context, id uuid.UUID, values map[string]any) (*models.Paper, error) {
	res := r.DB.WithContext(ctx).Model(&models.Paper{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return nil, apperr.Internal(res.Error, "update paper")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("paper %s not found", id)
	}
	return r.Get(ctx, id)
}

// Delete entfernt das Paper; Embeddings und References folgen per ON DELETE CASCADE.
func (r *PaperRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.DB.WithContext(ctx).Delete(&models.Paper{}, "id = ?", id)
	if res.Error != nil {
		return apperr.Internal(res.Error, "delete paper")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("paper %s not found", id)
	}
	return nil
}

// CreateReferences schreibt alle References eines Papers in einem Batch.
func (r *PaperRepository) CreateReferences(ctx context.Context, parentID uuid.UUID, refs []models.Reference) (int, error) {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Paper{}).Where("id = ?", parentID).Count(&count).Error; err != nil {
			return apperr.Internal(err, "check parent paper")
		}
		if count == 0 {
			return apperr.NotFound("paper %s not found", parentID)
		}
		if len(refs) == 0 {
			return nil
		}
		for i := range refs {
			refs[i].PaperID = parentID
		}
		if err := tx.CreateInBatches(refs, 100).Error; err != nil {
			return apperr.Internal(err, "insert references")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

func (r *PaperRepository) References(ctx context.Context, paperID uuid.UUID) ([]models.Reference, error) {
	if _, err := r.Get(ctx, paperID); err != nil {
		return nil, err
	}
	var refs []models.Reference
	if err := r.DB.WithContext(ctx).Where("paper_id = ?", paperID).Order("created_at, citation_key").Find(&refs).Error; err != nil {
		return nil, apperr.Internal(err, "list references")
	}
	return refs, nil
}

// EmbeddingInfo zählt die Embeddings eines Papers und nennt das Modell.
func (r *PaperRepository) EmbeddingInfo(ctx context.Context, paperID uuid.UUID) (*models.EmbeddingInfo, error) {
	if _, err := r.Get(ctx, paperID); err != nil {
		return nil, err
	}
	info := &models.EmbeddingInfo{PaperID: paperID}
	db := r.DB.WithContext(ctx).Model(&models.Embedding{}).Where("paper_id = ?", paperID)
	if err := db.Count(&info.Count).Error; err != nil {
		return nil, apperr.Internal(err, "count embeddings")
	}
	if info.Count > 0 {
		var first models.Embedding
		err := r.DB.WithContext(ctx).Select("model_name", "model_version").
			Where("paper_id = ?", paperID).Take(&first).Error
		if err != nil {
			return nil, apperr.Internal(err, "read embedding model")
		}
		info.ModelName, info.ModelVersion = first.ModelName, first.ModelVersion
	}
	return info, nil
}

// Search rankt alle Chunk-Vektoren nach Kosinus-Distanz zum Query-Vektor.
func (r *PaperRepository) Search(ctx context.Context, vector []float32, limit int, maxDistance float64) ([]models.SearchHit, error) {
	var hits []models.SearchHit
	if err := searchQuery(r.DB.WithContext(ctx), vector, limit, maxDistance).Scan(&hits).Error; err != nil {
		return nil, apperr.Internal(err, "similarity search")
	}
	return hits, nil
}

// searchQuery filtert mit maxDistance vor dem LIMIT, sofern > 0.
func searchQuery(db *gorm.DB, vector []float32, limit int, maxDistance float64) *gorm.DB {
	vec := pgvector.NewVector(vector)
	q := db.Table("paper_embeddings AS e").
		Select("p.id AS paper_id, p.title, p.authors, p.abstract, p.url, p.arxiv_id, p.file_url, "+
			"e.chunk_index, e.page, e.section, e.embedding <=> ? AS distance", vec).
		Joins("JOIN papers AS p ON p.id = e.paper_id")
	if maxDistance > 0 {
		q = q.Where("(e.embedding <=> ?) <= ?", vec, maxDistance)
	}
	return q.Order("distance ASC").Limit(limit)
}
