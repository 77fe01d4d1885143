package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paper-graph/apperr"
	"paper-graph/models"
	"paper-graph/providers"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

const cleanupTimeout = 30 * time.Second

// PaperStore ist die Persistenz, die der Import braucht.
type PaperStore interface {
	HashLookup
	ReferenceStore
	CreateWithEmbeddings(ctx context.Context, paper *models.Paper, embeddings []models.Embedding) error
}

// ObjectStore legt PDFs ab und gibt eine dauerhafte URL zurück.
type ObjectStore interface {
	Put(ctx context.Context, localPath string) (string, error)
	Get(ctx context.Context, url, localPath string) error
	Delete(ctx context.Context, url string) error
}

// SourceConverter wandelt einen LaTeX-Quellbaum in Markdown.
type SourceConverter interface {
	Convert(ctx context.Context, dir string) (string, error)
}

// PaperEmbedder bettet eine PDF chunkweise ein.
type PaperEmbedder interface {
	EmbedPaper(ctx context.Context, pdfPath string) (*EmbeddingResult, error)
}

// IngestRequest ist ein Upload mit optionalen Fallback-Metadaten.
type IngestRequest struct {
	FilePath string
	Title    string
	Authors  string
}

// IngestService orchestriert den Import: Fingerprint, Dedup, Upload, Metadaten,
// Quellen und Bibliographie, Embeddings, Transaktion, Referenzen.
type IngestService struct {
	Papers       PaperStore
	Objects      ObjectStore
	Archive      providers.Archive
	Dedup        *DedupGate
	Metadata     *MetadataResolver
	Bibliography *BibliographyParser
	References   *ReferenceResolver
	Embeddings   PaperEmbedder
	Converter    SourceConverter
	WorkDir      string
	MaxDepth     int
	Logger       *zap.Logger
}

// NewIngestService verdrahtet die Teilschritte; der ReferenceResolver ruft für
// zitierte Paper wieder diesen Service auf.
func NewIngestService(
	papers PaperStore,
	objects ObjectStore,
	archive providers.Archive,
	pdf FirstPageReader,
	embeddings PaperEmbedder,
	converter SourceConverter,
	workDir string,
	maxDepth int,
	searchLimit int,
	logger *zap.Logger,
) *IngestService {
	s := &IngestService{
		Papers:       papers,
		Objects:      objects,
		Archive:      archive,
		Dedup:        &DedupGate{Papers: papers},
		Metadata:     &MetadataResolver{Archive: archive, PDF: pdf, SearchLimit: searchLimit, Logger: logger},
		Bibliography: NewBibliographyParser(logger),
		Embeddings:   embeddings,
		Converter:    converter,
		WorkDir:      workDir,
		MaxDepth:     maxDepth,
		Logger:       logger,
	}
	s.References = &ReferenceResolver{Store: papers, Ingester: s, WorkDir: workDir, Logger: logger}
	return s
}

// Ingest nimmt eine hochgeladene PDF auf. Bekannte Dateien liefern einen Conflict mit dem bestehenden Paper.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*models.Paper, error) {
	return s.ingest(ctx, req.FilePath, req.Title, req.Authors, NewTraversal(s.MaxDepth))
}

// IngestArchivePaper lädt die PDF einer Archiv-ID nach dir und nimmt sie auf.
func (s *IngestService) IngestArchivePaper(ctx context.Context, arxivID, dir string, tr *Traversal) (*models.Paper, error) {
	pdfPath, err := s.Archive.DownloadPDF(ctx, arxivID, dir)
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, pdfPath, "", "", tr)
}

func (s *IngestService) ingest(ctx context.Context, path, title, authors string, tr *Traversal) (*models.Paper, error) {
	start := time.Now()
	log := s.Logger.With(zap.String("file", filepath.Base(path)), zap.Int("depth", tr.Depth()))

	digest, err := Fingerprint(path)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("file_hash", digest))

	if err := s.Dedup.Check(ctx, digest); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			ingestConflicts.Inc()
			log.Info("Paper already stored")
		}
		return nil, err
	}

	fileURL, err := s.Objects.Put(ctx, path)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Unavailable(err, "upload %s", filepath.Base(path))
		}
		log.Error("Upload failed", zap.Error(err))
		return nil, err
	}

	md := s.Metadata.Resolve(ctx, path, title, authors)
	paper := &models.Paper{
		Title:            md.Title,
		Authors:          md.Authors,
		Abstract:         md.Abstract,
		URL:              md.URL,
		PublishedAt:      md.PublishedAt,
		ArchiveUpdatedAt: md.UpdatedAt,
		FileURL:          fileURL,
		FileHash:         digest,
	}
	if paper.Title == "" {
		paper.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	var entries []ReferenceEntry
	if md.ArxivID != "" {
		arxivID := md.ArxivID
		paper.ArxivID = &arxivID
		var content *string
		entries, content = s.processSource(ctx, arxivID, log)
		paper.Content = content
	}

	embeddings := s.embed(ctx, path, log)

	if err := s.Papers.CreateWithEmbeddings(ctx, paper, embeddings); err != nil {
		// auch nach Abbruch des Requests aufräumen
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		delErr := s.Objects.Delete(cleanupCtx, fileURL)
		cancel()
		if delErr != nil {
			log.Warn("Failed to remove orphaned upload", zap.String("file_url", fileURL), zap.Error(delErr))
		}
		if apperr.KindOf(err) == apperr.KindConflict {
			ingestConflicts.Inc()
		}
		log.Error("Storing paper failed", zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("paper_id", paper.ID.String()))
	if md.ArxivID != "" {
		tr.Visit(md.ArxivID, paper.ID)
	}

	if len(entries) > 0 {
		if _, err := s.References.ResolveAndStore(ctx, paper.ID, entries, tr); err != nil {
			log.Warn("Storing references failed", zap.Error(err))
		}
	}

	papersIngested.Inc()
	ingestDuration.Observe(time.Since(start).Seconds())
	log.Info("Paper ingested",
		zap.String("title", paper.Title),
		zap.Int("embeddings", len(embeddings)),
		zap.Int("references", len(entries)))
	return paper, nil
}

// processSource lädt die LaTeX-Quellen in ein temporäres Verzeichnis, konvertiert sie
// und liest die Bibliographie. Fehler werden nur geloggt.
func (s *IngestService) processSource(ctx context.Context, arxivID string, log *zap.Logger) ([]ReferenceEntry, *string) {
	dir, err := os.MkdirTemp(s.WorkDir, "src-"+arxivID+"-")
	if err != nil {
		log.Warn("Cannot create source dir", zap.Error(err))
		return nil, nil
	}
	defer os.RemoveAll(dir)

	srcDir, err := s.Archive.DownloadSource(ctx, arxivID, dir)
	if err != nil {
		log.Warn("Source download failed", zap.Error(err))
		return nil, nil
	}

	var content *string
	if s.Converter != nil {
		md, err := s.Converter.Convert(ctx, srcDir)
		if err != nil {
			log.Warn("Source conversion failed", zap.Error(err))
		} else {
			content = &md
		}
	}
	return s.Bibliography.ExtractReferences(srcDir), content
}

func (s *IngestService) embed(ctx context.Context, path string, log *zap.Logger) []models.Embedding {
	res, err := s.Embeddings.EmbedPaper(ctx, path)
	if err != nil {
		log.Warn("Embedding failed, storing paper without vectors", zap.Error(err))
		return nil
	}
	out := make([]models.Embedding, 0, len(res.Vectors))
	for _, cv := range res.Vectors {
		out = append(out, models.Embedding{
			ChunkIndex:   cv.Chunk.Index,
			Page:         cv.Chunk.Page,
			Section:      cv.Chunk.Section,
			Vector:       pgvector.NewVector(cv.Vector),
			ModelName:    res.ModelName,
			ModelVersion: res.ModelVersion,
		})
	}
	return out
}

// paperID liefert die ID des bestehenden Papers aus einem Conflict.
func paperID(err error) (uuid.UUID, bool) {
	existing, ok := apperr.ExistingOf(err)
	if !ok {
		return uuid.Nil, false
	}
	id, parseErr := uuid.Parse(existing.ID)
	return id, parseErr == nil
}
