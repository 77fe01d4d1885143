package services

import (
	"context"
	"fmt"
	"os"

	"paper-graph/apperr"
	"paper-graph/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Traversal begrenzt die rekursive Aufnahme zitierter Paper.
// Kind-Traversals teilen sich die besuchten IDs mit der Wurzel.
type Traversal struct {
	depth    int
	maxDepth int
	visited  map[string]uuid.UUID
	failed   map[string]bool
}

func NewTraversal(maxDepth int) *Traversal {
	return &Traversal{
		maxDepth: maxDepth,
		visited:  map[string]uuid.UUID{},
		failed:   map[string]bool{},
	}
}

func (t *Traversal) Depth() int { return t.depth }

// CanDescend meldet, ob Referenzen auf dieser Ebene noch aufgenommen werden dürfen.
func (t *Traversal) CanDescend() bool { return t.depth < t.maxDepth }

func (t *Traversal) Child() *Traversal {
	return &Traversal{depth: t.depth + 1, maxDepth: t.maxDepth, visited: t.visited, failed: t.failed}
}

func (t *Traversal) Visit(arxivID string, paperID uuid.UUID) { t.visited[arxivID] = paperID }

func (t *Traversal) Lookup(arxivID string) (uuid.UUID, bool) {
	id, ok := t.visited[arxivID]
	return id, ok
}

// ArchivePaperIngester nimmt ein Paper aus dem Archiv auf; dir gehört dem Aufrufer.
type ArchivePaperIngester interface {
	IngestArchivePaper(ctx context.Context, arxivID, dir string, tr *Traversal) (*models.Paper, error)
}

// ReferenceStore speichert Referenzen und findet bereits bekannte Paper.
type ReferenceStore interface {
	FindByArxivID(ctx context.Context, arxivID string) (*models.Paper, error)
	CreateReferences(ctx context.Context, parentID uuid.UUID, refs []models.Reference) (int, error)
}

// ReferenceResolver verknüpft Referenzen mit gespeicherten Papern und nimmt fehlende rekursiv auf.
// Fehler bei einer Referenz betreffen nie die übrigen.
type ReferenceResolver struct {
	Store    ReferenceStore
	Ingester ArchivePaperIngester
	WorkDir  string
	Logger   *zap.Logger
}

// ResolveAndStore schreibt alle Einträge, aufgelöst oder nicht, in einem Batch.
func (r *ReferenceResolver) ResolveAndStore(ctx context.Context, parentID uuid.UUID, entries []ReferenceEntry, tr *Traversal) (int, error) {
	log := r.Logger.With(zap.String("paper_id", parentID.String()), zap.Int("depth", tr.Depth()))

	refs := make([]models.Reference, 0, len(entries))
	linked := 0
	for _, e := range entries {
		ref := toReference(e)
		if arxivID := e.ArxivID(); arxivID != "" {
			if id, ok := r.resolve(ctx, arxivID, tr, log.With(zap.String("arxiv_id", arxivID))); ok {
				ref.ResolvedPaperID = &id
				linked++
				referenceOutcomes.WithLabelValues("linked").Inc()
			} else {
				referenceOutcomes.WithLabelValues("unresolved").Inc()
			}
		} else {
			referenceOutcomes.WithLabelValues("no_arxiv_id").Inc()
		}
		refs = append(refs, ref)
	}

	n, err := r.Store.CreateReferences(ctx, parentID, refs)
	if err != nil {
		return 0, err
	}
	log.Info("References stored", zap.Int("count", n), zap.Int("linked", linked))
	return n, nil
}

func (r *ReferenceResolver) resolve(ctx context.Context, arxivID string, tr *Traversal, log *zap.Logger) (uuid.UUID, bool) {
	if id, ok := tr.Lookup(arxivID); ok {
		return id, true
	}
	if tr.failed[arxivID] {
		return uuid.Nil, false
	}

	existing, err := r.Store.FindByArxivID(ctx, arxivID)
	if err != nil {
		log.Warn("Lookup of cited paper failed", zap.Error(err))
	} else if existing != nil {
		tr.Visit(arxivID, existing.ID)
		return existing.ID, true
	}

	if !tr.CanDescend() {
		log.Debug("Depth limit reached, reference stays unlinked")
		return uuid.Nil, false
	}

	id, err := r.ingestScoped(ctx, arxivID, tr)
	if err != nil {
		tr.failed[arxivID] = true
		log.Warn("Recursive ingestion failed", zap.Error(err))
		return uuid.Nil, false
	}
	tr.Visit(arxivID, id)
	return id, true
}

// ingestScoped gibt das temporäre Verzeichnis auf jedem Weg frei, auch bei einem Panic.
func (r *ReferenceResolver) ingestScoped(ctx context.Context, arxivID string, tr *Traversal) (id uuid.UUID, err error) {
	dir, err := os.MkdirTemp(r.WorkDir, "ref-"+arxivID+"-")
	if err != nil {
		return uuid.Nil, apperr.Internal(err, "create work dir")
	}
	defer func() {
		if rec := recover(); rec != nil {
			id, err = uuid.Nil, fmt.Errorf("panic while ingesting %s: %v", arxivID, rec)
		}
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.Logger.Warn("Failed to remove work dir", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	paper, err := r.Ingester.IngestArchivePaper(ctx, arxivID, dir, tr.Child())
	if err != nil {
		// von einem parallelen Import bereits gespeichert
		if pid, ok := paperID(err); ok {
			return pid, nil
		}
		return uuid.Nil, err
	}
	return paper.ID, nil
}

func toReference(e ReferenceEntry) models.Reference {
	fields := make(datatypes.JSONMap, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return models.Reference{
		CitationKey: e.ID,
		EntryType:   e.Type,
		Title:       e.Fields["title"],
		Authors:     e.Fields["author"],
		Fields:      fields,
	}
}
