package services

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"paper-graph/apperr"
	"paper-graph/pdftext"
	"paper-graph/providers"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ElementExtractor liefert die Textelemente einer PDF.
type ElementExtractor interface {
	ExtractElements(path string) ([]pdftext.Element, error)
}

// ChunkVector ist ein erfolgreich eingebetteter Chunk.
type ChunkVector struct {
	Chunk  Chunk
	Vector []float32
}

// EmbeddingResult enthält nur die erfolgreichen Chunks, in Dokumentreihenfolge.
type EmbeddingResult struct {
	Vectors      []ChunkVector
	Chunks       int
	ModelName    string
	ModelVersion string
}

// EmbeddingPipeline extrahiert, segmentiert und bettet eine PDF ein.
type EmbeddingPipeline struct {
	Extractor    ElementExtractor
	Segmenter    *Segmenter
	Embedder     providers.Embedder
	ModelVersion string
	MaxRetries   int
	RetryDelay   time.Duration
	Concurrency  int
	Logger       *zap.Logger
}

// EmbedPaper schlägt nur fehl, wenn die PDF nicht lesbar ist.
// Chunks, die nach allen Versuchen scheitern, fehlen im Ergebnis.
func (p *EmbeddingPipeline) EmbedPaper(ctx context.Context, pdfPath string) (*EmbeddingResult, error) {
	log := p.Logger.With(zap.String("file", filepath.Base(pdfPath)))

	elements, err := p.Extractor.ExtractElements(pdfPath)
	if err != nil {
		return nil, apperr.Internal(err, "extract text from %s", filepath.Base(pdfPath))
	}
	chunks := p.Segmenter.Segment(elements)

	vectors := make([][]float32, len(chunks))
	g := new(errgroup.Group)
	g.SetLimit(max(p.Concurrency, 1))
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			vec, err := p.embedWithRetry(ctx, c.Text)
			if err != nil {
				chunkOutcomes.WithLabelValues("dropped").Inc()
				log.Warn("Dropping chunk after failed embedding",
					zap.Int("chunk", c.Index), zap.Int("page", c.Page), zap.Error(err))
				return nil
			}
			chunkOutcomes.WithLabelValues("embedded").Inc()
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	res := &EmbeddingResult{
		Chunks:       len(chunks),
		ModelName:    p.Embedder.Model(),
		ModelVersion: p.ModelVersion,
	}
	for i, vec := range vectors {
		if vec != nil {
			res.Vectors = append(res.Vectors, ChunkVector{Chunk: chunks[i], Vector: vec})
		}
	}
	log.Info("Paper embedded",
		zap.Int("elements", len(elements)),
		zap.Int("chunks", len(chunks)),
		zap.Int("embedded", len(res.Vectors)))
	return res, nil
}

// EmbedQuery bettet einen Suchtext mit denselben Wiederholungsregeln ein.
func (p *EmbeddingPipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embedWithRetry(ctx, text)
}

// embedWithRetry versucht es 1+MaxRetries mal mit fester Pause; Kontextabbruch beendet sofort.
func (p *EmbeddingPipeline) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Join(lastErr, ctx.Err())
			case <-time.After(p.RetryDelay):
			}
		}
		vec, err := p.Embedder.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
