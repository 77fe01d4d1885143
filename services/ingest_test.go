package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"paper-graph/apperr"
	"paper-graph/models"
	"paper-graph/providers"
	"paper-graph/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memPaperStore hält Paper im Speicher und erzwingt die Eindeutigkeit von file_hash.
type memPaperStore struct {
	mu         sync.Mutex
	papers     []*models.Paper
	embeddings map[uuid.UUID][]models.Embedding
	references map[uuid.UUID][]models.Reference
	createErr  error

	// hideHashes lässt FindByHash verfehlen, wie bei zwei gleichzeitigen Uploads
	hideHashes   bool
	beforeCreate func()
}

func newMemPaperStore() *memPaperStore {
	return &memPaperStore{
		embeddings: map[uuid.UUID][]models.Embedding{},
		references: map[uuid.UUID][]models.Reference{},
	}
}

func (m *memPaperStore) FindByHash(_ context.Context, hash string) (*models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideHashes {
		return nil, nil
	}
	for _, p := range m.papers {
		if p.FileHash == hash {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPaperStore) FindByArxivID(_ context.Context, id string) (*models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.papers {
		if p.ArxivID != nil && *p.ArxivID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPaperStore) CreateWithEmbeddings(_ context.Context, paper *models.Paper, embeddings []models.Embedding) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, p := range m.papers {
		if p.FileHash == paper.FileHash {
			return apperr.Conflict(storage.ExistingOf(p))
		}
	}
	paper.ID = uuid.New()
	m.papers = append(m.papers, paper)
	m.embeddings[paper.ID] = embeddings
	return nil
}

func (m *memPaperStore) CreateReferences(_ context.Context, parentID uuid.UUID, refs []models.Reference) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references[parentID] = append(m.references[parentID], refs...)
	return len(refs), nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string]bool
	putErr  error
	deleted []string
}

func (m *memObjects) Put(_ context.Context, localPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	if m.objects == nil {
		m.objects = map[string]bool{}
	}
	url := "http://minio:9000/papers/" + uuid.NewString() + filepath.Ext(localPath)
	m.objects[url] = true
	return url, nil
}

func (m *memObjects) Get(context.Context, string, string) error { return nil }

func (m *memObjects) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, url)
	m.deleted = append(m.deleted, url)
	return nil
}

type stubEmbedder struct{ vectors int }

func (s stubEmbedder) EmbedPaper(context.Context, string) (*EmbeddingResult, error) {
	res := &EmbeddingResult{Chunks: s.vectors, ModelName: "m", ModelVersion: "1.0"}
	for i := 0; i < s.vectors; i++ {
		res.Vectors = append(res.Vectors, ChunkVector{Chunk: Chunk{Index: i, Page: 1}, Vector: []float32{1, float32(i)}})
	}
	return res, nil
}

type stubConverter struct{}

func (stubConverter) Convert(context.Context, string) (string, error) { return "# Converted", nil }

func writePDF(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestIngest(t *testing.T, store *memPaperStore, objects *memObjects, archive *fakeArchive, maxDepth int) *IngestService {
	t.Helper()
	return NewIngestService(store, objects, archive, &fakeFirstPage{}, stubEmbedder{vectors: 2}, stubConverter{},
		t.TempDir(), maxDepth, 5, zap.NewNop())
}

func TestIngestStoresPaperWithFallbackMetadata(t *testing.T) {
	t.Parallel()

	store, objects := newMemPaperStore(), &memObjects{}
	svc := newTestIngest(t, store, objects, &fakeArchive{}, 1)

	path := writePDF(t, t.TempDir(), "notes.pdf", "%PDF-1.4 notes")
	paper, err := svc.Ingest(context.Background(), IngestRequest{FilePath: path, Title: "My Notes", Authors: "Me"})
	require.NoError(t, err)

	assert.Equal(t, "My Notes", paper.Title)
	assert.Equal(t, "Me", paper.Authors)
	assert.Nil(t, paper.ArxivID)
	assert.Len(t, store.embeddings[paper.ID], 2)
	assert.Equal(t, "m", store.embeddings[paper.ID][0].ModelName)
	assert.True(t, objects.objects[paper.FileURL])
}

func TestIngestDuplicateIsConflictNamingFirstPaper(t *testing.T) {
	t.Parallel()

	store, objects := newMemPaperStore(), &memObjects{}
	svc := newTestIngest(t, store, objects, &fakeArchive{}, 1)
	dir := t.TempDir()

	first, err := svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, dir, "a.pdf", "same bytes"), Title: "First"})
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, dir, "b.pdf", "same bytes"), Title: "Second"})
	require.ErrorIs(t, err, apperr.ErrConflict)
	existing, ok := apperr.ExistingOf(err)
	require.True(t, ok)
	assert.Equal(t, first.ID.String(), existing.ID)
	assert.Equal(t, "First", existing.Title)

	assert.Len(t, store.papers, 1)
	assert.Len(t, objects.objects, 1)
}

func TestIngestUploadFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	store := newMemPaperStore()
	svc := newTestIngest(t, store, &memObjects{putErr: errors.New("dial tcp: connection refused")}, &fakeArchive{}, 1)

	_, err := svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, t.TempDir(), "x.pdf", "x")})
	require.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Empty(t, store.papers)
}

func TestIngestStoreFailureRemovesUpload(t *testing.T) {
	t.Parallel()

	store, objects := newMemPaperStore(), &memObjects{}
	store.createErr = apperr.Internal(errors.New("tx aborted"), "store paper")
	svc := newTestIngest(t, store, objects, &fakeArchive{}, 1)

	_, err := svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, t.TempDir(), "x.pdf", "x")})
	require.Error(t, err)
	assert.Len(t, objects.deleted, 1)
	assert.Empty(t, objects.objects)
}

func TestIngestArxivPaperWithReferences(t *testing.T) {
	t.Parallel()

	bib := `@article{cited, title={Cited Work}, author={B. Author}, eprint={2002.00002}}
@book{plain, title={A Book Without Identifier}}`
	archive := &fakeArchive{
		byID: map[string]providers.Metadata{
			"2001.00001": {ArxivID: "2001.00001", Title: "Root Paper", Authors: "A. Author"},
			"2002.00002": {ArxivID: "2002.00002", Title: "Cited Work", Authors: "B. Author"},
		},
		pdfs: map[string]string{"2002.00002": "%PDF cited"},
		sources: map[string]map[string]string{
			"2001.00001": {"main.tex": `\begin{document}\end{document}`, "refs.bib": bib},
			"2002.00002": {"main.tex": `\begin{document}\end{document}`, "refs.bib": `@misc{back, title={Root}, note={arXiv:2001.00001}}`},
		},
	}
	store, objects := newMemPaperStore(), &memObjects{}
	svc := newTestIngest(t, store, objects, archive, 1)

	path := writePDF(t, t.TempDir(), "2001.00001v2.pdf", "%PDF root")
	root, err := svc.Ingest(context.Background(), IngestRequest{FilePath: path})
	require.NoError(t, err)

	assert.Equal(t, "Root Paper", root.Title)
	require.NotNil(t, root.ArxivID)
	assert.Equal(t, "2001.00001", *root.ArxivID)
	require.NotNil(t, root.Content)
	assert.Equal(t, "# Converted", *root.Content)
	require.Len(t, store.papers, 2)

	refs := store.references[root.ID]
	require.Len(t, refs, 2)
	cited := store.papers[1]
	assert.Equal(t, "Cited Work", cited.Title)
	require.NotNil(t, refs[0].ResolvedPaperID)
	assert.Equal(t, cited.ID, *refs[0].ResolvedPaperID)
	assert.Nil(t, refs[1].ResolvedPaperID)

	// Der zitierte Paper-Import auf Tiefe 1 verlinkt zurück, ohne weiter abzusteigen.
	back := store.references[cited.ID]
	require.Len(t, back, 1)
	require.NotNil(t, back[0].ResolvedPaperID)
	assert.Equal(t, root.ID, *back[0].ResolvedPaperID)

	for _, call := range archive.Calls() {
		assert.False(t, strings.HasPrefix(call, "pdf:2001.00001"), call)
	}
}

func TestIngestArxivSourceMissingStillStores(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{byID: map[string]providers.Metadata{
		"2001.00001": {ArxivID: "2001.00001", Title: "No Source"},
	}}
	store := newMemPaperStore()
	svc := newTestIngest(t, store, &memObjects{}, archive, 1)

	paper, err := svc.Ingest(context.Background(),
		IngestRequest{FilePath: writePDF(t, t.TempDir(), "2001.00001.pdf", "%PDF")})
	require.NoError(t, err)
	assert.Nil(t, paper.Content)
	assert.Empty(t, store.references[paper.ID])
}

func TestIngestLeavesNoWorkDirs(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{
		byID:    map[string]providers.Metadata{"2001.00001": {ArxivID: "2001.00001", Title: "Root"}},
		sources: map[string]map[string]string{"2001.00001": {"refs.bib": `@misc{x, eprint={2002.00002}}`}},
	}
	store := newMemPaperStore()
	svc := newTestIngest(t, store, &memObjects{}, archive, 1)

	_, err := svc.Ingest(context.Background(),
		IngestRequest{FilePath: writePDF(t, t.TempDir(), "2001.00001.pdf", "%PDF")})
	require.NoError(t, err)

	left, err := os.ReadDir(svc.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Contains(t, archive.Calls(), "pdf:2002.00002")
}

func TestIngestInsertConflictWhenPrecheckMisses(t *testing.T) {
	t.Parallel()

	store, objects := newMemPaperStore(), &memObjects{}
	svc := newTestIngest(t, store, objects, &fakeArchive{}, 1)
	dir := t.TempDir()

	first, err := svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, dir, "a.pdf", "same bytes"), Title: "First"})
	require.NoError(t, err)

	store.hideHashes = true
	_, err = svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, dir, "b.pdf", "same bytes"), Title: "Second"})

	require.ErrorIs(t, err, apperr.ErrConflict)
	existing, ok := apperr.ExistingOf(err)
	require.True(t, ok)
	assert.Equal(t, first.ID.String(), existing.ID)
	assert.Len(t, store.papers, 1)
	require.Len(t, objects.deleted, 1)
	assert.Len(t, objects.objects, 1)
	assert.True(t, objects.objects[first.FileURL])
}

func TestIngestRecursiveInsertConflictLinksExistingPaper(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{
		byID: map[string]providers.Metadata{
			"2001.00001": {ArxivID: "2001.00001", Title: "Root Paper"},
			"2002.00002": {ArxivID: "2002.00002", Title: "Cited Work"},
		},
		pdfs: map[string]string{"2002.00002": "%PDF cited"},
		sources: map[string]map[string]string{
			"2001.00001": {"refs.bib": `@article{cited, eprint={2002.00002}}`},
		},
	}
	store, objects := newMemPaperStore(), &memObjects{}
	svc := newTestIngest(t, store, objects, archive, 1)
	dir := t.TempDir()

	// dieselben Bytes wurden schon ohne Archiv-ID hochgeladen
	local, err := svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, dir, "local copy.pdf", "%PDF cited")})
	require.NoError(t, err)
	require.Nil(t, local.ArxivID)

	store.hideHashes = true
	root, err := svc.Ingest(context.Background(), IngestRequest{FilePath: writePDF(t, dir, "2001.00001.pdf", "%PDF root")})
	require.NoError(t, err)

	refs := store.references[root.ID]
	require.Len(t, refs, 1)
	require.NotNil(t, refs[0].ResolvedPaperID)
	assert.Equal(t, local.ID, *refs[0].ResolvedPaperID)
	assert.Len(t, store.papers, 2)
	assert.Len(t, objects.deleted, 1)
}

func TestIngestStoreFailureAfterCancelStillRemovesUpload(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, objects := newMemPaperStore(), &memObjects{}
	store.beforeCreate = cancel
	store.createErr = apperr.Internal(context.Canceled, "store paper")
	svc := newTestIngest(t, store, objects, &fakeArchive{}, 1)

	_, err := svc.Ingest(ctx, IngestRequest{FilePath: writePDF(t, t.TempDir(), "x.pdf", "x")})
	require.Error(t, err)
	assert.Len(t, objects.deleted, 1)
	assert.Empty(t, objects.objects)
}
