package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"paper-graph/apperr"
	"paper-graph/providers"
)

// fakeArchive protokolliert alle Aufrufe und bedient sie aus Maps.
type fakeArchive struct {
	mu       sync.Mutex
	calls    []string
	byID     map[string]providers.Metadata
	search   []providers.Metadata
	pdfs     map[string]string
	sources  map[string]map[string]string
	failPDFs bool
}

func (f *fakeArchive) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeArchive) Name() string { return "fake" }

func (f *fakeArchive) LookupByID(_ context.Context, id string) (*providers.Metadata, error) {
	f.record("lookup:" + id)
	md, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("arxiv id %s", id)
	}
	return &md, nil
}

func (f *fakeArchive) SearchByText(_ context.Context, query string, _ int) ([]providers.Metadata, error) {
	f.record("search:" + query)
	return f.search, nil
}

func (f *fakeArchive) DownloadPDF(_ context.Context, id, dir string) (string, error) {
	f.record("pdf:" + id)
	content, ok := f.pdfs[id]
	if !ok || f.failPDFs {
		return "", apperr.NotFound("pdf %s", id)
	}
	path := filepath.Join(dir, id+".pdf")
	return path, os.WriteFile(path, []byte(content), 0o644)
}

func (f *fakeArchive) DownloadSource(_ context.Context, id, dir string) (string, error) {
	f.record("source:" + id)
	files, ok := f.sources[id]
	if !ok {
		return "", apperr.NotFound("no source for %s", id)
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (f *fakeArchive) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeFirstPage struct {
	text  string
	calls int
}

func (f *fakeFirstPage) FirstPageText(string) (string, error) {
	f.calls++
	return f.text, nil
}
