package services

import (
	"context"
	"testing"

	"paper-graph/providers"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestResolveUsesIDFromPath(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{byID: map[string]providers.Metadata{
		"1706.03762": {ArxivID: "1706.03762", Title: "Attention Is All You Need", Authors: "Ashish Vaswani"},
	}}
	page := &fakeFirstPage{text: "arXiv:2001.00001"}
	r := &MetadataResolver{Archive: archive, PDF: page, Logger: zap.NewNop()}

	md := r.Resolve(context.Background(), "/uploads/1706.03762v5.pdf", "fallback", "nobody")

	assert.Equal(t, "1706.03762", md.ArxivID)
	assert.Equal(t, "Attention Is All You Need", md.Title)
	assert.Equal(t, []string{"lookup:1706.03762"}, archive.Calls())
	assert.Zero(t, page.calls)
}

func TestResolveIDInPathButUnknownFallsThrough(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{
		search: []providers.Metadata{{ArxivID: "1111.11111", Title: "Unrelated"}},
		byID:   map[string]providers.Metadata{"2403.01234": {ArxivID: "2403.01234", Title: "Found On Page"}},
	}
	page := &fakeFirstPage{text: "Found On Page\narXiv:2403.01234v2 [cs.LG] 2 Mar 2024"}
	r := &MetadataResolver{Archive: archive, PDF: page, Logger: zap.NewNop()}

	md := r.Resolve(context.Background(), "/uploads/report_2023.12345.pdf", "My Title", "Me")

	assert.Equal(t, "2403.01234", md.ArxivID)
	assert.Equal(t, "Found On Page", md.Title)
	assert.Equal(t, "Me", md.Authors)
	assert.Equal(t, []string{"lookup:2023.12345", "search:report_2023.12345", "lookup:2403.01234"}, archive.Calls())
	assert.Equal(t, 1, page.calls)
}

func TestResolveAllStrategiesMissKeepsFallbacks(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{}
	page := &fakeFirstPage{text: "no identifier here"}
	r := &MetadataResolver{Archive: archive, PDF: page, Logger: zap.NewNop()}

	md := r.Resolve(context.Background(), "/uploads/9999.99999.pdf", "My Title", "Me")

	assert.Empty(t, md.ArxivID)
	assert.Equal(t, "My Title", md.Title)
	assert.Equal(t, "Me", md.Authors)
	assert.Equal(t, []string{"lookup:9999.99999", "search:9999.99999"}, archive.Calls())
	assert.Equal(t, 1, page.calls)
}

func TestResolveFilenameSearch(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{search: []providers.Metadata{
		{ArxivID: "1512.03385", Title: "Something Else"},
		{ArxivID: "1810.04805", Title: "BERT: Pre-training of Deep Bidirectional Transformers"},
	}}
	page := &fakeFirstPage{}
	r := &MetadataResolver{Archive: archive, PDF: page, Logger: zap.NewNop()}

	md := r.Resolve(context.Background(), "/uploads/BERT_Pre-training_of_Deep_Bidirectional_Transformers.pdf", "", "")

	assert.Equal(t, "1810.04805", md.ArxivID)
	assert.Equal(t, []string{"search:BERT_Pre-training_of_Deep_Bidirectional_Transformers"}, archive.Calls())
	assert.Zero(t, page.calls)
}

func TestResolveFallsThroughToFirstPage(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{
		search: []providers.Metadata{{ArxivID: "1111.11111", Title: "Unrelated"}},
		byID:   map[string]providers.Metadata{"2403.01234": {ArxivID: "2403.01234", Title: "Found On Page"}},
	}
	page := &fakeFirstPage{text: "Found On Page\narXiv:2403.01234v2 [cs.LG] 2 Mar 2024"}
	r := &MetadataResolver{Archive: archive, PDF: page, Logger: zap.NewNop()}

	md := r.Resolve(context.Background(), "/uploads/scan.pdf", "fallback", "")

	assert.Equal(t, "2403.01234", md.ArxivID)
	assert.Equal(t, "Found On Page", md.Title)
	assert.Equal(t, []string{"search:scan", "lookup:2403.01234"}, archive.Calls())
	assert.Equal(t, 1, page.calls)
}

func TestResolveNothingFound(t *testing.T) {
	t.Parallel()

	archive := &fakeArchive{}
	r := &MetadataResolver{Archive: archive, PDF: &fakeFirstPage{text: "no identifiers here"}, Logger: zap.NewNop()}

	md := r.Resolve(context.Background(), "/uploads/notes.pdf", "Notes", "Me")

	assert.Equal(t, providers.Metadata{Title: "Notes", Authors: "Me"}, md)
}

func TestFindArxivID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1706.03762", FindArxivID("https://arxiv.org/pdf/1706.03762v5"))
	assert.Empty(t, FindArxivID("hep-th/9901001"))
	assert.Empty(t, FindArxivID("1706.0376"))
}
