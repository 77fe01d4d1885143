package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCleanValue(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`Title with \textbackslash{}`:      `Title with \`,
		`Author with \"{a}`:                "Author with ä",
		`Title with {braces}`:              "Title with braces",
		"Title   with   spaces":            "Title with spaces",
		`Math $\alpha + \beta$`:            "Math alpha + beta",
		`M{\"u}ller and Schr\"oder`:        "Müller and Schröder",
		`Stra\ss{}e`:                       "Straße",
		`Fish \& Chips, 50\% off`:          "Fish & Chips, 50% off",
		`\textit{Deep} \emph{Learning}`:    "Deep Learning",
		`{\em Proceedings} of~NeurIPS`:     "Proceedings of NeurIPS",
		`Costs \$5`:                        "Costs $5",
		`Erd\H{o}s and \v{C}ech`:           "Erdős and Čech",
		`Fran\c{c}ois`:                     "François",
		`\url{https://arxiv.org/abs/1706}`: "https://arxiv.org/abs/1706",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanValue(in), in)
	}
}

func TestParseBibTeX(t *testing.T) {
	t.Parallel()

	src := `
@comment{ignore me @article{fake, title={Nope}} }
@string{ nips = "Advances in Neural " }
@preamble{"\newcommand{\noop}[1]{}"}

@article{vaswani2017,
  title     = {Attention Is {All} You Need},
  author    = "Vaswani, Ashish and Shazeer, Noam",
  journal   = nips # "Information Processing Systems",
  year      = 2017,
  month     = jun,
  eprint    = {1706.03762},
}

@Misc(devlin2018,
  title = {{BERT}: Pre-training of Deep Bidirectional Transformers},
  note  = {arXiv:1810.04805}
)
`
	entries := ParseBibTeX(src)
	require.Len(t, entries, 2)

	a := entries[0]
	assert.Equal(t, "vaswani2017", a.ID)
	assert.Equal(t, "article", a.Type)
	assert.Equal(t, "Attention Is All You Need", a.Fields["title"])
	assert.Equal(t, "Vaswani, Ashish and Shazeer, Noam", a.Fields["author"])
	assert.Equal(t, "Advances in Neural Information Processing Systems", a.Fields["journal"])
	assert.Equal(t, "2017", a.Fields["year"])
	assert.Equal(t, "June", a.Fields["month"])
	assert.Contains(t, a.Fields[FieldRawSource], `title     = {Attention Is {All} You Need}`)
	assert.Equal(t, "1706.03762", a.ArxivID())

	b := entries[1]
	assert.Equal(t, "devlin2018", b.ID)
	assert.Equal(t, "misc", b.Type)
	assert.Equal(t, "BERT: Pre-training of Deep Bidirectional Transformers", b.Fields["title"])
	assert.Equal(t, "1810.04805", b.ArxivID())
}

func TestParseBibTeXMalformedEntryDoesNotPanic(t *testing.T) {
	t.Parallel()

	entries := ParseBibTeX(`@article{broken, title = {never closed`)
	require.Len(t, entries, 1)
	assert.Equal(t, "broken", entries[0].ID)
	assert.Equal(t, "never closed", entries[0].Fields["title"])
}

func TestParseBibitems(t *testing.T) {
	t.Parallel()

	src := `\section{Conclusion}
We cite \cite{vaswani}.
\begin{thebibliography}{9}
% a comment with \bibitem{fake}
\bibitem[Vaswani et~al.(2017)]{vaswani}
Ashish Vaswani, Noam Shazeer.
\newblock Attention is all you need.
\newblock In {\em NIPS}, 2017. arXiv:1706.03762.

\bibitem{he}
K. He and J. Sun
Deep residual learning
CVPR 2016

\bibitem{}
Single line reference without blocks
\end{thebibliography}
\bibitem{after} Not in the bibliography.
`
	entries := ParseBibitems(src)
	require.Len(t, entries, 3)

	v := entries[0]
	assert.Equal(t, "vaswani", v.ID)
	assert.Equal(t, "bibitem", v.Type)
	assert.Equal(t, "Ashish Vaswani, Noam Shazeer", v.Fields["author"])
	assert.Equal(t, "Attention is all you need", v.Fields["title"])
	assert.Equal(t, "In NIPS, 2017. arXiv:1706.03762", v.Fields["note"])
	assert.Equal(t, "2017", v.Fields["year"])
	assert.Contains(t, v.Fields[FieldRawText], `\newblock Attention is all you need.`)
	assert.Equal(t, "1706.03762", v.ArxivID())

	h := entries[1]
	assert.Equal(t, "he", h.ID)
	assert.Equal(t, "K. He and J. Sun", h.Fields["author"])
	assert.Equal(t, "Deep residual learning", h.Fields["title"])
	assert.Equal(t, "2016", h.Fields["year"])

	assert.Equal(t, "bibitem-3", entries[2].ID)
	assert.Equal(t, "Single line reference without blocks", entries[2].Fields["author"])
}

func TestExtractReferencesPrefersBib(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("main.tex", `\begin{thebibliography}{1}\bibitem{x} X. \newblock Y.\end{thebibliography}`)
	write("refs/b.bib", `@article{shared, title={From B}} @article{onlyb, title={Only B}}`)
	write("refs/a.bib", `@article{shared, title={From A}}`)

	entries := NewBibliographyParser(zap.NewNop()).ExtractReferences(dir)
	require.Len(t, entries, 2)
	assert.Equal(t, "shared", entries[0].ID)
	assert.Equal(t, "From A", entries[0].Fields["title"])
	assert.Equal(t, "onlyb", entries[1].ID)
}

func TestExtractReferencesFallsBackToBibitems(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.bib"), []byte("% nothing"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ms.bbl"),
		[]byte("\\begin{thebibliography}{1}\n\\bibitem{k}\nA. Author\n\\newblock A Title.\n\\end{thebibliography}\n"), 0o644))

	entries := NewBibliographyParser(zap.NewNop()).ExtractReferences(dir)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].ID)
	assert.Equal(t, "A Title", entries[0].Fields["title"])
}

func TestExtractReferencesEmptyTree(t *testing.T) {
	t.Parallel()

	assert.Empty(t, NewBibliographyParser(zap.NewNop()).ExtractReferences(t.TempDir()))
}
