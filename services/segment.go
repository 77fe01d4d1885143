package services

import (
	"regexp"
	"strings"

	"paper-graph/pdftext"
)

// Chunk ist ein Textsegment innerhalb des Token-Budgets.
type Chunk struct {
	Index   int
	Text    string
	Page    int
	Section string
}

// referencesHeading beendet den Fließtext; Literaturverzeichnis und Anhänge danach werden nicht eingebettet.
var referencesHeading = regexp.MustCompile(`(?i)^\s*(?:\d+\.?\s*)?(references|bibliography|literature cited|works cited)\s*$`)

// Segmenter packt Absätze in Chunks von höchstens MaxTokens Tokens.
type Segmenter struct {
	Tokenizer Tokenizer
	MaxTokens int
}

const paragraphSep = "\n\n"

type paragraph struct {
	text    string
	page    int
	section string
}

// Segment verwendet Body-Elemente bis zur Literaturverzeichnis-Überschrift.
func (s *Segmenter) Segment(elements []pdftext.Element) []Chunk {
	paras := make([]paragraph, 0, len(elements))
	for _, el := range elements {
		if el.Kind == pdftext.KindHeading {
			if referencesHeading.MatchString(el.Text) {
				break
			}
			continue
		}
		if strings.TrimSpace(el.Text) == "" {
			continue
		}
		paras = append(paras, paragraph{text: el.Text, page: el.Page, section: el.Section})
	}
	return s.pack(paras)
}

// pack fügt Absätze mit Leerzeilen zusammen, solange das Budget reicht.
// Zu lange Absätze werden an Wortgrenzen, zu lange Wörter an Zeichengrenzen geteilt.
func (s *Segmenter) pack(paras []paragraph) []Chunk {
	var (
		chunks []Chunk
		run    []paragraph
		texts  []string
		counts []int
	)
	flush := func() {
		for _, sp := range s.group(texts, counts, paragraphSep) {
			p := run[sp[0]]
			chunks = append(chunks, Chunk{Index: len(chunks), Text: strings.Join(texts[sp[0]:sp[1]], paragraphSep), Page: p.page, Section: p.section})
		}
		run, texts, counts = nil, nil, nil
	}

	for _, p := range paras {
		n := s.count(p.text)
		if n > s.maxTokens() {
			flush()
			for _, piece := range s.splitWords(p.text) {
				chunks = append(chunks, Chunk{Index: len(chunks), Text: piece, Page: p.page, Section: p.section})
			}
			continue
		}
		run, texts, counts = append(run, p), append(texts, p.text), append(counts, n)
	}
	flush()
	return chunks
}

func (s *Segmenter) splitWords(text string) []string {
	var (
		pieces []string
		words  []string
		counts []int
	)
	flush := func() {
		for _, sp := range s.group(words, counts, " ") {
			pieces = append(pieces, strings.Join(words[sp[0]:sp[1]], " "))
		}
		words, counts = nil, nil
	}
	for _, w := range strings.Fields(text) {
		n := s.count(w)
		if n > s.maxTokens() {
			flush()
			pieces = append(pieces, s.splitRunes(w)...)
			continue
		}
		words, counts = append(words, w), append(counts, n)
	}
	flush()
	return pieces
}

// group teilt items in zusammenhängende Spannen [start, end), deren Verkettung mit sep
// ins Budget passt; counts sind die Einzelzählungen. Gezählt wird mit einer laufenden
// Summe, exakt nachgezählt nur, wenn die Summe das Budget überschreitet, und einmal
// pro fertiger Spanne.
func (s *Segmenter) group(items []string, counts []int, sep string) [][2]int {
	if len(items) == 0 {
		return nil
	}
	budget := s.maxTokens()
	sepCost := s.count(sep)

	var spans [][2]int
	start, running := 0, counts[0]
	closeSpan := func(end int) {
		if end-start > 1 && s.count(strings.Join(items[start:end], sep)) > budget {
			// die Summe hat unterschätzt; nur diese Spanne exakt packen
			spans = append(spans, s.groupExact(items[start:end], sep, start)...)
		} else {
			spans = append(spans, [2]int{start, end})
		}
		start = end
	}

	for i := 1; i < len(items); i++ {
		next := running + sepCost + counts[i]
		if next > budget {
			exact := s.count(strings.Join(items[start:i+1], sep))
			if exact > budget {
				closeSpan(i)
				running = counts[i]
				continue
			}
			next = exact
		}
		running = next
	}
	closeSpan(len(items))
	return spans
}

func (s *Segmenter) groupExact(items []string, sep string, offset int) [][2]int {
	var spans [][2]int
	start := 0
	for i := 1; i < len(items); i++ {
		if s.count(strings.Join(items[start:i+1], sep)) > s.maxTokens() {
			spans = append(spans, [2]int{offset + start, offset + i})
			start = i
		}
	}
	return append(spans, [2]int{offset + start, offset + len(items)})
}

// splitRunes nimmt jeweils das längste Präfix, das ins Budget passt, mindestens aber ein Zeichen.
func (s *Segmenter) splitRunes(word string) []string {
	var pieces []string
	rest := []rune(word)
	for len(rest) > 0 {
		lo, hi := 1, len(rest)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if s.count(string(rest[:mid])) <= s.maxTokens() {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		pieces = append(pieces, string(rest[:lo]))
		rest = rest[lo:]
	}
	return pieces
}

func (s *Segmenter) count(text string) int {
	return s.Tokenizer.Count(text)
}

func (s *Segmenter) maxTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return 512
}
