// Package pdftext extracts ordered, section-aware text elements from PDF files.
package pdftext

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// ElementKind unterscheidet Überschriften von Fließtext.
type ElementKind string

const (
	KindHeading ElementKind = "heading"
	KindBody    ElementKind = "body"
)

// Element ist ein textueller Block in Lesereihenfolge.
type Element struct {
	Page     int         `json:"page"`
	Kind     ElementKind `json:"kind"`
	Text     string      `json:"text"`
	Position int         `json:"position"`

	// Section ist die zuletzt gesehene Überschrift vor diesem Element.
	Section string `json:"section,omitempty"`

	// Nur für Überschriften gesetzt.
	PrevHeading string `json:"prev_heading,omitempty"`
	NextHeading string `json:"next_heading,omitempty"`
}

// line ist eine Textzeile mit mittlerer Schriftgröße und vertikaler Position.
type line struct {
	text     string
	fontSize float64
	y        float64
}

var (
	numberedHeadingRE = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[IVX]+\.|[A-Z]\.)\s+\p{Lu}`)
	namedHeadingRE    = regexp.MustCompile(`(?i)^(abstract|introduction|related work|background|conclusions?|discussion|acknowledg(e)?ments?|references|bibliography|appendix)$`)
)

// Extractor liest PDFs mit ledongthuc/pdf.
type Extractor struct {
	Logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{Logger: logger}
}

// FirstPageText gibt den Klartext der ersten Seite zurück.
func (e *Extractor) FirstPageText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	if r.NumPage() < 1 {
		return "", fmt.Errorf("pdf %s has no pages", path)
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return "", fmt.Errorf("pdf %s: first page is empty", path)
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("read first page of %s: %w", path, err)
	}
	return normalizeUnicode(text), nil
}

// ExtractElements liefert alle Textblöcke des Dokuments in Lesereihenfolge.
func (e *Extractor) ExtractElements(path string) ([]Element, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	pages := make([][]line, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, nil)
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			e.Logger.Warn("Skipping unreadable page", zap.String("path", path), zap.Int("page", i), zap.Error(err))
			pages = append(pages, nil)
			continue
		}
		pages = append(pages, rowsToLines(rows))
	}

	elements := buildElements(pages)
	if len(elements) == 0 {
		return nil, fmt.Errorf("no text extracted from %s", path)
	}
	return elements, nil
}

func rowsToLines(rows pdf.Rows) []line {
	lines := make([]line, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		var sizeSum float64
		var chars int
		prevEnd := math.NaN()
		for _, t := range row.Content {
			// Lücken zwischen Fragmenten werden zu Leerzeichen
			if !math.IsNaN(prevEnd) && t.X-prevEnd > t.FontSize*0.15 && !strings.HasPrefix(t.S, " ") {
				b.WriteByte(' ')
			}
			b.WriteString(t.S)
			n := len([]rune(t.S))
			sizeSum += t.FontSize * float64(n)
			chars += n
			prevEnd = t.X + t.W
		}
		text := collapseWhitespace(normalizeUnicode(b.String()))
		if text == "" || chars == 0 {
			continue
		}
		lines = append(lines, line{text: text, fontSize: sizeSum / float64(chars), y: float64(row.Position)})
	}
	return lines
}

// buildElements gruppiert Zeilen zu Absätzen und Überschriften und verknüpft die Überschriften.
func buildElements(pages [][]line) []Element {
	pages = dropRunningLines(pages)
	body := bodyFontSize(pages)

	var elements []Element
	section := ""
	flush := func(page int, buf []string) {
		if len(buf) == 0 {
			return
		}
		text := collapseWhitespace(strings.ReplaceAll(fixHyphenation(strings.Join(buf, "\n")), "\n", " "))
		if text == "" {
			return
		}
		elements = append(elements, Element{Page: page, Kind: KindBody, Text: text, Section: section})
	}

	for i, p := range pages {
		pageNo := i + 1
		gap := typicalGap(p)
		var buf []string
		for j, l := range p {
			if isHeading(l, body) {
				flush(pageNo, buf)
				buf = nil
				elements = append(elements, Element{Page: pageNo, Kind: KindHeading, Text: l.text, Section: section})
				section = l.text
				continue
			}
			if j > 0 && gap > 0 && math.Abs(p[j-1].y-l.y) > gap*1.6 {
				flush(pageNo, buf)
				buf = nil
			}
			buf = append(buf, l.text)
		}
		flush(pageNo, buf)
	}

	prev := ""
	lastHeading := -1
	for i := range elements {
		elements[i].Position = i
		if elements[i].Kind != KindHeading {
			continue
		}
		elements[i].PrevHeading = prev
		if lastHeading >= 0 {
			elements[lastHeading].NextHeading = elements[i].Text
		}
		prev = elements[i].Text
		lastHeading = i
	}
	return elements
}

func isHeading(l line, body float64) bool {
	words := len(strings.Fields(l.text))
	if words == 0 || words > 15 || len(l.text) > 120 {
		return false
	}
	if strings.HasSuffix(l.text, ".") || strings.HasSuffix(l.text, ",") {
		return false
	}
	if namedHeadingRE.MatchString(l.text) {
		return true
	}
	larger := body > 0 && l.fontSize >= body*1.15
	return larger || (numberedHeadingRE.MatchString(l.text) && words <= 10 && body > 0 && l.fontSize >= body*0.99)
}

// bodyFontSize ist der Median der Schriftgrößen aller Zeilen, gewichtet nach Länge.
func bodyFontSize(pages [][]line) float64 {
	var sizes []float64
	for _, p := range pages {
		for _, l := range p {
			for range strings.Fields(l.text) {
				sizes = append(sizes, l.fontSize)
			}
		}
	}
	return median(sizes)
}

func typicalGap(p []line) float64 {
	var gaps []float64
	for j := 1; j < len(p); j++ {
		if d := math.Abs(p[j-1].y - p[j].y); d > 0 {
			gaps = append(gaps, d)
		}
	}
	return median(gaps)
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
