package pdftext

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	hyphenRE     = regexp.MustCompile(`([\p{L}\p{N}])-\n([\p{Ll}])`)
	spaceRE      = regexp.MustCompile("[\t\f\v \u00A0]+")
	pageNumberRE = regexp.MustCompile(`^(?:[Pp]age\s*)?\d+(?:\s*(?:/|of)\s*\d+)?$`)

	ligatures = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬆ", "st",
	)
)

// headerFooterThreshold ist der Anteil der Seiten, auf denen eine Randzeile wiederkehren muss.
const headerFooterThreshold = 0.6

// normalizeUnicode ersetzt Ligaturen und normalisiert nach NFC.
func normalizeUnicode(s string) string {
	s = ligatures.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

// fixHyphenation verbindet am Zeilenende getrennte Wörter ("ab-\nweichung" -> "abweichung").
func fixHyphenation(s string) string {
	return hyphenRE.ReplaceAllString(s, "$1$2")
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

func isLikelyPageNumber(s string) bool {
	trimmed := strings.TrimSpace(s)
	return trimmed != "" && pageNumberRE.MatchString(trimmed)
}

// dropRunningLines entfernt Seitenzahlen sowie Kopf- und Fußzeilen, die
// auf den meisten Seiten in den ersten bzw. letzten zwei Zeilen wiederkehren.
func dropRunningLines(pages [][]line) [][]line {
	counts := map[string]int{}
	for _, p := range pages {
		seen := map[string]bool{}
		for _, l := range edgeLines(p, 2) {
			key := strings.TrimSpace(l.text)
			if key != "" && !seen[key] {
				counts[key]++
				seen[key] = true
			}
		}
	}
	threshold := int(math.Ceil(headerFooterThreshold * float64(len(pages))))
	if threshold < 3 {
		threshold = 3
	}

	out := make([][]line, len(pages))
	for i, p := range pages {
		edges := map[int]bool{}
		for j := range p {
			if j < 2 || j >= len(p)-2 {
				edges[j] = true
			}
		}
		kept := make([]line, 0, len(p))
		for j, l := range p {
			key := strings.TrimSpace(l.text)
			if key == "" {
				continue
			}
			if edges[j] && (isLikelyPageNumber(key) || counts[key] >= threshold) {
				continue
			}
			kept = append(kept, l)
		}
		out[i] = kept
	}
	return out
}

func edgeLines(p []line, n int) []line {
	if len(p) <= 2*n {
		return p
	}
	edges := make([]line, 0, 2*n)
	edges = append(edges, p[:n]...)
	return append(edges, p[len(p)-n:]...)
}
