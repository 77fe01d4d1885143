package services

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ReferenceEntry ist ein Eintrag aus einer Bibliographie, Feldwerte bereits bereinigt.
type ReferenceEntry struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Fields map[string]string `json:"fields"`
}

// ArxivID durchsucht Feldnamen und -werte in sortierter Reihenfolge nach der ersten Archiv-ID.
func (e ReferenceEntry) ArxivID() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if id := FindArxivID(k); id != "" {
			return id
		}
		if id := FindArxivID(e.Fields[k]); id != "" {
			return id
		}
	}
	return ""
}

// Felder, die unbereinigt den Originaleintrag tragen.
const (
	FieldRawSource = "raw_source"
	FieldRawText   = "raw_text"
)

// BibliographyParser liest Literaturangaben aus einem entpackten LaTeX-Quellbaum.
type BibliographyParser struct {
	Logger *zap.Logger
}

func NewBibliographyParser(logger *zap.Logger) *BibliographyParser {
	return &BibliographyParser{Logger: logger}
}

// ExtractReferences bevorzugt .bib-Dateien (alle, lexikalisch sortiert, erste ID gewinnt).
// Ohne BibTeX-Einträge wird die erste .bbl- bzw. .tex-Datei mit \bibitem-Einträgen genommen.
// Unlesbare Dateien werden übersprungen; ein leerer Baum ergibt nil.
func (p *BibliographyParser) ExtractReferences(dir string) []ReferenceEntry {
	var bibs, bbls, texs []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".bib":
			bibs = append(bibs, path)
		case ".bbl":
			bbls = append(bbls, path)
		case ".tex":
			texs = append(texs, path)
		}
		return nil
	})

	var entries []ReferenceEntry
	seen := map[string]bool{}
	for _, path := range bibs {
		data, err := os.ReadFile(path)
		if err != nil {
			p.Logger.Warn("Skipping unreadable bib file", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, e := range ParseBibTeX(string(data)) {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			entries = append(entries, e)
		}
	}
	if len(entries) > 0 {
		p.Logger.Debug("BibTeX parsed", zap.Int("files", len(bibs)), zap.Int("entries", len(entries)))
		return entries
	}

	for _, path := range append(bbls, texs...) {
		data, err := os.ReadFile(path)
		if err != nil {
			p.Logger.Warn("Skipping unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}
		if !strings.Contains(string(data), `\bibitem`) {
			continue
		}
		if items := ParseBibitems(string(data)); len(items) > 0 {
			p.Logger.Debug("bibitems parsed", zap.String("path", path), zap.Int("entries", len(items)))
			return items
		}
	}
	return nil
}

// ---------- BibTeX ----------

var monthMacros = map[string]string{
	"jan": "January", "feb": "February", "mar": "March", "apr": "April",
	"may": "May", "jun": "June", "jul": "July", "aug": "August",
	"sep": "September", "oct": "October", "nov": "November", "dec": "December",
}

// ParseBibTeX zerlegt BibTeX-Quelltext. @string-Makros und #-Verkettung werden aufgelöst,
// @comment und @preamble übersprungen. Jeder Eintrag behält seinen Quelltext unter raw_source.
func ParseBibTeX(src string) []ReferenceEntry {
	macros := make(map[string]string, len(monthMacros))
	for k, v := range monthMacros {
		macros[k] = v
	}

	var entries []ReferenceEntry
	i := 0
	for i < len(src) {
		at := strings.IndexByte(src[i:], '@')
		if at < 0 {
			break
		}
		start := i + at
		j := start + 1
		for j < len(src) && isIdentByte(src[j]) {
			j++
		}
		typ := strings.ToLower(src[start+1 : j])
		k := skipSpace(src, j)
		if typ == "" || k >= len(src) || (src[k] != '{' && src[k] != '(') {
			i = j
			continue
		}

		end := matchDelimiter(src, k)
		if end < 0 {
			end = len(src)
		}
		body := src[k+1 : end]
		raw := src[start:min(end+1, len(src))]
		i = end + 1

		switch typ {
		case "comment", "preamble":
			continue
		case "string":
			for name, val := range parseBibFields(body, macros) {
				macros[name] = val
			}
			continue
		}

		key, rest := body, ""
		if comma := strings.IndexByte(body, ','); comma >= 0 {
			key, rest = body[:comma], body[comma+1:]
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		fields := map[string]string{}
		for name, val := range parseBibFields(rest, macros) {
			fields[name] = CleanValue(val)
		}
		fields[FieldRawSource] = raw
		entries = append(entries, ReferenceEntry{ID: key, Type: typ, Fields: fields})
	}
	return entries
}

// matchDelimiter liefert den Index der schließenden Klammer zum Eintrag bei open oder -1.
func matchDelimiter(src string, open int) int {
	braces := 0
	parens := 0
	for i := open; i < len(src); i++ {
		switch src[i] {
		case '{':
			braces++
		case '}':
			braces--
			if src[open] == '{' && braces == 0 {
				return i
			}
		case '(':
			if src[open] == '(' && braces == 0 {
				parens++
			}
		case ')':
			if src[open] == '(' && braces == 0 {
				parens--
				if parens == 0 {
					return i
				}
			}
		}
	}
	return -1
}

// parseBibFields liest name = wert Paare; Namen werden kleingeschrieben.
func parseBibFields(s string, macros map[string]string) map[string]string {
	fields := map[string]string{}
	pos := 0
	for pos < len(s) {
		pos = skipSpace(s, pos)
		for pos < len(s) && s[pos] == ',' {
			pos = skipSpace(s, pos+1)
		}
		start := pos
		for pos < len(s) && isIdentByte(s[pos]) {
			pos++
		}
		name := strings.ToLower(s[start:pos])
		if name == "" {
			pos++
			continue
		}
		pos = skipSpace(s, pos)
		if pos >= len(s) || s[pos] != '=' {
			if comma := strings.IndexByte(s[pos:], ','); comma >= 0 {
				pos += comma + 1
				continue
			}
			break
		}
		var value string
		value, pos = parseBibValue(s, skipSpace(s, pos+1), macros)
		fields[name] = value
	}
	return fields
}

func parseBibValue(s string, pos int, macros map[string]string) (string, int) {
	var parts []string
	for pos < len(s) {
		pos = skipSpace(s, pos)
		if pos >= len(s) {
			break
		}
		switch s[pos] {
		case '{':
			end := matchDelimiter(s, pos)
			if end < 0 {
				end = len(s)
			}
			parts = append(parts, s[pos+1:end])
			pos = end + 1
		case '"':
			end := closingQuote(s, pos+1)
			parts = append(parts, s[pos+1:end])
			pos = end + 1
		default:
			start := pos
			for pos < len(s) && !strings.ContainsRune(",#}) \t\r\n", rune(s[pos])) {
				pos++
			}
			token := s[start:pos]
			if _, err := strconv.Atoi(token); err == nil {
				parts = append(parts, token)
			} else if v, ok := macros[strings.ToLower(token)]; ok {
				parts = append(parts, v)
			} else {
				parts = append(parts, token)
			}
		}
		pos = skipSpace(s, pos)
		if pos < len(s) && s[pos] == '#' {
			pos++
			continue
		}
		break
	}
	return strings.Join(parts, ""), pos
}

// closingQuote findet das schließende " außerhalb geschweifter Klammern.
func closingQuote(s string, pos int) int {
	depth := 0
	for i := pos; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case '"':
			if depth <= 0 && s[i-1] != '\\' {
				return i
			}
		}
	}
	return len(s)
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		strings.IndexByte("_-:.+/'", c) >= 0
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\n' || s[pos] == '\r') {
		pos++
	}
	return pos
}

// ---------- \bibitem ----------

var (
	bibitemRE  = regexp.MustCompile(`\\bibitem\b\s*`)
	newblockRE = regexp.MustCompile(`\\newblock\b`)
	yearRE     = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})[a-z]?\b`)
	sentenceRE = regexp.MustCompile(`\.\s+`)
)

// ParseBibitems liest die \bibitem-Einträge aus einer thebibliography-Umgebung (oder dem ganzen Text).
// Jeder Eintrag trägt seinen Originaltext unter raw_text.
func ParseBibitems(src string) []ReferenceEntry {
	src = stripTeXComments(src)
	if begin := strings.Index(src, `\begin{thebibliography}`); begin >= 0 {
		src = src[begin:]
		if end := strings.Index(src, `\end{thebibliography}`); end >= 0 {
			src = src[:end]
		}
	}

	locs := bibitemRE.FindAllStringIndex(src, -1)
	entries := make([]ReferenceEntry, 0, len(locs))
	for n, loc := range locs {
		segEnd := len(src)
		if n+1 < len(locs) {
			segEnd = locs[n+1][0]
		}
		seg := src[loc[1]:segEnd]

		pos := 0
		if pos < len(seg) && seg[pos] == '[' {
			pos = closingBracket(seg, pos) + 1
			pos = skipSpace(seg, pos)
		}
		key := ""
		if pos < len(seg) && seg[pos] == '{' {
			end := matchDelimiter(seg, pos)
			if end < 0 {
				end = len(seg) - 1
			}
			key = strings.TrimSpace(seg[pos+1 : end])
			pos = end + 1
		}
		if key == "" {
			key = "bibitem-" + strconv.Itoa(n+1)
		}
		text := strings.TrimSpace(seg[min(pos, len(seg)):])
		if text == "" {
			continue
		}
		entries = append(entries, ReferenceEntry{ID: key, Type: "bibitem", Fields: bibitemFields(text)})
	}
	return entries
}

// bibitemFields ordnet die Blöcke Autor, Titel und Rest zu.
// Ohne \newblock wird zeilenweise, bei nur einer Zeile satzweise geteilt.
func bibitemFields(text string) map[string]string {
	blocks := nonEmpty(newblockRE.Split(text, -1))
	if len(blocks) < 2 {
		blocks = nonEmpty(strings.Split(text, "\n"))
	}
	if len(blocks) < 2 {
		blocks = nonEmpty(sentenceRE.Split(text, 3))
	}

	fields := map[string]string{FieldRawText: text}
	if len(blocks) > 0 {
		fields["author"] = trimPunct(CleanValue(blocks[0]))
	}
	if len(blocks) > 1 {
		fields["title"] = trimPunct(CleanValue(blocks[1]))
	}
	if len(blocks) > 2 {
		fields["note"] = trimPunct(CleanValue(strings.Join(blocks[2:], " ")))
	}
	if y := yearRE.FindStringSubmatch(text); y != nil {
		fields["year"] = y[1]
	}
	return fields
}

func closingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ']':
			if depth == 0 {
				return i
			}
		}
	}
	return len(s) - 1
}

func stripTeXComments(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		for j := 0; j < len(l); j++ {
			if l[j] == '%' && (j == 0 || l[j-1] != '\\') {
				lines[i] = l[:j]
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func trimPunct(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ",.;: ")
}
