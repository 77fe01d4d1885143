package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Platzhalter aus der Private Use Area, damit Escapes die Klammer- und Befehlsentfernung überleben.
const (
	phBackslash = "\uE000"
	phDollar    = "\uE001"
	phLBrace    = "\uE002"
	phRBrace    = "\uE003"
)

var (
	textBackslashRE = regexp.MustCompile(`\\textbackslash(?:\{\}|\b\s?)`)
	mathRE          = regexp.MustCompile(`\$+([^$]*)\$+`)
	inlineMathRE    = regexp.MustCompile(`\\\((.*?)\\\)`)
	mathCommandRE   = regexp.MustCompile(`\\([a-zA-Z]+)`)
	symbolAccentRE  = regexp.MustCompile("\\\\([\"'`^~=.])\\s*(?:\\{\\s*\\\\?([a-zA-Z])\\s*\\}|\\\\?([a-zA-Z]))")
	letterAccentRE  = regexp.MustCompile(`\\([uvHckrdb])(?:\s*\{\s*\\?([a-zA-Z])\s*\}|\s+\\?([a-zA-Z]))`)
	specialLetterRE = regexp.MustCompile(`\\(ss|aa|AA|ae|AE|oe|OE|o|O|l|L|i|j)\b(?:\{\})?\s?`)
	hrefRE          = regexp.MustCompile(`\\href\s*\{([^}]*)\}\s*\{([^}]*)\}`)
	formattingRE    = regexp.MustCompile(`\\(?:textit|textbf|textsc|texttt|textrm|textsf|textup|textmd|textsl|textnormal|emph|mbox|hbox|mathrm|mathbf|mathit|mathsf|mathtt|mathcal|mathbb|url|path|doi|enquote|uppercase|lowercase|MakeUppercase|MakeLowercase|natexlab|bibinfo\s*\{[^}]*\}|bibfield\s*\{[^}]*\}|penalty\d*)\s*`)
	declarationRE   = regexp.MustCompile(`\\(?:em|bf|it|sc|rm|tt|sf|sl|small|footnotesize|normalfont|relax|protect|newblock)\b\s*`)
	spacingRE       = regexp.MustCompile(`\\[,;:! ]|\\\\`)
	leftoverCmdRE   = regexp.MustCompile(`\\[a-zA-Z]+\*?`)
)

var combiningMarks = map[string]string{
	`"`: "\u0308", `'`: "\u0301", "`": "\u0300", "^": "\u0302", "~": "\u0303",
	"=": "\u0304", ".": "\u0307", "u": "\u0306", "v": "\u030C", "H": "\u030B",
	"c": "\u0327", "k": "\u0328", "r": "\u030A", "d": "\u0323", "b": "\u0331",
}

var specialLetters = map[string]string{
	"ss": "ß", "aa": "å", "AA": "Å", "ae": "æ", "AE": "Æ", "oe": "œ", "OE": "Œ",
	"o": "ø", "O": "Ø", "l": "ł", "L": "Ł", "i": "ı", "j": "ȷ",
}

var escapedSpecials = strings.NewReplacer(
	`\&`, "&", `\%`, "%", `\_`, "_", `\#`, "#",
	`\$`, phDollar, `\{`, phLBrace, `\}`, phRBrace,
)

var restorePlaceholders = strings.NewReplacer(
	phBackslash, `\`, phDollar, "$", phLBrace, "{", phRBrace, "}",
)

// CleanValue macht aus einem LaTeX-Feldwert lesbaren Klartext.
func CleanValue(s string) string {
	s = textBackslashRE.ReplaceAllString(s, phBackslash)
	s = escapedSpecials.Replace(s)

	s = replaceMath(s)
	s = replaceAccents(s)
	s = specialLetterRE.ReplaceAllStringFunc(s, func(m string) string {
		sub := specialLetterRE.FindStringSubmatch(m)
		return specialLetters[sub[1]]
	})

	s = hrefRE.ReplaceAllString(s, "$2 $1")
	s = formattingRE.ReplaceAllString(s, "")
	s = declarationRE.ReplaceAllString(s, "")
	s = spacingRE.ReplaceAllString(s, " ")
	s = leftoverCmdRE.ReplaceAllString(s, "")

	s = strings.NewReplacer("{", "", "}", "", "~", " ").Replace(s)
	s = restorePlaceholders.Replace(s)
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// replaceMath behält nur den Inhalt von $...$ und \(...\), Befehle darin verlieren den Backslash.
func replaceMath(s string) string {
	strip := func(body string) string {
		return mathCommandRE.ReplaceAllString(body, "$1")
	}
	s = mathRE.ReplaceAllStringFunc(s, func(m string) string {
		return strip(mathRE.FindStringSubmatch(m)[1])
	})
	return inlineMathRE.ReplaceAllStringFunc(s, func(m string) string {
		return strip(inlineMathRE.FindStringSubmatch(m)[1])
	})
}

func replaceAccents(s string) string {
	apply := func(re *regexp.Regexp) func(string) string {
		return func(m string) string {
			sub := re.FindStringSubmatch(m)
			letter := sub[2]
			if letter == "" {
				letter = sub[3]
			}
			return norm.NFC.String(letter + combiningMarks[sub[1]])
		}
	}
	s = symbolAccentRE.ReplaceAllStringFunc(s, apply(symbolAccentRE))
	return letterAccentRE.ReplaceAllStringFunc(s, apply(letterAccentRE))
}
