package services

import (
	"fmt"
	"unicode/utf8"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer zählt Tokens so, wie das Embedding-Modell sie sieht.
type Tokenizer interface {
	Count(text string) int
}

// ModelTokenizer zählt mit der tokenizer.json des Embedding-Modells, inklusive [CLS] und [SEP].
// Für mxbai-embed-large ist das ein BERT-WordPiece-Tokenizer.
type ModelTokenizer struct {
	tk *tokenizer.Tokenizer
}

// NewModelTokenizer lädt file oder, wenn file leer ist, die tokenizer.json des Modells
// vom Hugging Face Hub. Der Download wird lokal zwischengespeichert.
func NewModelTokenizer(model, file string) (*ModelTokenizer, error) {
	if file == "" {
		path, err := tokenizer.CachedPath(model, "tokenizer.json")
		if err != nil {
			return nil, fmt.Errorf("fetch tokenizer for %s: %w", model, err)
		}
		file = path
	}
	tk, err := pretrained.FromFile(file)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", file, err)
	}
	// ohne Kürzung und Padding, sonst passt jeder Text scheinbar ins Budget
	tk.WithTruncation(nil)
	tk.WithPadding(nil)
	return &ModelTokenizer{tk: tk}, nil
}

// Count liefert bei einem Kodierfehler eine Obergrenze, damit der Text weiter geteilt wird.
func (t *ModelTokenizer) Count(text string) int {
	enc, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return utf8.RuneCountInString(text) + 2
	}
	return enc.Len()
}
