// Package convert turns LaTeX sources into Markdown through an external pandoc binary.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoMainTex wird geliefert, wenn keine .tex-Datei \begin{document} enthält.
var ErrNoMainTex = errors.New("no main tex file found")

// Pandoc konvertiert die Haupt-.tex-Datei eines Quellverzeichnisses nach Markdown.
type Pandoc struct {
	Path    string
	Timeout time.Duration
	Logger  *zap.Logger
}

func NewPandoc(path string, timeout time.Duration, logger *zap.Logger) *Pandoc {
	return &Pandoc{Path: path, Timeout: timeout, Logger: logger}
}

// Convert sucht die Haupt-.tex-Datei in dir und gibt pandocs Markdown zurück.
// pandoc läuft im Verzeichnis der Datei, damit \input relativ aufgelöst wird.
func (p *Pandoc) Convert(ctx context.Context, dir string) (string, error) {
	mainTex, err := FindMainTex(dir)
	if err != nil {
		return "", err
	}
	log := p.Logger.With(zap.String("main_tex", mainTex))

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Path, "-f", "latex", "-t", "markdown", filepath.Base(mainTex))
	cmd.Dir = filepath.Dir(mainTex)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pandoc %s: %w: %s", mainTex, err, strings.TrimSpace(stderr.String()))
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("pandoc produced empty output for %s", mainTex)
	}
	log.Debug("LaTeX nach Markdown konvertiert", zap.Int("length", len(out)))
	return out, nil
}

// FindMainTex liefert die erste .tex-Datei (lexikalisch, rekursiv) mit \begin{document}.
func FindMainTex(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".tex") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		if bytes.Contains(data, []byte(`\begin{document}`)) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w in %s", ErrNoMainTex, dir)
	}
	return found, nil
}
