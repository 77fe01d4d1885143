package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"regexp"

	"paper-graph/apperr"
	"paper-graph/models"
	"paper-graph/storage"
)

// arxivIDPattern erkennt Archiv-IDs der Form 2401.00123.
var arxivIDPattern = regexp.MustCompile(`\d{4}\.\d{5}`)

// FindArxivID gibt die erste Archiv-ID in s zurück oder "".
func FindArxivID(s string) string {
	return arxivIDPattern.FindString(s)
}

// Fingerprint streamt die Datei durch SHA-256 und liefert den Hex-Digest.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Internal(err, "open %s for fingerprinting", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", apperr.Internal(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashLookup findet ein Paper über seinen Fingerprint; nil wenn keins existiert.
type HashLookup interface {
	FindByHash(ctx context.Context, hash string) (*models.Paper, error)
}

// DedupGate ist der schnelle Vorab-Check; maßgeblich bleibt der Unique-Index auf file_hash.
type DedupGate struct {
	Papers HashLookup
}

// Check liefert einen Conflict mit der Identität des bestehenden Papers, falls der Digest bekannt ist.
func (g *DedupGate) Check(ctx context.Context, digest string) error {
	existing, err := g.Papers.FindByHash(ctx, digest)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperr.Conflict(storage.ExistingOf(existing))
	}
	return nil
}
