package services

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Janitor räumt Arbeitsverzeichnisse weg, die ein abgebrochener Prozess hinterlassen hat.
type Janitor struct {
	Root   string
	MaxAge time.Duration
	Logger *zap.Logger
}

// Run ist der Cron-Einstiegspunkt.
func (j *Janitor) Run() {
	removed, err := SweepWorkDir(j.Root, j.MaxAge, time.Now())
	if err != nil {
		j.Logger.Error("Work dir sweep failed", zap.String("root", j.Root), zap.Error(err))
		return
	}
	if removed > 0 {
		j.Logger.Info("Removed stale work dirs", zap.Int("count", removed))
	}
}

// SweepWorkDir löscht Einträge direkt unter root, die älter als maxAge sind.
// Einzelne Fehler brechen den Lauf nicht ab.
func SweepWorkDir(root string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
