package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"paper-graph/config"
	"paper-graph/storage"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// BackupConfig ergänzt die Service-Konfiguration um die Backup-Rotation.
type BackupConfig struct {
	Prefix      string        `envconfig:"BACKUP_PREFIX" default:"backups/"`
	KeepBackups int           `envconfig:"KEEP_BACKUPS" default:"4"`
	PgDumpPath  string        `envconfig:"PG_DUMP_PATH" default:"pg_dump"`
	Timeout     time.Duration `envconfig:"BACKUP_TIMEOUT" default:"30m"`
}

// backupStore ist der Teil des Objektspeichers, den Upload und Rotation brauchen.
type backupStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentType string) error
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	DeleteKey(ctx context.Context, key string) error
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()
	logging.Info("Starte Backup-Prozess...")

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	var bcfg BackupConfig
	if err := envconfig.Process("", &bcfg); err != nil {
		logging.Fatal("Backup config load error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), bcfg.Timeout)
	defer cancel()

	// 1. Datenbank-Dump erstellen
	dump, err := createDump(ctx, cfg, bcfg.PgDumpPath)
	if err != nil {
		logging.Fatal("Fehler beim Erstellen des DB-Dumps", zap.Error(err))
	}

	// 2. S3-Client erstellen
	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	store := storage.NewS3Store(s3Client, cfg.S3URL, cfg.S3Bucket)

	// 3. Backup hochladen
	key := backupKey(bcfg.Prefix, time.Now())
	if err := store.PutObject(ctx, key, bytes.NewReader(dump), "application/gzip"); err != nil {
		logging.Fatal("Fehler beim Hochladen nach S3", zap.Error(err))
	}
	logging.Info("Backup hochgeladen", zap.String("bucket", cfg.S3Bucket), zap.String("key", key), zap.Int("bytes", len(dump)))

	// 4. Alte Backups rotieren
	if err := rotateBackups(ctx, store, bcfg.Prefix, bcfg.KeepBackups, logging); err != nil {
		logging.Fatal("Fehler bei der Rotation alter Backups", zap.Error(err))
	}
	logging.Info("Backup-Prozess erfolgreich abgeschlossen.")
}

// createDump führt pg_dump aus und gibt die gzip-komprimierte Ausgabe zurück.
func createDump(ctx context.Context, cfg *config.Config, pgDump string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, pgDump,
		"-h", cfg.DBHost,
		"-p", fmt.Sprint(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort wird über PGPASSWORD bereitgestellt
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+cfg.DBPassword)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, stdout); err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return buf.Bytes(), nil
}

func backupKey(prefix string, now time.Time) string {
	return fmt.Sprintf("%sbackup-%s.sql.gz", prefix, now.UTC().Format("2006-01-02T15-04-05Z"))
}

// expiredBackups liefert alles außer den keep neuesten Objekten, neueste zuerst sortiert.
func expiredBackups(objects []storage.ObjectInfo, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(objects) <= keep {
		return nil
	}
	sorted := append([]storage.ObjectInfo(nil), objects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastModified.After(sorted[j].LastModified)
	})
	keys := make([]string, 0, len(sorted)-keep)
	for _, obj := range sorted[keep:] {
		keys = append(keys, obj.Key)
	}
	return keys
}

func rotateBackups(ctx context.Context, store backupStore, prefix string, keep int, logging *zap.Logger) error {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	expired := expiredBackups(objects, keep)
	if len(expired) == 0 {
		logging.Info("Keine Rotation nötig", zap.Int("backups", len(objects)), zap.Int("keep", keep))
		return nil
	}
	for _, key := range expired {
		logging.Info("Lösche altes Backup", zap.String("key", key))
		if err := store.DeleteKey(ctx, key); err != nil {
			logging.Warn("Fehler beim Löschen", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
