package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paper-graph/apperr"
	"paper-graph/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// s3API ist die Teilmenge des S3-Clients, die der Store benötigt.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store legt Dateien unter zufälligen Keys in einem Bucket ab.
type S3Store struct {
	client   s3API
	endpoint string
	bucket   string
}

// ObjectInfo beschreibt ein gelistetes Objekt.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpoint (MinIO, Strato).
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// NewS3Store bindet einen Client an Endpoint und Bucket.
func NewS3Store(client s3API, endpoint, bucket string) *S3Store {
	return &S3Store{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		bucket:   bucket,
	}
}

// URL baut den öffentlichen Link für einen Key.
func (s *S3Store) URL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
}

// KeyFromURL extrahiert den Key aus einem von URL erzeugten Link.
func (s *S3Store) KeyFromURL(url string) (string, error) {
	prefix := fmt.Sprintf("%s/%s/", s.endpoint, s.bucket)
	if !strings.HasPrefix(url, prefix) || len(url) == len(prefix) {
		return "", apperr.Validation("file url %q does not belong to bucket %s", url, s.bucket)
	}
	return strings.TrimPrefix(url, prefix), nil
}

// Put lädt eine lokale Datei unter einem frischen UUID-Key hoch und gibt den Link zurück.
func (s *S3Store) Put(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", apperr.Internal(err, "open %s", localPath)
	}
	defer f.Close()

	key := uuid.NewString() + strings.ToLower(filepath.Ext(localPath))
	if err := s.PutObject(ctx, key, f, contentType(localPath)); err != nil {
		return "", err
	}
	return s.URL(key), nil
}

// PutObject schreibt einen Stream unter einem festen Key.
func (s *S3Store) PutObject(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return apperr.Unavailable(err, "upload %s to object store", key)
	}
	return nil
}

// Get lädt das Objekt hinter url nach localPath.
func (s *S3Store) Get(ctx context.Context, url, localPath string) error {
	key, err := s.KeyFromURL(url)
	if err != nil {
		return err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return apperr.NotFound("object %s not found", key)
		}
		return apperr.Unavailable(err, "download %s from object store", key)
	}
	defer out.Body.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return apperr.Internal(err, "create %s", localPath)
	}
	if _, err := io.Copy(dst, out.Body); err != nil {
		dst.Close()
		return apperr.Unavailable(err, "read %s from object store", key)
	}
	return dst.Close()
}

// Delete entfernt das Objekt hinter url. Ein fehlendes Objekt gilt als gelöscht.
func (s *S3Store) Delete(ctx context.Context, url string) error {
	key, err := s.KeyFromURL(url)
	if err != nil {
		return err
	}
	return s.DeleteKey(ctx, key)
}

func (s *S3Store) DeleteKey(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return apperr.Unavailable(err, "delete %s from object store", key)
	}
	return nil
}

// List gibt alle Objekte mit dem Präfix zurück, seitenweise über ListObjectsV2.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, apperr.Unavailable(err, "list objects with prefix %q", prefix)
		}
		for _, obj := range out.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
		if !aws.ToBool(out.IsTruncated) {
			return objects, nil
		}
		token = out.NextContinuationToken
	}
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".gz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
