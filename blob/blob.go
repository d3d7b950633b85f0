// Package blob wraps the object store. All bulk artifact transfer in the
// pipeline goes through it, keyed by the stable content paths of keys.go.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// Config are object store connection parameters.
type Config struct {
	Endpoint  string `long:"endpoint" env:"ENDPOINT" default:"localhost:9000" description:"Object store endpoint"`
	AccessKey string `long:"access-key" env:"ACCESS_KEY" default:"minioadmin" description:"Object store access key"`
	SecretKey string `long:"secret-key" env:"SECRET_KEY" default:"minioadmin" description:"Object store secret key"`
	Bucket    string `long:"bucket" env:"BUCKET" default:"bug-repro-artifacts" description:"Bucket holding pipeline artifacts"`
	UseSSL    bool   `long:"use-ssl" env:"USE_SSL" description:"Connect to the object store over TLS"`
}

// Store is a bucket-scoped object store client. Transfers are retried up to
// three times with exponential backoff (1s base, 10s cap, factor-of-2
// jitter).
type Store struct {
	client *minio.Client
	bucket string
}

const (
	transferAttempts = 3
	backoffBase      = time.Second
	backoffMax       = 10 * time.Second
)

// NewStore dials the object store and ensures the configured bucket exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	var client, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Get fetches an object into memory.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	var err = s.withRetry(ctx, "get", key, func() error {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()

		out, err = io.ReadAll(obj)
		return err
	})
	return out, err
}

// Download fetches an object into a file under |dir|, preserving the key's
// base name, and returns the local path.
func (s *Store) Download(ctx context.Context, key, dir string) (string, error) {
	var path = filepath.Join(dir, filepath.Base(key))
	var err = s.withRetry(ctx, "download", key, func() error {
		return s.client.FGetObject(ctx, s.bucket, key, path, minio.GetObjectOptions{})
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Put uploads |data| under |key| with the given content type.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.withRetry(ctx, "put", key, func() error {
		var _, err = s.client.PutObject(ctx, s.bucket, key,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType})
		return err
	})
}

// Upload stores the file at |path| under |key|.
func (s *Store) Upload(ctx context.Context, key, path, contentType string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return s.withRetry(ctx, "upload", key, func() error {
		var _, err = s.client.FPutObject(ctx, s.bucket, key, path,
			minio.PutObjectOptions{ContentType: contentType})
		return err
	})
}

func (s *Store) withRetry(ctx context.Context, op, key string, fn func() error) error {
	var err error
	for attempt := 0; attempt != transferAttempts; attempt++ {
		if attempt != 0 {
			var backoff = backoffBase << (attempt - 1)
			if backoff > backoffMax {
				backoff = backoffMax
			}
			backoff += time.Duration(rand.Int63n(int64(backoff)))

			log.WithFields(log.Fields{
				"op":      op,
				"key":     key,
				"attempt": attempt,
				"err":     err,
			}).Warn("object store transfer failed (will retry)")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s %s after %d attempts: %w", op, key, transferAttempts, err)
}
