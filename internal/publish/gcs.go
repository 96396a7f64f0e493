package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/TheEverestLab/coesg-data/internal/logger"
)

const (
	jsonContentType     = "application/json; charset=utf-8"
	DefaultCacheControl = "public, max-age=300"
	uploadTimeout       = 2 * time.Minute
)

type GCSOptions struct {
	Bucket string
	Prefix string
	// EmulatorHost points the client at a fake-gcs-server style emulator
	// and disables authentication.
	EmulatorHost string
	CacheControl string
}

// GCSMirror uploads published artifacts to a Cloud Storage bucket.
type GCSMirror struct {
	client *storage.Client
	opts   GCSOptions
	log    *logger.Logger
}

func NewGCSMirror(ctx context.Context, log *logger.Logger, opts GCSOptions) (*GCSMirror, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("gcs bucket is empty")
	}
	if opts.CacheControl == "" {
		opts.CacheControl = DefaultCacheControl
	}

	client, err := newStorageClient(ctx, opts.EmulatorHost)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSMirror{
		client: client,
		opts:   opts,
		log:    log.With("component", "gcs", "bucket", opts.Bucket),
	}, nil
}

func newStorageClient(ctx context.Context, emulatorHost string) (*storage.Client, error) {
	if host := strings.TrimRight(strings.TrimSpace(emulatorHost), "/"); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := credentialOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func credentialOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (m *GCSMirror) Upload(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	key := m.objectName(name)
	w := m.client.Bucket(m.opts.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = jsonContentType
	w.CacheControl = m.opts.CacheControl
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", m.opts.Bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", m.opts.Bucket, key, err)
	}
	m.log.Info("Uploaded artifact", "object", key, "bytes", len(data))
	return nil
}

func (m *GCSMirror) Close() error {
	return m.client.Close()
}

func (m *GCSMirror) objectName(name string) string {
	prefix := strings.Trim(m.opts.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
