// Package gcs provides a Google Cloud Storage implementation of the storage
// backend interface.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kurobane/migrata/pkg/etl/adapter/storage"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

// ProviderType is the type identifier for this backend.
const ProviderType = "gcs"

func init() {
	storage.RegisterBackend(ProviderType, func(ctx context.Context, cfg storage.Config, name string) (storage.Backend, error) {
		return NewGCSBackend(ctx, cfg, name)
	})
}

// gcsBackend implements storage.Backend over a GCS client.
type gcsBackend struct {
	client *gcstorage.Client
	cfg    storage.Config
	name   string
}

var _ storage.Backend = (*gcsBackend)(nil)

// NewGCSBackend creates a GCS backend. When a credentials file is configured
// it is used explicitly; otherwise application default credentials apply.
func NewGCSBackend(ctx context.Context, cfg storage.Config, name string) (storage.Backend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage backend '%s': failed to create client: %w", name, err)
	}
	return &gcsBackend{client: client, cfg: cfg, name: name}, nil
}

// Close implements storage.Backend.
func (a *gcsBackend) Close() error {
	logger.Debugf("GCS storage backend '%s' closed.", a.name)
	return a.client.Close()
}

// Type implements storage.Backend.
func (a *gcsBackend) Type() string { return ProviderType }

// Name implements storage.Backend.
func (a *gcsBackend) Name() string { return a.name }

func (a *gcsBackend) bucket(name string) string {
	if name == "" {
		return a.cfg.BucketName
	}
	return name
}

// Upload implements storage.Backend.
func (a *gcsBackend) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.client.Bucket(a.bucket(bucket)).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded object '%s' to bucket '%s' (gcs backend '%s').", objectName, a.bucket(bucket), a.name)
	return nil
}

// Download implements storage.Backend.
func (a *gcsBackend) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.client.Bucket(a.bucket(bucket)).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s': %w", objectName, err)
	}
	return r, nil
}

// ListObjects implements storage.Backend.
func (a *gcsBackend) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.client.Bucket(a.bucket(bucket)).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// DeleteObject implements storage.Backend. Deleting a missing object is not
// an error.
func (a *gcsBackend) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.client.Bucket(a.bucket(bucket)).Object(objectName).Delete(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		logger.Warnf("Attempted to delete non-existent object '%s' (gcs backend '%s').", objectName, a.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", objectName, err)
	}
	return nil
}
