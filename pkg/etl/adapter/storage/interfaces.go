// Package storage defines the common interface for backup artifact storage.
// Snapshot backups and exported reports are written through this interface so
// the engine can target the local file system or an object store through a
// unified API.
package storage

import (
	"context"
	"io"
)

// Backend represents one storage connection.
type Backend interface {
	// Upload writes the data stream to the specified bucket and object name.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens the specified object for reading. The returned
	// ReadCloser must be closed by the caller.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object under the prefix, allowing large
	// listings to be processed without loading all names into memory.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes the specified object. Deleting a missing object is
	// not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	// Type returns the backend type (e.g., "local", "gcs").
	Type() string
	// Name returns the configured connection name.
	Name() string
	// Close releases underlying resources.
	Close() error
}

// Config holds the configuration for a single storage connection.
type Config struct {
	Type            string `yaml:"type" mapstructure:"type"`                         // Storage type ("local", "gcs").
	BucketName      string `yaml:"bucket_name" mapstructure:"bucket_name"`           // Default bucket for operations.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"` // Service account key path for GCS.
	BaseDir         string `yaml:"base_dir" mapstructure:"base_dir"`                 // Base directory for local storage.
}
