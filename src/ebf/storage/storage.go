// Package storage publishes build outputs to an artifact store, either a
// local directory tree or an S3-compatible bucket.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/bitswalk/ebf/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the storage package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Backend is an artifact store builds publish into
type Backend interface {
	// Upload stores an object under key
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download retrieves a published object
	Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Exists reports whether an object is already published
	Exists(ctx context.Context, key string) (bool, error)

	// List enumerates published objects under a prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes a published object
	Delete(ctx context.Context, key string) error

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Type returns the backend type ("local" or "s3")
	Type() string

	// Location returns a human-readable store location
	Location() string
}

// ObjectInfo describes one published object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Config selects and configures the publish backend
type Config struct {
	// Type is the backend type: "s3" or "local"
	Type string

	Local LocalConfig
	S3    S3Config
}

// DefaultConfig publishes into the user's local artifact tree
func DefaultConfig() Config {
	return Config{
		Type: "local",
		Local: LocalConfig{
			BasePath: "~/.ebf/published",
		},
	}
}

// New creates a backend from configuration
func New(cfg Config) (Backend, error) {
	switch cfg.Type {
	case "s3":
		return NewS3(cfg.S3)
	default:
		return NewLocal(cfg.Local)
	}
}
