package storage

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/common/paths"
)

// LocalConfig configures filesystem-backed publishing
type LocalConfig struct {
	// BasePath is the root directory published objects land under
	BasePath string
}

// LocalBackend stores published artifacts in a directory tree
type LocalBackend struct {
	basePath string
}

// NewLocal creates a filesystem backend rooted at the configured path
func NewLocal(cfg LocalConfig) (*LocalBackend, error) {
	basePath := paths.Expand(cfg.BasePath)
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.ErrStorageUnavailable.WithMessagef("cannot create publish directory %s", basePath).WithCause(err)
	}
	return &LocalBackend{basePath: basePath}, nil
}

// fullPath maps a key into the base directory, refusing traversal outside it
func (b *LocalBackend) fullPath(key string) string {
	clean := filepath.Clean("/" + key)
	return filepath.Join(b.basePath, clean)
}

func (b *LocalBackend) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	dest := b.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.ErrStorageUploadFailed.WithMessagef("cannot create directory for %s", key).WithCause(err)
	}

	file, err := os.Create(dest)
	if err != nil {
		return errors.ErrStorageUploadFailed.WithMessagef("cannot create %s", key).WithCause(err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		os.Remove(dest)
		return errors.ErrStorageUploadFailed.WithMessagef("write failed for %s", key).WithCause(err)
	}
	if size > 0 && written != size {
		os.Remove(dest)
		return errors.ErrStorageUploadFailed.WithMessagef("size mismatch for %s: expected %d, wrote %d", key, size, written)
	}
	return nil
}

func (b *LocalBackend) Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	file, err := os.Open(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.ErrStorageNotFound.WithMessagef("object %s not found", key)
		}
		return nil, nil, errors.ErrStorageUnavailable.WithCause(err)
	}
	info, err := b.stat(key)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, info, nil
}

func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.ErrStorageUnavailable.WithCause(err)
	}
	return true, nil
}

func (b *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := filepath.Walk(b.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(rel, strings.TrimPrefix(prefix, "/")) {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Key:          rel,
			Size:         info.Size(),
			ContentType:  contentTypeFor(rel),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.ErrStorageUnavailable.WithCause(err)
	}
	return objects, nil
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	if err := os.Remove(b.fullPath(key)); err != nil && !os.IsNotExist(err) {
		return errors.ErrStorageUnavailable.WithCause(err)
	}
	return nil
}

func (b *LocalBackend) Ping(ctx context.Context) error {
	if _, err := os.Stat(b.basePath); err != nil {
		return errors.ErrStorageUnavailable.WithMessagef("publish directory %s not accessible", b.basePath).WithCause(err)
	}
	return nil
}

func (b *LocalBackend) Type() string     { return "local" }
func (b *LocalBackend) Location() string { return b.basePath }

func (b *LocalBackend) stat(key string) (*ObjectInfo, error) {
	stat, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrStorageNotFound.WithMessagef("object %s not found", key)
		}
		return nil, errors.ErrStorageUnavailable.WithCause(err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		ContentType:  contentTypeFor(key),
		LastModified: stat.ModTime(),
	}, nil
}

// contentTypeFor guesses a content type from the file extension; build
// artifacts mostly come out as octet streams
func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
