package storage

import (
	"context"
	"os"
	"path"
	"path/filepath"
)

// PublishDir uploads every file in an output directory under keyPrefix,
// preserving the directory's internal layout. It returns the keys written.
func PublishDir(ctx context.Context, backend Backend, dir, keyPrefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(keyPrefix, filepath.ToSlash(rel))

		file, err := os.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()

		log.Info("Publishing artifact", "key", key, "size", info.Size(), "store", backend.Location())
		if err := backend.Upload(ctx, key, file, info.Size(), contentTypeFor(rel)); err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return keys, err
	}
	return keys, nil
}
