package download

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitswalk/ebf/src/common/paths"
)

// Cache manages extracted toolchain trees on the local filesystem.
// Each entry lives at <root>/<key> and is installed atomically: content is
// staged in a temp directory and renamed into place, so an interrupted
// install never produces a half-populated entry.
type Cache struct {
	root string
}

// NewCache creates a cache rooted at the given directory
func NewCache(root string) (*Cache, error) {
	root = paths.Expand(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root %s: %w", root, err)
	}
	return &Cache{root: root}, nil
}

// Root returns the cache root directory
func (c *Cache) Root() string {
	return c.root
}

// Dir returns the directory an entry with the given key would occupy
func (c *Cache) Dir(key string) string {
	return filepath.Join(c.root, filepath.Clean(key))
}

// Has reports whether a complete entry exists for the key
func (c *Cache) Has(key string) bool {
	return paths.IsDir(c.Dir(key))
}

// Install populates a cache entry by calling fill with a staging directory.
// On success the staging directory is renamed to the final entry path.
// If the entry already exists it is returned untouched and fill is not called.
func (c *Cache) Install(key string, fill func(stagingDir string) error) (string, error) {
	final := c.Dir(key)
	if paths.IsDir(final) {
		return final, nil
	}

	staging, err := os.MkdirTemp(c.root, ".staging-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := fill(staging); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", fmt.Errorf("failed to create cache entry parent: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		// Lost a race with a concurrent install of the same entry
		if paths.IsDir(final) {
			return final, nil
		}
		return "", fmt.Errorf("failed to move cache entry into place: %w", err)
	}
	return final, nil
}

// Remove deletes a cache entry
func (c *Cache) Remove(key string) error {
	return os.RemoveAll(c.Dir(key))
}
