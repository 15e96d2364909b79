package download

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"github.com/bitswalk/ebf/src/common/errors"
)

// ExtractArchive unpacks a tar archive into destDir. The compression is
// selected from the filename suffix (.tar.xz, .tar.gz, .tgz). stripComponents
// removes that many leading path elements from every entry, the way
// tar --strip-components does; toolchain tarballs ship a single
// versioned top-level directory that callers usually want flattened.
func ExtractArchive(archivePath, destDir string, stripComponents int) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var reader io.Reader
	switch {
	case strings.HasSuffix(archivePath, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open xz stream: %w", err)
		}
		reader = xzr
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		gzr, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gzr.Close()
		reader = gzr
	case strings.HasSuffix(archivePath, ".tar"):
		reader = f
	default:
		return errors.ErrUnsupportedArchive.WithMessagef("unsupported archive format: %s", filepath.Base(archivePath))
	}

	return extractTar(reader, destDir, stripComponents)
}

func extractTar(r io.Reader, destDir string, stripComponents int) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		name, ok := stripPath(hdr.Name, stripComponents)
		if !ok {
			continue
		}

		target, err := securePath(destDir, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create parent for %s: %w", name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to extract %s: %w", name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", name, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create parent for %s: %w", name, err)
			}
			// Remove a stale entry so re-extraction is idempotent
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", name, err)
			}
		case tar.TypeLink:
			linkSrc, ok := stripPath(hdr.Linkname, stripComponents)
			if !ok {
				continue
			}
			src, err := securePath(destDir, linkSrc)
			if err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return fmt.Errorf("failed to create hard link %s: %w", name, err)
			}
		}
	}
	return nil
}

// stripPath removes the first n path components. Entries shorter than the
// strip count are skipped entirely.
func stripPath(name string, n int) (string, bool) {
	name = filepath.ToSlash(name)
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= n {
		return "", false
	}
	return filepath.Join(parts[n:]...), true
}

// securePath joins name onto destDir and rejects entries that would escape it
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}
