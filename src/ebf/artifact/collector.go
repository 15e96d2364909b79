// Package artifact collects build outputs into a per-build output directory
// and records a metadata manifest alongside them.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitswalk/ebf/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the artifact package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Selector picks build outputs by glob. A "**/" prefix matches any directory
// depth under the search root.
type Selector struct {
	// Glob matches paths relative to the search root
	Glob string

	// Mandatory marks artifacts whose absence degrades the build result.
	// Optional artifacts are merely reported as absent.
	Mandatory bool

	// Rename overrides the destination file name. Only meaningful for
	// selectors expected to match a single file.
	Rename string
}

// Collected reports what a collection pass found and copied
type Collected struct {
	// Files are the destination paths of copied artifacts
	Files []string

	// MissingMandatory lists mandatory globs that matched nothing
	MissingMandatory []string

	// MissingOptional lists optional globs that matched nothing
	MissingOptional []string
}

// Degraded reports whether any mandatory artifact was missing
func (c *Collected) Degraded() bool {
	return len(c.MissingMandatory) > 0
}

// Collect copies files matching the selectors from srcRoot into outDir.
// Matches are flat-copied by base name. A missing mandatory artifact does
// not return an error: the build already ran, so the caller gets a degraded
// result listing what is absent instead of losing the outputs that do exist.
func Collect(srcRoot string, selectors []Selector, outDir string) (*Collected, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	col := &Collected{}
	for _, sel := range selectors {
		matches, err := glob(srcRoot, sel.Glob)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			if sel.Mandatory {
				log.Error("Mandatory artifact missing", "glob", sel.Glob, "root", srcRoot)
				col.MissingMandatory = append(col.MissingMandatory, sel.Glob)
			} else {
				log.Debug("Optional artifact absent", "glob", sel.Glob)
				col.MissingOptional = append(col.MissingOptional, sel.Glob)
			}
			continue
		}
		for _, m := range matches {
			name := filepath.Base(m)
			if sel.Rename != "" {
				name = sel.Rename
			}
			dest := filepath.Join(outDir, name)
			if err := CopyFile(m, dest); err != nil {
				return nil, fmt.Errorf("failed to copy artifact %s: %w", m, err)
			}
			col.Files = append(col.Files, dest)
		}
	}
	log.Info("Artifacts collected", "count", len(col.Files), "out", outDir)
	return col, nil
}

// OutputDirName composes the conventional output directory name
// <kind>-<ref>-<platform>
func OutputDirName(kind, ref, platform string) string {
	if ref == "" {
		ref = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", kind, sanitize(ref), sanitize(platform))
}

// sanitize replaces path separators in refs like "origin/main"
func sanitize(s string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(s)
}

// glob matches pattern against files under root. Patterns starting with
// "**/" match at any depth; other patterns are evaluated relative to root.
func glob(root, pattern string) ([]string, error) {
	if !strings.HasPrefix(pattern, "**/") {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		return onlyFiles(matches), nil
	}

	tail := strings.TrimPrefix(pattern, "**/")
	var matches []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		// Match the pattern tail against the trailing components
		if ok, _ := path.Match(tail, path.Base(rel)); ok && !strings.ContainsRune(tail, '/') {
			matches = append(matches, p)
			return nil
		}
		if ok, _ := path.Match(tail, rel); ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func onlyFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	return out
}

// CopyFile copies src to dst, preserving the file mode
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
