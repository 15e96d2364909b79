package download

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitswalk/ebf/src/common/errors"
)

// =============================================================================
// Fetch Tests
// =============================================================================

func TestFetch_WritesFileAndChecksum(t *testing.T) {
	body := []byte("toolchain archive bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dest := t.TempDir()
	c := NewClient(srv.Client())
	res, err := c.Fetch(context.Background(), []string{srv.URL + "/archive.tar.xz"}, dest)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if res.Path != filepath.Join(dest, "archive.tar.xz") {
		t.Errorf("path = %q", res.Path)
	}
	if res.Size != int64(len(body)) {
		t.Errorf("size = %d, want %d", res.Size, len(body))
	}
	sum := sha256.Sum256(body)
	if res.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("sha256 = %q", res.SHA256)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil || !bytes.Equal(data, body) {
		t.Errorf("downloaded content mismatch: %v", err)
	}
}

func TestFetch_MirrorFailover(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fallback content"))
	}))
	defer good.Close()

	c := NewClient(nil)
	res, err := c.Fetch(context.Background(),
		[]string{bad.URL + "/a.bin", good.URL + "/a.bin"}, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch should have failed over to the second mirror: %v", err)
	}
	if res.URL != good.URL+"/a.bin" {
		t.Errorf("result URL = %q, want the fallback mirror", res.URL)
	}
}

func TestFetch_AllMirrorsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	_, err := c.Fetch(context.Background(), []string{srv.URL + "/x", srv.URL + "/y"}, t.TempDir())
	if !errors.Is(err, errors.ErrDownloadFailed) {
		t.Errorf("error = %v, want ErrDownloadFailed", err)
	}
}

func TestFetch_NoPartialFileVisible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	dest := t.TempDir()
	c := NewClient(srv.Client())
	if _, err := c.Fetch(context.Background(), []string{srv.URL + "/big.bin"}, dest); err == nil {
		t.Fatal("expected short download error")
	}
	if _, err := os.Stat(filepath.Join(dest, "big.bin")); !os.IsNotExist(err) {
		t.Error("partial download became visible at the final path")
	}
}

// =============================================================================
// Checksum Tests
// =============================================================================

func TestVerifySHA256(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(p, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte("content"))

	if err := VerifySHA256(p, hex.EncodeToString(sum[:])); err != nil {
		t.Errorf("valid checksum rejected: %v", err)
	}
	err := VerifySHA256(p, strings.Repeat("0", 64))
	if !errors.Is(err, errors.ErrChecksumMismatch) {
		t.Errorf("error = %v, want ErrChecksumMismatch", err)
	}
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestCache_InstallAndHit(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var fills int
	fill := func(staging string) error {
		fills++
		return os.WriteFile(filepath.Join(staging, "marker"), []byte("x"), 0644)
	}

	dir, err := cache.Install("arm/test-1.0", fill)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !cache.Has("arm/test-1.0") {
		t.Error("entry not present after install")
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Errorf("staged content missing: %v", err)
	}

	// Second install is a no-op
	if _, err := cache.Install("arm/test-1.0", fill); err != nil {
		t.Fatal(err)
	}
	if fills != 1 {
		t.Errorf("fill ran %d times, want 1", fills)
	}
}

func TestCache_FailedFillLeavesNoEntry(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = cache.Install("arm/broken", func(staging string) error {
		return os.ErrPermission
	})
	if err == nil {
		t.Fatal("expected fill error to propagate")
	}
	if cache.Has("arm/broken") {
		t.Error("failed install left a cache entry behind")
	}
}

// =============================================================================
// Archive Extraction Tests
// =============================================================================

func tarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	gw.Write(tarBuf.Bytes())
	gw.Close()
	return gzBuf.Bytes()
}

func TestExtractArchive_StripComponents(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"toolchain-13.3/":           "",
		"toolchain-13.3/bin/":       "",
		"toolchain-13.3/bin/gcc":    "binary",
		"toolchain-13.3/README.txt": "docs",
	})
	src := filepath.Join(t.TempDir(), "tc.tar.gz")
	if err := os.WriteFile(src, archive, 0644); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := ExtractArchive(src, dest, 1); err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "bin", "gcc")); err != nil {
		t.Errorf("stripped path missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "toolchain-13.3")); !os.IsNotExist(err) {
		t.Error("top-level directory should have been stripped")
	}
}

func TestExtractArchive_RejectsTraversal(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"../escape.txt": "evil",
	})
	src := filepath.Join(t.TempDir(), "evil.tar.gz")
	if err := os.WriteFile(src, archive, 0644); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := ExtractArchive(src, dest, 0); err == nil {
		t.Error("expected traversal entry to be rejected")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); !os.IsNotExist(err) {
		t.Error("traversal entry escaped the destination")
	}
}

func TestExtractArchive_UnknownFormat(t *testing.T) {
	src := filepath.Join(t.TempDir(), "blob.zip")
	if err := os.WriteFile(src, []byte("PK"), 0644); err != nil {
		t.Fatal(err)
	}
	err := ExtractArchive(src, t.TempDir(), 0)
	if !errors.Is(err, errors.ErrUnsupportedArchive) {
		t.Errorf("error = %v, want ErrUnsupportedArchive", err)
	}
}
