package toolchain

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/bitswalk/ebf/src/ebf/download"
)

// withBaseURLs swaps the download mirrors for the duration of a test
func withBaseURLs(t *testing.T, urls []string) {
	t.Helper()
	old := armBaseURLs
	armBaseURLs = urls
	t.Cleanup(func() { armBaseURLs = old })
}

// toolchainArchive builds a minimal tar.xz shaped like an ARM GNU release:
// one top-level directory holding bin/gcc
func toolchainArchive(t *testing.T) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	dirs := []string{"arm-gnu-toolchain/", "arm-gnu-toolchain/bin/"}
	for _, d := range dirs {
		if err := tw.WriteHeader(&tar.Header{Name: d, Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
			t.Fatal(err)
		}
	}
	content := []byte("#!/bin/sh\n")
	if err := tw.WriteHeader(&tar.Header{
		Name: "arm-gnu-toolchain/bin/aarch64-none-linux-gnu-gcc", Mode: 0755, Size: int64(len(content)),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(tarBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return xzBuf.Bytes()
}

// =============================================================================
// Probe Tests
// =============================================================================

func TestARMGNUProbe_CacheHitSkipsNetwork(t *testing.T) {
	cacheDir := t.TempDir()
	key := cacheKey("aarch64-none-linux-gnu", defaultARMRelease)
	binDir := filepath.Join(cacheDir, key, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}

	// Any network touch fails the test
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected network request: %s", r.URL.Path)
	}))
	defer srv.Close()
	withBaseURLs(t, []string{srv.URL + "/"})

	p := NewARMGNUProvider(download.NewClient(srv.Client()))
	probe, err := p.Probe(context.Background(), Request{Arch: ArchARM64, CacheDir: cacheDir})
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if !probe.Available {
		t.Fatalf("expected cache hit, reason: %s", probe.Reason)
	}
	if probe.Descriptor.Version != defaultARMRelease {
		t.Errorf("version = %q, want %q", probe.Descriptor.Version, defaultARMRelease)
	}
	if probe.Descriptor.CrossCompile(ArchARM64) != "aarch64-none-linux-gnu-" {
		t.Errorf("cross prefix = %q", probe.Descriptor.CrossCompile(ArchARM64))
	}
}

func TestARMGNUProbe_DownloadsAndCaches(t *testing.T) {
	archive := toolchainArchive(t)
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(archive)
	}))
	defer srv.Close()
	withBaseURLs(t, []string{srv.URL + "/"})

	cacheDir := t.TempDir()
	p := NewARMGNUProvider(download.NewClient(srv.Client()))

	probe, err := p.Probe(context.Background(), Request{Arch: ArchARM64, CacheDir: cacheDir})
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if !probe.Available {
		t.Fatalf("expected available, reason: %s", probe.Reason)
	}
	gcc := filepath.Join(probe.Descriptor.Root, "bin", "aarch64-none-linux-gnu-gcc")
	if _, err := os.Stat(gcc); err != nil {
		t.Errorf("extracted gcc missing: %v", err)
	}

	// Second probe is served from cache
	before := hits
	probe, err = p.Probe(context.Background(), Request{Arch: ArchARM64, CacheDir: cacheDir})
	if err != nil || !probe.Available {
		t.Fatalf("second probe failed: %v / %s", err, probe.Reason)
	}
	if hits != before {
		t.Errorf("second probe hit the network %d more times", hits-before)
	}
}

func TestARMGNUProbe_DownloadFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	withBaseURLs(t, []string{srv.URL + "/"})

	p := NewARMGNUProvider(download.NewClient(srv.Client()))
	probe, err := p.Probe(context.Background(), Request{Arch: ArchARM64, CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("download failure should not abort resolution: %v", err)
	}
	if probe.Available {
		t.Error("expected unavailable on download failure")
	}
}

func TestARMGNUProbe_NoCacheDir(t *testing.T) {
	p := NewARMGNUProvider(nil)
	probe, err := p.Probe(context.Background(), Request{Arch: ArchARM64})
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if probe.Available {
		t.Error("expected unavailable without a cache directory")
	}
}
