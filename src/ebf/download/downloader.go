// Package download provides HTTP retrieval, archive extraction and the
// local toolchain cache used by the auto-download providers.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	urlpath "path"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the download package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Client performs HTTP downloads with checksum tracking
type Client struct {
	httpClient *http.Client
	userAgent  string
	// ShowProgress renders a terminal progress bar during downloads
	ShowProgress bool
}

// NewClient creates a new download client. A nil httpClient uses a default
// client without timeout (archives can be large).
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	return &Client{
		httpClient: httpClient,
		userAgent:  "ebf/1.0",
	}
}

// Result describes a completed download
type Result struct {
	Path   string
	SHA256 string
	Size   int64
	URL    string
}

// Fetch downloads the first reachable URL from candidates into destDir.
// The file is written to a temp file and renamed into place only after the
// full body has been received, so a partial download never becomes visible.
func (c *Client) Fetch(ctx context.Context, candidates []string, destDir string) (*Result, error) {
	if len(candidates) == 0 {
		return nil, errors.ErrDownloadFailed.WithMessage("no download URLs given")
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, errors.ErrDownloadFailed.WithCause(err)
	}

	var lastErr error
	for _, url := range candidates {
		res, err := c.fetchOne(ctx, url, destDir)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		log.Warn("Download attempt failed", "url", url, "error", err)
		lastErr = err
	}
	return nil, errors.ErrDownloadFailed.WithMessagef("all %d mirrors failed", len(candidates)).WithCause(lastErr)
}

func (c *Client) fetchOne(ctx context.Context, url, destDir string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	filename := urlpath.Base(url)
	destPath := filepath.Join(destDir, filename)

	tempFile, err := os.CreateTemp(destDir, filename+".partial-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)
	defer tempFile.Close()

	hash := sha256.New()
	writer := io.Writer(io.MultiWriter(tempFile, hash))

	var bar *progressbar.ProgressBar
	if c.ShowProgress {
		bar = progressbar.DefaultBytes(resp.ContentLength, filename)
		writer = io.MultiWriter(writer, bar)
	}

	var received int64
	buf := make([]byte, 32*1024) // 32KB buffer

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				return nil, fmt.Errorf("failed to write to temp file: %w", writeErr)
			}
			received += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if resp.ContentLength > 0 && received != resp.ContentLength {
		return nil, fmt.Errorf("short download: got %d of %d bytes", received, resp.ContentLength)
	}

	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}

	return &Result{
		Path:   destPath,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
		Size:   received,
		URL:    url,
	}, nil
}

// VerifySHA256 checks a file against an expected hex digest
func VerifySHA256(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return err
	}
	actual := hex.EncodeToString(hash.Sum(nil))
	if actual != expected {
		return errors.ErrChecksumMismatch.WithMessagef("checksum mismatch for %s: got %s, want %s", path, actual, expected)
	}
	return nil
}
