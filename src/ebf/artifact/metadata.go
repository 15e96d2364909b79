package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"
)

// MetadataFile is the manifest name written into every output directory
const MetadataFile = "metadata.json"

// ToolchainInfo summarizes the toolchain a build used
type ToolchainInfo struct {
	Kind    string `json:"kind"`
	Version string `json:"version"`
	Root    string `json:"root,omitempty"`
}

// StageResult mirrors a pipeline stage outcome in the manifest
type StageResult struct {
	Stage      string   `json:"stage"`
	ExitCode   int      `json:"exit_code"`
	OutputTail []string `json:"output_tail,omitempty"`
}

// FileInfo describes one collected artifact
type FileInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Metadata is the build manifest stored next to the artifacts
type Metadata struct {
	Kind      string            `json:"kind"`
	Name      string            `json:"name"`
	Arch      string            `json:"arch,omitempty"`
	Platform  string            `json:"platform,omitempty"`
	Ref       string            `json:"ref"`
	Commit    string            `json:"commit,omitempty"`
	Defconfig string            `json:"defconfig,omitempty"`
	Toolchain *ToolchainInfo    `json:"toolchain,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	Artifacts []FileInfo        `json:"artifacts"`
	Missing   []string          `json:"missing,omitempty"`
	Stages    []StageResult     `json:"stage_outcomes,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// AddFiles stats and hashes the given artifact paths into the manifest
func (m *Metadata) AddFiles(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		sum, err := fileSHA256(p)
		if err != nil {
			return err
		}
		m.Artifacts = append(m.Artifacts, FileInfo{
			Name:   filepath.Base(p),
			Size:   info.Size(),
			SHA256: sum,
		})
	}
	return nil
}

// Write saves the manifest into outDir
func (m *Metadata) Write(outDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, MetadataFile), append(data, '\n'), 0644)
}

// ReadMetadata loads a manifest from an output directory
func ReadMetadata(outDir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(outDir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
