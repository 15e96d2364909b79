package toolchain

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// Version Extraction Tests
// =============================================================================

func TestVersionFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/opt/Xilinx/Vivado/2023.2", "2023.2"},
		{"/opt/Xilinx/2022.1/Vitis", "2022.1"},
		{"/tools/Xilinx/Vivado/2025.1", "2025.1"},
		{"/opt/Xilinx/Vivado", ""},
	}
	for _, tt := range tests {
		if got := versionFromPath(tt.path); got != tt.want {
			t.Errorf("versionFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// =============================================================================
// Install Discovery Tests
// =============================================================================

func makeInstall(t *testing.T, root, tool, version string) string {
	t.Helper()
	dir := filepath.Join(root, tool, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestFindInstall_HighestVersionWins(t *testing.T) {
	root := t.TempDir()
	makeInstall(t, root, "Vivado", "2022.2")
	newest := makeInstall(t, root, "Vivado", "2023.2")
	makeInstall(t, root, "Vivado", "2021.1")

	p := &XilinxProvider{Tool: "Vivado", SearchRoots: []string{root}}
	gotRoot, gotVersion := p.findInstall("")
	if gotRoot != newest {
		t.Errorf("root = %q, want %q", gotRoot, newest)
	}
	if gotVersion != "2023.2" {
		t.Errorf("version = %q, want 2023.2", gotVersion)
	}
}

func TestFindInstall_WantVersionPreferred(t *testing.T) {
	root := t.TempDir()
	wanted := makeInstall(t, root, "Vivado", "2022.2")
	makeInstall(t, root, "Vivado", "2023.2")

	p := &XilinxProvider{Tool: "Vivado", SearchRoots: []string{root}}
	gotRoot, gotVersion := p.findInstall("2022.2")
	if gotRoot != wanted || gotVersion != "2022.2" {
		t.Errorf("findInstall = (%q, %q), want (%q, 2022.2)", gotRoot, gotVersion, wanted)
	}
}

func TestFindInstall_WantVersionMissingFallsBack(t *testing.T) {
	root := t.TempDir()
	makeInstall(t, root, "Vivado", "2023.2")

	p := &XilinxProvider{Tool: "Vivado", SearchRoots: []string{root}}
	_, gotVersion := p.findInstall("2020.1")
	if gotVersion != "2023.2" {
		t.Errorf("version = %q, want newest 2023.2", gotVersion)
	}
}

func TestFindInstall_VersionUnderToolLayout(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "2023.1", "Vitis")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	p := &XilinxProvider{Tool: "Vitis", SearchRoots: []string{root}}
	gotRoot, gotVersion := p.findInstall("")
	if gotRoot != dir || gotVersion != "2023.1" {
		t.Errorf("findInstall = (%q, %q), want (%q, 2023.1)", gotRoot, gotVersion, dir)
	}
}

// =============================================================================
// Settings Environment Tests
// =============================================================================

func TestFilterSettingsEnv(t *testing.T) {
	raw := "PATH=/opt/Xilinx/Vivado/2023.2/bin:/usr/bin\n" +
		"XILINX_VIVADO=/opt/Xilinx/Vivado/2023.2\n" +
		"XILINX_HLS=/opt/Xilinx/Vitis_HLS/2023.2\n" +
		"HOME=/home/builder\n" +
		"SHLVL=2\n" +
		"malformed-line\n"

	env := filterSettingsEnv(raw)
	if len(env) != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", len(env), env)
	}
	if env["XILINX_VIVADO"] != "/opt/Xilinx/Vivado/2023.2" {
		t.Errorf("XILINX_VIVADO = %q", env["XILINX_VIVADO"])
	}
	if _, ok := env["HOME"]; ok {
		t.Error("HOME should have been filtered out")
	}
}
