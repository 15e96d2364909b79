package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bitswalk/ebf/src/common/paths"
)

// vivadoVersionRe extracts a Xilinx release (e.g. "2023.2") from a path
var vivadoVersionRe = regexp.MustCompile(`(\d{4}\.\d)`)

// XilinxProvider locates a Vivado or Vitis installation and exposes its
// bundled cross toolchains. Installations are discovered under the standard
// roots or via the XILINX_VIVADO / XILINX_VITIS environment variables.
type XilinxProvider struct {
	// Tool is "Vivado" or "Vitis"
	Tool string

	// SearchRoots overrides the default installation roots (tests)
	SearchRoots []string

	// sourceEnv extracts the environment produced by settings64.sh;
	// overridable for tests
	sourceEnv func(ctx context.Context, script string) (map[string]string, error)
}

// NewVivadoProvider creates a provider for Vivado installations
func NewVivadoProvider() *XilinxProvider {
	return &XilinxProvider{Tool: "Vivado"}
}

// NewVitisProvider creates a provider for Vitis installations
func NewVitisProvider() *XilinxProvider {
	return &XilinxProvider{Tool: "Vitis"}
}

// Name returns the provider name
func (p *XilinxProvider) Name() string {
	return strings.ToLower(p.Tool)
}

// envVar returns the override environment variable for this tool
func (p *XilinxProvider) envVar() string {
	return "XILINX_" + strings.ToUpper(p.Tool)
}

// Kind returns the descriptor kind for this tool
func (p *XilinxProvider) kind() Kind {
	if strings.EqualFold(p.Tool, "vitis") {
		return KindVitis
	}
	return KindVivado
}

// Probe searches for an installation and, when found, extracts its build
// environment by sourcing settings64.sh.
func (p *XilinxProvider) Probe(ctx context.Context, req Request) (Probe, error) {
	if req.BareMetal {
		return unavailable("bare-metal builds use a standalone toolchain"), nil
	}

	root, version := p.findInstall(req.WantVersion)
	if root == "" {
		return unavailable(fmt.Sprintf("no %s installation found (set %s or install under /opt/Xilinx or /tools/Xilinx)", p.Tool, p.envVar())), nil
	}

	settings := filepath.Join(root, "settings64.sh")
	if !paths.IsFile(settings) {
		return unavailable(fmt.Sprintf("%s found at %s but settings64.sh is missing", p.Tool, root)), nil
	}

	sourceEnv := p.sourceEnv
	if sourceEnv == nil {
		sourceEnv = shellSourceEnv
	}
	env, err := sourceEnv(ctx, settings)
	if err != nil {
		return Probe{}, err
	}

	desc := &Descriptor{
		Kind:                   p.kind(),
		Name:                   p.Tool + " " + version,
		Version:                version,
		Root:                   root,
		CrossCompileARM:        "arm-linux-gnueabihf-",
		CrossCompileARM64:      "aarch64-linux-gnu-",
		CrossCompileMicroBlaze: "microblazeel-xilinx-linux-gnu-",
		Env:                    env,
		Source:                 p.Name(),
	}
	return Probe{Available: true, Descriptor: desc}, nil
}

// findInstall returns the installation root and version. When wantVersion is
// set and installed, that version wins; otherwise the highest installed
// version is used.
func (p *XilinxProvider) findInstall(wantVersion string) (string, string) {
	if override := os.Getenv(p.envVar()); override != "" {
		if paths.IsDir(override) {
			return override, versionFromPath(override)
		}
		log.Warn("Ignoring override pointing at a missing directory", "var", p.envVar(), "path", override)
	}

	type install struct {
		root    string
		version string
	}
	var found []install
	for _, pattern := range p.searchPatterns() {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			if !paths.IsDir(m) {
				continue
			}
			v := versionFromPath(m)
			if v == "" {
				continue
			}
			found = append(found, install{root: m, version: v})
		}
	}
	if len(found) == 0 {
		return "", ""
	}

	// Highest version first; release strings sort lexically (YYYY.N)
	sort.Slice(found, func(i, j int) bool { return found[i].version > found[j].version })

	if wantVersion != "" {
		for _, in := range found {
			if in.version == wantVersion {
				return in.root, in.version
			}
		}
		log.Warn("Requested version not installed, using newest",
			"tool", p.Tool, "want", wantVersion, "using", found[0].version)
	}
	return found[0].root, found[0].version
}

// searchPatterns lists the glob patterns for installation layouts seen in the
// field: /opt/Xilinx/<Tool>/<ver>, /opt/Xilinx/<ver>/<Tool> and the same
// shapes under /tools/Xilinx.
func (p *XilinxProvider) searchPatterns() []string {
	if len(p.SearchRoots) > 0 {
		var patterns []string
		for _, root := range p.SearchRoots {
			patterns = append(patterns,
				filepath.Join(root, p.Tool, "*"),
				filepath.Join(root, "*", p.Tool),
			)
		}
		return patterns
	}
	return []string{
		filepath.Join("/opt/Xilinx", p.Tool, "*"),
		filepath.Join("/opt/Xilinx", "*", p.Tool),
		filepath.Join("/tools/Xilinx", p.Tool, "*"),
		filepath.Join("/tools/Xilinx", "*", p.Tool),
	}
}

// versionFromPath extracts a Xilinx release number from an install path
func versionFromPath(path string) string {
	if m := vivadoVersionRe.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

// shellSourceEnv sources a settings script in a subshell and captures the
// resulting environment, keeping only XILINX* variables and PATH. Everything
// else the script sets is noise for our purposes.
func shellSourceEnv(ctx context.Context, script string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", fmt.Sprintf("source %q >/dev/null 2>&1 && env", script))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to source %s: %w", script, err)
	}
	return filterSettingsEnv(string(out)), nil
}

// filterSettingsEnv parses `env` output and keeps XILINX* and PATH entries
func filterSettingsEnv(raw string) map[string]string {
	env := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(key, "XILINX") || key == "PATH" {
			env[key] = value
		}
	}
	return env
}
