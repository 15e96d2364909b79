package toolchain

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// gccVersionRe extracts the release from `gcc --version` output
var gccVersionRe = regexp.MustCompile(`(\d+\.\d+\.\d+)`)

// systemCrossPrefix maps architectures to the distro-packaged cross prefixes
var systemCrossPrefix = map[Arch]string{
	ArchARM:        "arm-linux-gnueabihf-",
	ArchARM64:      "aarch64-linux-gnu-",
	ArchMicroBlaze: "microblazeel-xilinx-linux-gnu-",
}

// DefaultCrossPrefix returns the conventional cross-compile prefix for an
// architecture, used when no toolchain has been resolved (script mode)
func DefaultCrossPrefix(arch Arch) string {
	return systemCrossPrefix[arch]
}

// SystemProvider finds cross compilers already installed on the PATH
// (distro packages such as gcc-aarch64-linux-gnu).
type SystemProvider struct {
	// lookPath is overridable for tests
	lookPath func(file string) (string, error)
	// runVersion runs `<gcc> --version` and returns its output
	runVersion func(ctx context.Context, gcc string) (string, error)
}

// NewSystemProvider creates a PATH-based provider
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{}
}

// Name returns the provider name
func (p *SystemProvider) Name() string {
	return "system"
}

// Probe looks for the cross gcc for the requested architecture on the PATH
func (p *SystemProvider) Probe(ctx context.Context, req Request) (Probe, error) {
	if req.BareMetal {
		return unavailable("bare-metal builds use the standalone toolchain provider"), nil
	}

	prefix, ok := systemCrossPrefix[req.Arch]
	if !ok {
		return unavailable(fmt.Sprintf("unsupported architecture %q", req.Arch)), nil
	}
	return p.probeGCC(ctx, KindSystem, prefix, req)
}

// probeGCC checks for <prefix>gcc on the PATH and builds a descriptor
func (p *SystemProvider) probeGCC(ctx context.Context, kind Kind, prefix string, req Request) (Probe, error) {
	lookPath := p.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	gcc := prefix + "gcc"
	if _, err := lookPath(gcc); err != nil {
		return unavailable(fmt.Sprintf("%s not found on PATH", gcc)), nil
	}

	version := p.gccVersion(ctx, gcc)
	desc := &Descriptor{
		Kind:    kind,
		Name:    gcc,
		Version: version,
		Source:  p.Name(),
	}
	switch req.Arch {
	case ArchARM:
		desc.CrossCompileARM = prefix
	case ArchARM64:
		desc.CrossCompileARM64 = prefix
	case ArchMicroBlaze:
		desc.CrossCompileMicroBlaze = prefix
	}
	return Probe{Available: true, Descriptor: desc}, nil
}

// gccVersion parses the release from the first line of `gcc --version`.
// An unparseable version is not a failure, just an empty field.
func (p *SystemProvider) gccVersion(ctx context.Context, gcc string) string {
	runVersion := p.runVersion
	if runVersion == nil {
		runVersion = func(ctx context.Context, gcc string) (string, error) {
			out, err := exec.CommandContext(ctx, gcc, "--version").Output()
			return string(out), err
		}
	}

	out, err := runVersion(ctx, gcc)
	if err != nil {
		log.Debug("Could not query compiler version", "gcc", gcc, "error", err)
		return ""
	}
	return ParseGCCVersion(out)
}

// ParseGCCVersion extracts the x.y.z release from `gcc --version` output
func ParseGCCVersion(output string) string {
	firstLine, _, _ := strings.Cut(output, "\n")
	if m := gccVersionRe.FindStringSubmatch(firstLine); m != nil {
		return m[1]
	}
	return ""
}

// BareMetalProvider finds the standalone arm-none-eabi toolchain used for
// no-OS firmware builds.
type BareMetalProvider struct {
	lookPath   func(file string) (string, error)
	runVersion func(ctx context.Context, gcc string) (string, error)
}

// NewBareMetalProvider creates a provider for arm-none-eabi toolchains
func NewBareMetalProvider() *BareMetalProvider {
	return &BareMetalProvider{}
}

// Name returns the provider name
func (p *BareMetalProvider) Name() string {
	return "bare-metal"
}

// Probe looks for arm-none-eabi-gcc on the PATH
func (p *BareMetalProvider) Probe(ctx context.Context, req Request) (Probe, error) {
	if req.Arch != ArchARM {
		return unavailable(fmt.Sprintf("no bare-metal toolchain for %q", req.Arch)), nil
	}

	inner := &SystemProvider{lookPath: p.lookPath, runVersion: p.runVersion}
	probe, err := inner.probeGCC(ctx, KindBareMetal, "arm-none-eabi-", Request{Arch: ArchARM})
	if err != nil || !probe.Available {
		return probe, err
	}
	probe.Descriptor.Source = p.Name()
	return probe, nil
}
