// Package toolchain locates and provisions cross-compilation toolchains for
// embedded firmware builds. Providers wrap the different ways a toolchain can
// exist on a machine (vendor-bundled with Vivado/Vitis, auto-downloaded ARM
// GNU releases, distro-installed cross compilers) and the resolver walks them
// in preference order.
package toolchain

import (
	"context"

	"github.com/bitswalk/ebf/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the toolchain package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Kind identifies the provider family a toolchain came from
type Kind string

const (
	KindVivado      Kind = "vivado"
	KindVitis       Kind = "vitis"
	KindARMDownload Kind = "arm-download"
	KindSystem      Kind = "system"
	KindBareMetal   Kind = "bare-metal"
)

// Arch is a build target architecture
type Arch string

const (
	ArchARM        Arch = "arm"
	ArchARM64      Arch = "arm64"
	ArchMicroBlaze Arch = "microblaze"
)

// Descriptor describes a resolved toolchain. It is a value type and is never
// mutated after a provider returns it.
type Descriptor struct {
	Kind    Kind
	Name    string
	Version string

	// Root is the installation root (empty for system toolchains on PATH)
	Root string

	// Cross-compile prefixes per architecture; empty when the toolchain
	// cannot build for that architecture
	CrossCompileARM        string
	CrossCompileARM64      string
	CrossCompileMicroBlaze string

	// Env holds environment variables the toolchain needs at build time
	// (PATH with the toolchain bin directory, XILINX_* settings, ...)
	Env map[string]string

	// Source names the provider that produced this descriptor
	Source string
}

// CrossCompile returns the cross-compile prefix for the given architecture
func (d *Descriptor) CrossCompile(arch Arch) string {
	switch arch {
	case ArchARM:
		return d.CrossCompileARM
	case ArchARM64:
		return d.CrossCompileARM64
	case ArchMicroBlaze:
		return d.CrossCompileMicroBlaze
	}
	return ""
}

// Summary returns a short human-readable description for logs and metadata
func (d *Descriptor) Summary() string {
	if d.Root != "" {
		return string(d.Kind) + " " + d.Version + " (" + d.Root + ")"
	}
	return string(d.Kind) + " " + d.Version
}

// Request describes what the caller needs from a toolchain
type Request struct {
	// Arch is the target architecture to compile for
	Arch Arch

	// WantVersion is the preferred tool version (e.g. a Vivado release like
	// "2023.2"). Advisory for resolution: a provider with a different
	// version is still usable, the mismatch is only logged.
	WantVersion string

	// CacheDir is where downloadable providers keep extracted toolchains.
	// Always set explicitly by the caller; providers never guess a home
	// directory themselves.
	CacheDir string

	// BareMetal requests a bare-metal (newlib) toolchain instead of a
	// Linux-targeting one
	BareMetal bool

	// CheckOnly asks providers to report availability without provisioning
	// anything; the download provider answers from its cache alone
	CheckOnly bool
}

// Probe is the outcome of asking a provider for a toolchain. A provider that
// cannot serve the request reports Available=false with a reason; that is
// ordinary data, not an error. Errors are reserved for genuine faults such as
// I/O failures while provisioning.
type Probe struct {
	Available  bool
	Reason     string
	Descriptor *Descriptor
}

// unavailable is a convenience constructor for a negative probe
func unavailable(reason string) Probe {
	return Probe{Available: false, Reason: reason}
}

// Provider is one way of obtaining a toolchain
type Provider interface {
	// Name returns a short stable provider name for logs and error reports
	Name() string

	// Probe checks whether this provider can satisfy the request, and
	// provisions the toolchain if needed (e.g. download + extract)
	Probe(ctx context.Context, req Request) (Probe, error)
}
