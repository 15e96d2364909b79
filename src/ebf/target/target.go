// Package target describes what a build produces: the project kind, target
// architecture and the per-platform knobs (kernel make target, defconfig,
// device trees, make variables). Descriptors are immutable; option functions
// configure them at construction and accessors expose them afterwards.
package target

import (
	"path"
	"strings"

	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

// Kind is the project family a descriptor builds
type Kind string

const (
	KindKernel Kind = "kernel"
	KindHDL    Kind = "hdl"
	KindNoOS   Kind = "noos"
	KindBoot   Kind = "boot"
)

// Descriptor is an immutable description of a build target
type Descriptor struct {
	kind Kind
	name string
	arch toolchain.Arch

	// kernel
	kernelTarget       string
	defconfig          string
	dtbPath            string
	kernelImagePath    string
	dtbs               []string
	simpleImageTargets []string
	uimageLoadAddr     string
	rootfsURL          string

	// hdl
	hdlProject string

	// noos
	noosProject  string
	noosPlatform string
	profile      string
	iiod         bool
	hardwareFile string

	// boot
	bootXSA       string
	bootUBoot     string
	bootATF       string
	bootBitstream string

	makeVars map[string]string
}

// Option configures a Descriptor during construction
type Option func(*Descriptor)

// New creates a descriptor. The name identifies the platform or project
// (e.g. "zynqmp", "fmcomms2") and shows up in output directory names.
func New(kind Kind, name string, arch toolchain.Arch, opts ...Option) Descriptor {
	d := Descriptor{
		kind:     kind,
		name:     name,
		arch:     arch,
		makeVars: map[string]string{},
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithKernelTarget sets the kernel make target (Image, uImage, simpleImage.*)
func WithKernelTarget(t string) Option { return func(d *Descriptor) { d.kernelTarget = t } }

// WithDefconfig sets the kernel defconfig name
func WithDefconfig(name string) Option { return func(d *Descriptor) { d.defconfig = name } }

// WithDTBPath sets the device tree directory relative to the kernel source
func WithDTBPath(p string) Option { return func(d *Descriptor) { d.dtbPath = p } }

// WithKernelImagePath sets where the built kernel image lands
func WithKernelImagePath(p string) Option { return func(d *Descriptor) { d.kernelImagePath = p } }

// WithDTBs sets the device tree blobs to build
func WithDTBs(dtbs ...string) Option {
	return func(d *Descriptor) { d.dtbs = append([]string(nil), dtbs...) }
}

// WithSimpleImageTargets sets the MicroBlaze simpleImage targets to build
func WithSimpleImageTargets(targets ...string) Option {
	return func(d *Descriptor) { d.simpleImageTargets = append([]string(nil), targets...) }
}

// WithUImageLoadAddr sets the uImage load address (Zynq)
func WithUImageLoadAddr(addr string) Option { return func(d *Descriptor) { d.uimageLoadAddr = addr } }

// WithRootfsURL overrides the initramfs download for simpleImage builds
func WithRootfsURL(url string) Option { return func(d *Descriptor) { d.rootfsURL = url } }

// WithHDLProject sets the HDL project directory under projects/
func WithHDLProject(p string) Option { return func(d *Descriptor) { d.hdlProject = p } }

// WithNoOSProject sets the no-OS project and platform names
func WithNoOSProject(project, platform string) Option {
	return func(d *Descriptor) {
		d.noosProject = project
		d.noosPlatform = platform
	}
}

// WithProfile sets the no-OS build profile
func WithProfile(p string) Option { return func(d *Descriptor) { d.profile = p } }

// WithIIOD enables the IIO daemon in no-OS builds
func WithIIOD(on bool) Option { return func(d *Descriptor) { d.iiod = on } }

// WithHardwareFile sets the hardware description (.xsa/.hdf) for no-OS builds
func WithHardwareFile(p string) Option { return func(d *Descriptor) { d.hardwareFile = p } }

// WithBootXSA sets the hardware export (.xsa) a boot image is assembled
// from. A directory is searched for the newest .xsa inside it.
func WithBootXSA(p string) Option { return func(d *Descriptor) { d.bootXSA = p } }

// WithBootUBoot sets the u-boot.elf path for boot image assembly
func WithBootUBoot(p string) Option { return func(d *Descriptor) { d.bootUBoot = p } }

// WithBootATF sets the ARM Trusted Firmware bl31.elf path (ZynqMP/Versal)
func WithBootATF(p string) Option { return func(d *Descriptor) { d.bootATF = p } }

// WithBootBitstream sets an optional bitstream to pack into the boot image
func WithBootBitstream(p string) Option { return func(d *Descriptor) { d.bootBitstream = p } }

// WithMakeVar adds an extra make variable
func WithMakeVar(key, value string) Option {
	return func(d *Descriptor) { d.makeVars[key] = value }
}

// Kind returns the project kind
func (d Descriptor) Kind() Kind { return d.kind }

// Name returns the platform or project name
func (d Descriptor) Name() string { return d.name }

// Arch returns the target architecture
func (d Descriptor) Arch() toolchain.Arch { return d.arch }

// KernelTarget returns the kernel make target
func (d Descriptor) KernelTarget() string { return d.kernelTarget }

// Defconfig returns the kernel defconfig name
func (d Descriptor) Defconfig() string { return d.defconfig }

// DTBPath returns the device tree directory relative to the kernel source
func (d Descriptor) DTBPath() string { return d.dtbPath }

// KernelImagePath returns the built kernel image path relative to the source
func (d Descriptor) KernelImagePath() string { return d.kernelImagePath }

// DTBs returns the device tree blobs to build
func (d Descriptor) DTBs() []string { return append([]string(nil), d.dtbs...) }

// SimpleImageTargets returns the MicroBlaze simpleImage targets
func (d Descriptor) SimpleImageTargets() []string {
	return append([]string(nil), d.simpleImageTargets...)
}

// UImageLoadAddr returns the uImage load address, empty when unused
func (d Descriptor) UImageLoadAddr() string { return d.uimageLoadAddr }

// RootfsURL returns the initramfs URL for simpleImage builds
func (d Descriptor) RootfsURL() string { return d.rootfsURL }

// HDLProject returns the HDL project directory under projects/
func (d Descriptor) HDLProject() string { return d.hdlProject }

// NoOSProject returns the no-OS project name
func (d Descriptor) NoOSProject() string { return d.noosProject }

// NoOSPlatform returns the no-OS platform name
func (d Descriptor) NoOSPlatform() string { return d.noosPlatform }

// Profile returns the no-OS build profile
func (d Descriptor) Profile() string { return d.profile }

// IIOD reports whether the IIO daemon is built into no-OS firmware
func (d Descriptor) IIOD() bool { return d.iiod }

// HardwareFile returns the hardware description path for no-OS builds
func (d Descriptor) HardwareFile() string { return d.hardwareFile }

// BootXSA returns the hardware export path or directory for boot builds
func (d Descriptor) BootXSA() string { return d.bootXSA }

// BootUBoot returns the u-boot.elf path for boot builds
func (d Descriptor) BootUBoot() string { return d.bootUBoot }

// BootATF returns the bl31.elf path for boot builds
func (d Descriptor) BootATF() string { return d.bootATF }

// BootBitstream returns the optional bitstream path for boot builds
func (d Descriptor) BootBitstream() string { return d.bootBitstream }

// MakeVars returns a copy of the extra make variables
func (d Descriptor) MakeVars() map[string]string {
	out := make(map[string]string, len(d.makeVars))
	for k, v := range d.makeVars {
		out[k] = v
	}
	return out
}

// Platform returns the platform identity used in output directory names:
// the architecture for kernel builds, the platform/project name otherwise.
func (d Descriptor) Platform() string {
	if d.kind == KindKernel {
		return string(d.arch)
	}
	return d.name
}

// DTBMakeTarget converts a DTB filename into the make target the kernel
// expects. Kernel trees nest vendor directories under a "dts" directory;
// the make target needs the path below "dts", not the full path:
//
//	dtb_path "arch/arm/boot/dts",           "zynq-zc702.dtb"    -> "zynq-zc702.dtb"
//	dtb_path "arch/arm64/boot/dts/xilinx",  "zynqmp-zcu102.dtb" -> "xilinx/zynqmp-zcu102.dtb"
func (d Descriptor) DTBMakeTarget(filename string) string {
	if d.dtbPath == "" {
		return filename
	}
	parts := strings.Split(path.Clean(d.dtbPath), "/")
	for i, part := range parts {
		if part == "dts" && i+1 < len(parts) {
			return path.Join(append(parts[i+1:], filename)...)
		}
	}
	return filename
}
