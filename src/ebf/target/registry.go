package target

import (
	"fmt"
	"sort"

	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

// defaultRootfsURL is the initramfs fetched for simpleImage kernels when the
// source tree does not already carry one
const defaultRootfsURL = "https://swdownloads.analog.com/cse/microblaze/rootfs/rootfs.cpio.gz"

// kernelPlatforms holds the built-in kernel platform definitions
var kernelPlatforms = map[string]func(opts ...Option) Descriptor{
	"zynq": func(opts ...Option) Descriptor {
		base := []Option{
			WithKernelTarget("uImage"),
			WithDefconfig("zynq_xcomm_adv7511_defconfig"),
			WithDTBPath("arch/arm/boot/dts"),
			WithKernelImagePath("arch/arm/boot/uImage"),
			WithUImageLoadAddr("0x8000"),
		}
		return New(KindKernel, "zynq", toolchain.ArchARM, append(base, opts...)...)
	},
	"zynqmp": func(opts ...Option) Descriptor {
		base := []Option{
			WithKernelTarget("Image"),
			WithDefconfig("adi_zynqmp_defconfig"),
			WithDTBPath("arch/arm64/boot/dts/xilinx"),
			WithKernelImagePath("arch/arm64/boot/Image"),
		}
		return New(KindKernel, "zynqmp", toolchain.ArchARM64, append(base, opts...)...)
	},
	"versal": func(opts ...Option) Descriptor {
		base := []Option{
			WithKernelTarget("Image"),
			WithDefconfig("adi_versal_defconfig"),
			WithDTBPath("arch/arm64/boot/dts/xilinx"),
			WithKernelImagePath("arch/arm64/boot/Image"),
		}
		return New(KindKernel, "versal", toolchain.ArchARM64, append(base, opts...)...)
	},
	"microblaze": func(opts ...Option) Descriptor {
		base := []Option{
			WithKernelTarget("simpleImage.vc707_fmcomms2-3"),
			WithDefconfig("adi_mb_defconfig"),
			WithDTBPath("arch/microblaze/boot/dts"),
			WithKernelImagePath("arch/microblaze/boot"),
			WithSimpleImageTargets("simpleImage.vc707_fmcomms2-3"),
			WithRootfsURL(defaultRootfsURL),
		}
		return New(KindKernel, "microblaze", toolchain.ArchMicroBlaze, append(base, opts...)...)
	},
}

// KernelPlatform returns the descriptor for a built-in kernel platform with
// any overrides applied
func KernelPlatform(name string, opts ...Option) (Descriptor, error) {
	factory, ok := kernelPlatforms[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown kernel platform %q (known: %v)", name, KernelPlatformNames())
	}
	return factory(opts...), nil
}

// KernelPlatformNames lists the built-in kernel platforms
func KernelPlatformNames() []string {
	names := make([]string, 0, len(kernelPlatforms))
	for name := range kernelPlatforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HDLTarget builds a descriptor for an HDL project (e.g. "fmcomms2" on
// carrier "zcu102"). The carrier decides the architecture of any firmware
// consuming the bitstream but the HDL build itself is toolchain-gated on
// Vivado only.
func HDLTarget(project, carrier string, opts ...Option) Descriptor {
	base := []Option{WithHDLProject(project + "/" + carrier)}
	return New(KindHDL, project+"-"+carrier, toolchain.ArchARM64, append(base, opts...)...)
}

// NoOSTarget builds a descriptor for a no-OS firmware project
func NoOSTarget(project, platform string, opts ...Option) Descriptor {
	base := []Option{WithNoOSProject(project, platform)}
	return New(KindNoOS, project, toolchain.ArchARM, append(base, opts...)...)
}

// BootTarget builds a descriptor for a composed ZynqMP boot image
func BootTarget(name string, opts ...Option) Descriptor {
	return New(KindBoot, name, toolchain.ArchARM64, opts...)
}
