package target

import (
	"testing"

	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

// =============================================================================
// DTB Make Target Tests
// =============================================================================

func TestDTBMakeTarget(t *testing.T) {
	tests := []struct {
		dtbPath  string
		filename string
		want     string
	}{
		{"arch/arm/boot/dts", "zynq-zc702.dtb", "zynq-zc702.dtb"},
		{"arch/arm64/boot/dts/xilinx", "zynqmp-zcu102-rev10.dtb", "xilinx/zynqmp-zcu102-rev10.dtb"},
		{"arch/microblaze/boot/dts", "vc707.dtb", "vc707.dtb"},
		{"", "plain.dtb", "plain.dtb"},
	}
	for _, tt := range tests {
		d := New(KindKernel, "test", toolchain.ArchARM, WithDTBPath(tt.dtbPath))
		if got := d.DTBMakeTarget(tt.filename); got != tt.want {
			t.Errorf("DTBMakeTarget(%q, %q) = %q, want %q", tt.dtbPath, tt.filename, got, tt.want)
		}
	}
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestKernelPlatform_Zynq(t *testing.T) {
	d, err := KernelPlatform("zynq")
	if err != nil {
		t.Fatalf("KernelPlatform: %v", err)
	}
	if d.Arch() != toolchain.ArchARM {
		t.Errorf("arch = %q, want arm", d.Arch())
	}
	if d.KernelTarget() != "uImage" {
		t.Errorf("kernel target = %q, want uImage", d.KernelTarget())
	}
	if d.UImageLoadAddr() != "0x8000" {
		t.Errorf("load addr = %q, want 0x8000", d.UImageLoadAddr())
	}
	if d.Defconfig() != "zynq_xcomm_adv7511_defconfig" {
		t.Errorf("defconfig = %q", d.Defconfig())
	}
}

func TestKernelPlatform_ZynqMP(t *testing.T) {
	d, err := KernelPlatform("zynqmp")
	if err != nil {
		t.Fatalf("KernelPlatform: %v", err)
	}
	if d.Arch() != toolchain.ArchARM64 {
		t.Errorf("arch = %q, want arm64", d.Arch())
	}
	if d.KernelImagePath() != "arch/arm64/boot/Image" {
		t.Errorf("image path = %q", d.KernelImagePath())
	}
	if d.DTBPath() != "arch/arm64/boot/dts/xilinx" {
		t.Errorf("dtb path = %q", d.DTBPath())
	}
}

func TestKernelPlatform_MicroBlaze(t *testing.T) {
	d, err := KernelPlatform("microblaze")
	if err != nil {
		t.Fatalf("KernelPlatform: %v", err)
	}
	if d.Arch() != toolchain.ArchMicroBlaze {
		t.Errorf("arch = %q", d.Arch())
	}
	if len(d.SimpleImageTargets()) == 0 {
		t.Error("microblaze has no simpleImage targets")
	}
	if d.RootfsURL() == "" {
		t.Error("microblaze needs a rootfs URL for simpleImage builds")
	}
}

func TestKernelPlatform_Unknown(t *testing.T) {
	if _, err := KernelPlatform("pdp11"); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestKernelPlatform_Overrides(t *testing.T) {
	d, err := KernelPlatform("zynqmp",
		WithDefconfig("custom_defconfig"),
		WithDTBs("xilinx-a.dtb", "xilinx-b.dtb"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if d.Defconfig() != "custom_defconfig" {
		t.Errorf("defconfig override not applied: %q", d.Defconfig())
	}
	if len(d.DTBs()) != 2 {
		t.Errorf("dtbs = %v", d.DTBs())
	}
}

func TestKernelPlatformNames_Sorted(t *testing.T) {
	names := KernelPlatformNames()
	if len(names) != 4 {
		t.Fatalf("expected 4 platforms, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}

// =============================================================================
// Platform Identity Tests
// =============================================================================

func TestPlatform(t *testing.T) {
	kernel, _ := KernelPlatform("zynqmp")
	if kernel.Platform() != "arm64" {
		t.Errorf("kernel platform = %q, want arch", kernel.Platform())
	}

	hdl := HDLTarget("fmcomms2", "zcu102")
	if hdl.Platform() != "fmcomms2-zcu102" {
		t.Errorf("hdl platform = %q", hdl.Platform())
	}
	if hdl.HDLProject() != "fmcomms2/zcu102" {
		t.Errorf("hdl project = %q", hdl.HDLProject())
	}

	noos := NoOSTarget("ad9361", "xilinx")
	if noos.Platform() != "ad9361" {
		t.Errorf("noos platform = %q", noos.Platform())
	}
	if noos.NoOSPlatform() != "xilinx" {
		t.Errorf("noos build platform = %q", noos.NoOSPlatform())
	}
}

func TestDescriptorImmutability(t *testing.T) {
	d := New(KindKernel, "zynqmp", toolchain.ArchARM64, WithDTBs("a.dtb"))
	dtbs := d.DTBs()
	dtbs[0] = "mutated.dtb"
	if d.DTBs()[0] != "a.dtb" {
		t.Error("accessor exposed internal slice")
	}

	vars := d.MakeVars()
	vars["INJECTED"] = "1"
	if _, ok := d.MakeVars()["INJECTED"]; ok {
		t.Error("accessor exposed internal map")
	}
}
