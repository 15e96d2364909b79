package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/common/paths"
	"github.com/bitswalk/ebf/src/ebf/artifact"
	"github.com/bitswalk/ebf/src/ebf/execute"
	"github.com/bitswalk/ebf/src/ebf/target"
	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

// bootStages assembles a BOOT.BIN from the hardware export, u-boot, ARM
// Trusted Firmware and a generated FSBL. Components without a configured
// prebuilt image are checked out and built from source in the work tree.
func bootStages() []Stage {
	return []Stage{
		{Name: StagePrepare, To: StateSourceReady, Run: bootPrepare},
		{Name: StageConfigure, To: StateConfigured, Run: bootConfigure},
		{Name: StageCompile, To: StateBuilt, Run: bootCompile},
		{Name: StagePackage, To: StatePackaged, Run: bootPackage},
	}
}

// bootPrepare resolves the input components. A configured prebuilt image
// must already exist; a component without one gets its source tree checked
// out here and built during compile.
func bootPrepare(ctx context.Context, pc *Context) error {
	xsa, err := locateXSA(pc.Target.BootXSA())
	if err != nil {
		return err
	}
	pc.Target = withResolvedXSA(pc.Target, xsa)
	log.Info("Using hardware export", "xsa", xsa)

	if err := os.MkdirAll(pc.WorkDir, 0755); err != nil {
		return err
	}

	if p := pc.Target.BootUBoot(); p != "" {
		if !pc.ScriptMode && !paths.IsFile(p) {
			return errors.ErrArtifactMissing.WithMessagef("u-boot image %q not found", p)
		}
	} else {
		log.Info("No u-boot image configured, building from source", "url", pc.UBootURL)
		if _, err := pc.Repo.EnsureAt(ctx, pc.UBootURL, pc.UBootRef, ubootSourceDir(pc)); err != nil {
			return err
		}
	}

	if pc.Target.Arch() == toolchain.ArchARM64 {
		if p := pc.Target.BootATF(); p != "" {
			if !pc.ScriptMode && !paths.IsFile(p) {
				return errors.ErrArtifactMissing.WithMessagef("arm trusted firmware image %q not found", p)
			}
		} else {
			log.Info("No bl31 image configured, building from source", "url", pc.ATFURL)
			if _, err := pc.Repo.EnsureAt(ctx, pc.ATFURL, pc.ATFRef, atfSourceDir(pc)); err != nil {
				return err
			}
		}
	}

	if bit := pc.Target.BootBitstream(); bit != "" && !pc.ScriptMode && !paths.IsFile(bit) {
		return errors.ErrArtifactMissing.WithMessagef("bitstream %q not found", bit)
	}
	return nil
}

// bootConfigure generates the first-stage bootloader (and platform
// management firmware on ZynqMP) from the hardware export with xsct
func bootConfigure(ctx context.Context, pc *Context) error {
	if err := pc.EnsureToolchain(ctx, false); err != nil {
		return err
	}

	apps := []fsblApp{fsblAppFor(pc.Target.Arch())}
	if pc.Target.Arch() == toolchain.ArchARM64 {
		apps = append(apps, fsblApp{name: "pmufw", proc: "psu_pmu_0", app: "zynqmp_pmufw"})
	}

	env := map[string]string{}
	if pc.Toolchain != nil {
		for k, v := range pc.Toolchain.Env {
			env[k] = v
		}
	}

	for _, app := range apps {
		appDir := filepath.Join(pc.WorkDir, app.name)
		tclPath := filepath.Join(pc.WorkDir, "gen_"+app.name+".tcl")
		tcl := generateAppTCL(pc.Target.BootXSA(), app, appDir)
		if err := os.WriteFile(tclPath, []byte(tcl), 0644); err != nil {
			return err
		}
		if err := pc.RunCommand(ctx, StageConfigure, execute.Command{
			Argv:  []string{"xsct", tclPath},
			Dir:   pc.WorkDir,
			Env:   env,
			Label: "generate " + app.name,
		}); err != nil {
			return err
		}
	}

	if pc.Target.BootUBoot() == "" {
		if err := pc.RunCommand(ctx, StageConfigure,
			execute.MakeCommand(ubootSourceDir(pc), 0, ubootDefconfig(pc.Target.Arch()), nil, pc.BuildEnv())); err != nil {
			return err
		}
	}
	return nil
}

// bootCompile builds the from-source components, then writes the boot image
// description and runs bootgen
func bootCompile(ctx context.Context, pc *Context) error {
	if err := pc.EnsureToolchain(ctx, false); err != nil {
		return err
	}

	jobs := pc.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if pc.Target.BootUBoot() == "" {
		if err := pc.RunCommand(ctx, StageCompile,
			execute.MakeCommand(ubootSourceDir(pc), jobs, "", nil, pc.BuildEnv())); err != nil {
			return err
		}
	}
	if pc.Target.Arch() == toolchain.ArchARM64 && pc.Target.BootATF() == "" {
		if err := pc.RunCommand(ctx, StageCompile,
			execute.MakeCommand(atfSourceDir(pc), jobs, "bl31",
				[]string{"PLAT=zynqmp", "RESET_TO_BL31=1"}, pc.BuildEnv())); err != nil {
			return err
		}
	}

	bifPath := filepath.Join(pc.WorkDir, "boot.bif")
	if err := os.WriteFile(bifPath, []byte(bootBIF(pc)), 0644); err != nil {
		return err
	}

	env := map[string]string{}
	if pc.Toolchain != nil {
		for k, v := range pc.Toolchain.Env {
			env[k] = v
		}
	}

	arch := "zynqmp"
	if pc.Target.Arch() == toolchain.ArchARM {
		arch = "zynq"
	}
	return pc.RunCommand(ctx, StageCompile, execute.Command{
		Argv:  []string{"bootgen", "-arch", arch, "-image", bifPath, "-w", "on", "-o", filepath.Join(pc.WorkDir, "BOOT.BIN")},
		Dir:   pc.WorkDir,
		Env:   env,
		Label: "assemble boot image",
	})
}

func bootPackage(ctx context.Context, pc *Context) error {
	if pc.ScriptMode {
		out := pc.OutputDir
		return scriptPackage(ctx, pc, []execute.Command{
			{Argv: []string{"mkdir", "-p", out}, Label: "create output directory"},
			{Argv: []string{"cp", filepath.Join(pc.WorkDir, "BOOT.BIN"), out}, Label: "copy boot image"},
		})
	}
	selectors := []artifact.Selector{
		{Glob: "BOOT.BIN", Mandatory: true},
		{Glob: "boot.bif", Mandatory: false},
	}
	return packageArtifacts(pc, pc.WorkDir, selectors, map[string]string{
		"xsa": filepath.Base(pc.Target.BootXSA()),
	})
}

// fsblApp names a standalone application xsct can generate from a design
type fsblApp struct {
	name string
	proc string
	app  string
}

func fsblAppFor(arch toolchain.Arch) fsblApp {
	if arch == toolchain.ArchARM {
		return fsblApp{name: "fsbl", proc: "ps7_cortexa9_0", app: "zynq_fsbl"}
	}
	return fsblApp{name: "fsbl", proc: "psu_cortexa53_0", app: "zynqmp_fsbl"}
}

// generateAppTCL renders the xsct script that builds a standalone app ELF
// out of the hardware design
func generateAppTCL(xsa string, app fsblApp, outDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "hsi open_hw_design %s\n", xsa)
	fmt.Fprintf(&b, "hsi generate_app -hw [hsi current_hw_design] -os standalone -proc %s -app %s -compile -sw %s -dir %s\n",
		app.proc, app.app, app.name, outDir)
	b.WriteString("hsi close_hw_design [hsi current_hw_design]\n")
	return b.String()
}

// bootBIF renders the boot image description bootgen consumes. Partition
// order matters: the boot ROM expects the bootloader first.
func bootBIF(pc *Context) string {
	fsbl := filepath.Join(pc.WorkDir, "fsbl", "executable.elf")
	var b strings.Builder
	b.WriteString("the_ROM_image:\n{\n")
	if pc.Target.Arch() == toolchain.ArchARM {
		fmt.Fprintf(&b, "\t[bootloader] %s\n", fsbl)
		if bit := pc.Target.BootBitstream(); bit != "" {
			fmt.Fprintf(&b, "\t%s\n", bit)
		}
		fmt.Fprintf(&b, "\t%s\n", ubootImage(pc))
	} else {
		pmufw := filepath.Join(pc.WorkDir, "pmufw", "executable.elf")
		fmt.Fprintf(&b, "\t[bootloader, destination_cpu=a53-0] %s\n", fsbl)
		fmt.Fprintf(&b, "\t[pmufw_image] %s\n", pmufw)
		if bit := pc.Target.BootBitstream(); bit != "" {
			fmt.Fprintf(&b, "\t[destination_device=pl] %s\n", bit)
		}
		fmt.Fprintf(&b, "\t[destination_cpu=a53-0, exception_level=el-3, trustzone] %s\n", atfImage(pc))
		fmt.Fprintf(&b, "\t[destination_cpu=a53-0, exception_level=el-2] %s\n", ubootImage(pc))
	}
	b.WriteString("}\n")
	return b.String()
}

// ubootSourceDir is where the from-source u-boot checkout lives
func ubootSourceDir(pc *Context) string {
	return filepath.Join(pc.WorkDir, "u-boot")
}

// atfSourceDir is where the from-source ARM Trusted Firmware checkout lives
func atfSourceDir(pc *Context) string {
	return filepath.Join(pc.WorkDir, "atf")
}

// ubootDefconfig maps the target architecture to the u-boot board config
func ubootDefconfig(arch toolchain.Arch) string {
	if arch == toolchain.ArchARM {
		return "zynq_adi_defconfig"
	}
	return "xilinx_zynqmp_virt_defconfig"
}

// ubootImage returns the u-boot.elf packed into the boot image: the
// configured prebuilt when given, otherwise the one built in the work tree
func ubootImage(pc *Context) string {
	if p := pc.Target.BootUBoot(); p != "" {
		return p
	}
	return filepath.Join(ubootSourceDir(pc), "u-boot.elf")
}

// atfImage returns the bl31.elf for the boot image. A from-source build
// lands under build/zynqmp/release; a debug tree is picked up when the
// release one is absent.
func atfImage(pc *Context) string {
	if p := pc.Target.BootATF(); p != "" {
		return p
	}
	release := filepath.Join(atfSourceDir(pc), "build", "zynqmp", "release", "bl31", "bl31.elf")
	if pc.ScriptMode || paths.IsFile(release) {
		return release
	}
	if debug := filepath.Join(atfSourceDir(pc), "build", "zynqmp", "debug", "bl31", "bl31.elf"); paths.IsFile(debug) {
		return debug
	}
	return release
}

// locateXSA resolves the hardware export: an explicit file is used as-is, a
// directory is searched for the newest .xsa inside it
func locateXSA(path string) (string, error) {
	if path == "" {
		return "", errors.ErrArtifactMissing.WithMessage("no hardware export (.xsa) configured for boot image")
	}
	if paths.IsFile(path) {
		return path, nil
	}
	if !paths.IsDir(path) {
		return "", errors.ErrArtifactMissing.WithMessagef("hardware export %q not found", path)
	}

	var newest string
	var newestMod int64
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() && strings.HasSuffix(p, ".xsa") {
			if mod := info.ModTime().UnixNano(); mod > newestMod {
				newest, newestMod = p, mod
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if newest == "" {
		return "", errors.ErrArtifactMissing.WithMessagef("no .xsa found under %q", path)
	}
	return newest, nil
}

// withResolvedXSA rebuilds the descriptor with the concrete .xsa path so the
// later stages and the manifest see the resolved file
func withResolvedXSA(d target.Descriptor, xsa string) target.Descriptor {
	opts := []target.Option{target.WithBootXSA(xsa)}
	if d.BootUBoot() != "" {
		opts = append(opts, target.WithBootUBoot(d.BootUBoot()))
	}
	if d.BootATF() != "" {
		opts = append(opts, target.WithBootATF(d.BootATF()))
	}
	if d.BootBitstream() != "" {
		opts = append(opts, target.WithBootBitstream(d.BootBitstream()))
	}
	return target.New(d.Kind(), d.Name(), d.Arch(), opts...)
}
