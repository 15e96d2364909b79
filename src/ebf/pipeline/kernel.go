package pipeline

import (
	"context"
	"fmt"
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

// kernelStages builds Linux kernels for the SoC platforms: uImage on Zynq,
// Image on ZynqMP/Versal, one or more simpleImage targets on MicroBlaze.
func kernelStages() []Stage {
	return []Stage{
		{Name: StagePrepare, To: StateSourceReady, Run: kernelPrepare},
		{Name: StageConfigure, To: StateConfigured, Run: kernelConfigure},
		{Name: StageCompile, To: StateBuilt, Run: kernelCompile},
		{Name: StagePackage, To: StatePackaged, Run: kernelPackage},
	}
}

// kernelPrepare checks out the kernel tree and stages the MicroBlaze
// initramfs when needed
func kernelPrepare(ctx context.Context, pc *Context) error {
	commit, err := pc.Repo.EnsureAt(ctx, pc.RepoURL, pc.Ref, pc.SourceDir)
	if err != nil {
		return err
	}
	pc.Commit = commit
	pc.Result.Commit = commit

	if pc.Target.Arch() != toolchain.ArchMicroBlaze {
		return nil
	}

	// simpleImage links the initramfs into the kernel, so the tree must
	// carry rootfs.cpio.gz before configuration
	rootfs := filepath.Join(pc.SourceDir, "rootfs.cpio.gz")
	url := pc.Target.RootfsURL()
	if pc.ScriptMode {
		return pc.RunCommand(ctx, StagePrepare, execute.Command{
			Argv:  []string{"curl", "-fsSL", "-o", rootfs, url},
			Label: "fetch initramfs",
		})
	}
	if paths.IsFile(rootfs) {
		return nil
	}
	log.Info("Fetching initramfs for simpleImage build", "url", url)
	res, err := pc.Download.Fetch(ctx, []string{url}, pc.SourceDir)
	if err != nil {
		return err
	}
	log.Debug("Initramfs staged", "path", res.Path, "sha256", res.SHA256)
	return nil
}

// kernelConfigure applies the platform defconfig and refreshes it
func kernelConfigure(ctx context.Context, pc *Context) error {
	if err := pc.EnsureToolchain(ctx, false); err != nil {
		return err
	}
	if !pc.ScriptMode {
		if missing := execute.CheckTools("make", "git"); len(missing) > 0 {
			return errors.ErrStageFailed.WithMessagef("missing required build tools: %s", strings.Join(missing, ", "))
		}
	}

	env := pc.BuildEnv()
	if err := pc.RunCommand(ctx, StageConfigure,
		execute.MakeCommand(pc.SourceDir, 0, pc.Target.Defconfig(), nil, env)); err != nil {
		return err
	}
	// Refresh against the checked-out tree so stale options from an older
	// defconfig do not trigger interactive prompts mid-build
	return pc.RunCommand(ctx, StageConfigure,
		execute.MakeCommand(pc.SourceDir, 0, "olddefconfig", nil, env))
}

// kernelCompile builds the kernel image and the platform device trees
func kernelCompile(ctx context.Context, pc *Context) error {
	if err := pc.EnsureToolchain(ctx, false); err != nil {
		return err
	}

	jobs := pc.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	env := pc.BuildEnv()
	if pc.Target.KernelTarget() == "uImage" && pc.Target.UImageLoadAddr() != "" {
		env["LOADADDR"] = pc.Target.UImageLoadAddr()
	}

	if pc.Target.Arch() == toolchain.ArchMicroBlaze {
		for _, img := range pc.Target.SimpleImageTargets() {
			if err := pc.RunCommand(ctx, StageCompile,
				execute.MakeCommand(pc.SourceDir, jobs, img, nil, env)); err != nil {
				return err
			}
		}
	} else {
		if err := pc.RunCommand(ctx, StageCompile,
			execute.MakeCommand(pc.SourceDir, jobs, pc.Target.KernelTarget(), nil, env)); err != nil {
			return err
		}
	}

	// Device trees build one by one: a single broken board file should not
	// sink the kernel image that already built
	for _, dtb := range pc.Target.DTBs() {
		makeTarget := pc.Target.DTBMakeTarget(dtb)
		err := pc.RunCommand(ctx, StageCompile,
			execute.MakeCommand(pc.SourceDir, jobs, makeTarget, nil, env))
		if err != nil {
			if errors.Is(err, errors.ErrProcessLaunch) {
				return err
			}
			log.Error("DTB build failed, continuing", "dtb", dtb, "error", err)
			pc.Result.Missing = append(pc.Result.Missing, dtb)
			pc.Result.Degraded = true
		}
	}
	return nil
}

// kernelPackage collects the image, device trees and vmlinux
func kernelPackage(ctx context.Context, pc *Context) error {
	if pc.ScriptMode {
		return scriptPackage(ctx, pc, kernelScriptCopies(pc))
	}

	selectors := []artifact.Selector{
		{Glob: "vmlinux", Mandatory: false},
	}
	if pc.Target.Arch() == toolchain.ArchMicroBlaze {
		selectors = append(selectors, artifact.Selector{
			Glob: "arch/microblaze/boot/simpleImage.*", Mandatory: true,
		})
	} else {
		selectors = append(selectors, artifact.Selector{
			Glob: pc.Target.KernelImagePath(), Mandatory: true,
		})
	}
	for _, dtb := range pc.Target.DTBs() {
		selectors = append(selectors, artifact.Selector{
			Glob: filepath.Join(pc.Target.DTBPath(), dtb), Mandatory: false,
		})
	}

	return packageArtifacts(pc, pc.SourceDir, selectors, map[string]string{
		"defconfig":     pc.Target.Defconfig(),
		"kernel_target": pc.Target.KernelTarget(),
	})
}

// kernelScriptCopies emits the packaging copies in script mode
func kernelScriptCopies(pc *Context) []execute.Command {
	out := pc.OutputDir
	cmds := []execute.Command{
		{Argv: []string{"mkdir", "-p", out}, Label: "create output directory"},
	}
	if pc.Target.Arch() == toolchain.ArchMicroBlaze {
		cmds = append(cmds, execute.Command{
			Argv:  []string{"sh", "-c", fmt.Sprintf("cp %s/arch/microblaze/boot/simpleImage.* %s/", pc.SourceDir, out)},
			Label: "copy kernel images",
		})
	} else {
		cmds = append(cmds, execute.Command{
			Argv:  []string{"cp", filepath.Join(pc.SourceDir, pc.Target.KernelImagePath()), out},
			Label: "copy kernel image",
		})
	}
	for _, dtb := range pc.Target.DTBs() {
		cmds = append(cmds, execute.Command{
			Argv:  []string{"cp", filepath.Join(pc.SourceDir, pc.Target.DTBPath(), dtb), out},
			Label: "copy " + dtb,
		})
	}
	return cmds
}

// scriptPackage records packaging commands instead of copying files
func scriptPackage(ctx context.Context, pc *Context, cmds []execute.Command) error {
	for _, cmd := range cmds {
		if err := pc.RunCommand(ctx, StagePackage, cmd); err != nil {
			return err
		}
	}
	return nil
}

// packageArtifacts is the shared run-mode packaging path: collect by
// selector, then write the metadata manifest
func packageArtifacts(pc *Context, srcRoot string, selectors []artifact.Selector, extra map[string]string) error {
	col, err := artifact.Collect(srcRoot, selectors, pc.OutputDir)
	if err != nil {
		return err
	}

	pc.Result.OutputDir = pc.OutputDir
	pc.Result.Artifacts = col.Files
	pc.Result.Missing = append(pc.Result.Missing, col.MissingMandatory...)
	if col.Degraded() {
		pc.Result.Degraded = true
	}

	meta := &artifact.Metadata{
		Kind:      string(pc.Target.Kind()),
		Name:      pc.Target.Name(),
		Arch:      string(pc.Target.Arch()),
		Platform:  pc.Target.Platform(),
		Ref:       pc.Ref,
		Commit:    pc.Commit,
		StartedAt: pc.Result.StartedAt,
		EndedAt:   pc.Result.EndedAt,
		Missing:   append(append([]string(nil), col.MissingMandatory...), col.MissingOptional...),
		Extra:     extra,
	}
	if d, ok := extra["defconfig"]; ok {
		meta.Defconfig = d
	}
	if pc.Toolchain != nil {
		meta.Toolchain = &artifact.ToolchainInfo{
			Kind:    string(pc.Toolchain.Kind),
			Version: pc.Toolchain.Version,
			Root:    pc.Toolchain.Root,
		}
	}
	for _, so := range pc.Result.StageOutcomes {
		meta.Stages = append(meta.Stages, artifact.StageResult{
			Stage:      string(so.Stage),
			ExitCode:   so.ExitCode,
			OutputTail: so.OutputTail,
		})
	}
	if err := meta.AddFiles(col.Files); err != nil {
		return err
	}
	return meta.Write(pc.OutputDir)
}

// OutputDirFor computes the conventional output directory for a target
func OutputDirFor(outputBase, ref string, t target.Descriptor) string {
	return filepath.Join(outputBase, artifact.OutputDirName(string(t.Kind()), ref, t.Platform()))
}
