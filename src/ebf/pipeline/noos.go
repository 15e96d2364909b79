package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/common/paths"
	"github.com/bitswalk/ebf/src/ebf/artifact"
	"github.com/bitswalk/ebf/src/ebf/execute"
)

// noosStages builds bare-metal firmware from a no-OS project tree
func noosStages() []Stage {
	return []Stage{
		{Name: StagePrepare, To: StateSourceReady, Run: noosPrepare},
		{Name: StageConfigure, To: StateConfigured, Run: noosConfigure},
		{Name: StageCompile, To: StateBuilt, Run: noosCompile},
		{Name: StagePackage, To: StatePackaged, Run: noosPackage},
	}
}

func noosPrepare(ctx context.Context, pc *Context) error {
	commit, err := pc.Repo.EnsureAt(ctx, pc.RepoURL, pc.Ref, pc.SourceDir)
	if err != nil {
		return err
	}
	pc.Commit = commit
	pc.Result.Commit = commit
	return nil
}

// noosConfigure stages the hardware description into the project directory.
// The project makefile picks up whatever .xsa/.hdf sits next to it.
func noosConfigure(ctx context.Context, pc *Context) error {
	hw := pc.Target.HardwareFile()
	if hw == "" {
		return nil
	}
	projectDir := noosProjectDir(pc)
	dest := filepath.Join(projectDir, filepath.Base(hw))

	if pc.ScriptMode {
		return pc.RunCommand(ctx, StageConfigure, execute.Command{
			Argv:  []string{"cp", hw, dest},
			Label: "stage hardware description",
		})
	}
	if !paths.IsFile(hw) {
		return errors.ErrArtifactMissing.WithMessagef("hardware description %s does not exist", hw)
	}
	log.Info("Staging hardware description", "file", hw, "project", pc.Target.NoOSProject())
	return artifact.CopyFile(hw, dest)
}

func noosCompile(ctx context.Context, pc *Context) error {
	if err := pc.EnsureToolchain(ctx, true); err != nil {
		return err
	}

	env := map[string]string{}
	if pc.Toolchain != nil {
		for k, v := range pc.Toolchain.Env {
			env[k] = v
		}
	}

	args := []string{
		"PLATFORM=" + pc.Target.NoOSPlatform(),
		"NO-OS=" + pc.SourceDir,
	}
	if pc.Target.Profile() != "" {
		args = append(args, "PROFILE="+pc.Target.Profile())
	}
	if pc.Target.IIOD() {
		args = append(args, "IIOD=y")
	}
	vars := pc.Target.MakeVars()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k+"="+vars[k])
	}

	projectDir := noosProjectDir(pc)
	return pc.RunCommand(ctx, StageCompile,
		execute.MakeCommand(projectDir, 0, "", args, env))
}

func noosPackage(ctx context.Context, pc *Context) error {
	projectDir := noosProjectDir(pc)
	if pc.ScriptMode {
		out := pc.OutputDir
		return scriptPackage(ctx, pc, []execute.Command{
			{Argv: []string{"mkdir", "-p", out}, Label: "create output directory"},
			{Argv: []string{"sh", "-c", fmt.Sprintf("find %s/build -name '*.elf' -exec cp {} %s/ \\;", projectDir, out)},
				Label: "copy firmware image"},
		})
	}

	selectors := []artifact.Selector{
		{Glob: "**/*.elf", Mandatory: true},
		{Glob: "**/*.axf", Mandatory: false},
	}
	extra := map[string]string{
		"project":  pc.Target.NoOSProject(),
		"platform": pc.Target.NoOSPlatform(),
	}
	if pc.Target.Profile() != "" {
		extra["profile"] = pc.Target.Profile()
	}
	return packageArtifacts(pc, projectDir, selectors, extra)
}

// noosProjectDir is where the project makefile lives
func noosProjectDir(pc *Context) string {
	return filepath.Join(pc.SourceDir, "projects", pc.Target.NoOSProject())
}
