package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/ebf/artifact"
	"github.com/bitswalk/ebf/src/ebf/execute"
)

// requiredVivadoRe matches the version pin in the project tcl scripts
var requiredVivadoRe = regexp.MustCompile(`set\s+required_vivado_version\s+"?(\d+\.\d+(?:\.\d+)?)"?`)

// hdlStages synthesizes an FPGA design and captures the exported hardware
// description plus the bitstream
func hdlStages() []Stage {
	return []Stage{
		{Name: StagePrepare, To: StateSourceReady, Run: hdlPrepare},
		{Name: StageConfigure, To: StateConfigured, Run: hdlConfigure},
		{Name: StageCompile, To: StateBuilt, Run: hdlCompile},
		{Name: StagePackage, To: StatePackaged, Run: hdlPackage},
	}
}

func hdlPrepare(ctx context.Context, pc *Context) error {
	commit, err := pc.Repo.EnsureAt(ctx, pc.RepoURL, pc.Ref, pc.SourceDir)
	if err != nil {
		return err
	}
	pc.Commit = commit
	pc.Result.Commit = commit
	return nil
}

// hdlConfigure gates the build on the Vivado release the design tree pins.
// Synthesizing with the wrong release produces designs that fail in subtle
// ways, so a mismatch stops the build unless explicitly overridden.
func hdlConfigure(ctx context.Context, pc *Context) error {
	if pc.ScriptMode {
		// The script checks out the tree itself; the gate re-runs inside
		// the project makefiles at execution time
		return nil
	}
	if err := pc.EnsureToolchain(ctx, false); err != nil {
		return err
	}

	required := requiredVivadoVersion(pc.SourceDir)
	if required == "" {
		log.Debug("No Vivado version pin found in design tree")
		return nil
	}
	have := pc.Toolchain.Version
	if have == required {
		log.Debug("Vivado release matches design pin", "version", have)
		return nil
	}
	if pc.IgnoreVersionCheck {
		log.Warn("Vivado release differs from design pin, override active",
			"required", required, "have", have)
		return nil
	}
	return errors.ErrRequiredVersion.WithMessagef(
		"design requires Vivado %s but %s was resolved; pass --ignore-version-check to build anyway",
		required, have)
}

// requiredVivadoVersion scans the design tree for the pinned Vivado release.
// The library script is authoritative; project scripts are the fallback.
func requiredVivadoVersion(srcDir string) string {
	candidates := []string{
		filepath.Join(srcDir, "library", "scripts", "adi_ip_xilinx.tcl"),
		filepath.Join(srcDir, "projects", "scripts", "adi_project_xilinx.tcl"),
	}
	if matches, err := filepath.Glob(filepath.Join(srcDir, "scripts", "*.tcl")); err == nil {
		candidates = append(candidates, matches...)
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if m := requiredVivadoRe.FindSubmatch(data); m != nil {
			return string(m[1])
		}
	}
	return ""
}

func hdlCompile(ctx context.Context, pc *Context) error {
	if err := pc.EnsureToolchain(ctx, false); err != nil {
		return err
	}

	env := map[string]string{}
	if pc.Toolchain != nil {
		for k, v := range pc.Toolchain.Env {
			env[k] = v
		}
	}
	if pc.MaxOOCJobs > 0 {
		env["ADI_MAX_OOC_JOBS"] = strconv.Itoa(pc.MaxOOCJobs)
	}
	if pc.IgnoreVersionCheck {
		env["ADI_IGNORE_VERSION_CHECK"] = "1"
	}

	projectDir := filepath.Join(pc.SourceDir, "projects", pc.Target.HDLProject())
	return pc.RunCommand(ctx, StageCompile,
		execute.MakeCommand(projectDir, 0, "", nil, env))
}

func hdlPackage(ctx context.Context, pc *Context) error {
	projectDir := filepath.Join(pc.SourceDir, "projects", pc.Target.HDLProject())
	if pc.ScriptMode {
		out := pc.OutputDir
		return scriptPackage(ctx, pc, []execute.Command{
			{Argv: []string{"mkdir", "-p", out}, Label: "create output directory"},
			{Argv: []string{"sh", "-c", fmt.Sprintf("find %s -name '*.xsa' -exec cp {} %s/ \\;", projectDir, out)},
				Label: "copy hardware description"},
			{Argv: []string{"sh", "-c", fmt.Sprintf("find %s -name '*.bit' -exec cp {} %s/ \\; || true", projectDir, out)},
				Label: "copy bitstream"},
		})
	}

	selectors := []artifact.Selector{
		{Glob: "**/*.xsa", Mandatory: true},
		{Glob: "**/*.bit", Mandatory: false},
	}
	return packageArtifacts(pc, projectDir, selectors, map[string]string{
		"project": pc.Target.HDLProject(),
	})
}
