package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bitswalk/ebf/src/ebf/execute"
	"github.com/bitswalk/ebf/src/ebf/internal/output"
	"github.com/bitswalk/ebf/src/ebf/pipeline"
	"github.com/bitswalk/ebf/src/ebf/target"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <kind> <name>",
	Short: "Clean a target's build products",
	Long: `Runs the target's clean (or deep clean) and rewinds its pipeline
state. Kind is one of kernel, hdl, noos. A deep clean scrubs generated
configuration too and the next build starts from scratch.

For HDL and no-OS the name is the project path under projects/
(e.g. fmcomms2/zcu102).`,
	Args: cobra.ExactArgs(2),
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().Bool("deep", false, "Scrub generated configuration as well")
	cleanCmd.Flags().String("ref", "", "Ref the working state belongs to")
}

func runClean(cmd *cobra.Command, args []string) error {
	deep, _ := cmd.Flags().GetBool("deep")
	ref, _ := cmd.Flags().GetString("ref")

	tgt, err := cleanTarget(args[0], args[1])
	if err != nil {
		return err
	}

	workDir := filepath.Join(cfg.WorkDir, string(tgt.Kind())+"-"+tgt.Name())
	runner, err := execute.NewRunner(filepath.Join(workDir, "build.log"))
	if err != nil {
		return err
	}
	defer runner.Close()

	pc := &pipeline.Context{
		Target:    tgt,
		Exec:      runner,
		WorkDir:   workDir,
		SourceDir: filepath.Join(workDir, "src"),
		Ref:       ref,
	}
	plan, err := pipeline.NewPlan(pc)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(pc.SourceDir); statErr != nil {
		output.PrintMessage("Nothing to clean: no checkout at " + pc.SourceDir)
		return nil
	}
	if err := plan.Clean(cmd.Context(), deep); err != nil {
		return err
	}
	if deep {
		output.PrintMessage("Deep clean done; next build starts from scratch")
	} else {
		output.PrintMessage("Clean done")
	}
	return nil
}

// cleanTarget builds a minimal descriptor that knows its clean semantics
func cleanTarget(kind, name string) (target.Descriptor, error) {
	switch target.Kind(kind) {
	case target.KindKernel:
		return target.KernelPlatform(name)
	case target.KindHDL:
		return target.New(target.KindHDL, name, "", target.WithHDLProject(name)), nil
	case target.KindNoOS:
		return target.New(target.KindNoOS, name, "", target.WithNoOSProject(name, "")), nil
	}
	return target.Descriptor{}, &unknownKindError{kind: kind}
}

type unknownKindError struct{ kind string }

func (e *unknownKindError) Error() string {
	return "unknown target kind \"" + e.kind + "\" (expected kernel, hdl or noos)"
}
